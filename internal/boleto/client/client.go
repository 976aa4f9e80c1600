package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/pkg/i18n"
	"github.com/detectabb/boleto-gateway/pkg/logger"
)

// Remote endpoints of the analysis service
const (
	pathSubmitSync  = "/api/test-ocr"
	pathSubmitAsync = "/api/analisar"
	pathFetch       = "/api/analise/"
	pathHealth      = "/health"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 4 << 20

// Client talks to the remote boleto analysis service. It keeps no state
// between calls, never retries, and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a client for the service at baseURL.
func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout}, log)
}

// NewWithHTTPClient is New with a caller-supplied *http.Client.
func NewWithHTTPClient(baseURL string, httpClient *http.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log.WithComponent("analysis-client"),
	}
}

// SubmitSync uploads the document to the synchronous endpoint and returns
// the verdict payload. A 2xx with success=false is a verdict, not an error.
func (c *Client) SubmitSync(ctx context.Context, doc *Document) (*domain.RawResponse, error) {
	body, err := c.upload(ctx, pathSubmitSync, doc)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(body)
}

// SubmitAsync uploads the document for background analysis and returns as
// soon as the service has accepted it.
func (c *Client) SubmitAsync(ctx context.Context, doc *Document) (*domain.SubmissionHandle, error) {
	body, err := c.upload(ctx, pathSubmitAsync, doc)
	if err != nil {
		return nil, err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if detail := errorDetail(body); detail != "" {
			return nil, serverError(http.StatusOK, detail)
		}
		return nil, domain.Malformed("submit response is not a JSON object: %v", err)
	}
	if resp.ID == "" {
		if detail := errorDetail(body); detail != "" {
			return nil, serverError(http.StatusOK, detail)
		}
		return nil, domain.Malformed("submit response has no id")
	}

	handle := &domain.SubmissionHandle{
		ID:       resp.ID,
		FileName: resp.FileName,
		FileSize: int64(resp.FileSize),
		FileType: domain.FileType(resp.FileType),
	}
	if handle.FileName == "" {
		handle.FileName = doc.FileName
	}
	if handle.FileSize <= 0 {
		handle.FileSize = int64(len(doc.Content))
	}
	if !handle.FileType.Valid() {
		if resp.FileType != "" {
			c.logger.Warn().
				Str("submission_id", resp.ID).
				Str("reported_type", resp.FileType).
				Msg("service reported an unexpected file type, keeping the detected one")
		}
		handle.FileType = doc.FileType
	}

	c.logger.Info().
		Str("submission_id", handle.ID).
		Str("remote_status", resp.Status).
		Str("file_type", string(handle.FileType)).
		Int64("file_size", handle.FileSize).
		Msg("analysis submitted")

	return handle, nil
}

// FetchByID returns the latest known state of a submitted analysis.
func (c *Client) FetchByID(ctx context.Context, id string) (*domain.RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathFetch+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(body)
}

// Health probes the service's liveness endpoint. The body is ignored.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	_, err = c.do(req)
	return err
}

func (c *Client) upload(ctx context.Context, path string, doc *Document) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", doc.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

// do sends req and classifies every failure into a TransportError.
func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Msg("analysis service unreachable")
		return nil, clientError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, clientError(err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("analysis service call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serverError(resp.StatusCode, errorDetail(body))
	}

	return body, nil
}

// parseAnalysis turns a 2xx analysis body into a RawResponse. A body that
// only carries an error detail, or a {"success": false} body with a message
// and no resultado_final, is reported as a server-side failure.
func parseAnalysis(body []byte) (*domain.RawResponse, error) {
	raw, err := domain.NewRawResponse(body)
	if err != nil {
		return nil, domain.Malformed("analysis response is not a JSON object: %v", err)
	}

	if raw.Has("detail") && !hasShapeKey(raw) {
		return nil, serverError(http.StatusOK, errorDetail(body))
	}
	if detail := errorDetail(body); detail != "" && unsuccessful(raw) && !raw.Has("resultado_final") {
		return nil, serverError(http.StatusOK, detail)
	}

	return raw, nil
}

// unsuccessful reports whether the sync "success" key is literally false
func unsuccessful(raw *domain.RawResponse) bool {
	var ok *bool
	if err := json.Unmarshal(raw.Fields["success"], &ok); err != nil || ok == nil {
		return false
	}
	return !*ok
}

func hasShapeKey(raw *domain.RawResponse) bool {
	for _, key := range []string{"success", "resultado_final", "status", "fraudeAnalise"} {
		if raw.Has(key) {
			return true
		}
	}
	return false
}

// errorDetail pulls a human-readable message out of an error body. Only
// string values count; structured validation errors fall back to the
// generic text.
func errorDetail(body []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}

	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func clientError(err error) *domain.TransportError {
	return &domain.TransportError{
		Message: i18n.T("errors.upstream_unreachable"),
		Cause:   domain.ClientSide,
		Err:     err,
	}
}

func serverError(statusCode int, detail string) *domain.TransportError {
	if detail == "" {
		return &domain.TransportError{
			Message:    i18n.T("errors.upstream_error"),
			Cause:      domain.ServerSide,
			StatusCode: statusCode,
		}
	}
	return &domain.TransportError{
		Message:    detail,
		Cause:      domain.ServerSide,
		StatusCode: statusCode,
		FromServer: true,
	}
}

// submitResponse is the body of POST /api/analisar
type submitResponse struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	FileName string  `json:"fileName"`
	FileSize float64 `json:"fileSize"`
	FileType string  `json:"fileType"`
}
