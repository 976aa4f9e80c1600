package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/detectabb/boleto-gateway/internal/boleto/client"
	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/internal/boleto/poller"
	"github.com/detectabb/boleto-gateway/internal/boleto/service"
	apperrors "github.com/detectabb/boleto-gateway/pkg/errors"
	"github.com/detectabb/boleto-gateway/pkg/httputil"
	"github.com/detectabb/boleto-gateway/pkg/i18n"
	"github.com/detectabb/boleto-gateway/pkg/logger"
)

const defaultMaxUpload = 20 << 20 // 20MB

// Handler serves the analysis endpoints
type Handler struct {
	service   *service.Service
	maxUpload int64
	log       *logger.Logger
}

// NewHandler creates a new analysis handler. maxUpload <= 0 means 20MB.
func NewHandler(svc *service.Service, maxUpload int64, log *logger.Logger) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{
		service:   svc,
		maxUpload: maxUpload,
		log:       log.WithComponent("analysis-handler"),
	}
}

// Routes mounts the analysis endpoints on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Analyze)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Cancel)
}

// AnalyzeRequest holds the non-file fields of an analysis upload
type AnalyzeRequest struct {
	Mode        string `validate:"omitempty,oneof=sync async"`
	MaxAttempts int    `validate:"gte=0,lte=300"`
	IntervalMs  int    `validate:"gte=0,lte=60000"`
}

// Analyze handles POST /api/v1/analyses
// Accepts multipart form with:
// - file: the boleto (JPEG, PNG or PDF)
// - mode: sync or async (default async)
// - max_attempts, interval_ms: optional polling budget for async mode
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	// maxMemory equals the body limit so the upload never touches disk
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		httputil.ErrorLocalized(w, r, apperrors.BadRequestWithKey("errors.invalid_multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := parseAnalyzeForm(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.ErrorLocalized(w, r, apperrors.BadRequestWithKey("errors.missing_file"))
		return
	}
	defer file.Close()

	// Read file into memory (never to disk)
	data, err := io.ReadAll(file)
	if err != nil {
		httputil.ErrorLocalized(w, r, apperrors.BadRequestWithKey("errors.invalid_multipart"))
		return
	}

	doc, err := client.NewDocument(header.Filename, data)
	if err != nil {
		zero(data)
		if errors.Is(err, client.ErrUnsupportedFileType) {
			httputil.ErrorLocalized(w, r, service.AppError(err))
			return
		}
		httputil.ErrorLocalized(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	cfg := poller.Config{
		MaxAttempts: req.MaxAttempts,
		Interval:    time.Duration(req.IntervalMs) * time.Millisecond,
	}

	// Document bytes are zeroed by the service
	job, err := h.service.Analyze(r.Context(), doc, domain.AnalysisMode(req.Mode), cfg)
	if err != nil {
		h.log.WithRequestID(httputil.GetRequestID(r.Context())).Warn().
			Err(err).
			Msg("analysis request failed")
		httputil.ErrorLocalized(w, r, service.AppError(err))
		return
	}

	if job.Status == domain.JobProcessing {
		httputil.Accepted(w, present(r, job))
		return
	}
	httputil.JSON(w, http.StatusOK, present(r, job))
}

// Get handles GET /api/v1/analyses/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, service.AppError(err))
		return
	}

	httputil.JSON(w, http.StatusOK, present(r, job))
}

// Cancel handles DELETE /api/v1/analyses/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.CancelJob(chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, service.AppError(err))
		return
	}

	httputil.JSON(w, http.StatusOK, present(r, job))
}

// ListVerdicts handles GET /api/v1/verdicts?limit=N
func (h *Handler) ListVerdicts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httputil.ErrorLocalized(w, r, apperrors.Validation(map[string]string{"limit": "must be a non-negative integer"}))
			return
		}
		limit = n
	}

	verdicts, err := h.service.RecentVerdicts(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list verdicts")
		httputil.ErrorLocalized(w, r, service.AppError(err))
		return
	}

	httputil.JSON(w, http.StatusOK, verdicts)
}

func parseAnalyzeForm(r *http.Request) (*AnalyzeRequest, error) {
	req := &AnalyzeRequest{Mode: r.FormValue("mode")}
	details := map[string]string{}

	if s := r.FormValue("max_attempts"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			details["max_attempts"] = "must be an integer"
		}
		req.MaxAttempts = n
	}
	if s := r.FormValue("interval_ms"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			details["interval_ms"] = "must be an integer"
		}
		req.IntervalMs = n
	}

	if len(details) > 0 {
		return nil, apperrors.Validation(details)
	}
	return req, nil
}

// present localizes the stored error message for the caller
func present(r *http.Request, job *domain.Job) *domain.Job {
	if job.Error != nil && job.Error.MessageKey != "" {
		e := *job.Error
		e.Message = i18n.TFromContext(r.Context(), e.MessageKey)
		job.Error = &e
	}
	return job
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
