package service

import (
	"errors"
	"net/http"

	"github.com/detectabb/boleto-gateway/internal/boleto/client"
	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	apperrors "github.com/detectabb/boleto-gateway/pkg/errors"
)

// ErrJobNotFound is returned for unknown or expired job IDs
var ErrJobNotFound = errors.New("analysis job not found")

// AppError maps an analysis error to the gateway's error vocabulary.
// Server-provided transport messages are kept verbatim; everything else
// comes from the message catalog.
func AppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var te *domain.TransportError
	switch {
	case errors.Is(err, ErrJobNotFound):
		return withErr(apperrors.NewWithKey("NOT_FOUND", "errors.analysis_not_found", http.StatusNotFound), err)

	case errors.As(err, &te):
		if te.Cause == domain.ClientSide {
			return apperrors.Upstream(err, "UPSTREAM_UNREACHABLE", "errors.upstream_unreachable", "", http.StatusBadGateway)
		}
		message := ""
		if te.FromServer {
			message = te.Message
		}
		return apperrors.Upstream(err, "UPSTREAM_ERROR", "errors.upstream_error", message, http.StatusBadGateway)

	case errors.Is(err, domain.ErrAnalysisFailed):
		return withErr(apperrors.NewWithKey("ANALYSIS_FAILED", "errors.analysis_failed", http.StatusUnprocessableEntity), err)

	case errors.Is(err, domain.ErrPollingTimeout):
		return withErr(apperrors.NewWithKey("ANALYSIS_TIMEOUT", "errors.analysis_timeout", http.StatusGatewayTimeout), err)

	case errors.Is(err, domain.ErrMalformedResponse):
		return withErr(apperrors.NewWithKey("MALFORMED_RESPONSE", "errors.malformed_response", http.StatusBadGateway), err)

	case errors.Is(err, domain.ErrSessionCancelled):
		return withErr(apperrors.NewWithKey("JOB_CANCELLED", "errors.job_cancelled", http.StatusConflict), err)

	case errors.Is(err, client.ErrUnsupportedFileType):
		return withErr(apperrors.NewWithKey("UNSUPPORTED_FILE_TYPE", "errors.unsupported_file_type", http.StatusUnsupportedMediaType), err)
	}

	internal := apperrors.Internal("an unexpected error occurred")
	internal.Err = err
	return internal
}

func withErr(e *apperrors.AppError, err error) *apperrors.AppError {
	e.Err = err
	return e
}

// jobError is the stored form of a job's failure
func jobError(err error) *domain.JobError {
	ae := AppError(err)
	return &domain.JobError{
		Code:       ae.Code,
		Message:    ae.Message,
		MessageKey: ae.MessageKey,
	}
}
