package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Each is wrapped by a typed error carrying detail.
var (
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrPollingTimeout    = errors.New("polling timeout")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSessionCancelled  = errors.New("poll session cancelled")
)

// TransportCause tells whether a request never got an answer or got a bad one
type TransportCause string

const (
	// ClientSide means no response was received (network, DNS, timeout).
	ClientSide TransportCause = "client_side"
	// ServerSide means the server answered with an error.
	ServerSide TransportCause = "server_side"
)

// TransportError is a failed exchange with the analysis service. Message is
// fit for an end user: either the server's own detail or a generic text.
type TransportError struct {
	Message    string
	Cause      TransportCause
	StatusCode int
	// FromServer is set when Message is the server's own wording.
	FromServer bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (%s, status %d): %s", e.Cause, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error (%s): %s", e.Cause, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AnalysisFailedError is returned when the server reports status "failed".
type AnalysisFailedError struct {
	SubmissionID string
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis %s failed on the server", e.SubmissionID)
}

func (e *AnalysisFailedError) Unwrap() error {
	return ErrAnalysisFailed
}

// PollingTimeoutError is returned when the attempt budget runs out.
type PollingTimeoutError struct {
	SubmissionID string
	Attempts     int
}

func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf("analysis %s still processing after %d attempts", e.SubmissionID, e.Attempts)
}

func (e *PollingTimeoutError) Unwrap() error {
	return ErrPollingTimeout
}

// MalformedResponseError is returned when a payload fits neither response shape.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return ErrMalformedResponse
}

// Malformed builds a MalformedResponseError with a formatted reason.
func Malformed(format string, args ...any) error {
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...)}
}
