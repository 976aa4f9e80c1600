package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventAnalysisCompleted = "boleto.analysis.completed"
	EventAnalysisFailed    = "boleto.analysis.failed"
)

// ExchangeBoletoEvents is the topic exchange analysis outcomes are published to
const ExchangeBoletoEvents = "boleto.events"

// Event is the envelope of every published message
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// AnalysisCompletedEvent is published when a verdict is reached
type AnalysisCompletedEvent struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id,omitempty"`
	Mode         string `json:"mode"`
	Verdict      string `json:"verdict"`
	RiskLevel    string `json:"risk_level"`
	Amount       string `json:"amount,omitempty"`
	BankCode     string `json:"bank_code,omitempty"`
	Attempts     int    `json:"attempts"`
}

// AnalysisFailedEvent is published when an analysis ends without a verdict
type AnalysisFailedEvent struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id,omitempty"`
	Mode         string `json:"mode"`
	Code         string `json:"code"`
	Reason       string `json:"reason"`
	Attempts     int    `json:"attempts"`
}
