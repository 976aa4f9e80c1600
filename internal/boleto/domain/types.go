package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// FileType is the MIME type of a submitted boleto document
type FileType string

const (
	FileTypeJPEG FileType = "image/jpeg"
	FileTypePNG  FileType = "image/png"
	FileTypePDF  FileType = "application/pdf"
)

// Valid reports whether the analysis service accepts this file type.
func (t FileType) Valid() bool {
	switch t {
	case FileTypeJPEG, FileTypePNG, FileTypePDF:
		return true
	}
	return false
}

// SubmissionHandle identifies one analysis accepted by the remote service.
// It is created by an asynchronous submit and never changes afterwards.
type SubmissionHandle struct {
	ID       string   `json:"id"`
	FileName string   `json:"file_name"`
	FileSize int64    `json:"file_size"`
	FileType FileType `json:"file_type"`
}

// RemoteStatus is the job status reported by GET /api/analise/{id}
type RemoteStatus string

const (
	RemoteStatusProcessing RemoteStatus = "processing"
	RemoteStatusCompleted  RemoteStatus = "completed"
	RemoteStatusFailed     RemoteStatus = "failed"
)

// RawResponse is an analysis payload exactly as the server sent it, split
// into its top-level keys. It can be either the synchronous or the
// asynchronous shape; the normalizer decides which.
type RawResponse struct {
	Fields map[string]json.RawMessage
}

// NewRawResponse splits a JSON object into a RawResponse.
func NewRawResponse(body []byte) (*RawResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return &RawResponse{Fields: fields}, nil
}

// Has reports whether the top-level key is present (even if null).
func (r *RawResponse) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Fields[key]
	return ok
}

// Status returns the async "status" value, or "" when absent or not a string.
func (r *RawResponse) Status() RemoteStatus {
	if r == nil {
		return ""
	}
	raw, ok := r.Fields["status"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return RemoteStatus(s)
}

// MarshalJSON re-emits the payload as a single object.
func (r RawResponse) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}

// Verdict is the normalized fraud verdict
type Verdict string

const (
	VerdictValid      Verdict = "valid"
	VerdictFraudulent Verdict = "fraudulent"
)

// ExtractedFields holds what OCR read off the boleto. Every field is
// optional: nil means "not detected", which is different from an empty value.
type ExtractedFields struct {
	Barcode    *string          `json:"barcode,omitempty"`
	DigitLine  *string          `json:"digit_line,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	DueDate    *string          `json:"due_date,omitempty"`
	Payee      *string          `json:"payee,omitempty"`
	PayeeTaxID *string          `json:"payee_tax_id,omitempty"`
	BankCode   *string          `json:"bank_code,omitempty"`
	BankName   *string          `json:"bank_name,omitempty"`
	Branch     *string          `json:"branch,omitempty"`
}

// Severity ranks how much a reason weighs on the verdict
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// RiskLevel is the recommendation's overall risk
type RiskLevel string

const (
	RiskHigh RiskLevel = "high"
	RiskLow  RiskLevel = "low"
)

// Action is what the user is told to do with the boleto
type Action string

const (
	ActionDoNotPay Action = "do_not_pay"
	ActionCanPay   Action = "can_pay"
)

// PlainSummary is the explanation aimed at non-technical users.
type PlainSummary struct {
	Status            string `json:"status"`
	Confidence        string `json:"confidence"`
	Summary           string `json:"summary"`
	MainReason        string `json:"main_reason"`
	RecommendedAction string `json:"recommended_action"`
	Emoji             string `json:"emoji"`
}

// AdvancedDetail carries the server's technical breakdown. Its contents are
// opaque to the gateway; missing sections are empty objects, never nil.
type AdvancedDetail struct {
	TechnicalAnalysis any `json:"technical_analysis"`
	Metrics           any `json:"metrics"`
	TechnicalDetails  any `json:"technical_details"`
}

// Reason is one itemized finding behind the verdict.
type Reason struct {
	Severity     Severity `json:"severity"`
	Category     string   `json:"category"`
	CategoryName string   `json:"category_name,omitempty"`
	Title        string   `json:"title"`
	PlainText    string   `json:"plain_text"`
	AdvancedText string   `json:"advanced_text"`
	ImpactScore  float64  `json:"impact_score"`
	Source       string   `json:"source"`
	Icon         string   `json:"icon,omitempty"`
	Color        string   `json:"color,omitempty"`
}

// Recommendation tells the user what to do next.
type Recommendation struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	MainAction Action    `json:"main_action"`
	Message    string    `json:"message"`
	NextSteps  []string  `json:"next_steps"`
	Emoji      string    `json:"emoji,omitempty"`
	Color      string    `json:"color,omitempty"`
}

// Explanation is the full rationale accompanying a verdict. Reasons keep the
// order the server sent them in.
type Explanation struct {
	PlainSummary   PlainSummary   `json:"plain_summary"`
	AdvancedDetail AdvancedDetail `json:"advanced_detail"`
	Reasons        []Reason       `json:"reasons"`
	Recommendation Recommendation `json:"recommendation"`
}

// NormalizedAnalysis is the canonical, fully populated analysis result.
type NormalizedAnalysis struct {
	Status          Verdict         `json:"status"`
	ExtractedFields ExtractedFields `json:"extracted_fields"`
	Explanation     Explanation     `json:"explanation"`
}

// Fraudulent is shorthand for Status == VerdictFraudulent.
func (a *NormalizedAnalysis) Fraudulent() bool {
	return a.Status == VerdictFraudulent
}

// PollState is the state of a poll session
type PollState string

const (
	PollPending   PollState = "pending"
	PollPolling   PollState = "polling"
	PollCompleted PollState = "completed"
	PollFailed    PollState = "failed"
	PollTimedOut  PollState = "timed_out"
)

// Terminal reports whether no further checks can follow this state.
func (s PollState) Terminal() bool {
	return s == PollCompleted || s == PollFailed || s == PollTimedOut
}

// AnalysisMode selects the synchronous or asynchronous server flow
type AnalysisMode string

const (
	ModeSync  AnalysisMode = "sync"
	ModeAsync AnalysisMode = "async"
)

// JobStatus is the gateway-side state of an analysis job
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// JobError is the client-facing error of a failed job
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// MessageKey re-localizes Message per request. Empty when Message is
	// the analysis service's own wording.
	MessageKey string `json:"-"`
}

// Job tracks one analysis requested through the gateway.
type Job struct {
	JobID       string              `json:"job_id"`
	Mode        AnalysisMode        `json:"mode"`
	Status      JobStatus           `json:"status"`
	Submission  *SubmissionHandle   `json:"submission,omitempty"`
	Result      *NormalizedAnalysis `json:"result,omitempty"`
	Error       *JobError           `json:"error,omitempty"`
	Attempts    int                 `json:"attempts"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}
