package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/pkg/database"
	"github.com/detectabb/boleto-gateway/pkg/logger"
)

// Listing bounds
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

const constraintVerdictJobID = "boleto_verdicts_job_id_key"

// ErrInvalidVerdict is returned when a row fails the table's CHECK constraints
var ErrInvalidVerdict = errors.New("invalid verdict")

// Verdict is one audited analysis outcome. Only the verdict and a few
// identifying fields are kept; the document itself is never stored.
type Verdict struct {
	ID           string              `db:"id" json:"id"`
	JobID        string              `db:"job_id" json:"job_id"`
	SubmissionID *string             `db:"submission_id" json:"submission_id,omitempty"`
	Mode         string              `db:"mode" json:"mode"`
	Status       string              `db:"status" json:"status"`
	Fraudulent   bool                `db:"fraudulent" json:"fraudulent"`
	RiskLevel    string              `db:"risk_level" json:"risk_level"`
	Amount       decimal.NullDecimal `db:"amount" json:"amount"`
	BankCode     *string             `db:"bank_code" json:"bank_code,omitempty"`
	Attempts     int                 `db:"attempts" json:"attempts"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// NewVerdict builds the audit row of a completed job
func NewVerdict(job *domain.Job) *Verdict {
	v := &Verdict{
		JobID:    job.JobID,
		Mode:     string(job.Mode),
		Attempts: job.Attempts,
	}
	if job.Submission != nil {
		id := job.Submission.ID
		v.SubmissionID = &id
	}
	if res := job.Result; res != nil {
		v.Status = string(res.Status)
		v.Fraudulent = res.Fraudulent()
		v.RiskLevel = string(res.Explanation.Recommendation.RiskLevel)
		v.BankCode = res.ExtractedFields.BankCode
		if res.ExtractedFields.Amount != nil {
			v.Amount = decimal.NewNullDecimal(*res.ExtractedFields.Amount)
		}
	}
	return v
}

// VerdictRepository persists verdicts in boleto_verdicts
type VerdictRepository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewVerdictRepository creates a new verdict repository
func NewVerdictRepository(db *database.DB, log *logger.Logger) *VerdictRepository {
	return &VerdictRepository{
		db:     db,
		logger: log.WithComponent("verdict-repository"),
	}
}

// Record inserts a verdict. Recording the same job twice is not an error;
// the first row wins.
func (r *VerdictRepository) Record(ctx context.Context, v *Verdict) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	query := `
		INSERT INTO boleto_verdicts (
			id, job_id, submission_id, mode, status, fraudulent,
			risk_level, amount, bank_code, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		v.ID, v.JobID, v.SubmissionID, v.Mode, v.Status, v.Fraudulent,
		v.RiskLevel, v.Amount, v.BankCode, v.Attempts,
	).Scan(&v.CreatedAt)

	if database.IsUniqueViolation(err, constraintVerdictJobID) {
		r.logger.Debug().Str("job_id", v.JobID).Msg("verdict already recorded")
		return nil
	}
	if database.IsCheckViolation(err, "") {
		return fmt.Errorf("%w: job %s: %v", ErrInvalidVerdict, v.JobID, err)
	}
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}

	return nil
}

// List returns the most recent verdicts, newest first
func (r *VerdictRepository) List(ctx context.Context, limit int) ([]*Verdict, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, job_id, submission_id, mode, status, fraudulent,
		       risk_level, amount, bank_code, attempts, created_at
		FROM boleto_verdicts
		ORDER BY created_at DESC
		LIMIT $1
	`

	verdicts := []*Verdict{}
	if err := r.db.SelectContext(ctx, &verdicts, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}

	return verdicts, nil
}
