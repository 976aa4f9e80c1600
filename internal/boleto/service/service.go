// Package service runs boleto analyses on behalf of the gateway: it submits
// the document, waits for the verdict and keeps the job for clients to read.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/detectabb/boleto-gateway/internal/boleto/client"
	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/internal/boleto/events"
	"github.com/detectabb/boleto-gateway/internal/boleto/normalizer"
	"github.com/detectabb/boleto-gateway/internal/boleto/poller"
	"github.com/detectabb/boleto-gateway/internal/boleto/repository"
	"github.com/detectabb/boleto-gateway/internal/boleto/storage"
	"github.com/detectabb/boleto-gateway/pkg/logger"
)

// Analyzer is the remote analysis service. *client.Client implements it.
type Analyzer interface {
	SubmitSync(ctx context.Context, doc *client.Document) (*domain.RawResponse, error)
	SubmitAsync(ctx context.Context, doc *client.Document) (*domain.SubmissionHandle, error)
	Health(ctx context.Context) error
}

// VerdictStore persists verdicts. *repository.VerdictRepository implements it.
type VerdictStore interface {
	Record(ctx context.Context, v *repository.Verdict) error
	List(ctx context.Context, limit int) ([]*repository.Verdict, error)
}

// Service orchestrates analyses: submit → wait → normalize → record
type Service struct {
	analyzer Analyzer
	poller   *poller.Poller
	storage  *storage.JobStore
	verdicts VerdictStore
	events   *events.BoletoEventPublisher
	log      *logger.Logger
}

// NewService creates a new analysis service. verdicts and publisher may be
// nil, in which case outcomes are neither persisted nor published.
func NewService(analyzer Analyzer, p *poller.Poller, store *storage.JobStore, verdicts VerdictStore, publisher *events.BoletoEventPublisher, log *logger.Logger) *Service {
	return &Service{
		analyzer: analyzer,
		poller:   p,
		storage:  store,
		verdicts: verdicts,
		events:   publisher,
		log:      log.WithComponent("analysis-service"),
	}
}

// Analyze submits doc and returns its job. In sync mode the job is already
// completed. In async mode it is processing and a poll session runs in the
// background; clients read the outcome with GetJob. The document bytes are
// zeroed before Analyze returns.
func (s *Service) Analyze(ctx context.Context, doc *client.Document, mode domain.AnalysisMode, cfg poller.Config) (*domain.Job, error) {
	defer doc.Zero()

	if mode == "" {
		mode = domain.ModeAsync
	}

	job := &domain.Job{
		JobID:     storage.NewJobID(),
		Mode:      mode,
		Status:    domain.JobProcessing,
		CreatedAt: time.Now(),
	}
	s.storage.Store(job)

	s.log.Info().
		Str("job_id", job.JobID).
		Str("mode", string(mode)).
		Str("file_type", string(doc.FileType)).
		Int("file_size", len(doc.Content)).
		Msg("starting boleto analysis")

	if mode == domain.ModeSync {
		return s.analyzeSync(ctx, job.JobID, doc)
	}
	return s.analyzeAsync(ctx, job.JobID, doc, cfg)
}

func (s *Service) analyzeSync(ctx context.Context, jobID string, doc *client.Document) (*domain.Job, error) {
	raw, err := s.analyzer.SubmitSync(ctx, doc)
	if err != nil {
		s.fail(ctx, jobID, err, 0)
		return nil, err
	}

	result, err := normalizer.Normalize(raw)
	if err != nil {
		s.fail(ctx, jobID, err, 0)
		return nil, err
	}

	return s.complete(ctx, jobID, result, 0), nil
}

func (s *Service) analyzeAsync(ctx context.Context, jobID string, doc *client.Document, cfg poller.Config) (*domain.Job, error) {
	handle, err := s.analyzer.SubmitAsync(ctx, doc)
	if err != nil {
		s.fail(ctx, jobID, err, 0)
		return nil, err
	}

	job := s.storage.Update(jobID, func(j *domain.Job) {
		j.Submission = handle
	})
	if job == nil {
		return nil, ErrJobNotFound
	}

	// The session belongs to the job, not to the HTTP request that created it.
	session := s.poller.Start(context.Background(), *handle, cfg)
	if !s.storage.SetCancel(jobID, session.Cancel) {
		// Cancelled, expired or shut down before the session was registered
		session.Cancel()
	}

	go s.await(jobID, session)

	return job, nil
}

// await runs in a background goroutine until the session stops.
func (s *Service) await(jobID string, session *poller.Session) {
	result, err := session.Wait(context.Background())
	attempts := session.Attempts()
	ctx := context.Background()

	switch {
	case errors.Is(err, domain.ErrSessionCancelled):
		// A session stopped by shutdown or expiry leaves the job processing
		s.storage.Update(jobID, func(j *domain.Job) {
			j.Attempts = attempts
			if j.Status == domain.JobProcessing {
				now := time.Now()
				j.Status = domain.JobCancelled
				j.CompletedAt = &now
			}
		})
		s.log.Info().
			Str("job_id", jobID).
			Str("session_id", session.ID()).
			Int("attempts", attempts).
			Msg("analysis cancelled")
	case err != nil:
		s.fail(ctx, jobID, err, attempts)
	default:
		s.complete(ctx, jobID, result, attempts)
	}
}

// complete stores the verdict unless the job was cancelled meanwhile, then
// publishes and records it.
func (s *Service) complete(ctx context.Context, jobID string, result *domain.NormalizedAnalysis, attempts int) *domain.Job {
	applied := false
	job := s.storage.Update(jobID, func(j *domain.Job) {
		if j.Status != domain.JobProcessing {
			return
		}
		now := time.Now()
		j.Status = domain.JobCompleted
		j.Result = result
		j.Attempts = attempts
		j.CompletedAt = &now
		applied = true
	})
	if !applied {
		return job
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("verdict", string(result.Status)).
		Str("risk_level", string(result.Explanation.Recommendation.RiskLevel)).
		Int("attempts", attempts).
		Msg("boleto analysis completed")

	ctx = context.WithoutCancel(ctx)
	s.events.PublishAnalysisCompleted(ctx, job)
	s.record(ctx, job)

	return job
}

func (s *Service) fail(ctx context.Context, jobID string, err error, attempts int) *domain.Job {
	applied := false
	job := s.storage.Update(jobID, func(j *domain.Job) {
		if j.Status != domain.JobProcessing {
			return
		}
		now := time.Now()
		j.Status = domain.JobFailed
		j.Error = jobError(err)
		j.Attempts = attempts
		j.CompletedAt = &now
		applied = true
	})
	if !applied {
		return job
	}

	s.log.Warn().
		Err(err).
		Str("job_id", jobID).
		Str("code", job.Error.Code).
		Int("attempts", attempts).
		Msg("boleto analysis failed")

	s.events.PublishAnalysisFailed(context.WithoutCancel(ctx), job)

	return job
}

func (s *Service) record(ctx context.Context, job *domain.Job) {
	if s.verdicts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.verdicts.Record(ctx, repository.NewVerdict(job)); err != nil {
		s.log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to record verdict")
	}
}

// GetJob returns the job, or ErrJobNotFound when it is unknown or expired
func (s *Service) GetJob(jobID string) (*domain.Job, error) {
	job := s.storage.Get(jobID)
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// CancelJob stops the poll session of a processing job. Cancelling a job
// that already finished returns it unchanged.
func (s *Service) CancelJob(jobID string) (*domain.Job, error) {
	job, ok := s.storage.Cancel(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("status", string(job.Status)).
		Msg("analysis cancel requested")

	return job, nil
}

// RecentVerdicts lists persisted verdicts, newest first. Without a
// database the list is empty.
func (s *Service) RecentVerdicts(ctx context.Context, limit int) ([]*repository.Verdict, error) {
	if s.verdicts == nil {
		return []*repository.Verdict{}, nil
	}
	return s.verdicts.List(ctx, limit)
}

// Health probes the analysis service
func (s *Service) Health(ctx context.Context) error {
	return s.analyzer.Health(ctx)
}
