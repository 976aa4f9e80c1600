package events

import (
	"context"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/pkg/logger"
	"github.com/detectabb/boleto-gateway/pkg/messaging"
)

// Sink delivers one event. *messaging.Publisher is the production sink.
type Sink interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// BoletoEventPublisher publishes analysis outcomes. A nil publisher is a
// valid no-op, used when RabbitMQ is not configured.
type BoletoEventPublisher struct {
	publisher Sink
	logger    *logger.Logger
}

// NewBoletoEventPublisher declares the exchange on rmq and publishes to it
func NewBoletoEventPublisher(rmq *messaging.RabbitMQ, exchange string, log *logger.Logger) (*BoletoEventPublisher, error) {
	if exchange == "" {
		exchange = messaging.ExchangeBoletoEvents
	}

	publisher, err := messaging.NewPublisher(rmq, exchange, "boleto-gateway", log)
	if err != nil {
		return nil, err
	}

	return NewWithSink(publisher, log), nil
}

// NewWithSink creates a publisher on top of any sink
func NewWithSink(sink Sink, log *logger.Logger) *BoletoEventPublisher {
	return &BoletoEventPublisher{
		publisher: sink,
		logger:    log.WithComponent("boleto-events"),
	}
}

// PublishAnalysisCompleted publishes the verdict of a completed job
func (p *BoletoEventPublisher) PublishAnalysisCompleted(ctx context.Context, job *domain.Job) {
	if p == nil || job.Result == nil {
		return
	}

	data := messaging.AnalysisCompletedEvent{
		JobID:     job.JobID,
		Mode:      string(job.Mode),
		Verdict:   string(job.Result.Status),
		RiskLevel: string(job.Result.Explanation.Recommendation.RiskLevel),
		Attempts:  job.Attempts,
	}
	if job.Submission != nil {
		data.SubmissionID = job.Submission.ID
	}
	if amount := job.Result.ExtractedFields.Amount; amount != nil {
		data.Amount = amount.StringFixed(2)
	}
	if bank := job.Result.ExtractedFields.BankCode; bank != nil {
		data.BankCode = *bank
	}

	ctx = messaging.WithCorrelationID(ctx, job.JobID)
	if err := p.publisher.Publish(ctx, messaging.EventAnalysisCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to publish analysis completed event")
	}
}

// PublishAnalysisFailed publishes a job that ended without a verdict
func (p *BoletoEventPublisher) PublishAnalysisFailed(ctx context.Context, job *domain.Job) {
	if p == nil {
		return
	}

	data := messaging.AnalysisFailedEvent{
		JobID:    job.JobID,
		Mode:     string(job.Mode),
		Attempts: job.Attempts,
	}
	if job.Submission != nil {
		data.SubmissionID = job.Submission.ID
	}
	if job.Error != nil {
		data.Code = job.Error.Code
		data.Reason = job.Error.Message
	}

	ctx = messaging.WithCorrelationID(ctx, job.JobID)
	if err := p.publisher.Publish(ctx, messaging.EventAnalysisFailed, data); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to publish analysis failed event")
	}
}
