// Package poller waits for an asynchronous analysis to finish by fetching
// its status at a fixed interval, with a bounded number of attempts.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
	"github.com/detectabb/boleto-gateway/internal/boleto/normalizer"
	"github.com/detectabb/boleto-gateway/pkg/logger"
)

// Defaults bound an unconfigured wait to one minute
const (
	DefaultMaxAttempts = 30
	DefaultInterval    = 2 * time.Second
)

// Fetcher reads the current state of a submitted analysis
type Fetcher interface {
	FetchByID(ctx context.Context, id string) (*domain.RawResponse, error)
}

// Config is the attempt limit of one session. Zero fields take the
// poller's defaults.
type Config struct {
	MaxAttempts int
	Interval    time.Duration
}

func (c Config) orDefaults(d Config) Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// Poller starts poll sessions. It holds no per-session state and can run
// any number of sessions at once.
type Poller struct {
	fetcher  Fetcher
	defaults Config
	logger   *logger.Logger
}

// New creates a poller. Zero fields of defaults fall back to 30 attempts
// every 2 seconds.
func New(fetcher Fetcher, defaults Config, log *logger.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		defaults: defaults.orDefaults(Config{MaxAttempts: DefaultMaxAttempts, Interval: DefaultInterval}),
		logger:   log.WithComponent("poller"),
	}
}

// Defaults returns the limits used when a session is started with a zero Config.
func (p *Poller) Defaults() Config {
	return p.defaults
}

// Poll blocks until the analysis reaches a terminal state, ctx is cancelled,
// or the attempt limit runs out.
func (p *Poller) Poll(ctx context.Context, handle domain.SubmissionHandle, cfg Config) (*domain.NormalizedAnalysis, error) {
	return p.Start(ctx, handle, cfg).Wait(context.Background())
}

// Start launches a session in its own goroutine and returns immediately. The
// first check runs right away. Cancelling ctx has the same effect as
// Session.Cancel.
func (p *Poller) Start(ctx context.Context, handle domain.SubmissionHandle, cfg Config) *Session {
	cfg = cfg.orDefaults(p.defaults)
	sessionCtx, cancel := context.WithCancelCause(ctx)

	s := &Session{
		id:      uuid.NewString(),
		handle:  handle,
		cfg:     cfg,
		fetcher: p.fetcher,
		state:   domain.PollPending,
		ctx:     sessionCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.logger = p.logger.WithSessionID(s.id).WithSubmissionID(handle.ID)

	go s.run()
	return s
}

// Session is one bounded wait for one submission. Fetches within a session
// never overlap: the next check is scheduled only after the previous fetch
// has returned.
type Session struct {
	id      string
	handle  domain.SubmissionHandle
	cfg     Config
	fetcher Fetcher
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu       sync.Mutex
	state    domain.PollState
	attempts int
	result   *domain.NormalizedAnalysis
	err      error
}

// ID identifies the session in logs
func (s *Session) ID() string { return s.id }

// Handle returns the submission being polled
func (s *Session) Handle() domain.SubmissionHandle { return s.handle }

// Config returns the effective attempt limit
func (s *Session) Config() Config { return s.cfg }

// State returns the current state
func (s *Session) State() domain.PollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many fetches have completed so far
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Done is closed once the session stops, whether by reaching a terminal
// state or by cancellation.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel abandons the session. No check is scheduled afterwards; a fetch
// already in flight finishes and its response is discarded. Cancelling a
// finished session does nothing.
func (s *Session) Cancel() {
	s.cancel(domain.ErrSessionCancelled)
}

// Wait blocks until the session stops and returns its outcome. A cancelled
// session yields an error wrapping domain.ErrSessionCancelled and, when the
// parent context was cancelled, its cause as well. If ctx ends first, Wait
// returns ctx.Err() and the session keeps running.
func (s *Session) Wait(ctx context.Context) (*domain.NormalizedAnalysis, error) {
	select {
	case <-s.done:
	case <-s.ctx.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.outcome()
}

func (s *Session) outcome() (*domain.NormalizedAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return s.result, s.err
	}
	return nil, s.cancelErr()
}

func (s *Session) cancelErr() error {
	cause := context.Cause(s.ctx)
	if cause == nil || cause == domain.ErrSessionCancelled {
		return domain.ErrSessionCancelled
	}
	return fmt.Errorf("%w: %w", domain.ErrSessionCancelled, cause)
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel(nil)

	s.logger.Debug().
		Int("max_attempts", s.cfg.MaxAttempts).
		Dur("interval", s.cfg.Interval).
		Msg("poll session started")

	for {
		if !s.beginCheck() {
			s.logger.Info().Int("attempts", s.Attempts()).Msg("poll session cancelled")
			return
		}

		// The fetch outlives cancellation; its result is dropped in finishCheck.
		raw, err := s.fetcher.FetchByID(context.WithoutCancel(s.ctx), s.handle.ID)

		if s.finishCheck(raw, err) {
			return
		}

		timer := time.NewTimer(s.cfg.Interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// beginCheck moves Pending to Polling and reports whether a fetch may start.
func (s *Session) beginCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.state = domain.PollPolling
	return true
}

// finishCheck applies one fetch result and reports whether the session stopped.
func (s *Session) finishCheck(raw *domain.RawResponse, fetchErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		s.logger.Debug().Msg("discarding fetch result of cancelled session")
		return true
	}

	s.attempts++

	if fetchErr != nil {
		s.state = domain.PollFailed
		s.err = fetchErr
		s.logger.Warn().Err(fetchErr).Int("attempt", s.attempts).Msg("fetch failed, stopping session")
		return true
	}

	switch status := raw.Status(); status {
	case domain.RemoteStatusCompleted:
		s.state = domain.PollCompleted
		s.result, s.err = normalizer.Normalize(raw)
		if s.err != nil {
			s.logger.Error().Err(s.err).Msg("completed analysis could not be normalized")
		} else {
			s.logger.Info().
				Int("attempts", s.attempts).
				Str("verdict", string(s.result.Status)).
				Msg("analysis completed")
		}
		return true

	case domain.RemoteStatusFailed:
		s.state = domain.PollFailed
		s.err = &domain.AnalysisFailedError{SubmissionID: s.handle.ID}
		s.logger.Warn().Int("attempts", s.attempts).Msg("analysis failed on the server")
		return true

	default:
		if s.attempts >= s.cfg.MaxAttempts {
			s.state = domain.PollTimedOut
			s.err = &domain.PollingTimeoutError{SubmissionID: s.handle.ID, Attempts: s.attempts}
			s.logger.Warn().Int("attempts", s.attempts).Msg("analysis still processing, giving up")
			return true
		}
		s.logger.Debug().
			Int("attempt", s.attempts).
			Str("remote_status", string(status)).
			Msg("analysis still processing")
		return false
	}
}
