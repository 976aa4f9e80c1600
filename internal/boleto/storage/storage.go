// Package storage keeps analysis jobs in memory for the lifetime of a
// client's polling window. Jobs are dropped after a TTL.
package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
)

// JobStore provides in-memory storage for analysis jobs. A running job may
// carry a cancel function that stops its poll session.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	ttl  time.Duration
	stop   chan struct{}
	once   sync.Once
	closed bool
}

type entry struct {
	job    domain.Job
	cancel func()
}

// NewJobStore creates a job store that forgets jobs older than ttl
func NewJobStore(ttl time.Duration) *JobStore {
	s := &JobStore{
		jobs: make(map[string]*entry),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// NewJobID creates a random job ID
func NewJobID() string {
	return uuid.NewString()
}

// Store saves a copy of job, replacing any job with the same ID
func (s *JobStore) Store(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = &entry{job: *job}
}

// Get returns a copy of the job, or nil when it is unknown or expired
func (s *JobStore) Get(jobID string) *domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	job := e.job
	return &job
}

// Update applies fn to the stored job under the store lock and returns a
// copy of the result. It returns nil for unknown jobs.
func (s *JobStore) Update(jobID string, fn func(*domain.Job)) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	fn(&e.job)
	job := e.job
	return &job
}

// SetCancel attaches the function that stops the job's poll session. It
// reports false, without keeping cancel, when the job is gone, no longer
// processing, or the store is closed; the caller must then stop the
// session itself.
func (s *JobStore) SetCancel(jobID string, cancel func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok || s.closed || e.job.Status != domain.JobProcessing {
		return false
	}
	e.cancel = cancel
	return true
}

// Cancel marks a processing job as cancelled and stops its session. Jobs
// that already finished are returned unchanged. The bool is false for
// unknown jobs.
func (s *JobStore) Cancel(jobID string) (*domain.Job, bool) {
	s.mu.Lock()
	e, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}

	var cancel func()
	if e.job.Status == domain.JobProcessing {
		now := time.Now()
		e.job.Status = domain.JobCancelled
		e.job.CompletedAt = &now
		cancel, e.cancel = e.cancel, nil
	}
	job := e.job
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return &job, true
}

// Len returns the number of stored jobs
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Close stops the cleanup loop and cancels every running session
func (s *JobStore) Close() {
	s.once.Do(func() {
		close(s.stop)

		s.mu.Lock()
		s.closed = true
		var cancels []func()
		for _, e := range s.jobs {
			if e.cancel != nil {
				cancels = append(cancels, e.cancel)
				e.cancel = nil
			}
		}
		s.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
	})
}

// cleanupLoop periodically removes expired jobs
func (s *JobStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

func (s *JobStore) cleanup(now time.Time) {
	s.mu.Lock()
	cutoff := now.Add(-s.ttl)
	var cancels []func()
	for id, e := range s.jobs {
		if e.job.CreatedAt.Before(cutoff) {
			if e.cancel != nil {
				cancels = append(cancels, e.cancel)
			}
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	// An expired session would otherwise keep polling for a job nobody can read.
	for _, cancel := range cancels {
		cancel()
	}
}
