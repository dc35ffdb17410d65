package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink finalizes divergence drafts and persists them: stamps
// identified_at, fills priority and status defaults, and keeps the
// per-kind counters the run summary reports. Safe for concurrent
// emitters; each row is independent.
type Sink struct {
	repo   DivergenceRepository
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	counts map[Kind]int
	total  int
}

func NewSink(repo DivergenceRepository, logger zerolog.Logger) *Sink {
	return &Sink{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		counts: make(map[Kind]int),
	}
}

// Commit persists one draft. A failed insert is retried once with a
// short backoff before the error is surfaced.
func (s *Sink) Commit(ctx context.Context, d *Divergence) error {
	d.IdentifiedAt = s.now()
	if d.Priority == "" {
		d.Priority = DefaultPriority(d.Kind)
	}
	if d.Status == "" {
		d.Status = StatusPending
	}

	if err := s.repo.Insert(ctx, d); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(d.Kind)).Msg("divergence insert failed, retrying")
		time.Sleep(100 * time.Millisecond)
		if err := s.repo.Insert(ctx, d); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.counts[d.Kind]++
	s.total++
	s.mu.Unlock()
	return nil
}

// Counts returns the per-kind tallies with the full canonical kind set
// zero-filled.
func (s *Sink) Counts() map[Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NormalizeKindCounts(s.counts)
}

func (s *Sink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
