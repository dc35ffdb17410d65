package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinaudit/clinaudit/internal/domain/records"
)

// Service owns the audit run lifecycle and the divergence query
// surface. Runs are serialized: clear-then-recompute makes concurrent
// runs unsafe, so a trigger while one is active fails fast.
type Service struct {
	store       RecordStore
	divergences DivergenceRepository
	runs        AuditRunRepository
	engine      *Engine
	logger      zerolog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

func NewService(store RecordStore, divergences DivergenceRepository, runs AuditRunRepository, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		divergences: divergences,
		runs:        runs,
		engine:      NewEngine(logger),
		logger:      logger,
		now:         time.Now,
	}
}

// RunAudit executes one full reconciliation pass: wipe stored
// divergences, pull snapshots, evaluate rules, persist the summary.
// Snapshot and persistence failures are fatal and recorded as a FAILED
// run; per-record problems inside rules are not.
func (s *Service) RunAudit(ctx context.Context, period records.Period) (*AuditRun, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// The mutex covers this process; the repository lock covers other
	// instances sharing the database.
	locked, err := s.runs.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring run lock: %v", ErrDataSourceUnavailable, err)
	}
	if !locked {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := s.runs.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("could not release run lock")
		}
	}()

	startedAt := s.now()
	s.logger.Info().Msg("audit run started")

	// Resolved count is captured before the wipe; it is the only trace
	// of operator resolutions that survives into the new run.
	resolved, err := s.divergences.CountByStatus(ctx, StatusResolved)
	if err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: counting resolved divergences: %v", ErrDataSourceUnavailable, err))
	}

	if err := s.divergences.DeleteAll(ctx); err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: clearing divergences: %v", ErrDataSourceUnavailable, err))
	}

	sessions, err := s.store.FetchSessions(ctx, period)
	if err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: fetching sessions: %v", ErrDataSourceUnavailable, err))
	}
	executions, err := s.store.FetchExecutions(ctx, period)
	if err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: fetching executions: %v", ErrDataSourceUnavailable, err))
	}
	guides, err := s.store.FetchGuides(ctx, period)
	if err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: fetching guides: %v", ErrDataSourceUnavailable, err))
	}

	idx := BuildIndex(sessions, executions, guides, s.logger)
	sink := NewSink(s.divergences, s.logger)

	if err := s.engine.Run(idx, func(d *Divergence) error {
		return sink.Commit(ctx, d)
	}); err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: persisting divergences: %v", ErrDataSourceUnavailable, err))
	}

	finishedAt := s.now()
	run := &AuditRun{
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		StartedAt:         startedAt,
		FinishedAt:        &finishedAt,
		TotalProtocols:    len(sessions) + len(executions),
		TotalSessions:     len(sessions),
		TotalExecutions:   len(executions),
		TotalDivergences:  sink.Total(),
		TotalResolved:     resolved,
		DivergencesByKind: sink.Counts(),
		Status:            RunStatusCompleted,
	}
	if err := s.insertRun(ctx, run); err != nil {
		return s.failRun(ctx, period, startedAt, fmt.Errorf("%w: persisting run summary: %v", ErrDataSourceUnavailable, err))
	}

	s.logger.Info().
		Int("sessions", run.TotalSessions).
		Int("executions", run.TotalExecutions).
		Int("divergences", run.TotalDivergences).
		Msg("audit run completed")
	return run, nil
}

// insertRun writes the run summary, retrying once on failure.
func (s *Service) insertRun(ctx context.Context, run *AuditRun) error {
	if err := s.runs.Insert(ctx, run); err != nil {
		s.logger.Warn().Err(err).Msg("audit run insert failed, retrying")
		time.Sleep(100 * time.Millisecond)
		return s.runs.Insert(ctx, run)
	}
	return nil
}

// failRun records a best-effort FAILED run and surfaces the error. The
// next run's wipe cleans up any partial divergence writes.
func (s *Service) failRun(ctx context.Context, period records.Period, startedAt time.Time, cause error) (*AuditRun, error) {
	s.logger.Error().Err(cause).Msg("audit run failed")
	finishedAt := s.now()
	msg := cause.Error()
	run := &AuditRun{
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		StartedAt:         startedAt,
		FinishedAt:        &finishedAt,
		DivergencesByKind: NormalizeKindCounts(nil),
		Status:            RunStatusFailed,
		ErrorMessage:      &msg,
	}
	if err := s.insertRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Msg("could not persist failed run record")
	}
	return nil, cause
}

func (s *Service) LatestRun(ctx context.Context) (*AuditRun, error) {
	return s.runs.GetLatest(ctx)
}

func (s *Service) RunsByPeriod(ctx context.Context, start, end time.Time) ([]*AuditRun, error) {
	return s.runs.GetByPeriod(ctx, start, end)
}

func (s *Service) ListDivergences(ctx context.Context, f Filters, limit, offset int) ([]*Divergence, int, error) {
	return s.divergences.List(ctx, f, limit, offset)
}

func (s *Service) GetDivergence(ctx context.Context, id uuid.UUID) (*Divergence, error) {
	return s.divergences.GetByID(ctx, id)
}

// UpdateDivergenceStatus applies an operator status change, enforcing
// the transition rules. Moving to RESOLVED stamps resolved_at and
// resolved_by.
func (s *Service) UpdateDivergenceStatus(ctx context.Context, id uuid.UUID, to Status, resolvedBy string) (*Divergence, error) {
	d, err := s.divergences.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if !ValidTransition(d.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	var by *string
	if to == StatusResolved && resolvedBy != "" {
		by = &resolvedBy
	}
	if err := s.divergences.UpdateStatus(ctx, id, to, by); err != nil {
		return nil, err
	}
	d.Status = to
	if to == StatusResolved {
		now := s.now()
		d.ResolvedAt = &now
		d.ResolvedBy = by
	}
	return d, nil
}
