package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinaudit/clinaudit/internal/domain/records"
)

// -- Mocks --

type mockStore struct {
	sessions   []*records.Session
	executions []*records.Execution
	guides     []*records.Guide
	failFetch  bool
}

func (m *mockStore) FetchSessions(_ context.Context, _ records.Period) ([]*records.Session, error) {
	if m.failFetch {
		return nil, fmt.Errorf("connection refused")
	}
	return m.sessions, nil
}

func (m *mockStore) FetchExecutions(_ context.Context, _ records.Period) ([]*records.Execution, error) {
	if m.failFetch {
		return nil, fmt.Errorf("connection refused")
	}
	return m.executions, nil
}

func (m *mockStore) FetchGuides(_ context.Context, _ records.Period) ([]*records.Guide, error) {
	if m.failFetch {
		return nil, fmt.Errorf("connection refused")
	}
	return m.guides, nil
}

type mockDivergenceRepo struct {
	items       map[uuid.UUID]*Divergence
	failInserts int
}

func newMockDivergenceRepo() *mockDivergenceRepo {
	return &mockDivergenceRepo{items: make(map[uuid.UUID]*Divergence)}
}

func (m *mockDivergenceRepo) DeleteAll(_ context.Context) error {
	m.items = make(map[uuid.UUID]*Divergence)
	return nil
}

func (m *mockDivergenceRepo) Insert(_ context.Context, d *Divergence) error {
	if m.failInserts > 0 {
		m.failInserts--
		return fmt.Errorf("write conflict")
	}
	d.ID = uuid.New()
	m.items[d.ID] = d
	return nil
}

func (m *mockDivergenceRepo) CountByStatus(_ context.Context, status Status) (int, error) {
	count := 0
	for _, d := range m.items {
		if d.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *mockDivergenceRepo) GetByID(_ context.Context, id uuid.UUID) (*Divergence, error) {
	d, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return d, nil
}

func (m *mockDivergenceRepo) List(_ context.Context, f Filters, limit, offset int) ([]*Divergence, int, error) {
	var result []*Divergence
	for _, d := range m.items {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Kind != "" && d.Kind != f.Kind {
			continue
		}
		result = append(result, d)
	}
	return result, len(result), nil
}

func (m *mockDivergenceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status, resolvedBy *string) error {
	d, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.ResolvedBy = resolvedBy
	return nil
}

type mockRunRepo struct {
	runs   []*AuditRun
	locked bool
}

func (m *mockRunRepo) Insert(_ context.Context, run *AuditRun) error {
	run.ID = uuid.New()
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockRunRepo) GetLatest(_ context.Context) (*AuditRun, error) {
	if len(m.runs) == 0 {
		return nil, fmt.Errorf("not found")
	}
	return m.runs[len(m.runs)-1], nil
}

func (m *mockRunRepo) GetByPeriod(_ context.Context, start, end time.Time) ([]*AuditRun, error) {
	var result []*AuditRun
	for _, r := range m.runs {
		if !r.StartedAt.Before(start) && !r.StartedAt.After(end) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockRunRepo) TryLock(_ context.Context) (bool, error) {
	if m.locked {
		return false, nil
	}
	m.locked = true
	return true, nil
}

func (m *mockRunRepo) Unlock(_ context.Context) error {
	m.locked = false
	return nil
}

// -- Tests --

func newTestAuditService(store *mockStore) (*Service, *mockDivergenceRepo, *mockRunRepo) {
	divs := newMockDivergenceRepo()
	runs := &mockRunRepo{}
	svc := NewService(store, divs, runs, zerolog.Nop())
	return svc, divs, runs
}

func TestRunAudit_EndToEnd(t *testing.T) {
	// F1 matches its execution, F2 was executed but never signed, F3
	// was billed without a documented session.
	store := &mockStore{
		sessions: []*records.Session{
			{ID: uuid.New(), FichaCode: "F1", GuideNumber: "G1", PatientName: "Ana",
				ScheduledDate: day(2024, 3, 1), Executed: true, Signed: true, ExecutionOrder: 1},
			{ID: uuid.New(), FichaCode: "F2", GuideNumber: "G1", PatientName: "Bia",
				ScheduledDate: day(2024, 3, 2), Executed: true, Signed: false, ExecutionOrder: 1},
		},
		executions: []*records.Execution{
			{ID: uuid.New(), FichaCode: strPtr("F1"), GuideNumber: "G1", PatientName: "Ana",
				ExecutionDate: day(2024, 3, 1), ExecutionOrder: 1},
			{ID: uuid.New(), FichaCode: strPtr("F3"), GuideNumber: "G1", PatientName: "Caio",
				ExecutionDate: day(2024, 3, 3), ExecutionOrder: 1},
		},
	}
	svc, divs, _ := newTestAuditService(store)

	run, err := svc.RunAudit(context.Background(), records.Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", run.Status)
	}
	if run.TotalDivergences != 3 {
		t.Errorf("expected 3 divergences, got %d", run.TotalDivergences)
	}
	if run.DivergencesByKind[KindSessionWithoutSignature] != 1 {
		t.Errorf("expected 1 session_without_signature, got %d", run.DivergencesByKind[KindSessionWithoutSignature])
	}
	if run.DivergencesByKind[KindExecutionWithoutSession] != 1 {
		t.Errorf("expected 1 execution_without_session, got %d", run.DivergencesByKind[KindExecutionWithoutSession])
	}
	if run.DivergencesByKind[KindSessionWithoutExecution] != 1 {
		t.Errorf("expected 1 session_without_execution for F2, got %d", run.DivergencesByKind[KindSessionWithoutExecution])
	}
	if run.DivergencesByKind[KindDateMismatch] != 0 {
		t.Errorf("expected no date_mismatch, got %d", run.DivergencesByKind[KindDateMismatch])
	}
	if run.TotalProtocols != 4 {
		t.Errorf("expected total_protocols 4, got %d", run.TotalProtocols)
	}
	if len(divs.items) != 3 {
		t.Errorf("expected 3 persisted divergences, got %d", len(divs.items))
	}
	for _, d := range divs.items {
		if d.Status != StatusPending {
			t.Errorf("expected PENDING status, got %s", d.Status)
		}
		if d.IdentifiedAt.IsZero() {
			t.Error("expected identified_at to be stamped")
		}
	}
}

func TestRunAudit_Idempotent(t *testing.T) {
	store := &mockStore{
		sessions: []*records.Session{
			{ID: uuid.New(), FichaCode: "F1", GuideNumber: "G1", PatientName: "Ana",
				Executed: true, Signed: false, ExecutionOrder: 1},
		},
	}
	svc, divs, _ := newTestAuditService(store)

	first, err := svc.RunAudit(context.Background(), records.Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.RunAudit(context.Background(), records.Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, k := range AllKinds {
		if first.DivergencesByKind[k] != second.DivergencesByKind[k] {
			t.Errorf("counts for %s differ between runs: %d vs %d", k, first.DivergencesByKind[k], second.DivergencesByKind[k])
		}
	}
	if len(divs.items) != second.TotalDivergences {
		t.Errorf("expected no accumulation, repo holds %d rows for %d divergences", len(divs.items), second.TotalDivergences)
	}
}

func TestRunAudit_KindSetComplete(t *testing.T) {
	svc, _, _ := newTestAuditService(&mockStore{})
	run, err := svc.RunAudit(context.Background(), records.Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(run.DivergencesByKind) != len(AllKinds) {
		t.Fatalf("expected %d kinds, got %d", len(AllKinds), len(run.DivergencesByKind))
	}
	for _, k := range AllKinds {
		if v, ok := run.DivergencesByKind[k]; !ok || v != 0 {
			t.Errorf("expected zero-filled entry for %s, got %d (present=%v)", k, v, ok)
		}
	}
}

func TestRunAudit_ResolvedCountCarried(t *testing.T) {
	svc, divs, _ := newTestAuditService(&mockStore{})
	id := uuid.New()
	divs.items[id] = &Divergence{ID: id, Kind: KindDateMismatch, Status: StatusResolved}

	run, err := svc.RunAudit(context.Background(), records.Period{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.TotalResolved != 1 {
		t.Errorf("expected total_resolved 1, got %d", run.TotalResolved)
	}
	if len(divs.items) != 0 {
		t.Errorf("expected full wipe including resolved rows, %d remain", len(divs.items))
	}
}

func TestRunAudit_ConflictWhileRunning(t *testing.T) {
	svc, _, _ := newTestAuditService(&mockStore{})
	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()

	_, err := svc.RunAudit(context.Background(), records.Period{})
	if err != ErrRunInProgress {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
}

func TestRunAudit_ConflictOnRepositoryLock(t *testing.T) {
	svc, _, runs := newTestAuditService(&mockStore{})
	runs.locked = true

	_, err := svc.RunAudit(context.Background(), records.Period{})
	if err != ErrRunInProgress {
		t.Errorf("expected ErrRunInProgress when lock is held elsewhere, got %v", err)
	}
}

func TestRunAudit_FetchFailureRecordsFailedRun(t *testing.T) {
	svc, _, runs := newTestAuditService(&mockStore{failFetch: true})

	_, err := svc.RunAudit(context.Background(), records.Period{})
	if err == nil {
		t.Fatal("expected error when snapshots are unavailable")
	}
	if len(runs.runs) != 1 {
		t.Fatalf("expected 1 persisted run, got %d", len(runs.runs))
	}
	failed := runs.runs[0]
	if failed.Status != RunStatusFailed {
		t.Errorf("expected FAILED, got %s", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage == "" {
		t.Error("expected error message on failed run")
	}
	if runs.locked {
		t.Error("expected run lock released after failure")
	}
}

func TestRunAudit_LockReleasedAfterSuccess(t *testing.T) {
	svc, _, runs := newTestAuditService(&mockStore{})
	if _, err := svc.RunAudit(context.Background(), records.Period{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs.locked {
		t.Error("expected run lock released after completion")
	}
}

func TestSink_RetriesFailedInsert(t *testing.T) {
	divs := newMockDivergenceRepo()
	divs.failInserts = 1
	sink := NewSink(divs, zerolog.Nop())

	err := sink.Commit(context.Background(), &Divergence{Kind: KindDateMismatch, PatientName: "Ana"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(divs.items) != 1 {
		t.Errorf("expected 1 row after retry, got %d", len(divs.items))
	}
}

func TestSink_Defaults(t *testing.T) {
	divs := newMockDivergenceRepo()
	sink := NewSink(divs, zerolog.Nop())

	d := &Divergence{Kind: KindQuotaExceeded, PatientName: "Ana"}
	if err := sink.Commit(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Priority != PriorityHigh {
		t.Errorf("expected HIGH default for quota_exceeded, got %s", d.Priority)
	}
	if d.Status != StatusPending {
		t.Errorf("expected PENDING default, got %s", d.Status)
	}
	if sink.Total() != 1 {
		t.Errorf("expected total 1, got %d", sink.Total())
	}
	if sink.Counts()[KindQuotaExceeded] != 1 {
		t.Errorf("expected count 1 for quota_exceeded, got %d", sink.Counts()[KindQuotaExceeded])
	}
}

func TestUpdateDivergenceStatus(t *testing.T) {
	svc, divs, _ := newTestAuditService(&mockStore{})
	id := uuid.New()
	divs.items[id] = &Divergence{ID: id, Kind: KindDateMismatch, Status: StatusPending}

	d, err := svc.UpdateDivergenceStatus(context.Background(), id, StatusInReview, "auditor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Status != StatusInReview {
		t.Errorf("expected IN_REVIEW, got %s", d.Status)
	}

	d, err = svc.UpdateDivergenceStatus(context.Background(), id, StatusResolved, "auditor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ResolvedAt == nil || d.ResolvedBy == nil || *d.ResolvedBy != "auditor-1" {
		t.Error("expected resolved_at and resolved_by stamped")
	}
}

func TestUpdateDivergenceStatus_InvalidTransition(t *testing.T) {
	svc, divs, _ := newTestAuditService(&mockStore{})
	id := uuid.New()
	divs.items[id] = &Divergence{ID: id, Kind: KindDateMismatch, Status: StatusPending}

	_, err := svc.UpdateDivergenceStatus(context.Background(), id, StatusResolved, "auditor-1")
	if err == nil {
		t.Fatal("expected error for PENDING -> RESOLVED")
	}
}

func TestUpdateDivergenceStatus_NotFound(t *testing.T) {
	svc, _, _ := newTestAuditService(&mockStore{})
	_, err := svc.UpdateDivergenceStatus(context.Background(), uuid.New(), StatusInReview, "auditor-1")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
