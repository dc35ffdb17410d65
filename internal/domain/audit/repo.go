package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinaudit/clinaudit/internal/domain/records"
)

// RecordStore supplies the full snapshots a run reconciles. The records
// service satisfies it; the engine never writes through it.
type RecordStore interface {
	FetchSessions(ctx context.Context, period records.Period) ([]*records.Session, error)
	FetchExecutions(ctx context.Context, period records.Period) ([]*records.Execution, error)
	FetchGuides(ctx context.Context, period records.Period) ([]*records.Guide, error)
}

// Filters narrows divergence listings.
type Filters struct {
	Status      Status
	Kind        Kind
	Priority    Priority
	PatientName string
	From        *time.Time
	To          *time.Time
	OrderBy     string
	OrderDesc   bool
}

type DivergenceRepository interface {
	// DeleteAll wipes every stored divergence, resolved ones included.
	// Runs recompute from scratch.
	DeleteAll(ctx context.Context) error
	Insert(ctx context.Context, d *Divergence) error
	CountByStatus(ctx context.Context, status Status) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Divergence, error)
	List(ctx context.Context, f Filters, limit, offset int) ([]*Divergence, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, resolvedBy *string) error
}

type AuditRunRepository interface {
	Insert(ctx context.Context, run *AuditRun) error
	GetLatest(ctx context.Context) (*AuditRun, error)
	GetByPeriod(ctx context.Context, start, end time.Time) ([]*AuditRun, error)

	// TryLock claims the tenant-wide run lock without blocking; false
	// means another process holds it. Unlock releases it.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}
