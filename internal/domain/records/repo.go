package records

import (
	"context"

	"github.com/google/uuid"
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context, limit, offset int) ([]*Session, int, error)
	// FetchAll returns the full snapshot, optionally bounded by
	// scheduled_date.
	FetchAll(ctx context.Context, period Period) ([]*Session, error)
}

type ExecutionRepository interface {
	Create(ctx context.Context, e *Execution) error
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)
	List(ctx context.Context, limit, offset int) ([]*Execution, int, error)
	// FetchAll returns the full snapshot, optionally bounded by
	// execution_date.
	FetchAll(ctx context.Context, period Period) ([]*Execution, error)
}

type GuideRepository interface {
	Create(ctx context.Context, g *Guide) error
	GetByID(ctx context.Context, id uuid.UUID) (*Guide, error)
	GetByNumber(ctx context.Context, guideNumber string) (*Guide, error)
	List(ctx context.Context, limit, offset int) ([]*Guide, int, error)
	FetchAll(ctx context.Context) ([]*Guide, error)
}
