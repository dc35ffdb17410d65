package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service exposes the record entities to the import pipelines (scanned
// forms, payer-portal scrapes) and serves full snapshots to the audit
// engine. Records are read-only to the audit engine; only the import
// surface writes them.
type Service struct {
	sessions   SessionRepository
	executions ExecutionRepository
	guides     GuideRepository
}

func NewService(sessions SessionRepository, executions ExecutionRepository, guides GuideRepository) *Service {
	return &Service{sessions: sessions, executions: executions, guides: guides}
}

func (s *Service) CreateSession(ctx context.Context, sess *Session) error {
	if sess.FichaCode == "" {
		return fmt.Errorf("ficha_code is required")
	}
	if sess.GuideNumber == "" {
		return fmt.Errorf("guide_number is required")
	}
	if sess.ExecutionOrder < 1 {
		return fmt.Errorf("execution_order must be >= 1")
	}
	return s.sessions.Create(ctx, sess)
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	return s.sessions.List(ctx, limit, offset)
}

func (s *Service) CreateExecution(ctx context.Context, e *Execution) error {
	if e.GuideNumber == "" {
		return fmt.Errorf("guide_number is required")
	}
	if e.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	return s.executions.Create(ctx, e)
}

func (s *Service) GetExecution(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return s.executions.GetByID(ctx, id)
}

func (s *Service) ListExecutions(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	return s.executions.List(ctx, limit, offset)
}

func (s *Service) CreateGuide(ctx context.Context, g *Guide) error {
	if g.GuideNumber == "" {
		return fmt.Errorf("guide_number is required")
	}
	if g.AuthorizedQuantity < 0 {
		return fmt.Errorf("authorized_quantity must be >= 0")
	}
	return s.guides.Create(ctx, g)
}

func (s *Service) GetGuide(ctx context.Context, id uuid.UUID) (*Guide, error) {
	return s.guides.GetByID(ctx, id)
}

func (s *Service) ListGuides(ctx context.Context, limit, offset int) ([]*Guide, int, error) {
	return s.guides.List(ctx, limit, offset)
}

// -- snapshot surface consumed by the audit engine --

func (s *Service) FetchSessions(ctx context.Context, period Period) ([]*Session, error) {
	return s.sessions.FetchAll(ctx, period)
}

func (s *Service) FetchExecutions(ctx context.Context, period Period) ([]*Execution, error) {
	return s.executions.FetchAll(ctx, period)
}

func (s *Service) FetchGuides(ctx context.Context, period Period) ([]*Guide, error) {
	// Guides are not period-bounded: an old guide still constrains
	// executions inside the period.
	return s.guides.FetchAll(ctx)
}
