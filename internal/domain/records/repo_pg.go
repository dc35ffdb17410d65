package records

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinaudit/clinaudit/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Session Repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

const sessionCols = `id, ficha_code, guide_number, patient_name, scheduled_date,
	execution_order, executed, signed, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.FichaCode, &s.GuideNumber, &s.PatientName, &s.ScheduledDate,
		&s.ExecutionOrder, &s.Executed, &s.Signed, &s.CreatedAt)
	return &s, err
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (id, ficha_code, guide_number, patient_name, scheduled_date,
			execution_order, executed, signed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.FichaCode, s.GuideNumber, s.PatientName, s.ScheduledDate,
		s.ExecutionOrder, s.Executed, s.Signed)
	return err
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
}

func (r *sessionRepoPG) List(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) FetchAll(ctx context.Context, period Period) ([]*Session, error) {
	// Rows with a null scheduled_date always pass the period filter;
	// the rule engine needs to see them.
	query := `SELECT ` + sessionCols + ` FROM sessions`
	var args []interface{}
	if period.Start != nil && period.End != nil {
		query += ` WHERE (scheduled_date IS NULL OR scheduled_date BETWEEN $1 AND $2)`
		args = append(args, period.Start, period.End)
	} else if period.Start != nil {
		query += ` WHERE (scheduled_date IS NULL OR scheduled_date >= $1)`
		args = append(args, period.Start)
	} else if period.End != nil {
		query += ` WHERE (scheduled_date IS NULL OR scheduled_date <= $1)`
		args = append(args, period.End)
	}
	query += ` ORDER BY ficha_code, execution_order`

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== Execution Repository ===========

type executionRepoPG struct{ pool *pgxpool.Pool }

func NewExecutionRepoPG(pool *pgxpool.Pool) ExecutionRepository { return &executionRepoPG{pool: pool} }

const executionCols = `id, ficha_code, ficha_code_is_temporary, guide_number, session_id,
	patient_name, execution_date, attendance_date, execution_order, created_at`

func scanExecution(row pgx.Row) (*Execution, error) {
	var e Execution
	err := row.Scan(&e.ID, &e.FichaCode, &e.FichaCodeIsTemporary, &e.GuideNumber, &e.SessionID,
		&e.PatientName, &e.ExecutionDate, &e.AttendanceDate, &e.ExecutionOrder, &e.CreatedAt)
	return &e, err
}

func (r *executionRepoPG) Create(ctx context.Context, e *Execution) error {
	e.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO executions (id, ficha_code, ficha_code_is_temporary, guide_number, session_id,
			patient_name, execution_date, attendance_date, execution_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.FichaCode, e.FichaCodeIsTemporary, e.GuideNumber, e.SessionID,
		e.PatientName, e.ExecutionDate, e.AttendanceDate, e.ExecutionOrder)
	return err
}

func (r *executionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return scanExecution(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+executionCols+` FROM executions WHERE id = $1`, id))
}

func (r *executionRepoPG) List(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM executions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+executionCols+` FROM executions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *executionRepoPG) FetchAll(ctx context.Context, period Period) ([]*Execution, error) {
	query := `SELECT ` + executionCols + ` FROM executions`
	var args []interface{}
	if period.Start != nil && period.End != nil {
		query += ` WHERE (execution_date IS NULL OR execution_date BETWEEN $1 AND $2)`
		args = append(args, period.Start, period.End)
	} else if period.Start != nil {
		query += ` WHERE (execution_date IS NULL OR execution_date >= $1)`
		args = append(args, period.Start)
	} else if period.End != nil {
		query += ` WHERE (execution_date IS NULL OR execution_date <= $1)`
		args = append(args, period.End)
	}
	query += ` ORDER BY guide_number, execution_order`

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Guide Repository ===========

type guideRepoPG struct{ pool *pgxpool.Pool }

func NewGuideRepoPG(pool *pgxpool.Pool) GuideRepository { return &guideRepoPG{pool: pool} }

const guideCols = `id, guide_number, authorized_quantity, expiration_date, patient_id,
	patient_name, created_at`

func scanGuide(row pgx.Row) (*Guide, error) {
	var g Guide
	err := row.Scan(&g.ID, &g.GuideNumber, &g.AuthorizedQuantity, &g.ExpirationDate, &g.PatientID,
		&g.PatientName, &g.CreatedAt)
	return &g, err
}

func (r *guideRepoPG) Create(ctx context.Context, g *Guide) error {
	g.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO guides (id, guide_number, authorized_quantity, expiration_date, patient_id, patient_name)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		g.ID, g.GuideNumber, g.AuthorizedQuantity, g.ExpirationDate, g.PatientID, g.PatientName)
	return err
}

func (r *guideRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Guide, error) {
	return scanGuide(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+guideCols+` FROM guides WHERE id = $1`, id))
}

func (r *guideRepoPG) GetByNumber(ctx context.Context, guideNumber string) (*Guide, error) {
	return scanGuide(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+guideCols+` FROM guides WHERE guide_number = $1`, guideNumber))
}

func (r *guideRepoPG) List(ctx context.Context, limit, offset int) ([]*Guide, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM guides`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx,
		`SELECT `+guideCols+` FROM guides ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Guide
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, g)
	}
	return items, total, rows.Err()
}

func (r *guideRepoPG) FetchAll(ctx context.Context) ([]*Guide, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+guideCols+` FROM guides ORDER BY guide_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Guide
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}
