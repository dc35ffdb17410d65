package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

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

// =========== Divergence Repository ===========

type divergenceRepoPG struct{ pool *pgxpool.Pool }

func NewDivergenceRepoPG(pool *pgxpool.Pool) DivergenceRepository {
	return &divergenceRepoPG{pool: pool}
}

const divergenceCols = `id, guide_number, kind, description, patient_name, ficha_code,
	execution_date, attendance_date, priority, status, details, session_id, execution_id,
	identified_at, resolved_at, resolved_by`

func scanDivergence(row pgx.Row) (*Divergence, error) {
	var d Divergence
	err := row.Scan(&d.ID, &d.GuideNumber, &d.Kind, &d.Description, &d.PatientName, &d.FichaCode,
		&d.ExecutionDate, &d.AttendanceDate, &d.Priority, &d.Status, &d.Details, &d.SessionID, &d.ExecutionID,
		&d.IdentifiedAt, &d.ResolvedAt, &d.ResolvedBy)
	return &d, err
}

func (r *divergenceRepoPG) DeleteAll(ctx context.Context) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM divergences`)
	return err
}

func (r *divergenceRepoPG) Insert(ctx context.Context, d *Divergence) error {
	d.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO divergences (id, guide_number, kind, description, patient_name, ficha_code,
			execution_date, attendance_date, priority, status, details, session_id, execution_id,
			identified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.GuideNumber, d.Kind, d.Description, d.PatientName, d.FichaCode,
		d.ExecutionDate, d.AttendanceDate, d.Priority, d.Status, d.Details, d.SessionID, d.ExecutionID,
		d.IdentifiedAt)
	return err
}

func (r *divergenceRepoPG) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM divergences WHERE status = $1`, status).Scan(&count)
	return count, err
}

func (r *divergenceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Divergence, error) {
	return scanDivergence(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+divergenceCols+` FROM divergences WHERE id = $1`, id))
}

// orderColumns whitelists sortable columns; anything else falls back to
// identified_at.
var orderColumns = map[string]bool{
	"identified_at": true,
	"priority":      true,
	"kind":          true,
	"status":        true,
	"patient_name":  true,
	"guide_number":  true,
}

func buildDivergenceWhere(f Filters) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		clauses = append(clauses, "status = "+arg(f.Status))
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind = "+arg(f.Kind))
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority = "+arg(f.Priority))
	}
	if f.PatientName != "" {
		clauses = append(clauses, "patient_name ILIKE "+arg("%"+f.PatientName+"%"))
	}
	if f.From != nil {
		clauses = append(clauses, "identified_at >= "+arg(f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "identified_at <= "+arg(f.To))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *divergenceRepoPG) List(ctx context.Context, f Filters, limit, offset int) ([]*Divergence, int, error) {
	q := conn(ctx, r.pool)
	where, args := buildDivergenceWhere(f)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM divergences`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	col := f.OrderBy
	if !orderColumns[col] {
		col = "identified_at"
	}
	dir := "ASC"
	if f.OrderDesc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM divergences%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		divergenceCols, where, col, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Divergence
	for rows.Next() {
		d, err := scanDivergence(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *divergenceRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, resolvedBy *string) error {
	var tag pgconn.CommandTag
	var err error
	if status == StatusResolved {
		tag, err = conn(ctx, r.pool).Exec(ctx,
			`UPDATE divergences SET status = $1, resolved_at = NOW(), resolved_by = $2 WHERE id = $3`,
			status, resolvedBy, id)
	} else {
		tag, err = conn(ctx, r.pool).Exec(ctx,
			`UPDATE divergences SET status = $1, resolved_at = NULL, resolved_by = NULL WHERE id = $2`,
			status, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== AuditRun Repository ===========

// runLockKey identifies the tenant-wide advisory lock serializing runs.
const runLockKey = 0x434C41 // "CLA"

type auditRunRepoPG struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	lockConn *pgxpool.Conn
}

func NewAuditRunRepoPG(pool *pgxpool.Pool) AuditRunRepository {
	return &auditRunRepoPG{pool: pool}
}

const auditRunCols = `id, period_start, period_end, started_at, finished_at, total_protocols,
	total_sessions, total_executions, total_divergences, total_resolved, divergences_by_kind,
	status, error_message`

func scanAuditRun(row pgx.Row) (*AuditRun, error) {
	var run AuditRun
	err := row.Scan(&run.ID, &run.PeriodStart, &run.PeriodEnd, &run.StartedAt, &run.FinishedAt,
		&run.TotalProtocols, &run.TotalSessions, &run.TotalExecutions, &run.TotalDivergences,
		&run.TotalResolved, &run.DivergencesByKind, &run.Status, &run.ErrorMessage)
	return &run, err
}

func (r *auditRunRepoPG) Insert(ctx context.Context, run *AuditRun) error {
	run.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_runs (id, period_start, period_end, started_at, finished_at,
			total_protocols, total_sessions, total_executions, total_divergences, total_resolved,
			divergences_by_kind, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		run.ID, run.PeriodStart, run.PeriodEnd, run.StartedAt, run.FinishedAt,
		run.TotalProtocols, run.TotalSessions, run.TotalExecutions, run.TotalDivergences, run.TotalResolved,
		run.DivergencesByKind, run.Status, run.ErrorMessage)
	return err
}

func (r *auditRunRepoPG) GetLatest(ctx context.Context) (*AuditRun, error) {
	return scanAuditRun(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+auditRunCols+` FROM audit_runs ORDER BY started_at DESC LIMIT 1`))
}

func (r *auditRunRepoPG) GetByPeriod(ctx context.Context, start, end time.Time) ([]*AuditRun, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+auditRunCols+` FROM audit_runs
		 WHERE started_at BETWEEN $1 AND $2 ORDER BY started_at DESC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AuditRun
	for rows.Next() {
		run, err := scanAuditRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, run)
	}
	return items, rows.Err()
}

// TryLock takes a session-level advisory lock on a dedicated
// connection, which is held until Unlock so the lock survives for the
// whole run.
func (r *auditRunRepoPG) TryLock(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockConn != nil {
		return false, nil
	}

	c, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var locked bool
	if err := c.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&locked); err != nil {
		c.Release()
		return false, err
	}
	if !locked {
		c.Release()
		return false, nil
	}
	r.lockConn = c
	return true, nil
}

func (r *auditRunRepoPG) Unlock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lockConn == nil {
		return nil
	}
	_, err := r.lockConn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey)
	r.lockConn.Release()
	r.lockConn = nil
	return err
}
