package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a detected inconsistency between documented care and
// reported billing.
type Kind string

const (
	KindDateMismatch            Kind = "date_mismatch"
	KindSessionWithoutSignature Kind = "session_without_signature"
	KindExecutionWithoutSession Kind = "execution_without_session"
	KindSessionWithoutExecution Kind = "session_without_execution"
	KindQuotaExceeded           Kind = "quota_exceeded"
	KindGuideExpired            Kind = "guide_expired"
	KindMissingExecutionDate    Kind = "missing_execution_date"
	KindDuplicateExecution      Kind = "duplicate_execution"
)

// AllKinds is the canonical kind set in rule order. Run summaries carry
// a count for every kind listed here, zero-filled when none occurred.
var AllKinds = []Kind{
	KindDateMismatch,
	KindSessionWithoutSignature,
	KindExecutionWithoutSession,
	KindSessionWithoutExecution,
	KindQuotaExceeded,
	KindGuideExpired,
	KindMissingExecutionDate,
	KindDuplicateExecution,
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
)

// defaultPriorities maps each kind to the priority assigned when the
// emitting rule leaves it blank. Unknown kinds fall back to MEDIUM.
var defaultPriorities = map[Kind]Priority{
	KindDateMismatch:            PriorityMedium,
	KindSessionWithoutSignature: PriorityHigh,
	KindExecutionWithoutSession: PriorityHigh,
	KindSessionWithoutExecution: PriorityHigh,
	KindQuotaExceeded:           PriorityHigh,
	KindGuideExpired:            PriorityHigh,
	KindMissingExecutionDate:    PriorityHigh,
	KindDuplicateExecution:      PriorityHigh,
}

func DefaultPriority(k Kind) Priority {
	if p, ok := defaultPriorities[k]; ok {
		return p
	}
	return PriorityMedium
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
	StatusIgnored  Status = "IGNORED"
)

// ValidTransition reports whether a divergence may move from one status
// to another. Forward-only, except reopening a resolved divergence,
// which only an operator does. Any status may be ignored.
func ValidTransition(from, to Status) bool {
	if to == StatusIgnored {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusInReview
	case StatusInReview:
		return to == StatusResolved
	case StatusResolved:
		return to == StatusPending
	case StatusIgnored:
		return false
	}
	return false
}

// Divergence is one detected inconsistency. Rows are created fresh on
// every run and wiped at the start of the next; status edits come from
// operators, never from the engine.
type Divergence struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	GuideNumber    string                 `db:"guide_number" json:"guide_number"`
	Kind           Kind                   `db:"kind" json:"kind"`
	Description    string                 `db:"description" json:"description"`
	PatientName    string                 `db:"patient_name" json:"patient_name"`
	FichaCode      *string                `db:"ficha_code" json:"ficha_code,omitempty"`
	ExecutionDate  *time.Time             `db:"execution_date" json:"execution_date,omitempty"`
	AttendanceDate *time.Time             `db:"attendance_date" json:"attendance_date,omitempty"`
	Priority       Priority               `db:"priority" json:"priority"`
	Status         Status                 `db:"status" json:"status"`
	Details        map[string]interface{} `db:"details" json:"details,omitempty"`
	SessionID      *uuid.UUID             `db:"session_id" json:"session_id,omitempty"`
	ExecutionID    *uuid.UUID             `db:"execution_id" json:"execution_id,omitempty"`
	IdentifiedAt   time.Time              `db:"identified_at" json:"identified_at"`
	ResolvedAt     *time.Time             `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy     *string                `db:"resolved_by" json:"resolved_by,omitempty"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// AuditRun is the persisted summary of one full reconciliation pass.
type AuditRun struct {
	ID                uuid.UUID    `db:"id" json:"id"`
	PeriodStart       *time.Time   `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd         *time.Time   `db:"period_end" json:"period_end,omitempty"`
	StartedAt         time.Time    `db:"started_at" json:"started_at"`
	FinishedAt        *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	TotalProtocols    int          `db:"total_protocols" json:"total_protocols"`
	TotalSessions     int          `db:"total_sessions" json:"total_sessions"`
	TotalExecutions   int          `db:"total_executions" json:"total_executions"`
	TotalDivergences  int          `db:"total_divergences" json:"total_divergences"`
	TotalResolved     int          `db:"total_resolved" json:"total_resolved"`
	DivergencesByKind map[Kind]int `db:"divergences_by_kind" json:"divergences_by_kind"`
	Status            RunStatus    `db:"status" json:"status"`
	ErrorMessage      *string      `db:"error_message" json:"error_message,omitempty"`
}

// NormalizeKindCounts returns counts with every canonical kind present,
// zero-filled where absent. Downstream consumers index blindly by kind.
func NormalizeKindCounts(counts map[Kind]int) map[Kind]int {
	out := make(map[Kind]int, len(AllKinds))
	for _, k := range AllKinds {
		out[k] = counts[k]
	}
	return out
}
