package records

import (
	"time"

	"github.com/google/uuid"
)

// Session maps to the sessions table. A session is one execution slot of a
// documented clinical visit form ("ficha"); sessions sharing a ficha_code
// belong to the same physical form.
type Session struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	FichaCode      string     `db:"ficha_code" json:"ficha_code"`
	GuideNumber    string     `db:"guide_number" json:"guide_number"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	ScheduledDate  *time.Time `db:"scheduled_date" json:"scheduled_date,omitempty"`
	ExecutionOrder int        `db:"execution_order" json:"execution_order"`
	Executed       bool       `db:"executed" json:"executed"`
	Signed         bool       `db:"signed" json:"signed"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Execution maps to the executions table. An execution is an
// insurer-reported billing event imported by the payer-portal scraper.
// FichaCode may hold a temporary placeholder until matched to a form.
type Execution struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	FichaCode            *string    `db:"ficha_code" json:"ficha_code,omitempty"`
	FichaCodeIsTemporary bool       `db:"ficha_code_is_temporary" json:"ficha_code_is_temporary"`
	GuideNumber          string     `db:"guide_number" json:"guide_number"`
	SessionID            *uuid.UUID `db:"session_id" json:"session_id,omitempty"`
	PatientName          string     `db:"patient_name" json:"patient_name"`
	ExecutionDate        *time.Time `db:"execution_date" json:"execution_date,omitempty"`
	AttendanceDate       *time.Time `db:"attendance_date" json:"attendance_date,omitempty"`
	ExecutionOrder       int        `db:"execution_order" json:"execution_order"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// Guide maps to the guides table. A guide is a payer authorization
// permitting a quantity of procedures within a validity window.
type Guide struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	GuideNumber        string     `db:"guide_number" json:"guide_number"`
	AuthorizedQuantity int        `db:"authorized_quantity" json:"authorized_quantity"`
	ExpirationDate     *time.Time `db:"expiration_date" json:"expiration_date,omitempty"`
	PatientID          uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName        string     `db:"patient_name" json:"patient_name"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Period is an optional date range pre-filter for snapshot fetches.
// Either bound may be nil.
type Period struct {
	Start *time.Time
	End   *time.Time
}

// IsZero reports whether no bound is set.
func (p Period) IsZero() bool {
	return p.Start == nil && p.End == nil
}
