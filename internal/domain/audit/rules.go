package audit

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinaudit/clinaudit/internal/domain/records"
)

// Engine applies the detection rules over an immutable Index. Rules are
// independent; one record can trigger several kinds. Their order is
// fixed only to keep output deterministic.
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger, now: time.Now}
}

// emitFunc receives each divergence draft as a rule produces it.
type emitFunc func(*Divergence) error

// Run evaluates every rule against the index. A malformed record is
// logged and skipped; only emit failures abort the pass.
func (e *Engine) Run(idx *Index, emit emitFunc) error {
	rules := []func(*Index, emitFunc) error{
		e.dateMismatch,
		e.sessionWithoutSignature,
		e.fichaSymmetricDifference,
		e.quotaExceeded,
		e.guideExpired,
		e.missingExecutionDate,
		e.duplicateExecution,
	}
	for _, rule := range rules {
		if err := rule(idx, emit); err != nil {
			return err
		}
	}
	return nil
}

// sameDay compares two dates at day granularity.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}

// dateMismatch flags ficha codes present on both sides whose scheduled
// and executed dates are both set but differ. A nil date on either side
// never produces a mismatch.
func (e *Engine) dateMismatch(idx *Index, emit emitFunc) error {
	for _, code := range idx.AllFichaCodes {
		s, inSessions := idx.SessionsByFicha[code]
		x, inExecutions := idx.ExecutionsByFicha[code]
		if !inSessions || !inExecutions {
			continue
		}
		if s.ScheduledDate == nil || x.ExecutionDate == nil {
			continue
		}
		if sameDay(*s.ScheduledDate, *x.ExecutionDate) {
			continue
		}
		if s.PatientName == "" {
			e.logger.Warn().Str("ficha_code", code).Msg("session missing patient name, skipping")
			continue
		}
		code := code
		d := &Divergence{
			GuideNumber: s.GuideNumber,
			Kind:        KindDateMismatch,
			Description: fmt.Sprintf("scheduled date %s differs from executed date %s for ficha %s",
				dayString(*s.ScheduledDate), dayString(*x.ExecutionDate), code),
			PatientName:   s.PatientName,
			FichaCode:     &code,
			ExecutionDate: x.ExecutionDate,
			SessionID:     &s.ID,
			ExecutionID:   &x.ID,
			Details: map[string]interface{}{
				"scheduled": dayString(*s.ScheduledDate),
				"executed":  dayString(*x.ExecutionDate),
			},
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// sessionWithoutSignature flags executed sessions the professional
// never signed, whether or not a matching execution exists.
func (e *Engine) sessionWithoutSignature(idx *Index, emit emitFunc) error {
	for _, s := range idx.Sessions {
		if !s.Executed || s.Signed {
			continue
		}
		if s.PatientName == "" {
			e.logger.Warn().Str("ficha_code", s.FichaCode).Msg("session missing patient name, skipping")
			continue
		}
		code := s.FichaCode
		d := &Divergence{
			GuideNumber: s.GuideNumber,
			Kind:        KindSessionWithoutSignature,
			Description: fmt.Sprintf("executed session %d of ficha %s has no signature", s.ExecutionOrder, code),
			PatientName: s.PatientName,
			FichaCode:   &code,
			SessionID:   &s.ID,
			Details: map[string]interface{}{
				"execution_order": s.ExecutionOrder,
			},
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// fichaSymmetricDifference flags ficha codes present on exactly one
// side: only in executions -> execution_without_session, only in
// sessions -> session_without_execution.
func (e *Engine) fichaSymmetricDifference(idx *Index, emit emitFunc) error {
	for _, code := range idx.AllFichaCodes {
		s, inSessions := idx.SessionsByFicha[code]
		x, inExecutions := idx.ExecutionsByFicha[code]
		if inSessions == inExecutions {
			continue
		}
		code := code
		var d *Divergence
		if inExecutions {
			if x.PatientName == "" {
				e.logger.Warn().Str("ficha_code", code).Msg("execution missing patient name, skipping")
				continue
			}
			d = &Divergence{
				GuideNumber:    x.GuideNumber,
				Kind:           KindExecutionWithoutSession,
				Description:    fmt.Sprintf("execution reported for ficha %s but no session is documented", code),
				PatientName:    x.PatientName,
				FichaCode:      &code,
				ExecutionDate:  x.ExecutionDate,
				AttendanceDate: x.AttendanceDate,
				ExecutionID:    &x.ID,
				Details: map[string]interface{}{
					"ficha_code_is_temporary": x.FichaCodeIsTemporary,
				},
			}
		} else {
			if s.PatientName == "" {
				e.logger.Warn().Str("ficha_code", code).Msg("session missing patient name, skipping")
				continue
			}
			d = &Divergence{
				GuideNumber: s.GuideNumber,
				Kind:        KindSessionWithoutExecution,
				Description: fmt.Sprintf("session documented for ficha %s but the payer reports no execution", code),
				PatientName: s.PatientName,
				FichaCode:   &code,
				SessionID:   &s.ID,
			}
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// quotaExceeded flags guides with more linked executions than the payer
// authorized. One divergence per guide, not one per excess execution.
func (e *Engine) quotaExceeded(idx *Index, emit emitFunc) error {
	for _, number := range sortedGuideNumbers(idx) {
		g := idx.GuidesByNumber[number]
		n := len(idx.ExecutionsByGuide[number])
		if n <= g.AuthorizedQuantity {
			continue
		}
		d := &Divergence{
			GuideNumber: number,
			Kind:        KindQuotaExceeded,
			Description: fmt.Sprintf("guide %s has %d executions against %d authorized", number, n, g.AuthorizedQuantity),
			PatientName: g.PatientName,
			Details: map[string]interface{}{
				"authorized": g.AuthorizedQuantity,
				"executed":   n,
			},
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// guideExpired flags guides whose validity window has closed.
func (e *Engine) guideExpired(idx *Index, emit emitFunc) error {
	today := e.now()
	for _, number := range sortedGuideNumbers(idx) {
		g := idx.GuidesByNumber[number]
		if g.ExpirationDate == nil {
			continue
		}
		if !g.ExpirationDate.Before(today) || sameDay(*g.ExpirationDate, today) {
			continue
		}
		d := &Divergence{
			GuideNumber: number,
			Kind:        KindGuideExpired,
			Description: fmt.Sprintf("guide %s expired on %s", number, dayString(*g.ExpirationDate)),
			PatientName: g.PatientName,
			Details: map[string]interface{}{
				"expiration_date": dayString(*g.ExpirationDate),
			},
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// missingExecutionDate flags executions the payer reported without a
// date.
func (e *Engine) missingExecutionDate(idx *Index, emit emitFunc) error {
	for _, x := range idx.Executions {
		if x.ExecutionDate != nil {
			continue
		}
		if x.PatientName == "" {
			e.logger.Warn().Str("guide_number", x.GuideNumber).Msg("execution missing patient name, skipping")
			continue
		}
		d := &Divergence{
			GuideNumber:    x.GuideNumber,
			Kind:           KindMissingExecutionDate,
			Description:    fmt.Sprintf("execution on guide %s has no execution date", x.GuideNumber),
			PatientName:    x.PatientName,
			FichaCode:      x.FichaCode,
			AttendanceDate: x.AttendanceDate,
			ExecutionID:    &x.ID,
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

// duplicateExecution clusters executions by (ficha_code, session_id,
// guide_number, execution_date) and flags each cluster larger than one.
// One divergence per cluster, carrying every member.
func (e *Engine) duplicateExecution(idx *Index, emit emitFunc) error {
	clusters := make(map[string][]*records.Execution)
	var order []string
	for _, x := range idx.Executions {
		key := duplicateKey(x)
		if _, seen := clusters[key]; !seen {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], x)
	}

	for _, key := range order {
		group := clusters[key]
		if len(group) < 2 {
			continue
		}
		first := group[0]
		ids := make([]string, len(group))
		dates := make([]string, len(group))
		for i, x := range group {
			ids[i] = x.ID.String()
			if x.ExecutionDate != nil {
				dates[i] = dayString(*x.ExecutionDate)
			}
		}
		details := map[string]interface{}{
			"count":         len(group),
			"execution_ids": ids,
			"dates":         dates,
		}
		if first.SessionID != nil {
			details["session_id"] = first.SessionID.String()
		}
		d := &Divergence{
			GuideNumber:   first.GuideNumber,
			Kind:          KindDuplicateExecution,
			Description:   fmt.Sprintf("%d identical executions reported on guide %s", len(group), first.GuideNumber),
			PatientName:   first.PatientName,
			FichaCode:     first.FichaCode,
			ExecutionDate: first.ExecutionDate,
			SessionID:     first.SessionID,
			ExecutionID:   &first.ID,
			Details:       details,
		}
		if err := emit(d); err != nil {
			return err
		}
	}
	return nil
}

func duplicateKey(x *records.Execution) string {
	ficha := ""
	if x.FichaCode != nil {
		ficha = *x.FichaCode
	}
	session := ""
	if x.SessionID != nil {
		session = x.SessionID.String()
	}
	date := ""
	if x.ExecutionDate != nil {
		date = dayString(*x.ExecutionDate)
	}
	return ficha + "|" + session + "|" + x.GuideNumber + "|" + date
}

func sortedGuideNumbers(idx *Index) []string {
	numbers := make([]string, 0, len(idx.GuidesByNumber))
	for n := range idx.GuidesByNumber {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers
}
