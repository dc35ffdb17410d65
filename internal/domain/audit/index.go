package audit

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/clinaudit/clinaudit/internal/domain/records"
)

// Index holds the lookup structures every rule reads. Built in one
// linear pass and never mutated afterwards, so rules can share it
// without coordination.
type Index struct {
	SessionsByFicha   map[string]*records.Session
	ExecutionsByFicha map[string]*records.Execution
	ExecutionsByGuide map[string][]*records.Execution
	GuidesByNumber    map[string]*records.Guide

	// AllFichaCodes is the sorted union of session and execution ficha
	// codes; it drives the symmetric-difference rule and keeps rule
	// output deterministic.
	AllFichaCodes []string

	Sessions   []*records.Session
	Executions []*records.Execution
	Guides     []*records.Guide
}

// BuildIndex indexes the three snapshots. Missing keys are not errors;
// absence is the signal rules act on. A repeated ficha_code among
// sessions is unexpected and logged, last write wins.
func BuildIndex(sessions []*records.Session, executions []*records.Execution, guides []*records.Guide, logger zerolog.Logger) *Index {
	idx := &Index{
		SessionsByFicha:   make(map[string]*records.Session, len(sessions)),
		ExecutionsByFicha: make(map[string]*records.Execution, len(executions)),
		ExecutionsByGuide: make(map[string][]*records.Execution),
		GuidesByNumber:    make(map[string]*records.Guide, len(guides)),
		Sessions:          sessions,
		Executions:        executions,
		Guides:            guides,
	}

	for _, s := range sessions {
		if _, dup := idx.SessionsByFicha[s.FichaCode]; dup {
			logger.Warn().
				Str("ficha_code", s.FichaCode).
				Msg("duplicate ficha code among sessions, keeping last")
		}
		idx.SessionsByFicha[s.FichaCode] = s
	}

	for _, e := range executions {
		if e.FichaCode != nil && *e.FichaCode != "" {
			idx.ExecutionsByFicha[*e.FichaCode] = e
		}
		if e.GuideNumber != "" {
			idx.ExecutionsByGuide[e.GuideNumber] = append(idx.ExecutionsByGuide[e.GuideNumber], e)
		}
	}

	for _, g := range guides {
		idx.GuidesByNumber[g.GuideNumber] = g
	}

	seen := make(map[string]bool, len(idx.SessionsByFicha)+len(idx.ExecutionsByFicha))
	for code := range idx.SessionsByFicha {
		seen[code] = true
	}
	for code := range idx.ExecutionsByFicha {
		seen[code] = true
	}
	idx.AllFichaCodes = make([]string, 0, len(seen))
	for code := range seen {
		idx.AllFichaCodes = append(idx.AllFichaCodes, code)
	}
	sort.Strings(idx.AllFichaCodes)

	return idx
}
