// Package status decides whether an occurrence was honored and derives its
// pending/completed/overdue status.
package status

import (
	"time"

	"opscal/internal/model"
)

// MatchResult is the outcome of matching one occurrence.
type MatchResult struct {
	Found  bool
	Record model.Completion
	// SameDay is true when the record matched only through the completed_at
	// same-day fallback, not through its stored period.
	SameDay bool
}

// Match returns the first completion for occ.TemplateID that satisfies
// either rule:
//
//	(a) occ.Due lies within the completion's stored [period_start, period_end]
//	(b) completed_at falls on the same calendar day (in loc) as occ.Due
//
// Records are tested in slice order and the first hit wins, whichever rule
// it satisfied. Records with a missing period bound are skipped entirely.
func Match(occ model.Occurrence, completions []model.Completion, loc *time.Location) MatchResult {
	if loc == nil {
		loc = time.UTC
	}
	for _, c := range completions {
		if c.TemplateID != occ.TemplateID {
			continue
		}
		if c.Period().IsZero() {
			continue
		}
		if c.Period().Contains(occ.Due) {
			return MatchResult{Found: true, Record: c}
		}
		if sameDay(c.CompletedAt, occ.Due, loc) {
			return MatchResult{Found: true, Record: c, SameDay: true}
		}
	}
	return MatchResult{}
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Index groups completions by template id, preserving input order within
// each template so first-match semantics are unchanged.
func Index(completions []model.Completion) map[string][]model.Completion {
	out := make(map[string][]model.Completion)
	for _, c := range completions {
		out[c.TemplateID] = append(out[c.TemplateID], c)
	}
	return out
}

// NewCompletion builds the record a "mark done" action persists for occ:
// its period is the occurrence's resolved period. The caller assigns ID.
func NewCompletion(occ model.Occurrence, actor string, at time.Time, notes string) model.Completion {
	return model.Completion{
		TemplateID:  occ.TemplateID,
		CompletedBy: actor,
		CompletedAt: at,
		PeriodStart: occ.Period.Start,
		PeriodEnd:   occ.Period.End,
		Notes:       notes,
	}
}
