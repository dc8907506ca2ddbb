package status

import (
	"time"

	"opscal/internal/model"
)

// Derive computes the status of occ at now. A persisted completed flag on a
// one-off template wins outright; otherwise a matching completion means
// completed, a due date before now means overdue, and anything else is
// pending.
func Derive(occ model.Occurrence, m MatchResult, now time.Time) model.Status {
	if !occ.Recurring && occ.PersistedCompleted {
		return model.StatusCompleted
	}
	if m.Found {
		return model.StatusCompleted
	}
	if occ.Due.Before(now) {
		return model.StatusOverdue
	}
	return model.StatusPending
}

// Apply matches and derives in one step, returning a copy of occ with
// Status and Match filled in.
func Apply(occ model.Occurrence, completions []model.Completion, now time.Time, loc *time.Location) model.Occurrence {
	var m MatchResult
	if occ.Recurring || !occ.PersistedCompleted {
		m = Match(occ, completions, loc)
	}
	occ.Status = Derive(occ, m, now)
	occ.Match = nil
	if m.Found {
		rec := m.Record
		occ.Match = &rec
	}
	return occ
}
