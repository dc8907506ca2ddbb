// Package pipeline wires recurrence expansion, completion matching, status
// derivation, authorization, aggregation and alerting into one evaluation.
// Every stage is a pure function of its inputs; "now" is always passed in.
package pipeline

import (
	"errors"
	"time"

	"opscal/internal/access"
	"opscal/internal/aggregate"
	"opscal/internal/alert"
	"opscal/internal/config"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/recur"
	"opscal/internal/status"
)

// Exclusion names a template that produced no occurrences and why.
type Exclusion struct {
	TemplateID string `json:"templateId"`
	Reason     string `json:"reason"`
}

// Result is the flat, status-derived occurrence stream of a snapshot.
type Result struct {
	Occurrences []model.Occurrence `json:"occurrences"`
	Excluded    []Exclusion        `json:"excluded,omitempty"`
	// Truncated lists templates that hit the per-template occurrence cap.
	Truncated []string `json:"truncated,omitempty"`
}

// View is everything a dashboard needs for one viewer.
type View struct {
	Occurrences []model.Occurrence  `json:"occurrences"`
	Buckets     []model.Bucket      `json:"buckets"`
	Summaries   []aggregate.Summary `json:"summaries"`
	Alerts      []model.Alert       `json:"alerts"`
	Excluded    []Exclusion         `json:"excluded,omitempty"`
	Truncated   []string            `json:"truncated,omitempty"`
}

// Engine evaluates snapshots under one configuration.
type Engine struct {
	cfg    *config.Config
	loc    *time.Location
	filter *access.Filter
}

// New builds an Engine. A nil cfg means config.DefaultConfig().
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()
	return &Engine{
		cfg:    cfg,
		loc:    cfg.Location(),
		filter: access.NewFilter(cfg.ElevatedRoles),
	}
}

// Location is the timezone calendar days are evaluated in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Filter is the authorization filter built from the elevated roles.
func (e *Engine) Filter() *access.Filter {
	return e.filter
}

// Horizon is the last day occurrences of tpl may fall on: the earlier of the
// tenant's fiscal boundary and the template's explicit end, or now plus the
// default window when neither is set.
func (e *Engine) Horizon(tpl model.Template, now time.Time) time.Time {
	var (
		end   time.Time
		found bool
	)
	if b, ok := e.cfg.FiscalBoundary(tpl.TenantID, e.loc); ok {
		end, found = b, true
	}
	if tpl.End != nil && !tpl.End.IsZero() {
		te := recur.StartOfDay(*tpl.End, e.loc)
		if !found || te.Before(end) {
			end, found = te, true
		}
	}
	if !found {
		end = recur.StartOfDay(now, e.loc).AddDate(0, 0, e.cfg.DefaultHorizonDays)
	}
	return end
}

// Expand derives the occurrences of every template in snap with status
// evaluated at now. Malformed templates are reported in Excluded; they
// never abort the batch.
func (e *Engine) Expand(snap model.Snapshot, now time.Time) Result {
	res := Result{Occurrences: make([]model.Occurrence, 0)}
	byTemplate := status.Index(snap.Completions)

	for _, tpl := range snap.Templates {
		if tpl.ID == "" {
			res.Excluded = append(res.Excluded, Exclusion{TemplateID: tpl.Name, Reason: "missing id"})
			appLog.Warn("pipeline: template excluded", "name", tpl.Name, "reason", "missing id")
			continue
		}

		exp, err := recur.Expand(tpl, recur.ExpandConfig{
			Location:       e.loc,
			HorizonEnd:     e.Horizon(tpl, now),
			MaxOccurrences: e.cfg.MaxOccurrencesPerTemplate,
		})
		if err != nil {
			reason := err.Error()
			if errors.Is(err, recur.ErrMalformed) {
				reason = "missing start, due date and creation time"
			}
			res.Excluded = append(res.Excluded, Exclusion{TemplateID: tpl.ID, Reason: reason})
			appLog.Warn("pipeline: template excluded", "template", tpl.ID, "reason", reason)
			continue
		}
		if exp.Truncated {
			res.Truncated = append(res.Truncated, tpl.ID)
			appLog.Warn("pipeline: occurrences truncated", "template", tpl.ID, "cap", e.cfg.MaxOccurrencesPerTemplate)
		}

		completions := byTemplate[tpl.ID]
		for _, due := range exp.Dues {
			occ := e.occurrence(tpl, due)
			res.Occurrences = append(res.Occurrences, status.Apply(occ, completions, now, e.loc))
		}
	}

	appLog.Debug("pipeline: expanded",
		"templates", len(snap.Templates),
		"occurrences", len(res.Occurrences),
		"excluded", len(res.Excluded),
	)
	return res
}

func (e *Engine) occurrence(tpl model.Template, due time.Time) model.Occurrence {
	recurring := tpl.Frequency.Recurring()
	return model.Occurrence{
		TemplateID:         tpl.ID,
		Name:               tpl.Name,
		Kind:               tpl.Kind,
		Category:           tpl.Kind.Category(),
		Assignment:         tpl.Assignment,
		Priority:           tpl.Priority,
		Recurring:          recurring,
		Cancelled:          !recurring && tpl.Status == model.TemplateStatusCancelled,
		PersistedCompleted: !recurring && tpl.Status == model.TemplateStatusCompleted,
		TenantID:           tpl.TenantID,
		EstimatedDuration:  tpl.EstimatedDuration,
		Due:                due,
		Period:             recur.ResolvePeriod(due, tpl.Frequency, e.loc),
	}
}

// Evaluate runs the whole pipeline for one viewer: expand, filter by
// visibility, then aggregate and alert over the visible set. dismissals may
// be nil.
func (e *Engine) Evaluate(snap model.Snapshot, viewer model.Viewer, now time.Time, dismissals alert.Store) View {
	res := e.Expand(snap, now)
	visible := e.filter.Visible(viewer, res.Occurrences)
	buckets := aggregate.Buckets(visible, e.loc)

	return View{
		Occurrences: visible,
		Buckets:     buckets,
		Summaries:   aggregate.Summarize(buckets),
		Alerts: alert.Generate(visible, now, alert.Options{
			Lookahead:  e.cfg.AlertLookahead(),
			Dismissals: dismissals,
		}),
		Excluded:  res.Excluded,
		Truncated: res.Truncated,
	}
}

// Find returns the occurrence of templateID due on the given ISO date.
func (r Result) Find(templateID, date string) (model.Occurrence, bool) {
	for _, o := range r.Occurrences {
		if o.TemplateID == templateID && o.Due.Format(model.DateLayout) == date {
			return o, true
		}
	}
	return model.Occurrence{}, false
}

// VisibleOccurrence resolves the occurrence of templateID due on date as
// seen by viewer. ok is false when it does not exist or viewer may not see it.
func (e *Engine) VisibleOccurrence(snap model.Snapshot, viewer model.Viewer, now time.Time, templateID, date string) (model.Occurrence, bool) {
	occ, ok := e.Expand(snap, now).Find(templateID, date)
	if !ok || !e.filter.CanView(viewer, occ.Assignment) {
		return model.Occurrence{}, false
	}
	return occ, true
}

// VisibleCompletion returns the completion record id if viewer may see the
// template it belongs to.
func (e *Engine) VisibleCompletion(snap model.Snapshot, viewer model.Viewer, id string) (model.Completion, bool) {
	for _, c := range snap.Completions {
		if c.ID != id {
			continue
		}
		for _, tpl := range snap.Templates {
			if tpl.ID == c.TemplateID {
				return c, e.filter.CanView(viewer, tpl.Assignment)
			}
		}
		return model.Completion{}, false
	}
	return model.Completion{}, false
}
