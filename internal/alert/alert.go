// Package alert raises severity-ranked reminders and overdue notices.
package alert

import (
	"fmt"
	"math"
	"sort"
	"time"

	appLog "opscal/internal/log"
	"opscal/internal/model"
)

// DefaultLookahead is how far ahead of a due date reminders start.
const DefaultLookahead = 72 * time.Hour

const (
	criticalWindow = 24 * time.Hour
	highWindow     = 48 * time.Hour
)

// Options configures Generate.
type Options struct {
	// Lookahead defaults to DefaultLookahead.
	Lookahead time.Duration
	// Dismissals may be nil, in which case nothing is dismissed.
	Dismissals Store
}

// Generate scans occs (already authorization-filtered) and returns alerts
// ordered by severity, then ascending due date. Completed and cancelled
// occurrences never alert; nor do occurrences further than the lookahead
// that are not overdue, nor recurring medium/low occurrences that are not
// yet due.
func Generate(occs []model.Occurrence, now time.Time, opts Options) []model.Alert {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	dismissed := loadDismissed(opts.Dismissals)

	alerts := make([]model.Alert, 0)
	for _, occ := range occs {
		if !eligible(occ, now, opts.Lookahead) {
			continue
		}
		key := occ.Key()
		_, isDismissed := dismissed[key]
		alerts = append(alerts, model.Alert{
			Severity:      severity(occ, now),
			Message:       message(occ, now),
			OccurrenceRef: key,
			Occurrence:    occ,
			Dismissed:     isDismissed,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return alerts[i].Occurrence.Due.Before(alerts[j].Occurrence.Due)
	})
	return alerts
}

// Active drops dismissed alerts.
func Active(alerts []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Dismissed {
			out = append(out, a)
		}
	}
	return out
}

func loadDismissed(s Store) map[string]string {
	if s == nil {
		return nil
	}
	m, err := s.List()
	if err != nil {
		appLog.Error("alert: dismissal store unavailable; treating nothing as dismissed", err)
		return nil
	}
	return m
}

func eligible(occ model.Occurrence, now time.Time, lookahead time.Duration) bool {
	if occ.Status == model.StatusCompleted || occ.Cancelled {
		return false
	}
	overdue := isOverdue(occ, now)
	if !overdue && occ.Due.Sub(now) > lookahead {
		return false
	}
	if occ.Recurring && !overdue && occ.Due.After(now) {
		switch occ.Priority {
		case model.PriorityMedium, model.PriorityLow:
			return false
		}
	}
	return true
}

func isOverdue(occ model.Occurrence, now time.Time) bool {
	return occ.Status == model.StatusOverdue || occ.Due.Before(now)
}

func severity(occ model.Occurrence, now time.Time) model.Severity {
	if isOverdue(occ, now) {
		return model.SeverityCritical
	}
	left := occ.Due.Sub(now)
	switch {
	case left <= criticalWindow || occ.Priority == model.PriorityCritical:
		return model.SeverityCritical
	case left <= highWindow || occ.Priority == model.PriorityHigh:
		return model.SeverityHigh
	default:
		return model.SeverityMedium
	}
}

func message(occ model.Occurrence, now time.Time) string {
	name := occ.Name
	if name == "" {
		name = occ.TemplateID
	}

	if isOverdue(occ, now) {
		days := int(now.Sub(occ.Due) / (24 * time.Hour))
		if days < 1 {
			return fmt.Sprintf("%s is overdue (due today)", name)
		}
		return fmt.Sprintf("%s is overdue by %s", name, plural(days, "day"))
	}

	left := occ.Due.Sub(now)
	if left < 24*time.Hour {
		hours := int(math.Ceil(left.Hours()))
		if hours < 1 {
			return fmt.Sprintf("%s is due now", name)
		}
		return fmt.Sprintf("%s is due in %s", name, plural(hours, "hour"))
	}
	return fmt.Sprintf("%s is due in %s", name, plural(int(left/(24*time.Hour)), "day"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
