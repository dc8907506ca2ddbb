// Package feed renders occurrences as an iCalendar feed so external
// calendar clients can subscribe to a viewer's obligations.
package feed

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"opscal/internal/model"
)

const productID = "-//opscal//compliance calendar//EN"

// Render returns an iCalendar document with one all-day VEVENT per
// occurrence. The UID is the occurrence identity, so re-rendering the same
// occurrences yields the same events.
func Render(occs []model.Occurrence, stamp time.Time, name string) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
	}

	for _, occ := range occs {
		ev := cal.AddEvent(occ.Key())
		ev.SetDtStampTime(stamp)
		ev.SetSummary(summary(occ))
		ev.SetAllDayStartAt(occ.Due)
		ev.SetAllDayEndAt(occ.Due.AddDate(0, 0, 1))
		ev.SetProperty(ical.ComponentPropertyCategories, string(occ.Category))
		ev.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(icalPriority(occ.Priority)))
		ev.SetProperty(ical.ComponentPropertyStatus, icalStatus(occ))
		if d := description(occ); d != "" {
			ev.SetDescription(d)
		}
	}

	return cal.Serialize()
}

func summary(occ model.Occurrence) string {
	name := occ.Name
	if name == "" {
		name = occ.TemplateID
	}
	if occ.Status == model.StatusOverdue {
		return "[overdue] " + name
	}
	return name
}

func description(occ model.Occurrence) string {
	if occ.Match == nil {
		return ""
	}
	d := "Completed by " + occ.Match.CompletedBy + " at " + occ.Match.CompletedAt.Format(time.RFC3339)
	if occ.Match.Notes != "" {
		d += "\n" + occ.Match.Notes
	}
	return d
}

// icalPriority maps to RFC 5545 PRIORITY (1 highest, 9 lowest).
func icalPriority(p model.Priority) int {
	switch p {
	case model.PriorityCritical:
		return 1
	case model.PriorityHigh:
		return 3
	case model.PriorityMedium:
		return 5
	case model.PriorityLow:
		return 7
	default:
		return 0
	}
}

func icalStatus(occ model.Occurrence) string {
	switch {
	case occ.Cancelled:
		return "CANCELLED"
	case occ.Status == model.StatusCompleted:
		return "CONFIRMED"
	default:
		return "TENTATIVE"
	}
}
