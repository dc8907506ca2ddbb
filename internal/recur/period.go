package recur

import (
	"time"

	"opscal/internal/model"
)

// ResolvePeriod returns the accounting window of the occurrence due at due.
// Windows always span whole days (00:00:00 to 23:59:59) in loc:
//
//   - daily, as_needed, custom and unknown: the due day
//   - weekly: Monday through Sunday of the ISO week
//   - monthly: the calendar month
//   - quarterly: the calendar quarter
//   - biannually: January-June or July-December
//   - annually: the calendar year
func ResolvePeriod(due time.Time, freq model.Frequency, loc *time.Location) model.Period {
	if loc == nil {
		loc = time.UTC
	}
	day := StartOfDay(due, loc)
	y, m, _ := day.Date()

	var start, last time.Time
	switch freq {
	case model.FrequencyWeekly:
		// time.Weekday has Sunday = 0; shift so Monday = 0.
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		last = start.AddDate(0, 0, 6)
	case model.FrequencyMonthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		last = start.AddDate(0, 1, -1)
	case model.FrequencyQuarterly:
		first := time.Month((int(m)-1)/3*3 + 1)
		start = time.Date(y, first, 1, 0, 0, 0, 0, loc)
		last = start.AddDate(0, 3, -1)
	case model.FrequencyBiannually:
		first := time.January
		if m > time.June {
			first = time.July
		}
		start = time.Date(y, first, 1, 0, 0, 0, 0, loc)
		last = start.AddDate(0, 6, -1)
	case model.FrequencyAnnually:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		last = time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
	default:
		start = day
		last = day
	}

	return model.Period{Start: start, End: EndOfDay(last, loc)}
}
