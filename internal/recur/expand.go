package recur

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "opscal/internal/log"
	"opscal/internal/model"
)

const (
	defaultMaxOccurrences = 5000
)

// ErrMalformed marks a template that carries no usable due-date fields.
var ErrMalformed = errors.New("recur: template has no start, due date or creation time")

// ExpandConfig controls how a template is expanded.
type ExpandConfig struct {
	// Location is the timezone in which days are normalized. If nil, time.UTC.
	Location *time.Location

	// HorizonEnd is the last day (inclusive) on which occurrences may fall.
	HorizonEnd time.Time

	// MaxOccurrences is a safety cap for a single template. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// ExpandResult holds the due dates of one template in ascending order.
type ExpandResult struct {
	Dues []time.Time
	// Truncated is set when MaxOccurrences was hit before the horizon.
	Truncated bool
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59 of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
}

// EffectiveStart is the explicit start if set, else the creation time,
// normalized to start of day.
func EffectiveStart(tpl model.Template, loc *time.Location) (time.Time, error) {
	switch {
	case tpl.Start != nil && !tpl.Start.IsZero():
		return StartOfDay(*tpl.Start, loc), nil
	case !tpl.CreatedAt.IsZero():
		return StartOfDay(tpl.CreatedAt, loc), nil
	default:
		return time.Time{}, ErrMalformed
	}
}

// Expand turns one template into its due dates within
// [effective start, cfg.HorizonEnd]. Non-recurring frequencies (including
// unrecognized values) produce exactly one date: the stored due date if
// present, else the effective start. A one-off date past a non-zero horizon
// is dropped.
func Expand(tpl model.Template, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	if !tpl.Frequency.Recurring() {
		due, err := singleDue(tpl, cfg.Location)
		if err != nil {
			return result, err
		}
		if !cfg.HorizonEnd.IsZero() && due.After(EndOfDay(cfg.HorizonEnd, cfg.Location)) {
			return result, nil
		}
		result.Dues = []time.Time{due}
		return result, nil
	}

	start, err := EffectiveStart(tpl, cfg.Location)
	if err != nil {
		return result, err
	}
	until := EndOfDay(cfg.HorizonEnd, cfg.Location)
	if cfg.HorizonEnd.IsZero() || until.Before(start) {
		return result, nil
	}

	opt, err := ruleFor(tpl.Frequency, start)
	if err != nil {
		return result, err
	}
	opt.Until = until

	r, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("expand: failed to build rule", err, "template", tpl.ID, "frequency", tpl.Frequency)
		return result, err
	}

	next := r.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		if len(result.Dues) == cfg.MaxOccurrences {
			result.Truncated = true
			break
		}
		result.Dues = append(result.Dues, t)
	}

	return result, nil
}

func singleDue(tpl model.Template, loc *time.Location) (time.Time, error) {
	if tpl.DueDate != nil && !tpl.DueDate.IsZero() {
		return StartOfDay(*tpl.DueDate, loc), nil
	}
	return EffectiveStart(tpl, loc)
}

// ruleFor builds the recurrence rule anchored at start. Month-based
// cadences are expressed as MONTHLY with an interval so that a start on
// day 29-31 clamps to the last valid day of shorter months instead of
// skipping them: BYMONTHDAY=28..d with BYSETPOS=-1 picks the latest of those
// days that exists in each month.
func ruleFor(freq model.Frequency, start time.Time) (rrule.ROption, error) {
	opt := rrule.ROption{
		Dtstart:  start,
		Interval: 1,
	}

	switch freq {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
		return opt, nil
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		return opt, nil
	case model.FrequencyMonthly:
		opt.Interval = 1
	case model.FrequencyQuarterly:
		opt.Interval = 3
	case model.FrequencyBiannually:
		opt.Interval = 6
	case model.FrequencyAnnually:
		opt.Interval = 12
	default:
		return opt, errors.New("recur: frequency is not recurring: " + string(freq))
	}

	opt.Freq = rrule.MONTHLY
	if day := start.Day(); day > 28 {
		for d := 28; d <= day; d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
	}
	return opt, nil
}
