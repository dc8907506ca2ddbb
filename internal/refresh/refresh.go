// Package refresh re-evaluates alerts on a cron schedule.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"opscal/internal/alert"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/pipeline"
)

// SnapshotSource reads the current templates and completions.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// Report summarizes one evaluation.
type Report struct {
	At          time.Time
	Occurrences int
	Excluded    int
	BySeverity  map[model.Severity]int
	Dismissed   int
}

// Runner evaluates the full (elevated) view periodically and reports it.
type Runner struct {
	cron       *cron.Cron
	engine     *pipeline.Engine
	src        SnapshotSource
	dismissals alert.Store
	viewer     model.Viewer

	// OnReport, if set, receives every report (e.g. to invalidate caches).
	OnReport func(Report)

	now func() time.Time

	mu      sync.Mutex
	running bool
	last    *Report
}

// New creates a Runner. viewer should hold an elevated role so that every
// occurrence is considered.
func New(engine *pipeline.Engine, src SnapshotSource, dismissals alert.Store, viewer model.Viewer) *Runner {
	return &Runner{
		cron:       cron.New(),
		engine:     engine,
		src:        src,
		dismissals: dismissals,
		viewer:     viewer,
		now:        time.Now,
	}
}

// Start schedules RunOnce on schedule (standard 5-field cron) and starts the
// cron loop.
func (r *Runner) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			appLog.Error("refresh: evaluation failed", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", schedule, err)
	}

	r.cron.Start()
	r.running = true
	appLog.Info("refresh scheduler started", "schedule", schedule)
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
}

// NextRun returns the next scheduled evaluation time, if any.
func (r *Runner) NextRun() (time.Time, bool) {
	entries := r.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return time.Time{}, false
	}
	return entries[0].Next, true
}

// Last returns the most recent report.
func (r *Runner) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// RunOnce reads a snapshot, evaluates it and logs the alert counts.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	snap, err := r.src.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}

	now := r.now()
	view := r.engine.Evaluate(snap, r.viewer, now, r.dismissals)

	rep := Report{
		At:          now,
		Occurrences: len(view.Occurrences),
		Excluded:    len(view.Excluded),
		BySeverity:  make(map[model.Severity]int),
	}
	for _, a := range view.Alerts {
		if a.Dismissed {
			rep.Dismissed++
			continue
		}
		rep.BySeverity[a.Severity]++
	}

	appLog.Info("refresh: evaluated",
		"occurrences", rep.Occurrences,
		"excluded", rep.Excluded,
		"critical", rep.BySeverity[model.SeverityCritical],
		"high", rep.BySeverity[model.SeverityHigh],
		"medium", rep.BySeverity[model.SeverityMedium],
		"dismissed", rep.Dismissed,
	)

	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()

	if r.OnReport != nil {
		r.OnReport(rep)
	}
	return rep, nil
}
