package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"opscal/internal/alert"
	"opscal/internal/model"
	"opscal/internal/pipeline"
)

type staticSource struct {
	snap model.Snapshot
	err  error
}

func (s staticSource) Snapshot(context.Context) (model.Snapshot, error) {
	return s.snap, s.err
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	due2 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	src := staticSource{snap: model.Snapshot{Templates: []model.Template{
		{ID: "a", Frequency: model.FrequencyCustom, Priority: model.PriorityLow, DueDate: &due, CreatedAt: due},
		{ID: "b", Frequency: model.FrequencyCustom, Priority: model.PriorityLow, DueDate: &due2, CreatedAt: due},
	}}}

	dismissals := alert.NewMemoryStore()
	_ = alert.Dismiss(dismissals, "b@2024-01-11", now)

	r := New(pipeline.New(nil), src, dismissals, model.Viewer{Role: "administrator"})
	r.now = func() time.Time { return now }

	var got Report
	r.OnReport = func(rep Report) { got = rep }

	rep, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if rep.Occurrences != 2 || rep.BySeverity[model.SeverityCritical] != 1 || rep.Dismissed != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if got.Occurrences != 2 {
		t.Error("OnReport not called")
	}
	if last, ok := r.Last(); !ok || !last.At.Equal(now) {
		t.Errorf("Last = %+v %v", last, ok)
	}
}

func TestRunOnce_SourceError(t *testing.T) {
	r := New(pipeline.New(nil), staticSource{err: errors.New("db down")}, nil, model.Viewer{Role: "manager"})
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := r.Last(); ok {
		t.Error("failed run should not record a report")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(pipeline.New(nil), staticSource{}, nil, model.Viewer{Role: "manager"})
	if err := r.Start("every now and then"); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStartStop(t *testing.T) {
	r := New(pipeline.New(nil), staticSource{}, nil, model.Viewer{Role: "manager"})
	if err := r.Start("*/15 * * * *"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if next, ok := r.NextRun(); !ok || next.IsZero() {
		t.Errorf("NextRun = %v %v", next, ok)
	}
	r.Stop()
	r.Stop()
}
