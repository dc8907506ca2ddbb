package aggregate

import (
	"reflect"
	"testing"
	"time"

	"opscal/internal/model"
)

func occ(id string, kind model.SourceKind, d int, p model.Priority, s model.Status) model.Occurrence {
	return model.Occurrence{
		TemplateID: id,
		Kind:       kind,
		Category:   kind.Category(),
		Priority:   p,
		Status:     s,
		Due:        time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC),
	}
}

func sample() []model.Occurrence {
	return []model.Occurrence{
		occ("oven", model.SourceEquipmentUpkeep, 2, model.PriorityLow, model.StatusPending),
		occ("milk", model.SourceStockExpiry, 2, model.PriorityHigh, model.StatusOverdue),
		occ("hood", model.SourceEquipmentUpkeep, 2, model.PriorityCritical, model.StatusCompleted),
		occ("grill", model.SourceEquipmentUpkeep, 2, model.PriorityLow, model.StatusOverdue),
		occ("shift", model.SourceStaffDuty, 1, model.PriorityMedium, model.StatusPending),
		occ("fryer", model.SourceEquipmentUpkeep, 2, model.PriorityCritical, model.StatusPending),
	}
}

func TestBuckets_GroupingAndOrder(t *testing.T) {
	buckets := Buckets(sample(), time.UTC)

	if len(buckets) != 3 {
		t.Fatalf("got %d buckets, want 3", len(buckets))
	}

	if buckets[0].Date != "2024-01-01" || buckets[0].Category != model.CategoryStaff {
		t.Errorf("bucket 0 = %s/%s", buckets[0].Date, buckets[0].Category)
	}
	if buckets[1].Category != model.CategoryEquipment || buckets[2].Category != model.CategoryStock {
		t.Errorf("category order = %s, %s", buckets[1].Category, buckets[2].Category)
	}

	equip := buckets[1]
	if equip.ActiveCount != 3 {
		t.Errorf("ActiveCount = %d, want 3", equip.ActiveCount)
	}
	var ids []string
	for _, it := range equip.Items {
		ids = append(ids, it.TemplateID)
	}
	want := []string{"hood", "fryer", "oven", "grill"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("item order = %v, want %v", ids, want)
	}
}

func TestBuckets_Idempotent(t *testing.T) {
	in := sample()
	first := Buckets(in, time.UTC)
	second := Buckets(in, time.UTC)
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated aggregation differs")
	}
	if in[0].TemplateID != "oven" || in[2].TemplateID != "hood" {
		t.Error("input slice was reordered")
	}
}

func TestBuckets_UsesLocationForDate(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	o := occ("late", model.SourceStaffDuty, 1, model.PriorityLow, model.StatusPending)
	o.Due = time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

	buckets := Buckets([]model.Occurrence{o}, loc)
	if buckets[0].Date != "2024-01-02" {
		t.Errorf("Date = %s, want 2024-01-02", buckets[0].Date)
	}
}

func TestBuckets_Empty(t *testing.T) {
	if got := Buckets(nil, nil); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if got := Summarize(nil); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestSummarizeAndForDate(t *testing.T) {
	buckets := Buckets(sample(), time.UTC)

	day2 := ForDate(buckets, "2024-01-02")
	if len(day2) != 2 {
		t.Fatalf("ForDate returned %d buckets, want 2", len(day2))
	}

	sums := Summarize(buckets)
	if len(sums) != 3 {
		t.Fatalf("got %d summaries, want 3", len(sums))
	}
	eq := sums[0]
	if eq.Category != model.CategoryEquipment || eq.Total != 4 || eq.Active != 3 || eq.Overdue != 1 || eq.Completed != 1 {
		t.Errorf("equipment summary = %+v", eq)
	}
}
