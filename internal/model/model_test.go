package model

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestSourceKind(t *testing.T) {
	tests := []struct {
		in   string
		want SourceKind
		cat  Category
	}{
		{"equipment_upkeep", SourceEquipmentUpkeep, CategoryEquipment},
		{" Staff_Duty ", SourceStaffDuty, CategoryStaff},
		{"stock_expiry", SourceStockExpiry, CategoryStock},
		{"periodic_reading", SourcePeriodicReading, CategoryReadings},
		{"certification", SourceCertification, CategoryCertification},
		{"haccp_audit", SourceOther, CategoryGeneral},
		{"", SourceOther, CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k := ParseSourceKind(tt.in)
			if k != tt.want || k.Category() != tt.cat {
				t.Errorf("ParseSourceKind(%q) = %v/%v, want %v/%v", tt.in, k, k.Category(), tt.want, tt.cat)
			}
		})
	}
}

func TestSourceKindYAML(t *testing.T) {
	var tpl Template
	if err := yaml.Unmarshal([]byte("id: x\nkind: stock_expiry\n"), &tpl); err != nil {
		t.Fatal(err)
	}
	if tpl.Kind != SourceStockExpiry {
		t.Errorf("Kind = %v", tpl.Kind)
	}
	out, err := yaml.Marshal(tpl)
	if err != nil {
		t.Fatal(err)
	}
	var back Template
	if err := yaml.Unmarshal(out, &back); err != nil || back.Kind != SourceStockExpiry {
		t.Errorf("kind did not survive a YAML trip: %s", out)
	}
}

func TestCategoryRank(t *testing.T) {
	if CategoryRank(CategoryEquipment) >= CategoryRank(CategoryStock) {
		t.Error("equipment should sort before stock")
	}
	if CategoryRank("mystery") != len(Categories) {
		t.Error("unknown categories should sort last")
	}
}

func TestAssignmentOpen(t *testing.T) {
	if !(Assignment{}).Open() || !(Assignment{Role: "ALL"}).Open() {
		t.Error("empty and role=all assignments are open")
	}
	if (Assignment{DepartmentID: "bar"}).Open() {
		t.Error("department assignment is not open")
	}
}

func TestPeriod(t *testing.T) {
	p := Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC),
	}
	if !p.Contains(p.Start) || !p.Contains(p.End) {
		t.Error("bounds are inclusive")
	}
	if p.Contains(p.End.Add(time.Second)) {
		t.Error("after End should not be contained")
	}
	if p.IsZero() || !(Period{Start: p.Start}).IsZero() {
		t.Error("IsZero should report a missing bound")
	}
}

func TestOccurrenceKey(t *testing.T) {
	o := Occurrence{TemplateID: "fridge-clean", Due: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)}
	if got := o.Key(); got != "fridge-clean@2024-02-29" {
		t.Errorf("Key = %q", got)
	}
}

func TestParseOccurrenceKey(t *testing.T) {
	id, date, err := ParseOccurrenceKey("vendor@feed@2024-02-29")
	if err != nil || id != "vendor@feed" || date != "2024-02-29" {
		t.Errorf("got %q %q %v", id, date, err)
	}
	for _, bad := range []string{"", "fridge-clean", "@2024-01-01", "fridge-clean@", "fridge-clean@01/08/2024"} {
		if _, _, err := ParseOccurrenceKey(bad); err == nil {
			t.Errorf("ParseOccurrenceKey(%q) should fail", bad)
		}
	}
}

func TestRanks(t *testing.T) {
	if PriorityCritical.Rank() >= PriorityLow.Rank() {
		t.Error("critical priority should rank first")
	}
	if SeverityCritical.Rank() >= SeverityMedium.Rank() {
		t.Error("critical severity should rank first")
	}
	if FrequencyAsNeeded.Recurring() || !FrequencyWeekly.Recurring() {
		t.Error("Recurring mismatch")
	}
}
