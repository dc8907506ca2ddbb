package model

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the recurrence cadence of a template.
type Frequency string

const (
	FrequencyDaily      Frequency = "daily"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencyBiannually Frequency = "biannually"
	FrequencyAnnually   Frequency = "annually"
	FrequencyAsNeeded   Frequency = "as_needed"
	FrequencyCustom     Frequency = "custom"
)

// Recurring reports whether f expands into more than one occurrence.
// Unrecognized values are treated as non-recurring.
func (f Frequency) Recurring() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly,
		FrequencyQuarterly, FrequencyBiannually, FrequencyAnnually:
		return true
	default:
		return false
	}
}

// Priority of a template, inherited by each of its occurrences.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from most to least urgent (critical = 0).
// Unknown priorities sort after low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Status is derived fresh on every evaluation; it is never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusOverdue   Status = "overdue"
)

// SourceKind tags where an obligation comes from. It is assigned once at
// ingestion via ParseSourceKind and drives the macro category.
type SourceKind int

const (
	SourceOther SourceKind = iota
	SourceEquipmentUpkeep
	SourceStaffDuty
	SourceStockExpiry
	SourcePeriodicReading
	SourceCertification
)

var sourceKindNames = map[SourceKind]string{
	SourceOther:           "other",
	SourceEquipmentUpkeep: "equipment_upkeep",
	SourceStaffDuty:       "staff_duty",
	SourceStockExpiry:     "stock_expiry",
	SourcePeriodicReading: "periodic_reading",
	SourceCertification:   "certification",
}

func (k SourceKind) String() string {
	if s, ok := sourceKindNames[k]; ok {
		return s
	}
	return "other"
}

// ParseSourceKind maps a stored kind string to a SourceKind.
func ParseSourceKind(s string) SourceKind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range sourceKindNames {
		if name == s {
			return k
		}
	}
	return SourceOther
}

// MarshalText lets SourceKind travel as its name in YAML and JSON.
func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SourceKind) UnmarshalText(b []byte) error {
	*k = ParseSourceKind(string(b))
	return nil
}

// Category is the macro category used for aggregated dashboard views.
type Category string

const (
	CategoryEquipment     Category = "equipment"
	CategoryStaff         Category = "staff"
	CategoryStock         Category = "stock"
	CategoryReadings      Category = "readings"
	CategoryCertification Category = "certification"
	CategoryGeneral       Category = "general"
)

// Categories lists every macro category in display order.
var Categories = []Category{
	CategoryEquipment,
	CategoryStaff,
	CategoryStock,
	CategoryReadings,
	CategoryCertification,
	CategoryGeneral,
}

// Category returns the macro category for a source kind.
func (k SourceKind) Category() Category {
	switch k {
	case SourceEquipmentUpkeep:
		return CategoryEquipment
	case SourceStaffDuty:
		return CategoryStaff
	case SourceStockExpiry:
		return CategoryStock
	case SourcePeriodicReading:
		return CategoryReadings
	case SourceCertification:
		return CategoryCertification
	default:
		return CategoryGeneral
	}
}

// CategoryRank returns the display position of c, unknown categories last.
func CategoryRank(c Category) int {
	for i, x := range Categories {
		if x == c {
			return i
		}
	}
	return len(Categories)
}

// AssignAll is the role value meaning "everyone".
const AssignAll = "all"

// Assignment describes who an obligation is assigned to. All fields empty
// (or Role == "all") means unrestricted.
type Assignment struct {
	Role         string `yaml:"role,omitempty" json:"role,omitempty"`
	Category     string `yaml:"category,omitempty" json:"category,omitempty"`
	StaffID      string `yaml:"staff_id,omitempty" json:"staffId,omitempty"`
	DepartmentID string `yaml:"department_id,omitempty" json:"departmentId,omitempty"`
}

// Open reports whether the assignment is visible to every viewer.
func (a Assignment) Open() bool {
	if strings.EqualFold(a.Role, AssignAll) {
		return true
	}
	return a.Role == "" && a.Category == "" && a.StaffID == "" && a.DepartmentID == ""
}

// Template is the persisted definition of an obligation.
type Template struct {
	ID                string        `yaml:"id" json:"id"`
	Name              string        `yaml:"name" json:"name"`
	Kind              SourceKind    `yaml:"kind" json:"kind"`
	Frequency         Frequency     `yaml:"frequency" json:"frequency"`
	Assignment        Assignment    `yaml:"assignment" json:"assignment"`
	Priority          Priority      `yaml:"priority" json:"priority"`
	EstimatedDuration time.Duration `yaml:"estimated_duration,omitempty" json:"estimatedDuration,omitempty"`
	Start             *time.Time    `yaml:"start,omitempty" json:"explicitStart,omitempty"`
	End               *time.Time    `yaml:"end,omitempty" json:"explicitEnd,omitempty"`
	// DueDate is an explicitly stored due date for one-off obligations.
	DueDate *time.Time `yaml:"due_date,omitempty" json:"dueDate,omitempty"`
	// Status is a persisted status for one-off obligations ("completed",
	// "cancelled"); recurring templates ignore it.
	Status    string    `yaml:"status,omitempty" json:"status,omitempty"`
	TenantID  string    `yaml:"tenant_id" json:"tenantId"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}

// Persisted status values for one-off templates.
const (
	TemplateStatusCompleted = "completed"
	TemplateStatusCancelled = "cancelled"
)

// Period is an inclusive [Start, End] accounting window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies within the period, both ends inclusive.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// IsZero reports whether either bound is missing.
func (p Period) IsZero() bool {
	return p.Start.IsZero() || p.End.IsZero()
}

// Completion is a record of an obligation having been done.
type Completion struct {
	ID          string    `yaml:"id" json:"id"`
	TemplateID  string    `yaml:"template_id" json:"templateId"`
	CompletedBy string    `yaml:"completed_by" json:"completedBy"`
	CompletedAt time.Time `yaml:"completed_at" json:"completedAt"`
	PeriodStart time.Time `yaml:"period_start" json:"periodStart"`
	PeriodEnd   time.Time `yaml:"period_end" json:"periodEnd"`
	Notes       string    `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Period returns the stored accounting window of the completion.
func (c Completion) Period() Period {
	return Period{Start: c.PeriodStart, End: c.PeriodEnd}
}

// Occurrence is one concrete due instance of a template. It is derived on
// every evaluation and never persisted.
type Occurrence struct {
	TemplateID string     `json:"templateId"`
	Name       string     `json:"name"`
	Kind       SourceKind `json:"kind"`
	Category   Category   `json:"category"`
	Assignment Assignment `json:"assignment"`
	Priority   Priority   `json:"priority"`
	Recurring  bool       `json:"recurring"`
	Cancelled  bool       `json:"cancelled,omitempty"`
	TenantID   string     `json:"tenantId,omitempty"`

	EstimatedDuration time.Duration `json:"estimatedDuration,omitempty"`

	Due    time.Time `json:"dueDate"`
	Period Period    `json:"period"`
	Status Status    `json:"status"`

	// Match is the completion that satisfied this occurrence, if any.
	Match *Completion `json:"match,omitempty"`

	// PersistedCompleted short-circuits status derivation for one-off
	// templates whose stored status is already completed.
	PersistedCompleted bool `json:"-"`
}

// Key is the occurrence identity: template id plus due date.
func (o Occurrence) Key() string {
	return OccurrenceKey(o.TemplateID, o.Due)
}

// OccurrenceKey formats the composite identity used for alerts and dismissals.
func OccurrenceKey(templateID string, due time.Time) string {
	return templateID + "@" + due.Format(DateLayout)
}

// ParseOccurrenceKey splits a "<template>@<YYYY-MM-DD>" key into its
// template id and ISO date.
func ParseOccurrenceKey(key string) (templateID, date string, err error) {
	i := strings.LastIndex(key, "@")
	if i <= 0 {
		return "", "", fmt.Errorf("invalid occurrence key %q: want <template>@<YYYY-MM-DD>", key)
	}
	templateID, date = key[:i], key[i+1:]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", fmt.Errorf("invalid occurrence key %q: want <template>@<YYYY-MM-DD>", key)
	}
	return templateID, date, nil
}

// DateLayout is the ISO calendar date layout used for bucket keys.
const DateLayout = "2006-01-02"

// Bucket groups the occurrences of one calendar date and category.
type Bucket struct {
	Date        string       `json:"date"`
	Category    Category     `json:"category"`
	ActiveCount int          `json:"activeCount"`
	Items       []Occurrence `json:"items"`
}

// Severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	default:
		return 2
	}
}

// Alert is a reminder or overdue notice for one occurrence.
type Alert struct {
	Severity      Severity   `json:"severity"`
	Message       string     `json:"message"`
	OccurrenceRef string     `json:"occurrenceRef"`
	Occurrence    Occurrence `json:"occurrence"`
	Dismissed     bool       `json:"dismissed"`
}

// Viewer is the identity on whose behalf occurrences are filtered.
// An empty Role means guest.
type Viewer struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Departments []string `json:"departments,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// Snapshot is the data read from the persistence collaborator for one
// pipeline run.
type Snapshot struct {
	Templates   []Template   `yaml:"templates" json:"templates"`
	Completions []Completion `yaml:"completions" json:"completions"`
}
