// Package access decides which occurrences a viewer may see.
package access

import (
	"strings"

	"opscal/internal/model"
)

// DefaultElevatedRoles see everything.
var DefaultElevatedRoles = []string{"administrator", "manager"}

// Filter evaluates visibility for viewers.
type Filter struct {
	elevated map[string]struct{}
}

// NewFilter builds a Filter. If elevatedRoles is empty,
// DefaultElevatedRoles is used. Role names compare case-insensitively.
func NewFilter(elevatedRoles []string) *Filter {
	if len(elevatedRoles) == 0 {
		elevatedRoles = DefaultElevatedRoles
	}
	f := &Filter{elevated: make(map[string]struct{}, len(elevatedRoles))}
	for _, r := range elevatedRoles {
		f.elevated[normalize(r)] = struct{}{}
	}
	return f
}

// Elevated reports whether the viewer holds an elevated role.
func (f *Filter) Elevated(v model.Viewer) bool {
	if v.Role == "" {
		return false
	}
	_, ok := f.elevated[normalize(v.Role)]
	return ok
}

// CanView reports whether v may see an obligation with assignment a.
// Any one of these grants visibility: elevated role, open assignment,
// matching role, category, department or person. A guest (no role) only
// sees open assignments.
func (f *Filter) CanView(v model.Viewer, a model.Assignment) bool {
	if f.Elevated(v) {
		return true
	}
	if a.Open() {
		return true
	}
	if v.Role == "" {
		return false
	}
	if a.Role != "" && normalize(a.Role) == normalize(v.Role) {
		return true
	}
	if a.Category != "" && contains(v.Categories, a.Category) {
		return true
	}
	if a.DepartmentID != "" && contains(v.Departments, a.DepartmentID) {
		return true
	}
	if a.StaffID != "" && a.StaffID == v.ID {
		return true
	}
	return false
}

// Visible returns the occurrences v may see, in input order.
func (f *Filter) Visible(v model.Viewer, occs []model.Occurrence) []model.Occurrence {
	out := make([]model.Occurrence, 0, len(occs))
	for _, o := range occs {
		if f.CanView(v, o.Assignment) {
			out = append(out, o)
		}
	}
	return out
}

func contains(list []string, want string) bool {
	want = normalize(want)
	for _, s := range list {
		if normalize(s) == want {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
