package domain

import (
	"slices"
	"strconv"
	"strings"
)

// TaskFilter narrows a task listing. Empty fields do not filter.
type TaskFilter struct {
	Statuses          []Status     `json:"statuses,omitempty"`
	Priorities        []Priority   `json:"priorities,omitempty"`
	Complexities      []Complexity `json:"complexities,omitempty"`
	MinFocusIntensity int          `json:"minFocusIntensity,omitempty"`
	Search            string       `json:"search,omitempty"`
	Limit             int          `json:"limit,omitempty"`
}

// Normalize returns an equivalent filter in canonical form: slices are
// deduplicated and sorted, the search term is trimmed and lower-cased.
// Two filters that select the same tasks normalize to the same value.
func (f TaskFilter) Normalize() TaskFilter {
	n := TaskFilter{
		MinFocusIntensity: max(f.MinFocusIntensity, 0),
		Search:            strings.ToLower(strings.TrimSpace(f.Search)),
		Limit:             max(f.Limit, 0),
	}
	if len(f.Statuses) > 0 {
		n.Statuses = slices.Clone(f.Statuses)
		slices.Sort(n.Statuses)
		n.Statuses = slices.Compact(n.Statuses)
	}
	if len(f.Priorities) > 0 {
		n.Priorities = slices.Clone(f.Priorities)
		slices.Sort(n.Priorities)
		n.Priorities = slices.Compact(n.Priorities)
	}
	if len(f.Complexities) > 0 {
		n.Complexities = slices.Clone(f.Complexities)
		slices.Sort(n.Complexities)
		n.Complexities = slices.Compact(n.Complexities)
	}
	return n
}

// Canonical renders the normalized filter as a stable string.
func (f TaskFilter) Canonical() string {
	n := f.Normalize()
	var b strings.Builder
	b.WriteString("status=")
	for i, s := range n.Statuses {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(s))
	}
	b.WriteString(";priority=")
	for i, p := range n.Priorities {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(p)))
	}
	b.WriteString(";complexity=")
	for i, c := range n.Complexities {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(c))
	}
	b.WriteString(";minFocus=")
	b.WriteString(strconv.Itoa(n.MinFocusIntensity))
	b.WriteString(";q=")
	b.WriteString(strconv.Quote(n.Search))
	b.WriteString(";limit=")
	b.WriteString(strconv.Itoa(n.Limit))
	return b.String()
}

// Matches reports whether a task satisfies every non-empty criterion.
// Limit is not considered here.
func (f TaskFilter) Matches(t Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Complexities) > 0 && !slices.Contains(f.Complexities, t.Complexity) {
		return false
	}
	if f.MinFocusIntensity > 0 && t.FocusIntensity < f.MinFocusIntensity {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}
