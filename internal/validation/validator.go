// Package validation checks task inputs and status transitions before they
// reach the orchestrator's business rules or the store.
package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// Rules are the per-entity-type bounds used by the validator.
type Rules struct {
	MinFocusIntensity int
	MaxFocusIntensity int
	MaxTitleLength    int // grapheme clusters
	MaxDuration       int // minutes
	DefaultDuration   int // minutes
}

// DefaultRules returns the bounds used for deep-work tasks.
func DefaultRules() Rules {
	return Rules{
		MinFocusIntensity: 1,
		MaxFocusIntensity: 10,
		MaxTitleLength:    200,
		MaxDuration:       24 * 60,
		DefaultDuration:   25,
	}
}

// Result is the outcome of a validation. Warnings never make a result invalid.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) done() Result {
	r.IsValid = len(r.Errors) == 0
	return *r
}

// ValidateCreateInput checks a creation payload. Missing optional fields and
// out-of-range focus intensity below the minimum produce warnings because
// they are defaulted or clamped rather than rejected.
func ValidateCreateInput(in domain.CreateInput, rules Rules) Result {
	var r Result

	validateTitle(&r, in.Title, rules)

	switch {
	case in.Status == "":
	case !in.Status.IsValid():
		r.errorf("unknown status %q", in.Status)
	case in.Status != domain.StatusPending && in.Status != domain.StatusInProgress:
		r.errorf("new tasks must start as %s or %s", domain.StatusPending, domain.StatusInProgress)
	}

	switch {
	case in.Priority == 0:
		r.warnf("priority defaulted to %s", domain.PriorityMedium)
	case !in.Priority.IsValid():
		r.errorf("priority must be between %d and %d", domain.PriorityLow, domain.PriorityUrgent)
	}

	switch {
	case in.FocusIntensity > rules.MaxFocusIntensity:
		r.errorf("focusIntensity must be at most %d", rules.MaxFocusIntensity)
	case in.FocusIntensity < rules.MinFocusIntensity:
		r.warnf("focusIntensity raised to minimum of %d", rules.MinFocusIntensity)
	}

	switch {
	case in.Complexity == "":
		r.warnf("complexity defaulted to %s", domain.ComplexityMedium)
	case !in.Complexity.IsValid():
		r.errorf("unknown complexity %q", in.Complexity)
	}

	switch {
	case in.EstimatedDuration == 0:
		r.warnf("estimatedDuration defaulted to %d minutes", rules.DefaultDuration)
	default:
		validateDuration(&r, in.EstimatedDuration, rules)
	}

	validateDependencies(&r, in.Dependencies)
	validateSubtasks(&r, in.Subtasks)

	return r.done()
}

// ValidateUpdateInput checks a partial update. Every field is optional but at
// least one must be present.
func ValidateUpdateInput(u domain.UpdateInput, rules Rules) Result {
	var r Result

	if u.IsEmpty() {
		r.errorf("at least one field must be provided")
		return r.done()
	}
	if u.Title != nil {
		validateTitle(&r, *u.Title, rules)
	}
	if u.Status != nil && !u.Status.IsValid() {
		r.errorf("unknown status %q", *u.Status)
	}
	if u.Priority != nil && !u.Priority.IsValid() {
		r.errorf("priority must be between %d and %d", domain.PriorityLow, domain.PriorityUrgent)
	}
	if u.FocusIntensity != nil {
		if *u.FocusIntensity < rules.MinFocusIntensity {
			r.errorf("focusIntensity must be at least %d", rules.MinFocusIntensity)
		} else if *u.FocusIntensity > rules.MaxFocusIntensity {
			r.errorf("focusIntensity must be at most %d", rules.MaxFocusIntensity)
		}
	}
	if u.Complexity != nil && !u.Complexity.IsValid() {
		r.errorf("unknown complexity %q", *u.Complexity)
	}
	if u.EstimatedDuration != nil {
		validateDuration(&r, *u.EstimatedDuration, rules)
	}
	if u.Dependencies != nil {
		validateDependencies(&r, *u.Dependencies)
	}
	if u.Subtasks != nil {
		validateSubtasks(&r, *u.Subtasks)
	}

	return r.done()
}

// ValidateStatusTransition checks a status change against the table.
// Requesting the current status again is valid and produces a warning.
func ValidateStatusTransition(current, next domain.Status, table Transitions) Result {
	var r Result

	if !current.IsValid() {
		r.errorf("unknown current status %q", current)
	}
	if !next.IsValid() {
		r.errorf("unknown status %q", next)
	}
	if len(r.Errors) > 0 {
		return r.done()
	}

	switch {
	case current == next:
		r.warnf("task is already %s", current)
	case !table.Allowed(current, next):
		r.errorf("cannot transition from %s to %s", current, next)
	}
	return r.done()
}

// ApplyCreateDefaults returns a copy of the input with defaults filled in,
// focus intensity clamped into range and duplicate dependencies removed.
// It assumes the input already passed ValidateCreateInput.
func ApplyCreateDefaults(in domain.CreateInput, rules Rules) domain.CreateInput {
	out := in
	out.Title = strings.TrimSpace(in.Title)
	if out.Status == "" {
		out.Status = domain.StatusPending
	}
	if out.Priority == 0 {
		out.Priority = domain.PriorityMedium
	}
	out.FocusIntensity = max(in.FocusIntensity, rules.MinFocusIntensity)
	if out.Complexity == "" {
		out.Complexity = domain.ComplexityMedium
	}
	if out.EstimatedDuration == 0 {
		out.EstimatedDuration = rules.DefaultDuration
	}
	out.Dependencies = Dedupe(in.Dependencies)
	if in.Subtasks != nil {
		out.Subtasks = slices.Clone(in.Subtasks)
	}
	return out
}

// Dedupe removes duplicate ids while preserving first-seen order.
func Dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateTitle(r *Result, title string, rules Rules) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		r.errorf("title is required")
		return
	}
	if n := uniseg.GraphemeClusterCount(trimmed); n > rules.MaxTitleLength {
		r.errorf("title must be at most %d characters, got %d", rules.MaxTitleLength, n)
	}
}

func validateDuration(r *Result, minutes int, rules Rules) {
	if minutes <= 0 {
		r.errorf("estimatedDuration must be positive")
		return
	}
	if minutes > rules.MaxDuration {
		r.errorf("estimatedDuration must be at most %d minutes", rules.MaxDuration)
	}
}

func validateDependencies(r *Result, deps []string) {
	for _, d := range deps {
		if strings.TrimSpace(d) == "" {
			r.errorf("dependency ids must not be empty")
			break
		}
	}
	if len(Dedupe(deps)) != len(deps) {
		r.warnf("duplicate dependencies removed")
	}
}

func validateSubtasks(r *Result, subtasks []domain.SubtaskInput) {
	for i, s := range subtasks {
		if strings.TrimSpace(s.Title) == "" {
			r.errorf("subtask %d title is required", i+1)
		}
	}
}
