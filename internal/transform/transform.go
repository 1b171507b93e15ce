// Package transform maps between the storage rows returned by a
// persistence.Store and the domain tasks handed to callers.
//
// Both directions are pure: inputs are never mutated and outputs never share
// slices with inputs. A batch containing a malformed row fails as a whole;
// every problem found is reported as a warning so callers can log them.
package transform

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/deepwork/internal/persistence"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// ErrMalformed is returned (wrapped) when a row or task cannot be converted.
var ErrMalformed = errors.New("malformed task data")

// Shape selects the output representation.
type Shape string

const (
	// ShapeUI produces values ready to render: nil collections become empty
	// and subtasks are ordered by position.
	ShapeUI Shape = "ui"
	// ShapeStorage keeps collections exactly as stored.
	ShapeStorage Shape = "storage"
)

// Options controls a transformation.
type Options struct {
	Shape               Shape
	IncludeDependencies bool
	IncludeSubtasks     bool
	IncludeMetadata     bool
}

// Full returns UI-shaped options with every nested collection and metadata.
func Full() Options {
	return Options{
		Shape:               ShapeUI,
		IncludeDependencies: true,
		IncludeSubtasks:     true,
		IncludeMetadata:     true,
	}
}

// Output is the result of a transformation. Data is only meaningful when
// Success is true; Err then is nil.
type Output[T any] struct {
	Success  bool
	Data     T
	Warnings []string
	Err      error
}

func failed[T any](warnings []string) Output[T] {
	return Output[T]{
		Warnings: warnings,
		Err:      fmt.Errorf("%w: %s", ErrMalformed, strings.Join(warnings, "; ")),
	}
}

// RowsToTasks converts storage rows into tasks.
func RowsToTasks(rows []persistence.TaskRow, opts Options) Output[[]domain.Task] {
	var problems []string
	for i, row := range rows {
		for _, p := range checkRow(row) {
			problems = append(problems, fmt.Sprintf("row %d (%q): %s", i, row.ID, p))
		}
	}
	if len(problems) > 0 {
		return failed[[]domain.Task](problems)
	}

	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, rowToTask(row, opts))
	}
	return Output[[]domain.Task]{Success: true, Data: tasks}
}

// RowToTask converts a single row.
func RowToTask(row persistence.TaskRow, opts Options) Output[domain.Task] {
	out := RowsToTasks([]persistence.TaskRow{row}, opts)
	if !out.Success {
		return Output[domain.Task]{Warnings: out.Warnings, Err: out.Err}
	}
	return Output[domain.Task]{Success: true, Data: out.Data[0]}
}

func checkRow(row persistence.TaskRow) []string {
	var problems []string
	if row.ID == "" {
		problems = append(problems, "missing id")
	}
	if strings.TrimSpace(row.Title) == "" {
		problems = append(problems, "missing title")
	}
	if !domain.Status(row.Status).IsValid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", row.Status))
	}
	if !domain.Priority(row.Priority).IsValid() {
		problems = append(problems, fmt.Sprintf("priority %d out of range", row.Priority))
	}
	if !domain.Complexity(row.Complexity).IsValid() {
		problems = append(problems, fmt.Sprintf("unknown complexity %q", row.Complexity))
	}
	if row.EstimatedDuration <= 0 {
		problems = append(problems, "estimated duration must be positive")
	}
	for j, sub := range row.Subtasks {
		if sub.ID == "" {
			problems = append(problems, fmt.Sprintf("subtask %d missing id", j))
		}
	}
	return problems
}

func rowToTask(row persistence.TaskRow, opts Options) domain.Task {
	t := domain.Task{
		ID:                row.ID,
		Title:             row.Title,
		Description:       row.Description,
		Status:            domain.Status(row.Status),
		Priority:          domain.Priority(row.Priority),
		FocusIntensity:    row.FocusIntensity,
		Complexity:        domain.Complexity(row.Complexity),
		EstimatedDuration: row.EstimatedDuration,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if row.CompletedAt != nil {
		at := *row.CompletedAt
		t.CompletedAt = &at
	}

	if opts.IncludeDependencies {
		t.Dependencies = slices.Clone(row.Dependencies)
	}
	if opts.IncludeSubtasks && len(row.Subtasks) > 0 {
		t.Subtasks = make([]domain.Subtask, len(row.Subtasks))
		for i, s := range row.Subtasks {
			t.Subtasks[i] = domain.Subtask{
				ID:        s.ID,
				Title:     s.Title,
				Completed: s.Completed,
				Position:  s.Position,
			}
		}
	}

	if opts.Shape == ShapeUI {
		if t.Dependencies == nil {
			t.Dependencies = []string{}
		}
		if t.Subtasks == nil {
			t.Subtasks = []domain.Subtask{}
		}
		slices.SortStableFunc(t.Subtasks, func(a, b domain.Subtask) int {
			return a.Position - b.Position
		})
	}

	if opts.IncludeMetadata {
		t.Meta = metaFor(row)
	}
	return t
}

func metaFor(row persistence.TaskRow) *domain.TaskMeta {
	m := &domain.TaskMeta{
		DependencyCount: len(row.Dependencies),
		SubtaskCount:    len(row.Subtasks),
	}
	if len(row.Subtasks) > 0 {
		done := 0
		for _, s := range row.Subtasks {
			if s.Completed {
				done++
			}
		}
		m.Progress = float64(done) / float64(len(row.Subtasks))
	}
	return m
}

// TaskToRow converts a task into its storage row. Subtask positions are
// taken from slice order; dependencies and subtasks are only copied when
// the options ask for them.
func TaskToRow(task domain.Task, opts Options) Output[persistence.TaskRow] {
	var problems []string
	if task.ID == "" {
		problems = append(problems, "missing id")
	}
	title := task.Title
	if opts.Shape == ShapeStorage {
		title = strings.TrimSpace(title)
	}
	if strings.TrimSpace(title) == "" {
		problems = append(problems, "missing title")
	}
	if !task.Status.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", task.Status))
	}
	if opts.IncludeSubtasks {
		for j, s := range task.Subtasks {
			if s.ID == "" {
				problems = append(problems, fmt.Sprintf("subtask %d missing id", j))
			}
		}
	}
	if len(problems) > 0 {
		return failed[persistence.TaskRow](problems)
	}

	row := persistence.TaskRow{
		ID:                task.ID,
		Title:             title,
		Description:       task.Description,
		Status:            string(task.Status),
		Priority:          int(task.Priority),
		FocusIntensity:    task.FocusIntensity,
		Complexity:        string(task.Complexity),
		EstimatedDuration: task.EstimatedDuration,
		CreatedAt:         task.CreatedAt,
		UpdatedAt:         task.UpdatedAt,
	}
	if task.CompletedAt != nil {
		at := *task.CompletedAt
		row.CompletedAt = &at
	}
	if opts.IncludeDependencies {
		row.Dependencies = slices.Clone(task.Dependencies)
	}
	if opts.IncludeSubtasks && len(task.Subtasks) > 0 {
		row.Subtasks = make([]persistence.SubtaskRow, len(task.Subtasks))
		for i, s := range task.Subtasks {
			row.Subtasks[i] = persistence.SubtaskRow{
				ID:        s.ID,
				TaskID:    task.ID,
				Title:     s.Title,
				Completed: s.Completed,
				Position:  i,
			}
		}
	}
	return Output[persistence.TaskRow]{Success: true, Data: row}
}

// AnalyticsFromRow converts a store aggregate. Session insights are left
// empty; the orchestrator merges them in.
func AnalyticsFromRow(row persistence.AnalyticsRow) domain.Analytics {
	a := domain.Analytics{
		TotalTasks:            row.TotalTasks,
		ByStatus:              make(map[domain.Status]int, len(row.ByStatus)),
		ByPriority:            make(map[domain.Priority]int, len(row.ByPriority)),
		AverageFocusIntensity: row.AverageFocusIntensity,
		TotalEstimatedMinutes: row.TotalEstimatedMinutes,
		CompletedSubtasks:     row.CompletedSubtasks,
		TotalSubtasks:         row.TotalSubtasks,
	}
	for k, v := range row.ByStatus {
		a.ByStatus[domain.Status(k)] = v
	}
	for k, v := range row.ByPriority {
		a.ByPriority[domain.Priority(k)] = v
	}
	if row.TotalTasks > 0 {
		a.CompletionRate = float64(row.CompletedTasks) / float64(row.TotalTasks)
	}
	return a
}
