// Package presentation renders orchestrator output for the command line.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rivo/uniseg"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// maxTitleWidth is the title column width in grapheme clusters.
const maxTitleWidth = 48

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatTaskTable writes one aligned line per task.
func (f *Formatter) FormatTaskTable(rows []TaskSummaryDTO) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.writer, "No tasks.")
		return err
	}
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tFOCUS\tPROGRESS\tTITLE")
	for _, r := range rows {
		status := r.Status
		if r.Session != "" {
			status += " (" + r.Session + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%3.0f%%\t%s\n",
			r.ID, status, r.Priority, r.Focus, r.Progress*100, Truncate(r.Title, maxTitleWidth))
	}
	return tw.Flush()
}

// FormatTask writes the full detail of one task.
func (f *Formatter) FormatTask(t domain.Task) error {
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", t.Description)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
	fmt.Fprintf(tw, "Priority:\t%s\n", t.Priority)
	fmt.Fprintf(tw, "Focus:\t%d\n", t.FocusIntensity)
	fmt.Fprintf(tw, "Complexity:\t%s\n", t.Complexity)
	fmt.Fprintf(tw, "Estimate:\t%s\n", t.EstimatedDurationTime())
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(tw, "Depends on:\t%s\n", strings.Join(t.Dependencies, ", "))
	}
	fmt.Fprintf(tw, "Created:\t%s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Updated:\t%s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(t.Subtasks) == 0 {
		return nil
	}
	fmt.Fprintln(f.writer, "Subtasks:")
	for _, s := range t.Subtasks {
		mark := " "
		if s.Completed {
			mark = "x"
		}
		fmt.Fprintf(f.writer, "  [%s] %s  (%s)\n", mark, s.Title, s.ID)
	}
	return nil
}

// FormatAnalytics writes aggregate statistics.
func (f *Formatter) FormatAnalytics(a domain.Analytics) error {
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total tasks:\t%d\n", a.TotalTasks)
	for _, st := range domain.AllStatuses() {
		fmt.Fprintf(tw, "  %s:\t%d\n", st, a.ByStatus[st])
	}
	priorities := make([]domain.Priority, 0, len(a.ByPriority))
	for p := range a.ByPriority {
		priorities = append(priorities, p)
	}
	slices.Sort(priorities)
	for _, p := range slices.Backward(priorities) {
		fmt.Fprintf(tw, "  %s priority:\t%d\n", p, a.ByPriority[p])
	}
	fmt.Fprintf(tw, "Completion rate:\t%.0f%%\n", a.CompletionRate*100)
	fmt.Fprintf(tw, "Average focus:\t%.1f\n", a.AverageFocusIntensity)
	fmt.Fprintf(tw, "Estimated time:\t%s\n", time.Duration(a.TotalEstimatedMinutes)*time.Minute)
	fmt.Fprintf(tw, "Subtasks done:\t%d/%d\n", a.CompletedSubtasks, a.TotalSubtasks)
	fmt.Fprintf(tw, "Live sessions:\t%d active, %d paused, %d protected\n",
		a.Sessions.ActiveSessions, a.Sessions.PausedSessions, a.Sessions.ProtectedSessions)
	fmt.Fprintf(tw, "Interruptions:\t%d\n", a.Sessions.TotalInterruptions)
	return tw.Flush()
}

// FormatWarnings writes one "warning:" line per message.
func (f *Formatter) FormatWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(f.writer, "warning: %s\n", w)
	}
}

// Truncate shortens s to at most n grapheme clusters, marking the cut with
// an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= n {
		return s
	}
	var b strings.Builder
	state := -1
	rest := s
	for i := 0; i < n-1 && len(rest) > 0; i++ {
		var cluster string
		cluster, rest, _, state = uniseg.StepString(rest, state)
		b.WriteString(cluster)
	}
	b.WriteString("…")
	return b.String()
}
