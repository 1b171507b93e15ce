package testutil

import (
	"time"

	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// WithStandardTestData adds a small mixed dataset: one task per status, a
// dependency, and subtasks with partial progress.
func (b *Builder) WithStandardTestData() *Builder {
	return b.
		WithTask("write-design",
			Title("Write design doc"), Description("Storage layer proposal"),
			Priority(domain.PriorityHigh), Focus(8), Complexity(domain.ComplexityHigh),
			Minutes(90), CreatedAt(0),
			Subtask("outline", true), Subtask("draft", false)).
		WithTask("review-pr",
			Title("Review pull request"),
			Priority(domain.PriorityMedium), Focus(5), Minutes(30),
			CreatedAt(time.Hour), DependsOn("write-design")).
		WithTask("inbox",
			Title("Clear inbox"), Description("Reply to pending threads"),
			Priority(domain.PriorityLow), Focus(1), Complexity(domain.ComplexityLow),
			Minutes(15), CreatedAt(2*time.Hour)).
		WithTask("benchmarks",
			Title("Run benchmarks"), Status(domain.StatusPaused),
			Priority(domain.PriorityUrgent), Focus(6), Minutes(45),
			CreatedAt(3*time.Hour)).
		WithTask("release-notes",
			Title("Publish release notes"), Status(domain.StatusCompleted),
			Priority(domain.PriorityMedium), Focus(4), Minutes(20),
			CreatedAt(4*time.Hour))
}
