package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepwork/internal/orchestrator"
	"github.com/zjrosen/deepwork/internal/presentation"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// withRuntime builds a runtime for the duration of fn.
func (c *cli) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()
	return fn(ctx, rt)
}

// report prints res as JSON, or its warnings and rendered data. A failed
// result is returned as the command error.
func report[T any](cmd *cobra.Command, asJSON bool, res orchestrator.Result[T], render func(*presentation.Formatter, T) error) error {
	out := presentation.NewFormatter(cmd.OutOrStdout())
	if asJSON {
		if err := out.FormatJSON(res); err != nil {
			return err
		}
	} else {
		presentation.NewFormatter(cmd.ErrOrStderr()).FormatWarnings(res.Warnings())
	}

	data, err := res.Unwrap()
	if err != nil {
		return err
	}
	if asJSON || render == nil {
		return nil
	}
	return render(out, data)
}

func renderTask(f *presentation.Formatter, t domain.Task) error {
	return f.FormatTask(t)
}

func newTaskCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks through their lifecycle",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the full result envelope as JSON")

	cmd.AddCommand(
		newTaskCreateCmd(c, &asJSON),
		newTaskListCmd(c, &asJSON),
		newTaskGetCmd(c, &asJSON),
		newTaskUpdateCmd(c, &asJSON),
		newTaskStatusCmd(c, &asJSON, "start", "Start or resume work on a task",
			func(ctx context.Context, o *orchestrator.Orchestrator, id string) orchestrator.Result[domain.Task] {
				return o.StartTask(ctx, id)
			}),
		newTaskStatusCmd(c, &asJSON, "complete", "Mark a task completed",
			func(ctx context.Context, o *orchestrator.Orchestrator, id string) orchestrator.Result[domain.Task] {
				return o.UpdateTaskStatus(ctx, id, true)
			}),
		newTaskStatusCmd(c, &asJSON, "reopen", "Mark a task not completed (pauses it if in progress)",
			func(ctx context.Context, o *orchestrator.Orchestrator, id string) orchestrator.Result[domain.Task] {
				return o.UpdateTaskStatus(ctx, id, false)
			}),
		newTaskDeleteCmd(c, &asJSON),
		newSubtaskCmd(c, &asJSON),
	)
	return cmd
}

// taskFields are the editable task flags shared by create and update.
type taskFields struct {
	title       string
	description string
	status      string
	priority    string
	focus       int
	complexity  string
	minutes     int
	depends     []string
	subtasks    []string
}

func (f *taskFields) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.title, "title", "t", "", "task title")
	fl.StringVarP(&f.description, "description", "d", "", "task description")
	fl.StringVar(&f.status, "status", "", "pending, in-progress, paused or completed")
	fl.StringVarP(&f.priority, "priority", "p", "", "low, medium, high, urgent (or 1-4)")
	fl.IntVarP(&f.focus, "focus", "f", 0, "focus intensity 1-10")
	fl.StringVar(&f.complexity, "complexity", "", "low, medium or high")
	fl.IntVarP(&f.minutes, "minutes", "m", 0, "estimated duration in minutes")
	fl.StringSliceVar(&f.depends, "depends", nil, "ids of tasks this task depends on")
	fl.StringArrayVar(&f.subtasks, "subtask", nil, "subtask title (repeatable)")
}

func subtaskInputs(titles []string) []domain.SubtaskInput {
	out := make([]domain.SubtaskInput, 0, len(titles))
	for _, t := range titles {
		out = append(out, domain.SubtaskInput{Title: t})
	}
	return out
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parsePriority(s string) (domain.Priority, error) {
	if p, ok := domain.ParsePriority(strings.ToLower(s)); ok {
		return p, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !domain.Priority(n).IsValid() {
		return 0, fmt.Errorf("unknown priority %q", s)
	}
	return domain.Priority(n), nil
}

func (f *taskFields) createInput() (domain.CreateInput, error) {
	in := domain.CreateInput{
		Title:             f.title,
		Description:       f.description,
		Status:            domain.Status(f.status),
		FocusIntensity:    f.focus,
		Complexity:        domain.Complexity(f.complexity),
		EstimatedDuration: f.minutes,
		Dependencies:      nonEmpty(f.depends),
		Subtasks:          subtaskInputs(f.subtasks),
	}
	if f.priority != "" {
		p, err := parsePriority(f.priority)
		if err != nil {
			return in, err
		}
		in.Priority = p
	}
	return in, nil
}

// updateInput sets only the fields whose flags were given.
func (f *taskFields) updateInput(cmd *cobra.Command) (domain.UpdateInput, error) {
	var u domain.UpdateInput
	changed := cmd.Flags().Changed

	if changed("title") {
		u.Title = &f.title
	}
	if changed("description") {
		u.Description = &f.description
	}
	if changed("status") {
		st := domain.Status(f.status)
		u.Status = &st
	}
	if changed("priority") {
		p, err := parsePriority(f.priority)
		if err != nil {
			return u, err
		}
		u.Priority = &p
	}
	if changed("focus") {
		u.FocusIntensity = &f.focus
	}
	if changed("complexity") {
		cx := domain.Complexity(f.complexity)
		u.Complexity = &cx
	}
	if changed("minutes") {
		u.EstimatedDuration = &f.minutes
	}
	if changed("depends") {
		deps := nonEmpty(f.depends)
		u.Dependencies = &deps
	}
	if changed("subtask") {
		subs := subtaskInputs(f.subtasks)
		u.Subtasks = &subs
	}
	if u.IsEmpty() {
		return u, fmt.Errorf("nothing to update: pass at least one field flag")
	}
	return u, nil
}

func newTaskCreateCmd(c *cli, asJSON *bool) *cobra.Command {
	var fields taskFields
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Example: `  deepwork task create --title "Write design doc" --priority high --focus 8 --minutes 90
  deepwork task create -t "Review PR" --depends 3f2a... --subtask "read diff" --subtask "comment"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := fields.createInput()
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, rt.orch.CreateTask(ctx, in), renderTask)
			})
		},
	}
	fields.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd(c *cli, asJSON *bool) *cobra.Command {
	var (
		statuses     []string
		priorities   []string
		complexities []string
		minFocus     int
		search       string
		limit        int
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, most focused first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.TaskFilter{MinFocusIntensity: minFocus, Search: search, Limit: limit}
			for _, s := range nonEmpty(statuses) {
				filter.Statuses = append(filter.Statuses, domain.Status(s))
			}
			for _, s := range nonEmpty(priorities) {
				p, err := parsePriority(s)
				if err != nil {
					return err
				}
				filter.Priorities = append(filter.Priorities, p)
			}
			for _, s := range nonEmpty(complexities) {
				filter.Complexities = append(filter.Complexities, domain.Complexity(s))
			}

			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, rt.orch.GetTasks(ctx, filter), func(f *presentation.Formatter, tasks []domain.Task) error {
					return f.FormatTaskTable(presentation.FromTasks(tasks, rt.orch.Sessions()))
				})
			})
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&statuses, "status", nil, "only tasks with these statuses")
	fl.StringSliceVar(&priorities, "priority", nil, "only tasks with these priorities")
	fl.StringSliceVar(&complexities, "complexity", nil, "only tasks with these complexities")
	fl.IntVar(&minFocus, "min-focus", 0, "only tasks at or above this focus intensity")
	fl.StringVarP(&search, "search", "s", "", "case-insensitive text in title or description")
	fl.IntVarP(&limit, "limit", "n", 0, "at most this many tasks")
	return cmd
}

func newTaskGetCmd(c *cli, asJSON *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, rt.orch.GetTask(ctx, args[0]), renderTask)
			})
		},
	}
}

func newTaskUpdateCmd(c *cli, asJSON *bool) *cobra.Command {
	var fields taskFields
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change task fields; only the given flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := fields.updateInput(cmd)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, rt.orch.UpdateTask(ctx, args[0], u), renderTask)
			})
		},
	}
	fields.register(cmd)
	return cmd
}

type taskOp func(ctx context.Context, o *orchestrator.Orchestrator, id string) orchestrator.Result[domain.Task]

func newTaskStatusCmd(c *cli, asJSON *bool, use, short string, op taskOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, op(ctx, rt.orch, args[0]), func(f *presentation.Formatter, t domain.Task) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", t.ID, t.Status)
					return err
				})
			})
		},
	}
}

func newTaskDeleteCmd(c *cli, asJSON *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task with its subtasks and dependency links",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, *asJSON, rt.orch.DeleteTask(ctx, args[0]), func(f *presentation.Formatter, id string) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
					return err
				})
			})
		},
	}
}

func newSubtaskCmd(c *cli, asJSON *bool) *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "subtask <subtask-id>",
		Short: "Check off a subtask (or uncheck it with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				res := rt.orch.UpdateSubtaskStatus(ctx, args[0], !undo)
				return report(cmd, *asJSON, res, func(f *presentation.Formatter, s domain.Subtask) error {
					state := "open"
					if s.Completed {
						state = "done"
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", s.ID, state)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the subtask not completed")
	return cmd
}
