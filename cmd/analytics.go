package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zjrosen/deepwork/internal/presentation"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

func newAnalyticsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarize tasks, completion and focus sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				return report(cmd, asJSON, rt.orch.GetAnalytics(ctx), func(f *presentation.Formatter, a domain.Analytics) error {
					return f.FormatAnalytics(a)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result envelope as JSON")
	return cmd
}
