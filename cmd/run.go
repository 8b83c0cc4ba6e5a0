package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tvivaldelli/signal-daily-digest/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and exit",
		Long: `Fetches every configured source, then generates, delivers and archives
one digest per category. A digest already generated today is reused
unless --force is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary := appInstance.Orchestrator().Run(cmd.Context(), pipeline.Options{Force: force})
			printSummary(cmd.OutOrStdout(), summary)
			if summary.Err != nil {
				appInstance.Logger().Error("run finished with errors", zap.Error(summary.Err))
				return fmt.Errorf("run %s: %w", summary.RunID, summary.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate even if today's digest exists")
	return cmd
}

func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "run %s: fetched=%d upserted=%d failed_sources=%d\n", s.RunID, s.Fetched, s.Upserted, s.Failed)
	for _, c := range s.Categories {
		line := fmt.Sprintf("  %-12s records=%d reused=%t delivery=%s", c.Category, c.Records, c.Reused, c.Delivery.State)
		if c.Delivery.Reason != "" {
			line += " (" + c.Delivery.Reason + ")"
		}
		if c.ArchiveRowID != "" {
			line += " row=" + c.ArchiveRowID
		}
		if c.Err != nil {
			line += " error=" + c.Err.Error()
		}
		fmt.Fprintln(w, line)
	}
}
