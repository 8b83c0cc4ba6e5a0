package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete records past the retention horizon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.Orchestrator().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", n)
			return nil
		},
	}
}
