package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newRunsCmd lists past runs from the Postgres ledger.
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "runs",
		Short:       "List recorded crawl runs",
		Long:        `Lists crawl runs recorded in the run ledger (db.dsn), newest first.`,
		Annotations: map[string]string{annotationLedgerOnly: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(appInstance)

			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			if offset < 0 {
				return fmt.Errorf("--offset must be >= 0")
			}

			runs, err := appInstance.Runs(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTATUS\tSTARTED\tFINISHED\tROOT")
			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Status, r.StartedAt.UTC().Format(time.RFC3339), finished, r.RootURL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")
	cmd.Flags().Int("offset", 0, "number of runs to skip")
	return cmd
}
