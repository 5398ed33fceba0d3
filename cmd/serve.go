package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd exposes the run ledger over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger over HTTP",
		Long: `Starts a read-only HTTP API over the run ledger (db.dsn):

  GET /api/runs                  recorded runs, newest first
  GET /api/runs/{run_id}         one run
  GET /api/runs/{run_id}/pages   per-page outcomes of a run

/healthz, /readyz and /metrics are served alongside. Set api.api_key to
require an X-API-Key header on the /api routes.`,
		Annotations: map[string]string{annotationLedgerOnly: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(appInstance)
			return appInstance.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("listen", ":8080", "address the API server listens on")
	return cmd
}
