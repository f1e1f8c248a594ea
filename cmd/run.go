package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var printJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the current page for every pending province",
		Long: `Runs one pass of the pipeline: crawl, enrich, clean, and advance for each
province still on the current page. Provinces that fail keep their cursor and
are retried by the next run. Exits non-zero if any province failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("close services", zap.Error(cerr))
				}
			}()

			report, runErr := a.Run(cmd.Context())
			if printJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("run aborted: %w", runErr)
			}
			if failed := report.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d provinces failed on page %d: %w",
					failed, len(report.Regions), report.Page, report.Err())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "print the run report as JSON")
	return cmd
}
