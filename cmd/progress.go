package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
	"github.com/JakeFAU/housing-harvester/internal/storage/postgres"
)

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Print the stored progress record as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			db, closeDB, err := openDB(cmd.Context(), e.cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer closeDB()

			state, err := postgres.NewProgressStore(db).Get(cmd.Context())
			if errors.Is(err, harvest.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no progress recorded yet")
				return nil
			}
			if err != nil {
				return err
			}
			out := struct {
				harvest.ProgressState
				Pending []string `json:"pending"`
			}{state, state.PendingRegions()}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
