package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/config"
	"github.com/JakeFAU/housing-harvester/internal/storage/postgres"
)

// openDB connects the pool used by commands that do not need the pipeline.
var openDB = func(ctx context.Context, cfg config.Config) (postgres.DB, func(), error) {
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the harvester tables if they do not exist",
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
			if err := postgres.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			e.logger.Info("schema is up to date", zap.String("command", "migrate"))
			return nil
		},
	}
}
