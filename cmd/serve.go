package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/housing-harvester/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API and run the pipeline on request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					e.logger.Warn("close services", zap.Error(cerr))
				}
			}()

			server, err := api.NewServer(ctx, api.Deps{
				Progress: a.ProgressRepository(),
				Runner:   a,
				Pinger:   a,
			}, e.logger)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				e.logger.Info("http server started", zap.Int("port", e.cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}
			e.logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				e.logger.Error("server shutdown error", zap.Error(err))
			}
			// A run in flight sees ctx canceled and stops before its next commit.
			server.Wait()
			e.logger.Info("shutdown complete")
			return nil
		},
	}
}
