package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/app"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	_ "github.com/stiffinWanjohi/bulkmail/internal/observability/otel"
	_ "github.com/stiffinWanjohi/bulkmail/internal/observability/prometheus"
)

var log = logging.Component("cli")

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the campaign runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, stop := app.ShutdownContext(cmd.Context())
			defer stop()

			services, err := app.InitServer(ctx, cfg)
			if err != nil {
				return err
			}
			defer services.Close(context.Background())

			server := services.NewAPIServer()
			httpServer := &http.Server{
				Addr:         cfg.API.Addr,
				Handler:      server.Handler(),
				ReadTimeout:  cfg.API.ReadTimeout,
				WriteTimeout: cfg.API.WriteTimeout,
				IdleTimeout:  cfg.API.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("starting API server", "addr", cfg.API.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			log.Info("shutting down server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancel()

			// stop accepting requests before cancelling running campaigns
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("server shutdown error", "error", err)
			}
			log.Info("HTTP server stopped")
			return nil
		},
	}
}
