package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	httpserver "github.com/fyrsmithlabs/notesrag/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the answer server",
	Long: `Start the HTTP answer server.

Endpoints:
  POST /api/v1/answer   answer a query (owner in the X-Owner-ID header)
  GET  /health          backend name and store reachability
  GET  /metrics         Prometheus metrics

Examples:
  # Start with the default config file
  notesrag serve

  # Override the port through the environment
  NOTESRAG_SERVER_PORT=8080 notesrag serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// runServe starts the server and blocks until ctx is cancelled.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.withPipeline(ctx); err != nil {
		return fmt.Errorf("failed to build answer pipeline: %w", err)
	}

	srv, err := httpserver.NewServer(a.orch, a.store, a.logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout,
		Backend:        a.client.BackendName(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error(shutdownCtx, "graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
