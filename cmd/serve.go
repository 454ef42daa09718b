package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/handlers"
	"github.com/lehigh-university-libraries/platecheck/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the meal analysis HTTP service",
		Long: `Starts the Platecheck API on the specified port.

The API offers stateless analyze, recalculate and transcribe endpoints and
server-side sessions that follow the analysis lifecycle.`,
		Example: `  # Start server on default port 8888
  platecheck serve

  # Start server on custom port with a config file
  platecheck serve --port 3000 --config platecheck.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, service, err := loadService(opts)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			store := storage.New()
			handler := handlers.New(service, store, cfg.Limits, analysis.MatchLanguage(cfg.Language))

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go expireSessions(ctx, store, cfg.SessionTTL)

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Platecheck API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// analysis calls can take a while, give them time to finish
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default from config or PORT, 8888)")

	return cmd
}

// expireSessions drops sessions idle for longer than ttl until ctx is done
func expireSessions(ctx context.Context, store *storage.SessionStore, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.Expire(now.Add(-ttl)); n > 0 {
				slog.Info("Expired idle sessions", "count", n)
			}
		}
	}
}
