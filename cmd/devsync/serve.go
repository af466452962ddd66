package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"devsync-go/internal/api"
	"devsync-go/internal/metrics"
)

const shutdownGrace = 5 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run the HTTP API, metrics, and the periodic discovery and sync loop",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsRemote: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			if addr == "" {
				addr = a.Config.API.Addr
			}
			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			handler := api.NewHandler(a.Service, a.Hub, a.Log)
			var metricsSrv *http.Server
			if a.Config.App.MetricsAddr != "" && a.Config.App.MetricsAddr != addr {
				metricsSrv = metrics.Serve(a.Config.App.MetricsAddr)
				a.Log.Info().Str("addr", a.Config.App.MetricsAddr).Msg("metrics up")
			} else {
				handler.Mount("GET /metrics", metrics.Handler())
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			a.Log.Info().Str("addr", addr).Int("workers", a.Coordinator.Workers()).
				Dur("interval", a.Config.Sync.Interval.Std()).Msg("devsync api up")

			loopDone := make(chan struct{})
			go func() {
				defer close(loopDone)
				a.Coordinator.Loop(ctx, a.Config.Sync.Interval.Std())
			}()

			var runErr error
			select {
			case <-ctx.Done():
				a.Log.Info().Msg("shutting down")
			case runErr = <-errCh:
				a.Log.Error().Err(runErr).Msg("api server stopped")
				cancel()
			}

			a.Hub.Close()
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Log.Warn().Err(err).Msg("api shutdown")
			}
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			<-loopDone
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default api.addr)")
	return cmd
}
