package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/storefront-engine/api/routes"
	"github.com/angelmondragon/storefront-engine/internal/session"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var trackEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local storefront bridge API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logg, err := bootstrap(opts)
			if err != nil {
				return err
			}

			var (
				reg            prometheus.Registerer
				metricsHandler http.Handler
			)
			if cfg.Metrics.Enabled {
				registry := prometheus.NewRegistry()
				registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				reg = registry
				metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
			}

			sess, infra, err := session.Open(ctx, *cfg, logg, reg, opts.location())
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(); err != nil {
					logg.Error(context.Background(), "error closing session", err)
				}
			}()

			if err := sess.RefreshCatalog(ctx); err != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "catalog.refresh.failed")
			}
			if trackEvery > 0 {
				go trackActive(ctx, sess, logg, trackEvery)
			}

			server := &http.Server{
				Addr:              cfg.App.ListenAddr,
				Handler:           routes.NewRouter(cfg, logg, sess, infra, metricsHandler),
				ReadHeaderTimeout: 5 * time.Second,
			}

			logCtx := logg.WithFields(ctx, map[string]any{
				"env":     cfg.App.Env,
				"addr":    cfg.App.ListenAddr,
				"session": sess.ID,
			})
			logg.Info(logCtx, "starting storefront bridge")

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logg.Error(logCtx, "storefront bridge stopped unexpectedly", err)
					return err
				}
				return nil
			case <-ctx.Done():
			}

			sess.LeaveCheckout()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			logg.Info(logCtx, "shutting down storefront bridge")
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().DurationVar(&trackEvery, "track-every", time.Minute, "interval for refreshing active orders, 0 disables")
	return cmd
}

func trackActive(ctx context.Context, sess *session.Session, logg *logger.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.Orders.ActiveCount() == 0 {
				continue
			}
			changed, err := sess.Tracking.RefreshActive(ctx)
			if err != nil && ctx.Err() == nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "tracking.refresh.partial")
			}
			if changed > 0 {
				logg.Info(logg.WithField(ctx, "changed", changed), "tracking.refresh.applied")
			}
		}
	}
}
