package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemedicine-scheduling/internal/app"
	"github.com/hackgods/telemedicine-scheduling/internal/config"
	"github.com/hackgods/telemedicine-scheduling/internal/logging"
	"github.com/hackgods/telemedicine-scheduling/internal/worker"
)

func main() {
	var metricsAddr string

	root := &cobra.Command{
		Use:          "sweep-worker",
		Short:        "Expire and match waitlist entries, generate recurring bookings and relay events",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address for /metrics, empty disables")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Sweep every SWEEP_INTERVAL until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd.Context(), metricsAddr, func(ctx context.Context, r *worker.Runner, cfg config.Config) error {
					r.Run(ctx, cfg.SweepInterval)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single sweep pass and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd.Context(), "", func(ctx context.Context, r *worker.Runner, _ config.Config) error {
					var failed error
					for _, res := range r.RunOnce(ctx) {
						if res.Err != nil {
							failed = errors.Join(failed, res.Err)
						}
					}
					return failed
				})
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func withRunner(ctx context.Context, metricsAddr string, fn func(context.Context, *worker.Runner, config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "sweep-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Str("event_sink", cfg.EventSink).Msg("sweep-worker starting up")

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	relay, err := a.Relay(ctx)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, a, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	r := worker.NewRunner(a.Locker, logger, a.Metrics, cfg.SweepTimeout,
		worker.SchedulingSteps(a.Matcher, a.Generator, relay, a.Metrics)...)
	return fn(ctx, r, cfg)
}

func serveMetrics(addr string, a *app.App, logger zerolog.Logger) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}
