package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/tillflow"
	"github.com/aretw0/tillflow/internal/config"
	httpAdapter "github.com/aretw0/tillflow/pkg/adapters/http"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve runs the REST API until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	if cfg.FlowFile == "" {
		return fmt.Errorf("no flow file (set --flow or TILLFLOW_FLOW)")
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}
	sessions, closeSessions, err := openSessions(ctx, SessionOptions{
		RedisURL:      cfg.RedisURL,
		Dir:           cfg.SnapshotDir,
		TTL:           cfg.SnapshotTTL,
		LockTTL:       cfg.LockTTL,
		MaskKeys:      cfg.SnapshotMask,
		EncryptionKey: key,
	}, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	var hooks []domain.LifecycleHooks
	hooks = append(hooks, observability.LoggingHooks(logger))
	var registry *prometheus.Registry
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		hooks = append(hooks, observability.NewMetrics(registry).Hooks())
	}

	streams := httpAdapter.NewStreamManager(logger)
	screens := httpAdapter.NewScreenBuffer(streams, logger)

	engine, err := createEngine(cfg.FlowFile, false, logger, hooks,
		tillflow.WithPresenter(screens),
		tillflow.WithSessions(sessions),
	)
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	api := httpAdapter.NewServer(engine, screens,
		httpAdapter.WithLogger(logger),
		httpAdapter.WithVersion(tillflow.Version),
	)

	r := chi.NewRouter()
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	r.Mount("/", api.Handler())

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting tillflow server", "addr", srv.Addr, "flow", cfg.FlowFile, "metrics", cfg.Metrics)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown", "timeout", cfg.ShutdownTimeout)

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("error killing server: %w", err)
			}
		}
		logger.Info("tillflow server stopped gracefully")
		return nil
	}
}
