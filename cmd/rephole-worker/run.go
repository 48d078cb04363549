package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rephole/rephole/infrastructure/persistence"
	"github.com/rephole/rephole/infrastructure/queue"
	"github.com/rephole/rephole/internal/config"
	"github.com/rephole/rephole/internal/log"
	"github.com/rephole/rephole/internal/wiring"
)

func runCmd() *cobra.Command {
	var (
		envFile string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the ingestion worker's poll loop",
		Long: `Start the ingestion worker.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

The worker dequeues waiting jobs from the relational store, wakes early on
a Redis pub/sub notification from the API server, and otherwise polls on a
fixed interval. A minimal HTTP health endpoint is served on WORKER_PORT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(envFile, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().IntVar(&port, "port", 0, "Health check port (default: 3002)")

	return cmd
}

func runWorker(envFile string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = applyRunOverrides(cfg, port)

	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting rephole-worker",
		append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, closeDeps, err := wiring.Build(ctx, cfg, slogger)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer func() {
		if err := closeDeps(); err != nil {
			slogger.Error("failed to close dependencies", slog.Any("error", err))
		}
	}()

	sub := queue.Subscribe(ctx, deps.Redis)
	defer func() { _ = sub.Close() }()

	healthSrv := startHealthServer(cfg.WorkerPort(), slogger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slogger.Info("shutting down worker")
		cancel()
	}()

	go runMaintenance(ctx, deps.Jobs, cfg.JobPolicy(), slogger)
	if cfg.MemoryMonitoring() {
		go monitorMemory(ctx, slogger)
	}

	slogger.Info("worker ready", slog.Int("health_port", cfg.WorkerPort()))
	deps.Worker.Run(ctx, sub.Notifications())
	return nil
}

// runMaintenance periodically enforces the job retention policy so
// completed and failed rows don't accumulate without bound.
func runMaintenance(ctx context.Context, jobs persistence.JobStore, policy config.JobPolicyConfig, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := jobs.PruneRetention(ctx,
				policy.CompletedRetainTTL(), policy.CompletedRetainMax(), policy.FailedRetainTTL())
			if err != nil {
				logger.Warn("job retention pruning failed", slog.Any("error", err))
			}
		}
	}
}

// memoryWarnThreshold is the heap size above which the worker starts
// logging warnings when MEMORY_MONITORING is enabled.
const memoryWarnThreshold = 1 << 30

func monitorMemory(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc > memoryWarnThreshold {
				logger.Warn("heap usage above threshold",
					slog.Uint64("heap_alloc_bytes", stats.HeapAlloc),
					slog.Uint64("heap_sys_bytes", stats.HeapSys),
					slog.Uint64("threshold_bytes", memoryWarnThreshold))
			}
		}
	}
}

func startHealthServer(port int, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", slog.Any("error", err))
		}
	}()
	return srv
}

func applyRunOverrides(cfg config.AppConfig, port int) config.AppConfig {
	if port == 0 {
		return cfg
	}
	return cfg.Apply(config.WithWorkerPort(port))
}
