package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rephole/rephole/internal/config"
	"github.com/rephole/rephole/internal/log"
	"github.com/rephole/rephole/internal/wiring"

	"github.com/rephole/rephole/infrastructure/api"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  PORT                     API bind port (default: 3000)
  LOG_LEVEL                Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT               Log format: pretty, json (default: pretty)
  LOCAL_STORAGE_PATH       Root directory repositories are cloned under
  DB_URL                   Relational store URL (sqlite:// or postgres, via POSTGRES_*)
  REDIS_HOST / REDIS_PORT  Job wakeup pub/sub backend
  CHROMA_HOST / CHROMA_PORT / CHROMA_COLLECTION_NAME  Vector store endpoint
  OPENAI_API_KEY           Embedding provider credential
  SEARCH_LIMIT             Default query result count (default: 5)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "API bind host (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "API bind port (default: 3000)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = applyServeOverrides(cfg, host, port)

	logger := log.NewLogger(cfg)
	slogger := logger.Slog()

	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting rephole-api",
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

	apiServer := api.NewAPIServer(deps.Producer, deps.Query, deps.Jobs, slogger)
	apiServer.MountRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slogger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slogger.Error("shutdown error", slog.Any("error", err))
		}
		cancel()
	}()

	addr := cfg.APIAddr()
	slogger.Info("starting server", slog.String("addr", addr))
	if err := apiServer.ListenAndServe(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption
	if host != "" {
		opts = append(opts, config.WithAPIHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithAPIPort(port))
	}
	return cfg.Apply(opts...)
}
