// Package main is the entry point for the CI/CD health service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fidde/cicd_health/internal/api"
	"github.com/fidde/cicd_health/internal/config"
	"github.com/fidde/cicd_health/internal/grpchealth"
	"github.com/fidde/cicd_health/internal/query"
	"github.com/fidde/cicd_health/internal/snapshot"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/backend"
	"github.com/fidde/cicd_health/internal/telemetry"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cicd-health",
		Short: "Pipeline health aggregation over analyzed CI/CD events",
		Long: `cicd-health answers dashboard queries over a store of analyzed CI/CD
pipeline events: hierarchical rollups, per-project health metrics, MTTR
estimates and pipeline stage views.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CICD_HEALTH_CONFIG"), "Path to YAML configuration file")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), importCmd(), exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var seed string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, metrics endpoint and gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			if seed != "" {
				cfg.Storage.Seed = seed
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "Snapshot file to insert into the store before serving")
	return cmd
}

// setup loads the configuration and builds the process logger.
func setup(w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := newLogger(w, cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger builds a text or JSON slog logger at the configured level.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting cicd-health", "version", version, "backend", cfg.Storage.Backend)

	store, err := backend.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing storage")
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", "error", err)
		}
	}()

	metrics := telemetry.New()
	instrumented := storage.Instrument(store, metrics)

	if cfg.Storage.Seed != "" {
		n, err := importFile(ctx, store, cfg.Storage.Seed, snapshot.DefaultBatchSize)
		if err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
		logger.Info("seeded store", "file", cfg.Storage.Seed, "events", n)
	}

	service, err := query.New(instrumented, cfg.Analysis, metrics, logger)
	if err != nil {
		return fmt.Errorf("creating query service: %w", err)
	}

	apiServer := api.NewServer(cfg.Server.APIAddr, service, api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metrics.Handler(),
		MetricsPath:    cfg.Server.MetricsPath,
		Observer:       metrics,
		Logger:         logger,
	})
	healthServer := grpchealth.New(cfg.Server.GRPCAddr, instrumented, cfg.Server.HealthInterval, metrics, logger)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go healthServer.Watch(watchCtx)

	errChan := make(chan error, 2)
	go func() {
		logger.Info("starting REST API server", "addr", cfg.Server.APIAddr)
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
	go func() {
		if err := healthServer.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()

	logger.Info("API endpoints",
		"rollup", "http://"+cfg.Server.APIAddr+"/api/v1/rollup",
		"health", "http://"+cfg.Server.APIAddr+"/api/v1/health",
		"metrics", "http://"+cfg.Server.APIAddr+cfg.Server.MetricsPath,
	)

	var runErr error
	select {
	case runErr = <-errChan:
		logger.Error("server failed, shutting down", "error", runErr)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopWatch()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down API server", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down gRPC health server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}
