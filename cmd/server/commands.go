package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fidde/cicd_health/internal/snapshot"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/backend"
	"github.com/fidde/cicd_health/pkg/models"
)

// migrator is implemented by stores with a versioned schema.
type migrator interface {
	Migrate(ctx context.Context) error
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema of the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// Opening a backend applies its schema.
			store, err := backend.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if m, ok := store.(migrator); ok {
				if err := m.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating %s: %w", cfg.Storage.Backend, err)
				}
			}
			logger.Info("schema up to date", "backend", cfg.Storage.Backend)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Insert the events of a snapshot file into the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := backend.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := importFile(ctx, store, args[0], batchSize)
			if err != nil {
				return err
			}
			logger.Info("imported snapshot", "file", args[0], "events", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", snapshot.DefaultBatchSize, "Events per insert")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		scope models.RollupScope
		limit int
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the newest events of a scope to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(os.Stderr)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := backend.Open(ctx, cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := snapshot.Export(ctx, store, scope, limit)
			if err != nil {
				return err
			}
			if err := snapshot.Save(args[0], snap); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}
			if snap.Truncated {
				logger.Warn("export truncated, narrow the scope to export every event",
					"exported", snap.Count, "matched", snap.Matched, "limit", limit)
			}
			logger.Info("exported snapshot", "file", args[0], "events", snap.Count)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope.Tool, "tool", "", "Only export events of this tool")
	cmd.Flags().StringVar(&scope.Project, "project", "", "Only export events of this project")
	cmd.Flags().StringVar(&scope.Environment, "environment", "", "Only export events of this environment")
	cmd.Flags().IntVar(&limit, "limit", storage.MaxSearchLimit, "Maximum number of events")
	return cmd
}

// importFile inserts the events of a snapshot file into store and waits
// until they are durable.
func importFile(ctx context.Context, store storage.ReadWriter, path string, batchSize int) (int, error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}
	n, err := snapshot.Import(ctx, store, snap, batchSize)
	if err != nil {
		return n, err
	}
	if err := storage.Settle(ctx, store); err != nil {
		return n, err
	}
	return n, nil
}
