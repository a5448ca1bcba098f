// Package backend opens the configured event store.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fidde/cicd_health/internal/config"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/clickhouse"
	"github.com/fidde/cicd_health/internal/storage/elasticsearch"
	"github.com/fidde/cicd_health/internal/storage/memory"
	"github.com/fidde/cicd_health/internal/storage/mirror"
	"github.com/fidde/cicd_health/internal/storage/sqlstore"
)

const supported = "memory, sqlite, postgres, clickhouse, elasticsearch, mirror"

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.ReadWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return open(ctx, cfg, cfg.Backend, logger)
}

func open(ctx context.Context, cfg config.StorageConfig, name string, logger *slog.Logger) (storage.ReadWriter, error) {
	switch name {
	case "memory":
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case "sqlite":
		logger.Info("using SQLite storage", "path", cfg.SQLite.Path)
		sqlCfg := sqlstore.DefaultConfig(cfg.SQLite.Path)
		sqlCfg.Logger = logger
		store, err := sqlstore.Open(ctx, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case "postgres":
		logger.Info("using PostgreSQL storage")
		store, err := sqlstore.Open(ctx, sqlstore.Config{
			Dialect:         sqlstore.Postgres.Name,
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating PostgreSQL store: %w", err)
		}
		return store, nil

	case "clickhouse":
		logger.Info("using ClickHouse storage", "addr", cfg.ClickHouse.Addr)
		chCfg := clickhouse.DefaultConfig()
		chCfg.Addr = cfg.ClickHouse.Addr
		if cfg.ClickHouse.Database != "" {
			chCfg.Database = cfg.ClickHouse.Database
		}
		if cfg.ClickHouse.Username != "" {
			chCfg.Username = cfg.ClickHouse.Username
		}
		chCfg.Password = cfg.ClickHouse.Password
		if cfg.ClickHouse.BatchSize > 0 {
			chCfg.BatchSize = cfg.ClickHouse.BatchSize
		}
		if cfg.ClickHouse.FlushInterval > 0 {
			chCfg.FlushInterval = cfg.ClickHouse.FlushInterval
		}
		store, err := clickhouse.NewStore(ctx, chCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("creating ClickHouse store: %w", err)
		}
		return store, nil

	case "elasticsearch":
		logger.Info("using Elasticsearch storage", "index", cfg.Elasticsearch.Index)
		store, err := elasticsearch.New(elasticsearch.Config{
			Addresses:     cfg.Elasticsearch.Addresses,
			Username:      cfg.Elasticsearch.Username,
			Password:      cfg.Elasticsearch.Password,
			APIKey:        cfg.Elasticsearch.APIKey,
			Index:         cfg.Elasticsearch.Index,
			KeywordSuffix: cfg.Elasticsearch.KeywordSuffix,
			Refresh:       cfg.Elasticsearch.Refresh,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating Elasticsearch store: %w", err)
		}
		return store, nil

	case "mirror":
		if name != cfg.Backend || cfg.Mirror.Primary == "mirror" || cfg.Mirror.Secondary == "mirror" {
			return nil, errors.New("mirror backends cannot be nested")
		}
		primary, err := open(ctx, cfg, cfg.Mirror.Primary, logger)
		if err != nil {
			return nil, fmt.Errorf("opening mirror primary: %w", err)
		}
		secondary, err := open(ctx, cfg, cfg.Mirror.Secondary, logger)
		if err != nil {
			primary.Close()
			return nil, fmt.Errorf("opening mirror secondary: %w", err)
		}
		logger.Info("mirroring writes", "primary", cfg.Mirror.Primary, "secondary", cfg.Mirror.Secondary)
		return mirror.New(mirror.Config{Primary: primary, Secondary: secondary, Logger: logger}), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", name, supported)
	}
}
