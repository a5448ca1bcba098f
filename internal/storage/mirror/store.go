// Package mirror provides a store that writes to two backends and reads
// from one, for moving event history between backends.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// Store wraps two storage backends for dual-write migration.
// Writes go to both primary and secondary.
// Reads come from primary only.
type Store struct {
	primary   storage.ReadWriter
	secondary storage.ReadWriter
	logger    *slog.Logger

	pending sync.WaitGroup
}

// Config holds mirror store configuration.
type Config struct {
	Primary   storage.ReadWriter
	Secondary storage.ReadWriter
	Logger    *slog.Logger
}

// New creates a new dual-write store.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		primary:   cfg.Primary,
		secondary: cfg.Secondary,
		logger:    cfg.Logger,
	}
}

// Insert writes to the primary and then, asynchronously, to the secondary.
// Errors from the secondary are logged but don't fail the operation.
func (s *Store) Insert(ctx context.Context, events ...models.AnalysisEvent) error {
	if err := s.primary.Insert(ctx, events...); err != nil {
		return err
	}

	// The secondary must not be cancelled with the caller's request.
	copied := append([]models.AnalysisEvent(nil), events...)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.secondary.Insert(context.WithoutCancel(ctx), copied...); err != nil {
			s.logger.Error("dual-write to secondary failed",
				"operation", "insert",
				"events", len(copied),
				"error", err,
			)
		}
	}()

	return nil
}

// Sync waits for in-flight secondary writes.
func (s *Store) Sync() {
	s.pending.Wait()
}

// Unwrap returns the primary and the secondary.
func (s *Store) Unwrap() []storage.EventStore {
	return []storage.EventStore{s.primary, s.secondary}
}

func (s *Store) CountGrouped(ctx context.Context, q storage.GroupQuery) ([]models.Bucket, error) {
	return s.primary.CountGrouped(ctx, q)
}

func (s *Store) Avg(ctx context.Context, field models.Field, filters storage.Filters) (float64, bool, error) {
	return s.primary.Avg(ctx, field, filters)
}

func (s *Store) Count(ctx context.Context, filters storage.Filters) (int64, error) {
	return s.primary.Count(ctx, filters)
}

func (s *Store) TimeHistogram(ctx context.Context, q storage.HistogramQuery) ([]models.HistogramBucket, error) {
	return s.primary.TimeHistogram(ctx, q)
}

func (s *Store) Search(ctx context.Context, q storage.SearchQuery) ([]models.AnalysisEvent, error) {
	return s.primary.Search(ctx, q)
}

// Ping checks the primary; an unreachable secondary is only logged.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	if err := s.secondary.Ping(ctx); err != nil {
		s.logger.Warn("secondary backend unreachable", "error", err)
	}
	return nil
}

// Close waits for pending writes and closes both backends.
func (s *Store) Close() error {
	s.Sync()

	primaryErr := s.primary.Close()
	secondaryErr := s.secondary.Close()

	if primaryErr != nil {
		return fmt.Errorf("close primary: %w", primaryErr)
	}
	if secondaryErr != nil {
		return fmt.Errorf("close secondary: %w", secondaryErr)
	}

	return nil
}
