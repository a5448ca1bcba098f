// Package storage defines the event store contract the aggregation engine
// depends on, plus helpers shared by the store backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fidde/cicd_health/pkg/models"
)

var (
	// ErrUnavailable marks failures to reach or query the backing store.
	ErrUnavailable = errors.New("event store unavailable")

	// ErrInvalidQuery marks queries naming unsupported fields.
	ErrInvalidQuery = errors.New("invalid event store query")
)

// Unavailable wraps a backend error so callers can match ErrUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

const (
	// DefaultSearchLimit applies when a search sets no limit.
	DefaultSearchLimit = 50
	// MaxSearchLimit caps any search.
	MaxSearchLimit = 10000
	// DefaultInterval is the histogram bucket width.
	DefaultInterval = 24 * time.Hour
)

// EventStore is a read-only queryable collection of analysis events.
// Implementations must be safe for concurrent use. Every operation accepts
// empty filters and returns empty results when nothing matches.
type EventStore interface {
	// CountGrouped counts events grouped level by level.
	CountGrouped(ctx context.Context, q GroupQuery) ([]models.Bucket, error)

	// Avg averages a numeric field over matching events that carry it.
	// ok is false when no event carries the field.
	Avg(ctx context.Context, field models.Field, filters Filters) (value float64, ok bool, err error)

	// Count counts matching events.
	Count(ctx context.Context, filters Filters) (int64, error)

	// TimeHistogram buckets matching events by analysis timestamp.
	TimeHistogram(ctx context.Context, q HistogramQuery) ([]models.HistogramBucket, error)

	// Search returns matching events, newest first.
	Search(ctx context.Context, q SearchQuery) ([]models.AnalysisEvent, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// Writer appends events to a store. Events without an ID get one.
type Writer interface {
	Insert(ctx context.Context, events ...models.AnalysisEvent) error
}

// ReadWriter is a store that can also be written to.
type ReadWriter interface {
	EventStore
	Writer
}

// Level is one grouping level of a grouped count. Size caps the number of
// buckets kept per parent; zero means unlimited.
type Level struct {
	Field models.Field
	Size  int
}

// GroupQuery describes a nested terms grouping.
type GroupQuery struct {
	Levels []Level

	// Breakdowns are counted inside every bucket of every level.
	Breakdowns []Level

	Filters Filters

	// WithStats attaches latest timestamp and deployment success average
	// to every bucket.
	WithStats bool
}

// Validate checks that every field can be grouped on.
func (q GroupQuery) Validate() error {
	if len(q.Levels) == 0 {
		return fmt.Errorf("%w: no grouping levels", ErrInvalidQuery)
	}
	for _, l := range append(append([]Level{}, q.Levels...), q.Breakdowns...) {
		if !l.Field.Groupable() {
			return fmt.Errorf("%w: cannot group on %q", ErrInvalidQuery, l.Field)
		}
	}
	return q.Filters.Validate()
}

// HistogramQuery describes a time histogram over analysis timestamps.
type HistogramQuery struct {
	Interval time.Duration
	Filters  Filters
	// Last keeps only the newest Last intervals, ending at the newest
	// bucket. Zero keeps the whole range.
	Last int
}

// EffectiveInterval returns the interval or DefaultInterval.
func (q HistogramQuery) EffectiveInterval() time.Duration {
	if q.Interval <= 0 {
		return DefaultInterval
	}
	return q.Interval
}

// SearchQuery describes a search. Fields limits the document fields fetched
// where the backend supports source filtering; others return whole events.
type SearchQuery struct {
	Filters Filters
	Limit   int
	Fields  []models.Field
}

// EffectiveLimit clamps the limit into [1, MaxSearchLimit].
func (q SearchQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}
