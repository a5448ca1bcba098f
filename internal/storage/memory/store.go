// Package memory provides an in-memory event store.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store is an in-memory event store. Events are kept in insertion order.
type Store struct {
	mu     sync.RWMutex
	events []models.AnalysisEvent
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// NewWithEvents creates a store preloaded with events.
func NewWithEvents(events ...models.AnalysisEvent) *Store {
	s := New()
	_ = s.Insert(context.Background(), events...)
	return s
}

// Insert appends events, assigning IDs where missing.
func (s *Store) Insert(ctx context.Context, events ...models.AnalysisEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.Unavailable("insert", ErrClosed)
	}

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Normalize()
		s.events = append(s.events, e)
	}
	return nil
}

// matching returns the events passing filters. Callers hold the read lock.
func (s *Store) matching(op string, filters storage.Filters) ([]*models.AnalysisEvent, error) {
	if s.closed {
		return nil, storage.Unavailable(op, ErrClosed)
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	out := make([]*models.AnalysisEvent, 0)
	for i := range s.events {
		if filters.Matches(&s.events[i]) {
			out = append(out, &s.events[i])
		}
	}
	return out, nil
}

// CountGrouped groups matching events level by level.
func (s *Store) CountGrouped(ctx context.Context, q storage.GroupQuery) ([]models.Bucket, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.matching("count grouped", q.Filters)
	if err != nil {
		return nil, err
	}

	fields := make([]models.Field, 0, len(q.Levels)+len(q.Breakdowns))
	for _, l := range q.Levels {
		fields = append(fields, l.Field)
	}
	for _, b := range q.Breakdowns {
		fields = append(fields, b.Field)
	}

	rows := make(map[string]*storage.GroupRow)
	order := make([]string, 0)
	for _, e := range events {
		keys := make([]string, len(fields))
		for i, f := range fields {
			keys[i], _ = e.Dimension(f)
		}
		id := strings.Join(keys, "\x00")
		row, ok := rows[id]
		if !ok {
			row = &storage.GroupRow{Keys: keys}
			rows[id] = row
			order = append(order, id)
		}
		row.Count++
		if e.DeploymentSuccess {
			row.DeploySum++
		}
		if e.AnalysisTimestamp.After(row.Latest) {
			row.Latest = e.AnalysisTimestamp
		}
	}

	flat := make([]storage.GroupRow, 0, len(order))
	for _, id := range order {
		flat = append(flat, *rows[id])
	}
	return storage.AssembleBuckets(q, flat), nil
}

// Avg averages a numeric field over matching events carrying it.
func (s *Store) Avg(ctx context.Context, field models.Field, filters storage.Filters) (float64, bool, error) {
	if !field.Numeric() {
		return 0, false, storage.ErrInvalidQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.matching("avg", filters)
	if err != nil {
		return 0, false, err
	}

	var sum float64
	var n int
	for _, e := range events {
		if v, ok := e.Number(field); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, filters storage.Filters) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.matching("count", filters)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

// TimeHistogram buckets matching events by analysis timestamp.
func (s *Store) TimeHistogram(ctx context.Context, q storage.HistogramQuery) ([]models.HistogramBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.matching("time histogram", q.Filters)
	if err != nil {
		return nil, err
	}

	interval := q.EffectiveInterval()
	byStart := make(map[time.Time]*models.HistogramBucket)
	buckets := make([]models.HistogramBucket, 0)
	for _, e := range events {
		if e.AnalysisTimestamp.IsZero() {
			continue
		}
		start := storage.HistogramKey(e.AnalysisTimestamp, interval)
		b, ok := byStart[start]
		if !ok {
			b = &models.HistogramBucket{Start: start}
			byStart[start] = b
		}
		b.Count++
		if e.DeploymentSuccess {
			b.SuccessCount++
		}
	}
	for _, b := range byStart {
		buckets = append(buckets, *b)
	}
	return storage.FillHistogram(buckets, q), nil
}

// Search returns matching events, newest first.
func (s *Store) Search(ctx context.Context, q storage.SearchQuery) ([]models.AnalysisEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, err := s.matching("search", q.Filters)
	if err != nil {
		return nil, err
	}

	out := make([]models.AnalysisEvent, 0, len(events))
	for _, e := range events {
		out = append(out, *e)
	}
	storage.SortEvents(out)

	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.Unavailable("ping", ErrClosed)
	}
	return nil
}

// Clear removes all events.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	return nil
}

// Close marks the store closed; later operations fail as unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
