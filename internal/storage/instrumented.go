package storage

import (
	"context"
	"time"

	"github.com/fidde/cicd_health/pkg/models"
)

// Observer receives the outcome of every store operation.
type Observer interface {
	ObserveStoreOp(op string, elapsed time.Duration, err error)
}

// Instrumented wraps a store and reports each operation to an observer.
type Instrumented struct {
	next     EventStore
	observer Observer
}

// Instrument wraps store so that every operation is reported to observer.
func Instrument(store EventStore, observer Observer) *Instrumented {
	return &Instrumented{next: store, observer: observer}
}

// Unwrap returns the wrapped store.
func (s *Instrumented) Unwrap() EventStore {
	return s.next
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveStoreOp(op, time.Since(start), err)
	}
}

func (s *Instrumented) CountGrouped(ctx context.Context, q GroupQuery) ([]models.Bucket, error) {
	start := time.Now()
	buckets, err := s.next.CountGrouped(ctx, q)
	s.observe("count_grouped", start, err)
	return buckets, err
}

func (s *Instrumented) Avg(ctx context.Context, field models.Field, filters Filters) (float64, bool, error) {
	start := time.Now()
	v, ok, err := s.next.Avg(ctx, field, filters)
	s.observe("avg", start, err)
	return v, ok, err
}

func (s *Instrumented) Count(ctx context.Context, filters Filters) (int64, error) {
	start := time.Now()
	n, err := s.next.Count(ctx, filters)
	s.observe("count", start, err)
	return n, err
}

func (s *Instrumented) TimeHistogram(ctx context.Context, q HistogramQuery) ([]models.HistogramBucket, error) {
	start := time.Now()
	buckets, err := s.next.TimeHistogram(ctx, q)
	s.observe("time_histogram", start, err)
	return buckets, err
}

func (s *Instrumented) Search(ctx context.Context, q SearchQuery) ([]models.AnalysisEvent, error) {
	start := time.Now()
	events, err := s.next.Search(ctx, q)
	s.observe("search", start, err)
	return events, err
}

func (s *Instrumented) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
