// Package clickhouse provides a ClickHouse-backed event store.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/sqlstore"
	"github.com/fidde/cicd_health/pkg/models"
	"github.com/google/uuid"
)

// Store implements storage.ReadWriter using ClickHouse. Writes go through a
// batch buffer; reads see rows once the buffer has flushed.
type Store struct {
	conn   driver.Conn
	buffer *BatchBuffer
	logger *slog.Logger
}

// NewStore creates a new ClickHouse storage instance
func NewStore(ctx context.Context, config *ConnectionConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = DefaultConfig()
	}

	conn, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := InitializeSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{
		conn:   conn,
		buffer: NewBatchBuffer(conn, config.BatchSize, config.FlushInterval, logger),
		logger: logger,
	}, nil
}

// Insert buffers events for the next flush.
func (s *Store) Insert(ctx context.Context, events ...models.AnalysisEvent) error {
	rows := make([]EventRow, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Normalize()
		row, err := NewEventRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.buffer.Add(rows...); err != nil {
		return storage.Unavailable("insert", err)
	}
	return nil
}

// Flush writes buffered events now.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.buffer.Flush(); err != nil {
		return storage.Unavailable("flush", err)
	}
	return nil
}

// CountGrouped groups matching events level by level.
func (s *Store) CountGrouped(ctx context.Context, q storage.GroupQuery) ([]models.Bucket, error) {
	query, err := sqlstore.GroupedQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, storage.Unavailable("count grouped", err)
	}
	defer rows.Close()

	width := len(q.Levels) + len(q.Breakdowns)
	var grouped []storage.GroupRow
	for rows.Next() {
		keys := make([]string, width)
		var count, deploySum uint64
		var latest *int64

		dest := make([]any, 0, width+3)
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		dest = append(dest, &count, &deploySum, &latest)
		if err := rows.Scan(dest...); err != nil {
			return nil, storage.Unavailable("scanning group", err)
		}

		row := storage.GroupRow{Keys: keys, Count: int64(count), DeploySum: float64(deploySum)}
		if latest != nil {
			row.Latest = sqlstore.FromMillis(*latest)
		}
		grouped = append(grouped, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("count grouped", err)
	}

	return storage.AssembleBuckets(q, grouped), nil
}

// Avg averages a numeric field over matching events carrying it.
func (s *Store) Avg(ctx context.Context, field models.Field, filters storage.Filters) (float64, bool, error) {
	query, err := sqlstore.AvgQuery(field, filters)
	if err != nil {
		return 0, false, err
	}

	var avg *float64
	var n uint64
	if err := s.conn.QueryRow(ctx, query.SQL, query.Args...).Scan(&avg, &n); err != nil {
		return 0, false, storage.Unavailable("avg", err)
	}
	if n == 0 || avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, filters storage.Filters) (int64, error) {
	query, err := sqlstore.CountQuery(filters)
	if err != nil {
		return 0, err
	}

	var n uint64
	if err := s.conn.QueryRow(ctx, query.SQL, query.Args...).Scan(&n); err != nil {
		return 0, storage.Unavailable("count", err)
	}
	return int64(n), nil
}

// TimeHistogram buckets matching events by analysis timestamp.
func (s *Store) TimeHistogram(ctx context.Context, q storage.HistogramQuery) ([]models.HistogramBucket, error) {
	query, err := sqlstore.HistogramQuery(sqlstore.ClickHouse, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, storage.Unavailable("time histogram", err)
	}
	defer rows.Close()

	var buckets []models.HistogramBucket
	for rows.Next() {
		var start *int64
		var count, success uint64
		if err := rows.Scan(&start, &count, &success); err != nil {
			return nil, storage.Unavailable("scanning histogram", err)
		}
		if start == nil {
			continue
		}
		buckets = append(buckets, models.HistogramBucket{
			Start:        sqlstore.FromMillis(*start),
			Count:        int64(count),
			SuccessCount: int64(success),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("time histogram", err)
	}

	return storage.FillHistogram(buckets, q), nil
}

// Search returns matching events, newest first.
func (s *Store) Search(ctx context.Context, q storage.SearchQuery) ([]models.AnalysisEvent, error) {
	query, err := sqlstore.SearchQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, storage.Unavailable("search", err)
	}
	defer rows.Close()

	events := make([]models.AnalysisEvent, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storage.Unavailable("scanning event", err)
		}
		e, ok := storage.DecodeSearchHit(s.logger, "", []byte(doc))
		if !ok {
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("search", err)
	}
	return events, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

// Clear removes all events.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+sqlstore.Table); err != nil {
		return fmt.Errorf("truncating %s: %w", sqlstore.Table, err)
	}
	return nil
}

// Close flushes pending writes and closes the connection.
func (s *Store) Close() error {
	if err := s.buffer.Close(context.Background()); err != nil {
		s.logger.Error("failed to flush buffer on close", "error", err)
	}
	return s.conn.Close()
}
