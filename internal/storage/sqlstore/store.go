// Package sqlstore provides an event store on database/sql, backed by
// SQLite (modernc) or PostgreSQL (pgx).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*/*.sql
var migrationFiles embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Config holds SQL store configuration.
type Config struct {
	Dialect string
	DSN     string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration

	// SkipMigrations leaves the schema alone on open.
	SkipMigrations bool

	Logger *slog.Logger
}

// DefaultConfig returns a SQLite configuration for the given file.
func DefaultConfig(dbPath string) Config {
	return Config{
		Dialect:         SQLite.Name,
		DSN:             dbPath,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// Store is a SQL-backed event store.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	logger    *slog.Logger
	closeOnce sync.Once
}

// Open connects to the database, applies pragmas and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect, err := ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s dsn is empty", dialect.Name)
	}

	db, err := sql.Open(dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	applyOptions(db, dialect, cfg)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, storage.Unavailable("ping database", err)
	}

	if dialect.Name == SQLite.Name {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA cache_size=-64000", // 64MB cache
			"PRAGMA temp_store=MEMORY",
			"PRAGMA busy_timeout=5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("setting pragma: %w", err)
			}
		}
	}

	store := New(db, dialect)
	if cfg.Logger != nil {
		store.logger = cfg.Logger
	}
	if !cfg.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// New wraps an open database. The schema is assumed to exist.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, logger: slog.Default()}
}

func applyOptions(db *sql.DB, dialect Dialect, cfg Config) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	// SQLite serializes writers; a single connection avoids busy errors.
	if dialect.Name == SQLite.Name {
		maxOpen = 1
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(s.dialect.Goose); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+s.dialect.Name); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Insert writes events in one transaction. Events already stored under the
// same ID are left untouched.
func (s *Store) Insert(ctx context.Context, events ...models.AnalysisEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Normalize()
		doc, err := storage.EncodeDocument(e)
		if err != nil {
			return err
		}
		q := InsertQuery(&e, doc)
		if _, err := tx.ExecContext(ctx, q.Bind(s.dialect), q.Args...); err != nil {
			return storage.Unavailable("insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("commit transaction", err)
	}
	return nil
}

// CountGrouped groups matching events level by level.
func (s *Store) CountGrouped(ctx context.Context, q storage.GroupQuery) ([]models.Bucket, error) {
	query, err := GroupedQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query.Bind(s.dialect), query.Args...)
	if err != nil {
		return nil, storage.Unavailable("count grouped", err)
	}
	defer rows.Close()

	width := len(q.Levels) + len(q.Breakdowns)
	var grouped []storage.GroupRow
	for rows.Next() {
		keys := make([]sql.NullString, width)
		var count int64
		var deploySum sql.NullFloat64
		var latest sql.NullInt64

		dest := make([]any, 0, width+3)
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		dest = append(dest, &count, &deploySum, &latest)
		if err := rows.Scan(dest...); err != nil {
			return nil, storage.Unavailable("scanning group", err)
		}

		row := storage.GroupRow{Keys: make([]string, width), Count: count, DeploySum: deploySum.Float64}
		for i, k := range keys {
			row.Keys[i] = k.String
		}
		if latest.Valid {
			row.Latest = FromMillis(latest.Int64)
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
	query, err := AvgQuery(field, filters)
	if err != nil {
		return 0, false, err
	}

	var avg sql.NullFloat64
	var n int64
	err = s.db.QueryRowContext(ctx, query.Bind(s.dialect), query.Args...).Scan(&avg, &n)
	if err != nil {
		return 0, false, storage.Unavailable("avg", err)
	}
	if n == 0 || !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, filters storage.Filters) (int64, error) {
	query, err := CountQuery(filters)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query.Bind(s.dialect), query.Args...).Scan(&n); err != nil {
		return 0, storage.Unavailable("count", err)
	}
	return n, nil
}

// TimeHistogram buckets matching events by analysis timestamp.
func (s *Store) TimeHistogram(ctx context.Context, q storage.HistogramQuery) ([]models.HistogramBucket, error) {
	query, err := HistogramQuery(s.dialect, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query.Bind(s.dialect), query.Args...)
	if err != nil {
		return nil, storage.Unavailable("time histogram", err)
	}
	defer rows.Close()

	var buckets []models.HistogramBucket
	for rows.Next() {
		var start, count int64
		var success sql.NullInt64
		if err := rows.Scan(&start, &count, &success); err != nil {
			return nil, storage.Unavailable("scanning histogram", err)
		}
		buckets = append(buckets, models.HistogramBucket{
			Start:        FromMillis(start),
			Count:        count,
			SuccessCount: success.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("time histogram", err)
	}

	return storage.FillHistogram(buckets, q), nil
}

// Search returns matching events, newest first.
func (s *Store) Search(ctx context.Context, q storage.SearchQuery) ([]models.AnalysisEvent, error) {
	query, err := SearchQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query.Bind(s.dialect), query.Args...)
	if err != nil {
		return nil, storage.Unavailable("search", err)
	}
	defer rows.Close()

	events := make([]models.AnalysisEvent, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, storage.Unavailable("scanning event", err)
		}
		e, ok := storage.DecodeSearchHit(s.logger, "", doc)
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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

// Clear removes all events.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+Table); err != nil {
		return fmt.Errorf("clearing %s: %w", Table, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
		if errors.Is(err, sql.ErrConnDone) {
			err = nil
		}
	})
	return err
}
