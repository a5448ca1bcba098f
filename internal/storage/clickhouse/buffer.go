package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/sqlstore"
	"github.com/fidde/cicd_health/pkg/models"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 5 * time.Second
	defaultShutdownWait  = 10 * time.Second
	maxRetries           = 3
)

// EventRow represents a row in the analysis_events table
type EventRow struct {
	ID                     string
	Tool                   string
	Project                string
	Environment            string
	Server                 string
	LogType                string
	Status                 string
	SeverityLevel          string
	FailureCategory        string
	DeploymentSuccess      uint8
	AnalysisTimestamp      *int64
	BuildDurationSeconds   *float64
	BusinessImpactScore    *float64
	ConfidenceScore        *float64
	ResolutionTimeEstimate *string
	Document               string
}

// NewEventRow flattens an event into its table row.
func NewEventRow(e models.AnalysisEvent) (EventRow, error) {
	doc, err := storage.EncodeDocument(e)
	if err != nil {
		return EventRow{}, err
	}
	var deployed uint8
	if e.DeploymentSuccess {
		deployed = 1
	}
	return EventRow{
		ID:                     e.ID,
		Tool:                   e.Tool,
		Project:                e.Project,
		Environment:            e.Environment,
		Server:                 e.Server,
		LogType:                e.LogType,
		Status:                 string(e.Status),
		SeverityLevel:          string(e.SeverityLevel),
		FailureCategory:        e.FailureCategory,
		DeploymentSuccess:      deployed,
		AnalysisTimestamp:      sqlstore.Millis(e.AnalysisTimestamp),
		BuildDurationSeconds:   e.BuildDurationSeconds,
		BusinessImpactScore:    e.BusinessImpactScore,
		ConfidenceScore:        e.ConfidenceScore,
		ResolutionTimeEstimate: e.ResolutionTimeEstimate,
		Document:               doc,
	}, nil
}

// BatchBuffer manages batched event writes to ClickHouse with automatic flushing
type BatchBuffer struct {
	conn driver.Conn

	mu   sync.Mutex
	rows []EventRow

	batchSize     int
	flushInterval time.Duration
	shutdownWait  time.Duration

	flushTimer *time.Timer
	stopCh     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewBatchBuffer creates a new batch buffer. Zero sizes select the defaults.
func NewBatchBuffer(conn driver.Conn, batchSize int, flushInterval time.Duration, logger *slog.Logger) *BatchBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	b := &BatchBuffer{
		conn:          conn,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		shutdownWait:  defaultShutdownWait,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}

	b.flushTimer = time.NewTimer(b.flushInterval)

	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// Add buffers rows, flushing when the batch is full.
func (b *BatchBuffer) Add(rows ...EventRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows = append(b.rows, rows...)

	if len(b.rows) >= b.batchSize {
		return b.flushLocked()
	}

	return nil
}

// Flush writes buffered rows now.
func (b *BatchBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked()
}

// Pending returns the number of buffered rows.
func (b *BatchBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.rows)
}

// flushLoop periodically flushes the buffer on timer
func (b *BatchBuffer) flushLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.flushTimer.C:
			b.mu.Lock()
			_ = b.flushLocked()
			b.mu.Unlock()
			b.flushTimer.Reset(b.flushInterval)

		case <-b.stopCh:
			return
		}
	}
}

// flushLocked flushes event rows (must hold lock)
func (b *BatchBuffer) flushLocked() error {
	if len(b.rows) == 0 {
		return nil
	}

	start := time.Now()
	rows := b.rows
	b.rows = nil

	// Release lock during insert
	b.mu.Unlock()
	err := b.insertEvents(rows)
	b.mu.Lock()

	if err != nil {
		b.logger.Error("failed to flush events",
			"error", err,
			"row_count", len(rows),
		)
		return err
	}

	b.logger.Debug("flushed events",
		"row_count", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Close gracefully shuts down the buffer, flushing remaining data
func (b *BatchBuffer) Close(ctx context.Context) error {
	var finalErr error

	b.closeOnce.Do(func() {
		close(b.stopCh)

		shutdownCtx, cancel := context.WithTimeout(ctx, b.shutdownWait)
		defer cancel()

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			b.logger.Warn("flush loop did not stop within timeout")
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		finalErr = b.flushLocked()
	})

	return finalErr
}

func (b *BatchBuffer) insertEvents(rows []EventRow) error {
	return b.retryInsert(func(ctx context.Context) error {
		batch, err := b.conn.PrepareBatch(ctx, "INSERT INTO "+sqlstore.Table)
		if err != nil {
			return err
		}

		for _, row := range rows {
			err = batch.Append(
				row.ID,
				row.Tool,
				row.Project,
				row.Environment,
				row.Server,
				row.LogType,
				row.Status,
				row.SeverityLevel,
				row.FailureCategory,
				row.DeploymentSuccess,
				row.AnalysisTimestamp,
				row.BuildDurationSeconds,
				row.BusinessImpactScore,
				row.ConfidenceScore,
				row.ResolutionTimeEstimate,
				row.Document,
			)
			if err != nil {
				return err
			}
		}

		return batch.Send()
	})
}

// retryInsert retries insert operation with exponential backoff
func (b *BatchBuffer) retryInsert(fn func(context.Context) error) error {
	var err error
	retryDelay := 100 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = fn(ctx)
		cancel()

		if err == nil {
			return nil
		}

		if attempt < maxRetries {
			time.Sleep(retryDelay)
			retryDelay *= 2
		}
	}

	return fmt.Errorf("insert failed after %d attempts: %w", maxRetries, err)
}
