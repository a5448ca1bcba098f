// Package snapshot reads and writes gzip-compressed JSON files of analysis
// events, for moving history between stores.
package snapshot

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

const (
	// CurrentVersion is the file format written by Write.
	CurrentVersion = 1
	// FileExtension is the conventional snapshot suffix.
	FileExtension = ".json.gz"
	// DefaultMaxSize caps the uncompressed size Read accepts.
	DefaultMaxSize = 512 * 1024 * 1024
	// DefaultBatchSize is the number of events per Insert during Import.
	DefaultBatchSize = 500
)

var (
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	ErrTooLarge           = errors.New("snapshot exceeds size limit")
)

// Snapshot is a set of events with the scope they were exported from.
// Truncated is set when the scope held more events than were exported;
// Matched then counts them all.
type Snapshot struct {
	Version   int                    `json:"version"`
	Created   time.Time              `json:"created"`
	Scope     models.RollupScope     `json:"scope"`
	Count     int                    `json:"count"`
	Truncated bool                   `json:"truncated,omitempty"`
	Matched   int64                  `json:"matched,omitempty"`
	Events    []models.AnalysisEvent `json:"events"`
}

// Write encodes snap as gzip-compressed JSON.
func Write(w io.Writer, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}
	snap.Version = CurrentVersion
	snap.Count = len(snap.Events)
	if snap.Created.IsZero() {
		snap.Created = time.Now().UTC()
	}

	gw := gzip.NewWriter(w)
	if err := json.NewEncoder(gw).Encode(snap); err != nil {
		gw.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return gw.Close()
}

// Read decodes a snapshot written by Write. maxSize bounds the
// uncompressed stream; zero selects DefaultMaxSize.
func Read(r io.Reader, maxSize int64) (*Snapshot, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gr.Close()

	data, err := io.ReadAll(io.LimitReader(gr, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	if snap.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return &snap, nil
}

// Save writes snap to path.
func Save(path string, snap *Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := Write(file, snap); err != nil {
		return err
	}
	return file.Close()
}

// Load reads the snapshot at path.
func Load(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(file, DefaultMaxSize)
}

// Export collects the newest events inside scope, at most limit of them
// and never more than storage.MaxSearchLimit. A capped export is marked
// Truncated.
func Export(ctx context.Context, store storage.EventStore, scope models.RollupScope, limit int) (*Snapshot, error) {
	if limit <= 0 {
		limit = storage.MaxSearchLimit
	}
	q := storage.SearchQuery{
		Filters: storage.ScopeFilters(scope.Tool, scope.Project, scope.Environment, ""),
		Limit:   limit,
	}
	events, err := store.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("exporting events: %w", err)
	}
	snap := &Snapshot{
		Created: time.Now().UTC(),
		Scope:   scope,
		Count:   len(events),
		Events:  events,
	}

	if len(events) >= q.EffectiveLimit() {
		matched, err := store.Count(ctx, q.Filters)
		if err != nil {
			return nil, fmt.Errorf("counting exported scope: %w", err)
		}
		if matched > int64(len(events)) {
			snap.Truncated = true
			snap.Matched = matched
		}
	}
	return snap, nil
}

// Import inserts the snapshot's events in batches and returns how many
// were written.
func Import(ctx context.Context, w storage.Writer, snap *Snapshot, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	written := 0
	for start := 0; start < len(snap.Events); start += batchSize {
		end := min(start+batchSize, len(snap.Events))
		if err := w.Insert(ctx, snap.Events[start:end]...); err != nil {
			return written, fmt.Errorf("importing events %d-%d: %w", start, end, err)
		}
		written = end
	}
	return written, nil
}
