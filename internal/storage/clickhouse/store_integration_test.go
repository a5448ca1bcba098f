//go:build integration

package clickhouse

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
	"github.com/google/uuid"
)

// TestClickHouseIntegration tests basic ClickHouse operations
// Run with: go test -tags=integration ./internal/storage/clickhouse -v
func TestClickHouseIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := NewStore(ctx, DefaultConfig(), logger)
	if err != nil {
		t.Skipf("ClickHouse not available: %v", err)
	}
	defer store.Close()

	// A unique tool keeps reruns against the same server independent.
	tool := "it-" + uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)
	duration := 90.0

	events := []models.AnalysisEvent{
		{Tool: tool, Project: "api", Environment: "prod", Server: "web-1",
			Status: models.StatusSuccess, DeploymentSuccess: true, AnalysisTimestamp: now,
			BuildDurationSeconds: &duration},
		{Tool: tool, Project: "api", Environment: "prod", Server: "web-2",
			Status: models.StatusError, AnalysisTimestamp: now.Add(-time.Hour)},
	}

	if err := store.Insert(ctx, events...); err != nil {
		t.Fatalf("Failed to insert events: %v", err)
	}
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Failed to flush events: %v", err)
	}

	scope := storage.ScopeFilters(tool, "", "", "")

	t.Run("Count", func(t *testing.T) {
		n, err := store.Count(ctx, scope)
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if n != 2 {
			t.Errorf("Expected 2 events, got %d", n)
		}
	})

	t.Run("CountGrouped", func(t *testing.T) {
		buckets, err := store.CountGrouped(ctx, storage.GroupQuery{
			Levels:     []storage.Level{{Field: models.FieldProject, Size: 10}, {Field: models.FieldServer, Size: 10}},
			Breakdowns: []storage.Level{{Field: models.FieldStatus, Size: 10}},
			Filters:    scope,
			WithStats:  true,
		})
		if err != nil {
			t.Fatalf("CountGrouped failed: %v", err)
		}
		if len(buckets) != 1 || len(buckets[0].Children) != 2 {
			t.Fatalf("Unexpected buckets: %+v", buckets)
		}
	})

	t.Run("Avg", func(t *testing.T) {
		avg, ok, err := store.Avg(ctx, models.FieldBuildDurationSeconds, scope)
		if err != nil {
			t.Fatalf("Avg failed: %v", err)
		}
		if !ok || avg != duration {
			t.Errorf("Expected avg %f, got %f (ok=%v)", duration, avg, ok)
		}
	})

	t.Run("Search", func(t *testing.T) {
		found, err := store.Search(ctx, storage.SearchQuery{Filters: scope})
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(found) != 2 || found[0].Server != "web-1" {
			t.Errorf("Expected newest event first, got %+v", found)
		}
	})
}
