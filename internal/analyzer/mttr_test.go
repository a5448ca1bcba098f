package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/memory"
	"github.com/fidde/cicd_health/pkg/models"
)

func estimate(s string) *string { return &s }

func errorEvent(id, tool, project string, at time.Time, est *string) models.AnalysisEvent {
	return models.AnalysisEvent{
		ID:                     id,
		Tool:                   tool,
		Project:                project,
		Status:                 models.StatusError,
		AnalysisTimestamp:      at,
		ResolutionTimeEstimate: est,
	}
}

func TestMTTREstimate(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewWithEvents(
		errorEvent("a", "jenkins", "api", now, estimate("1 hour")),
		errorEvent("b", "jenkins", "api", now.Add(-time.Hour), estimate("3 hours")),
		errorEvent("c", "jenkins", "api", now.Add(-2*time.Hour), estimate("30 minutes")),
		// Not an error: ignored.
		models.AnalysisEvent{ID: "d", Tool: "jenkins", Project: "api", Status: models.StatusSuccess,
			AnalysisTimestamp: now, ResolutionTimeEstimate: estimate("20 hours")},
		// Other project: ignored.
		errorEvent("e", "jenkins", "web", now, estimate("10 hours")),
	)

	m, err := NewMTTREstimator(store, MTTROptions{})
	if err != nil {
		t.Fatalf("NewMTTREstimator failed: %v", err)
	}

	got, err := m.Estimate(context.Background(), "jenkins", "api")
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("expected 1.5 hours, got %v", got)
	}
}

func TestMTTRNoSamples(t *testing.T) {
	m, err := NewMTTREstimator(memory.New(), MTTROptions{})
	if err != nil {
		t.Fatalf("NewMTTREstimator failed: %v", err)
	}
	got, err := m.Estimate(context.Background(), "jenkins", "api")
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestMTTRMissingEstimateUsesBaseline(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewWithEvents(
		errorEvent("a", "gitlab", "api", now, nil),
		errorEvent("b", "gitlab", "api", now, estimate("90 minutes")),
	)
	m, _ := NewMTTREstimator(store, MTTROptions{})

	got, err := m.Estimate(context.Background(), "gitlab", "api")
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected (0.5 + 1.5) / 2 = 1, got %v", got)
	}
}

func TestMTTRMeanPolicies(t *testing.T) {
	phrases := []string{"2 hours", "many hours", "4 hours"}

	tests := []struct {
		name   string
		policy MTTRPolicy
		want   float64
	}{
		{name: "drop excludes invalid samples", policy: DropUnparsable, want: 3},
		{name: "default counts invalid samples", policy: DefaultUnparsable, want: 2.17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newCountingObserver()
			m, err := NewMTTREstimator(memory.New(), MTTROptions{Policy: tt.policy, Observer: obs})
			if err != nil {
				t.Fatalf("NewMTTREstimator failed: %v", err)
			}
			if got := m.Mean(phrases); got != tt.want {
				t.Fatalf("Mean() = %v, want %v", got, tt.want)
			}
			if obs.unparsable["invalid"] != 1 {
				t.Fatalf("expected one invalid sample observed, got %v", obs.unparsable)
			}
		})
	}
}

func TestMTTRMeanFallbackIsCounted(t *testing.T) {
	obs := newCountingObserver()
	m, _ := NewMTTREstimator(memory.New(), MTTROptions{Observer: obs})

	if got := m.Mean([]string{"soon", "3 hours"}); got != 2 {
		t.Fatalf("expected (1 + 3) / 2 = 2, got %v", got)
	}
	if obs.unparsable["fallback"] != 1 {
		t.Fatalf("expected fallback observed, got %v", obs.unparsable)
	}
}

func TestMTTRUnknownPolicy(t *testing.T) {
	if _, err := NewMTTREstimator(memory.New(), MTTROptions{Policy: "ignore"}); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestMTTRStoreFailure(t *testing.T) {
	store := memory.New()
	store.Close()

	m, _ := NewMTTREstimator(store, MTTROptions{})
	if _, err := m.Estimate(context.Background(), "jenkins", "api"); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
