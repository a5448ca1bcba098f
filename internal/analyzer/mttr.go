package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fidde/cicd_health/internal/duration"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// MTTRPolicy decides what happens to resolution estimates that cannot be
// parsed into hours.
type MTTRPolicy string

const (
	// DropUnparsable leaves invalid estimates out of both sum and count.
	DropUnparsable MTTRPolicy = "drop"
	// DefaultUnparsable counts invalid estimates at a fixed value.
	DefaultUnparsable MTTRPolicy = "default"
)

const (
	// DefaultMTTRSampleLimit caps the error events sampled per estimate.
	DefaultMTTRSampleLimit = 1000
	// DefaultUnparsableHours is the value counted under DefaultUnparsable.
	DefaultUnparsableHours = 0.5
)

// MTTROptions configures an MTTREstimator. Zero values select defaults.
type MTTROptions struct {
	Policy       MTTRPolicy
	DefaultHours float64
	SampleLimit  int
	Observer     Observer
	Logger       *slog.Logger
}

// MTTREstimator estimates mean time to recovery of a project from the
// resolution estimates attached to its error events.
type MTTREstimator struct {
	store        storage.EventStore
	policy       MTTRPolicy
	defaultHours float64
	limit        int
	observer     Observer
	logger       *slog.Logger
}

// NewMTTREstimator creates an estimator reading from store.
func NewMTTREstimator(store storage.EventStore, opts MTTROptions) (*MTTREstimator, error) {
	switch opts.Policy {
	case "":
		opts.Policy = DropUnparsable
	case DropUnparsable, DefaultUnparsable:
	default:
		return nil, fmt.Errorf("unknown mttr policy %q", opts.Policy)
	}
	if opts.DefaultHours <= 0 {
		opts.DefaultHours = DefaultUnparsableHours
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultMTTRSampleLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &MTTREstimator{
		store:        store,
		policy:       opts.Policy,
		defaultHours: opts.DefaultHours,
		limit:        opts.SampleLimit,
		observer:     observerOrNop(opts.Observer),
		logger:       opts.Logger,
	}, nil
}

// Policy returns the configured policy.
func (m *MTTREstimator) Policy() MTTRPolicy {
	return m.policy
}

// Estimate returns the MTTR in hours of the most recent error events of
// a tool's project, 0 when there are none.
func (m *MTTREstimator) Estimate(ctx context.Context, tool, project string) (float64, error) {
	filters := storage.ScopeFilters(tool, project, "", "").
		With(storage.Eq(models.FieldStatus, string(models.StatusError)))

	events, err := m.store.Search(ctx, storage.SearchQuery{
		Filters: filters,
		Limit:   m.limit,
		Fields:  []models.Field{models.FieldResolutionTimeEstimate},
	})
	if err != nil {
		return 0, err
	}

	phrases := make([]string, 0, len(events))
	for i := range events {
		phrases = append(phrases, events[i].ResolutionEstimate())
	}
	return m.Mean(phrases), nil
}

// Mean averages the phrases in hours, rounded to two decimals.
func (m *MTTREstimator) Mean(phrases []string) float64 {
	var sum float64
	var n int

	for _, p := range phrases {
		est := duration.Parse(p)
		switch est.Form {
		case duration.Invalid:
			m.observer.UnparsableDuration(est.Form.String())
			m.logger.Debug("unparsable resolution estimate", "phrase", p, "policy", m.policy)
			if m.policy == DefaultUnparsable {
				sum += m.defaultHours
				n++
			}
			continue
		case duration.Fallback:
			m.observer.UnparsableDuration(est.Form.String())
		}
		sum += est.Hours
		n++
	}

	if n == 0 {
		return 0
	}
	return Round(sum/float64(n), 2)
}
