package analyzer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fidde/cicd_health/internal/payload"
	"github.com/fidde/cicd_health/pkg/models"
)

// DefaultStageEventLimit caps the events classified per stage view.
const DefaultStageEventLimit = 1000

// Defaults for stage records whose analysis payload lacks a field.
const (
	noAnalysis         = "No analysis available"
	unknownSeverity    = "unknown"
	fieldLLMResponse   = "llm_response"
	fieldFullSynthesis = "full_synthesis"
)

// StageClassifier partitions events into pipeline stages by log type.
type StageClassifier struct {
	aliases  map[string]models.Stage
	observer Observer
	logger   *slog.Logger
}

// NewStageClassifier creates a classifier mapping log types to stages.
// Every alias must name a known stage.
func NewStageClassifier(aliases map[string]string, observer Observer, logger *slog.Logger) (*StageClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	known := make(map[models.Stage]bool, len(models.Stages))
	for _, s := range models.Stages {
		known[s] = true
	}

	mapped := make(map[string]models.Stage, len(aliases))
	for tag, stage := range aliases {
		s := models.Stage(stage)
		if !known[s] {
			return nil, fmt.Errorf("stage alias %q maps to unknown stage %q", tag, stage)
		}
		mapped[strings.ToLower(tag)] = s
	}

	return &StageClassifier{
		aliases:  mapped,
		observer: observerOrNop(observer),
		logger:   logger,
	}, nil
}

// StageOf returns the stage a log type belongs to.
func (c *StageClassifier) StageOf(logType string) (models.Stage, bool) {
	s, ok := c.aliases[strings.ToLower(strings.TrimSpace(logType))]
	return s, ok
}

// Classify builds the stage view of events, which must be ordered newest
// first. Events of unknown stages are dropped.
func (c *StageClassifier) Classify(events []models.AnalysisEvent) models.StageView {
	view := models.NewStageView()
	for i := range events {
		stage, ok := c.StageOf(events[i].LogType)
		if !ok {
			continue
		}
		view[stage] = append(view[stage], c.Record(&events[i]))
	}
	return view
}

// Record reduces an event to a stage record.
func (c *StageClassifier) Record(e *models.AnalysisEvent) models.StageRecord {
	rec := models.StageRecord{
		ID:              e.ID,
		Status:          e.Status,
		SeverityLevel:   e.SeverityLevel,
		ConfidenceScore: e.Confidence(),
		Analysis:        c.analysis(e),
	}
	if !e.AnalysisTimestamp.IsZero() {
		ts := e.AnalysisTimestamp
		rec.Timestamp = &ts
	}
	return rec
}

// analysis decodes llm_response, or full_synthesis when the event has no
// llm_response, into a fully defaulted analysis.
func (c *StageClassifier) analysis(e *models.AnalysisEvent) models.StageAnalysis {
	field, raw := fieldLLMResponse, e.LLMResponse
	decoded := payload.Extract(raw)
	if decoded.Outcome == payload.Absent {
		field, raw = fieldFullSynthesis, e.FullSynthesis
		decoded = payload.Extract(raw)
	}

	if decoded.Outcome == payload.Malformed {
		c.observer.MalformedPayload(field)
		c.logger.Debug("malformed analysis payload", "id", e.ID, "field", field)
	}

	f := decoded.Fields
	return models.StageAnalysis{
		FailureSummary:  f.String("failure_summary", noAnalysis),
		RootCause:       f.Value("root_cause", map[string]any{}),
		FixSuggestion:   f.Value("fix_suggestion", map[string]any{}),
		RollbackPlan:    f.Value("rollback_plan", map[string]any{}),
		AutoFix:         f.Value("auto_fix", map[string]any{}),
		SeverityLevel:   f.String("severity_level", unknownSeverity),
		ConfidenceScore: f.Float("confidence_score", 0),
	}
}
