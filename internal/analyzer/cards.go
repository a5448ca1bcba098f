package analyzer

import (
	"github.com/fidde/cicd_health/internal/payload"
	"github.com/fidde/cicd_health/pkg/models"
)

// Card defaults for fields an event or its synthesis may lack.
const (
	noSummary          = "No summary available"
	unknownCategory    = "Unknown"
	unknownAutoFix     = "Unknown"
	unknownEstimate    = "Unknown"
	defaultImpactScore = 0.5
	defaultErrorCount  = 1
)

// Cards reduces events to analysis cards, keeping their order.
func Cards(events []models.AnalysisEvent, observer Observer) []models.AnalysisCard {
	observer = observerOrNop(observer)
	cards := make([]models.AnalysisCard, 0, len(events))
	for i := range events {
		cards = append(cards, card(&events[i], observer))
	}
	return cards
}

func card(e *models.AnalysisEvent, observer Observer) models.AnalysisCard {
	decoded := payload.Extract(e.FullSynthesis)
	if decoded.Outcome == payload.Malformed {
		observer.MalformedPayload(fieldFullSynthesis)
	}
	synthesis := decoded.Fields

	c := models.AnalysisCard{
		ID:                     e.ID,
		FailureCategory:        e.FailureCategory,
		SeverityLevel:          e.SeverityLevel,
		BusinessImpactScore:    defaultImpactScore,
		ConfidenceScore:        e.Confidence(),
		Environment:            orUnknown(e.Environment),
		Server:                 orUnknown(e.Server),
		ErrorCount:             defaultErrorCount,
		Status:                 e.Status,
		AffectedComponents:     e.AffectedComponents,
		ResolutionTimeEstimate: unknownEstimate,
		Summary:                synthesis.String("failure_summary", noSummary),
		RootCause:              synthesis.Value("root_cause", map[string]any{}),
		FixSuggestion:          synthesis.Value("fix_suggestion", map[string]any{}),
		AutoFixStatus:          synthesis.Map("auto_fix").String("status", unknownAutoFix),
	}
	if c.FailureCategory == "" {
		c.FailureCategory = unknownCategory
	}
	if e.BusinessImpactScore != nil {
		c.BusinessImpactScore = *e.BusinessImpactScore
	}
	if e.ErrorCount != nil {
		c.ErrorCount = *e.ErrorCount
	}
	if c.AffectedComponents == nil {
		c.AffectedComponents = []string{}
	}
	if e.ResolutionTimeEstimate != nil {
		c.ResolutionTimeEstimate = *e.ResolutionTimeEstimate
	}
	if !e.AnalysisTimestamp.IsZero() {
		ts := e.AnalysisTimestamp
		c.Timestamp = &ts
	}
	return c
}

// LogEntries wraps events for the log search, decoding full_synthesis
// when it holds an object and keeping its text otherwise.
func LogEntries(events []models.AnalysisEvent, observer Observer) []models.LogEntry {
	observer = observerOrNop(observer)
	entries := make([]models.LogEntry, 0, len(events))
	for i := range events {
		e := &events[i]
		entry := models.LogEntry{AnalysisEvent: e}

		decoded := payload.Extract(e.FullSynthesis)
		switch decoded.Outcome {
		case payload.Structured, payload.DecodedString:
			entry.FullSynthesis = map[string]any(decoded.Fields)
		case payload.Malformed:
			observer.MalformedPayload(fieldFullSynthesis)
			entry.FullSynthesis = payload.Text(e.FullSynthesis)
		}
		entries = append(entries, entry)
	}
	return entries
}
