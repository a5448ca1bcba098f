// Package models defines the data model shared by the event store, the
// aggregation engine and the API.
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultResolutionEstimate is assumed when an event carries no resolution
// time estimate.
const DefaultResolutionEstimate = "30 minutes"

// DefaultConfidence is assumed when an event carries no confidence score.
const DefaultConfidence = 0.8

// AnalysisEvent is one analyzed pipeline-stage execution. Events are
// immutable once stored.
type AnalysisEvent struct {
	ID string `json:"id,omitempty"`

	Tool        string `json:"tool"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Server      string `json:"server"`
	LogType     string `json:"log_type"`

	Status            Status `json:"status"`
	DeploymentSuccess bool   `json:"deployment_success"`

	AnalysisTimestamp    time.Time `json:"analysis_timestamp"`
	BuildDurationSeconds *float64  `json:"build_duration_seconds,omitempty"`

	SeverityLevel       Severity `json:"severity_level"`
	BusinessImpactScore *float64 `json:"business_impact_score,omitempty"`
	ConfidenceScore     *float64 `json:"confidence_score,omitempty"`

	ResolutionTimeEstimate *string `json:"resolution_time_estimate,omitempty"`

	// Analysis payloads arrive as objects, JSON-encoded strings or junk.
	// They are kept verbatim and decoded by the payload extractor.
	FullSynthesis json.RawMessage `json:"full_synthesis,omitempty"`
	LLMResponse   json.RawMessage `json:"llm_response,omitempty"`

	AffectedComponents []string `json:"affected_components,omitempty"`

	CorrelationID             string `json:"correlation_id,omitempty"`
	FailureCategory           string `json:"failure_category,omitempty"`
	ErrorCount                *int   `json:"error_count,omitempty"`
	WarningCount              int    `json:"warning_count,omitempty"`
	ExecutiveSummary          string `json:"executive_summary,omitempty"`
	TechnicalComplexity       string `json:"technical_complexity,omitempty"`
	MonitoringRecommendations string `json:"monitoring_recommendations,omitempty"`

	ProcessingTimeMs *float64 `json:"processing_time_ms,omitempty"`
}

// UnmarshalJSON decodes a stored document, tolerating the loose shapes the
// upstream analyzers produce: numbers as strings, naive timestamps, a single
// string where a list is expected, and free-form enum values.
func (e *AnalysisEvent) UnmarshalJSON(data []byte) error {
	type alias AnalysisEvent
	aux := struct {
		*alias
		Status               json.RawMessage `json:"status"`
		SeverityLevel        json.RawMessage `json:"severity_level"`
		DeploymentSuccess    json.RawMessage `json:"deployment_success"`
		AnalysisTimestamp    json.RawMessage `json:"analysis_timestamp"`
		BuildDurationSeconds json.RawMessage `json:"build_duration_seconds"`
		BusinessImpactScore  json.RawMessage `json:"business_impact_score"`
		ConfidenceScore      json.RawMessage `json:"confidence_score"`
		ResolutionEstimate   json.RawMessage `json:"resolution_time_estimate"`
		AffectedComponents   json.RawMessage `json:"affected_components"`
		ErrorCount           json.RawMessage `json:"error_count"`
		WarningCount         json.RawMessage `json:"warning_count"`
		ProcessingTimeMs     json.RawMessage `json:"processing_time_ms"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if s, ok := rawString(aux.Status); ok {
		e.Status = ParseStatus(s)
	}
	if s, ok := rawString(aux.SeverityLevel); ok {
		e.SeverityLevel = ParseSeverity(s)
	}
	e.DeploymentSuccess = rawBool(aux.DeploymentSuccess)
	if s, ok := rawString(aux.AnalysisTimestamp); ok {
		e.AnalysisTimestamp, _ = ParseTimestamp(s)
	} else if f, ok := rawFloat(aux.AnalysisTimestamp); ok {
		e.AnalysisTimestamp = time.UnixMilli(int64(f)).UTC()
	}
	e.BuildDurationSeconds = optionalFloat(aux.BuildDurationSeconds)
	e.BusinessImpactScore = optionalFloat(aux.BusinessImpactScore)
	e.ConfidenceScore = optionalFloat(aux.ConfidenceScore)
	e.ProcessingTimeMs = optionalFloat(aux.ProcessingTimeMs)
	if s, ok := rawString(aux.ResolutionEstimate); ok {
		e.ResolutionTimeEstimate = &s
	}
	e.AffectedComponents = rawStrings(aux.AffectedComponents)
	if f, ok := rawFloat(aux.ErrorCount); ok {
		n := int(f)
		e.ErrorCount = &n
	}
	if f, ok := rawFloat(aux.WarningCount); ok {
		e.WarningCount = int(f)
	}
	if isNull(e.FullSynthesis) {
		e.FullSynthesis = nil
	}
	if isNull(e.LLMResponse) {
		e.LLMResponse = nil
	}

	e.Normalize()
	return nil
}

// Normalize applies the documented defaults for absent enum values.
func (e *AnalysisEvent) Normalize() {
	if e.Status == "" {
		e.Status = StatusUnknown
	}
	if e.SeverityLevel == "" {
		e.SeverityLevel = DefaultSeverity
	}
	if !e.AnalysisTimestamp.IsZero() {
		e.AnalysisTimestamp = e.AnalysisTimestamp.UTC()
	}
}

// ResolutionEstimate returns the resolution time phrase, or the
// "30 minutes" baseline when the event has none.
func (e *AnalysisEvent) ResolutionEstimate() string {
	if e.ResolutionTimeEstimate == nil {
		return DefaultResolutionEstimate
	}
	return *e.ResolutionTimeEstimate
}

// Confidence returns the confidence score or DefaultConfidence.
func (e *AnalysisEvent) Confidence() float64 {
	if e.ConfidenceScore == nil {
		return DefaultConfidence
	}
	return *e.ConfidenceScore
}

// Dimension returns the keyword value of a filterable field.
func (e *AnalysisEvent) Dimension(f Field) (string, bool) {
	switch f {
	case FieldTool:
		return e.Tool, true
	case FieldProject:
		return e.Project, true
	case FieldEnvironment:
		return e.Environment, true
	case FieldServer:
		return e.Server, true
	case FieldLogType:
		return e.LogType, true
	case FieldStatus:
		return string(e.Status), true
	case FieldSeverityLevel:
		return string(e.SeverityLevel), true
	case FieldFailureCategory:
		return e.FailureCategory, true
	case FieldDeploymentSuccess:
		return strconv.FormatBool(e.DeploymentSuccess), true
	}
	return "", false
}

// Number returns the value of a numeric field, if present.
func (e *AnalysisEvent) Number(f Field) (float64, bool) {
	var v *float64
	switch f {
	case FieldBuildDurationSeconds:
		v = e.BuildDurationSeconds
	case FieldBusinessImpactScore:
		v = e.BusinessImpactScore
	case FieldConfidenceScore:
		v = e.ConfidenceScore
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats seen in stored documents.
// Timestamps without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func rawString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	if s, ok := rawString(raw); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func optionalFloat(raw json.RawMessage) *float64 {
	f, ok := rawFloat(raw)
	if !ok {
		return nil
	}
	return &f
}

func rawBool(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if s, ok := rawString(raw); ok {
		b, _ := strconv.ParseBool(strings.TrimSpace(s))
		return b
	}
	if f, ok := rawFloat(raw); ok {
		return f != 0
	}
	return false
}

func rawStrings(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	if s, ok := rawString(raw); ok && s != "" {
		return []string{s}
	}
	return nil
}
