package models

import "time"

// StageAnalysis is the normalized LLM analysis attached to a stage record.
type StageAnalysis struct {
	FailureSummary  string  `json:"failure_summary"`
	RootCause       any     `json:"root_cause"`
	FixSuggestion   any     `json:"fix_suggestion"`
	RollbackPlan    any     `json:"rollback_plan"`
	AutoFix         any     `json:"auto_fix"`
	SeverityLevel   string  `json:"severity_level"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// StageRecord is one event reduced for the pipeline stage view.
type StageRecord struct {
	ID              string        `json:"id"`
	Timestamp       *time.Time    `json:"timestamp"`
	Status          Status        `json:"status"`
	SeverityLevel   Severity      `json:"severity_level"`
	ConfidenceScore float64       `json:"confidence_score"`
	Analysis        StageAnalysis `json:"analysis"`
}

// StageView maps every known stage to its records, newest first.
type StageView map[Stage][]StageRecord

// NewStageView returns a view with an empty list for every known stage.
func NewStageView() StageView {
	v := make(StageView, len(Stages))
	for _, s := range Stages {
		v[s] = []StageRecord{}
	}
	return v
}

// StageScope narrows the stage view. Environment and Server are optional;
// Server is only honored together with Environment.
type StageScope struct {
	Tool        string `json:"tool"`
	Project     string `json:"project"`
	Environment string `json:"environment,omitempty"`
	Server      string `json:"server,omitempty"`
}

// AnalysisCard is an analysis summary for the project detail page.
type AnalysisCard struct {
	ID                     string     `json:"id"`
	FailureCategory        string     `json:"failure_category"`
	SeverityLevel          Severity   `json:"severity_level"`
	BusinessImpactScore    float64    `json:"business_impact_score"`
	ConfidenceScore        float64    `json:"confidence_score"`
	Timestamp              *time.Time `json:"timestamp"`
	Environment            string     `json:"environment"`
	Server                 string     `json:"server"`
	ErrorCount             int        `json:"error_count"`
	Status                 Status     `json:"status"`
	AffectedComponents     []string   `json:"affected_components"`
	ResolutionTimeEstimate string     `json:"resolution_time_estimate"`
	Summary                string     `json:"summary"`
	RootCause              any        `json:"root_cause"`
	FixSuggestion          any        `json:"fix_suggestion"`
	AutoFixStatus          string     `json:"auto_fix_status"`
}

// LogEntry is an event as returned by the log search, with the synthesis
// payload decoded when possible and kept as text otherwise.
type LogEntry struct {
	*AnalysisEvent
	FullSynthesis any `json:"full_synthesis"`
}

// LogQuery filters the log search. Empty fields are ignored.
type LogQuery struct {
	Tool          string `json:"tool,omitempty"`
	Project       string `json:"project,omitempty"`
	Environment   string `json:"environment,omitempty"`
	Server        string `json:"server,omitempty"`
	LogType       string `json:"log_type,omitempty"`
	SeverityLevel string `json:"severity_level,omitempty"`
	Status        string `json:"status,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}
