package models

import "strings"

// Status is the outcome of a pipeline-stage execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps a raw status string onto the closed Status set.
// Unrecognized values map to StatusUnknown.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusSuccess:
		return StatusSuccess
	case StatusWarning:
		return StatusWarning
	case StatusError:
		return StatusError
	default:
		return StatusUnknown
	}
}

// Severity is the severity level assigned by the analysis.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

// DefaultSeverity is used when an event carries no severity at all.
const DefaultSeverity = SeverityMedium

// ParseSeverity maps a raw severity string onto the closed Severity set.
func ParseSeverity(raw string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityLow:
		return SeverityLow
	case SeverityMedium:
		return SeverityMedium
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// Field names a queryable attribute of an analysis event.
type Field string

const (
	FieldTool                   Field = "tool"
	FieldProject                Field = "project"
	FieldEnvironment            Field = "environment"
	FieldServer                 Field = "server"
	FieldLogType                Field = "log_type"
	FieldStatus                 Field = "status"
	FieldSeverityLevel          Field = "severity_level"
	FieldFailureCategory        Field = "failure_category"
	FieldDeploymentSuccess      Field = "deployment_success"
	FieldAnalysisTimestamp      Field = "analysis_timestamp"
	FieldBuildDurationSeconds   Field = "build_duration_seconds"
	FieldBusinessImpactScore    Field = "business_impact_score"
	FieldConfidenceScore        Field = "confidence_score"
	FieldResolutionTimeEstimate Field = "resolution_time_estimate"
	FieldFullSynthesis          Field = "full_synthesis"
	FieldLLMResponse            Field = "llm_response"
	FieldAffectedComponents     Field = "affected_components"
)

// Groupable reports whether the field is a keyword usable for terms grouping.
func (f Field) Groupable() bool {
	switch f {
	case FieldTool, FieldProject, FieldEnvironment, FieldServer, FieldLogType,
		FieldStatus, FieldSeverityLevel, FieldFailureCategory:
		return true
	}
	return false
}

// Filterable reports whether the field supports equality filters.
func (f Field) Filterable() bool {
	return f.Groupable() || f == FieldDeploymentSuccess
}

// Numeric reports whether the field can be averaged.
func (f Field) Numeric() bool {
	switch f {
	case FieldBuildDurationSeconds, FieldBusinessImpactScore, FieldConfidenceScore:
		return true
	}
	return false
}

// Level is one tier of the rollup hierarchy.
type Level string

const (
	LevelTool        Level = "tool"
	LevelProject     Level = "project"
	LevelEnvironment Level = "environment"
	LevelServer      Level = "server"
)

// Hierarchy lists the rollup levels from the root down.
var Hierarchy = []Level{LevelTool, LevelProject, LevelEnvironment, LevelServer}

// Field returns the event field a level groups on.
func (l Level) Field() Field {
	return Field(l)
}

// ParseLevel validates a level name.
func ParseLevel(raw string) (Level, bool) {
	for _, l := range Hierarchy {
		if string(l) == raw {
			return l, true
		}
	}
	return "", false
}

// Stage is a named phase of a CI/CD run.
type Stage string

const (
	StageCheckout       Stage = "checkout"
	StageBuild          Stage = "build"
	StageTest           Stage = "test"
	StageStaticAnalysis Stage = "static-analysis"
)

// Stages lists the known pipeline stages in pipeline order.
var Stages = []Stage{StageCheckout, StageBuild, StageTest, StageStaticAnalysis}
