package models

import "time"

// Bucket is one group produced by a grouped count. Children hold the next
// grouping level; Breakdowns hold per-bucket counts of side fields.
type Bucket struct {
	Key        string             `json:"key"`
	Count      int64              `json:"count"`
	Children   []Bucket           `json:"children,omitempty"`
	Breakdowns map[Field][]Bucket `json:"breakdowns,omitempty"`
	Stats      *BucketStats       `json:"stats,omitempty"`
}

// BucketStats carries the per-bucket statistics a grouped count can attach.
type BucketStats struct {
	LatestTimestamp      *time.Time `json:"latest_timestamp,omitempty"`
	DeploymentSuccessAvg *float64   `json:"deployment_success_avg,omitempty"`
}

// Breakdown returns the breakdown buckets for a field.
func (b Bucket) Breakdown(f Field) []Bucket {
	if b.Breakdowns == nil {
		return nil
	}
	return b.Breakdowns[f]
}

// HistogramBucket is one time bucket of a histogram.
type HistogramBucket struct {
	Start        time.Time `json:"start"`
	Count        int64     `json:"count"`
	SuccessCount int64     `json:"success_count"`
}

// NamedCount is a (name, count) pair for pickers and mixes.
type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// RollupScope narrows a rollup. Fields must be set root-first: a project
// requires a tool, an environment requires a project.
type RollupScope struct {
	Tool        string `json:"tool,omitempty"`
	Project     string `json:"project,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// RootLevel returns the level of the top nodes for this scope.
func (s RollupScope) RootLevel() Level {
	switch {
	case s.Environment != "":
		return LevelServer
	case s.Project != "":
		return LevelEnvironment
	case s.Tool != "":
		return LevelProject
	default:
		return LevelTool
	}
}

// RollupNode is one node of the tool → project → environment → server
// hierarchy.
type RollupNode struct {
	Level        Level            `json:"level"`
	Name         string           `json:"name"`
	Count        int64            `json:"count"`
	StatusCounts map[Status]int64 `json:"status_counts"`
	Children     []RollupNode     `json:"children,omitempty"`

	// Project-level only.
	OverallStatus   Status       `json:"overall_status,omitempty"`
	Tools           []NamedCount `json:"tools,omitempty"`
	LatestTimestamp *time.Time   `json:"latest_timestamp,omitempty"`
	SuccessRate     *float64     `json:"success_rate,omitempty"`
}

// RollupTree is the result of a rollup query.
type RollupTree struct {
	Scope RollupScope  `json:"scope"`
	Level Level        `json:"level"`
	Total int64        `json:"total"`
	Nodes []RollupNode `json:"nodes"`
}

// ServerStatus labels server-level health.
type ServerStatus string

const (
	ServerHealthy  ServerStatus = "healthy"
	ServerWarning  ServerStatus = "warning"
	ServerCritical ServerStatus = "critical"
)

// ServerHealth is the drill-down view of one server.
type ServerHealth struct {
	Name        string       `json:"name"`
	TotalLogs   int64        `json:"total_logs"`
	ErrorCount  int64        `json:"error_count"`
	HealthScore float64      `json:"health_score"`
	LastSeen    *time.Time   `json:"last_seen,omitempty"`
	Status      ServerStatus `json:"status"`
}

// ProjectDetails summarizes one project across tools.
type ProjectDetails struct {
	Project           string       `json:"project"`
	Environments      []NamedCount `json:"environments"`
	Servers           []NamedCount `json:"servers"`
	SeverityLevels    []NamedCount `json:"severity_levels"`
	AvgBuildDuration  float64      `json:"avg_build_duration"`
	AvgBusinessImpact float64      `json:"avg_business_impact"`
}

// ProjectSummary is one row of the cross-tool project list.
type ProjectSummary struct {
	Project         string           `json:"project"`
	Count           int64            `json:"count"`
	Tools           []NamedCount     `json:"tools"`
	StatusCounts    map[Status]int64 `json:"status_counts"`
	OverallStatus   Status           `json:"overall_status"`
	LatestTimestamp *time.Time       `json:"latest_timestamp,omitempty"`
	SuccessRate     float64          `json:"success_rate"`
}

// DimensionValue is one option of an environment or server picker.
type DimensionValue struct {
	Level Level  `json:"level"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}
