package models

// TrendPoint is one daily bucket of the build trend.
type TrendPoint struct {
	Date        string  `json:"date"`
	Builds      int64   `json:"builds"`
	SuccessRate float64 `json:"success_rate"`
}

// DerivedMetrics are the health metrics of one (tool, project) pair.
// All rates are percentages in [0, 100].
type DerivedMetrics struct {
	Tool    string `json:"tool"`
	Project string `json:"project"`

	SuccessRate         float64 `json:"success_rate"`
	FailureRate         float64 `json:"failure_rate"`
	AvgBuildTimeMinutes float64 `json:"avg_build_time_minutes"`
	DeploymentRate      float64 `json:"deployment_rate"`
	MTTRHours           float64 `json:"mttr_hours"`
	HealthScore         float64 `json:"health_score"`

	TotalBuilds      int64 `json:"total_builds"`
	SuccessfulBuilds int64 `json:"successful_builds"`
	FailedBuilds     int64 `json:"failed_builds"`
	TotalErrors      int64 `json:"total_errors"`

	Trend []TrendPoint `json:"trend_data"`
}
