package analyzer

import (
	"github.com/fidde/cicd_health/pkg/models"
)

// DefaultTrendDays is the number of daily buckets kept in a trend.
const DefaultTrendDays = 7

const trendDateLayout = "2006-01-02"

// MetricInputs are the store aggregates behind the metrics of one
// (tool, project) pair.
type MetricInputs struct {
	Total      int64
	Successful int64
	Failed     int64
	Errors     int64

	// AvgBuildSeconds is 0 when no event carries a build duration.
	AvgBuildSeconds float64
	MTTRHours       float64

	// Daily is the daily histogram of the pair, oldest first.
	Daily []models.HistogramBucket
}

// DeriveMetrics computes the derived metrics of a (tool, project) pair.
// With no events every field is zero, the health score included.
func DeriveMetrics(tool, project string, in MetricInputs, trendDays int) models.DerivedMetrics {
	m := models.DerivedMetrics{
		Tool:             tool,
		Project:          project,
		TotalBuilds:      in.Total,
		SuccessfulBuilds: in.Successful,
		FailedBuilds:     in.Failed,
		TotalErrors:      in.Errors,
		Trend:            Trend(in.Daily, trendDays),
	}
	if in.Total == 0 {
		return m
	}

	successRate := Rate(in.Successful, in.Total)
	failureRate := Rate(in.Failed, in.Total)

	m.SuccessRate = Round(successRate, 1)
	m.FailureRate = Round(failureRate, 1)
	m.DeploymentRate = m.SuccessRate
	if in.AvgBuildSeconds > 0 {
		m.AvgBuildTimeMinutes = Round(in.AvgBuildSeconds/60, 1)
	}
	if in.MTTRHours > 0 {
		m.MTTRHours = in.MTTRHours
	}
	m.HealthScore = HealthScore(successRate, m.MTTRHours, failureRate)
	return m
}

// Trend keeps the last days buckets of a daily histogram.
func Trend(daily []models.HistogramBucket, days int) []models.TrendPoint {
	if days <= 0 {
		days = DefaultTrendDays
	}
	if len(daily) > days {
		daily = daily[len(daily)-days:]
	}

	points := make([]models.TrendPoint, 0, len(daily))
	for _, b := range daily {
		points = append(points, models.TrendPoint{
			Date:        b.Start.UTC().Format(trendDateLayout),
			Builds:      b.Count,
			SuccessRate: Round(Rate(b.SuccessCount, b.Count), 1),
		})
	}
	return points
}
