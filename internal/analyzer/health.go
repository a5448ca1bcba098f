package analyzer

import (
	"math"

	"github.com/fidde/cicd_health/pkg/models"
)

// Composite score weights.
const (
	successWeight = 0.4
	mttrWeight    = 0.3
	failureWeight = 0.3
)

// MTTRCeilingHours is the recovery time at which the MTTR component of
// the health score reaches zero.
const MTTRCeilingHours = 24.0

// HealthScore blends success rate, recovery time and failure rate into a
// 0-100 score rounded to one decimal. Rates are percentages.
func HealthScore(successRate, mttrHours, failureRate float64) float64 {
	mttrScore := math.Max(0, 100-(mttrHours/MTTRCeilingHours)*100)
	failureScore := math.Max(0, 100-failureRate)

	score := successRate*successWeight + mttrScore*mttrWeight + failureScore*failureWeight
	return Round(score, 1)
}

// Server health thresholds: a score above healthyAbove is healthy, above
// warningAbove is a warning, anything else is critical.
const (
	healthyAbove = 80.0
	warningAbove = 50.0
)

// ServerHealthScore scores a server by its share of error events. It is
// a separate measure from HealthScore and weighs errors only. The score is
// unrounded; status thresholds apply to it before display rounding.
func ServerHealthScore(errors, total int64) float64 {
	return math.Max(0, 100-Rate(errors, total))
}

// RateServer returns the displayed server score, rounded to one decimal,
// and the status labelled from the unrounded score.
func RateServer(errors, total int64) (float64, models.ServerStatus) {
	raw := ServerHealthScore(errors, total)
	return Round(raw, 1), ServerStatusFor(raw)
}

// ServerStatusFor labels a server health score.
func ServerStatusFor(score float64) models.ServerStatus {
	switch {
	case score > healthyAbove:
		return models.ServerHealthy
	case score > warningAbove:
		return models.ServerWarning
	default:
		return models.ServerCritical
	}
}
