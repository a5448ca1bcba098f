package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// ErrInvalidScope is returned for scopes that skip a hierarchy level.
var ErrInvalidScope = errors.New("invalid scope")

// RollupLimits caps the buckets kept per level of the hierarchy and per
// side breakdown.
type RollupLimits struct {
	Tools        int
	Projects     int
	Environments int
	Servers      int

	Statuses int
	ToolMix  int
}

// DefaultRollupLimits returns the caps of the tool view.
func DefaultRollupLimits() RollupLimits {
	return RollupLimits{Tools: 20, Projects: 100, Environments: 20, Servers: 100, Statuses: 10, ToolMix: 10}
}

func (l RollupLimits) size(level models.Level) int {
	switch level {
	case models.LevelTool:
		return l.Tools
	case models.LevelProject:
		return l.Projects
	case models.LevelEnvironment:
		return l.Environments
	default:
		return l.Servers
	}
}

// ValidateScope checks that a scope is set root-first.
func ValidateScope(s models.RollupScope) error {
	if s.Project != "" && s.Tool == "" {
		return fmt.Errorf("%w: project %q needs a tool", ErrInvalidScope, s.Project)
	}
	if s.Environment != "" && s.Project == "" {
		return fmt.Errorf("%w: environment %q needs a project", ErrInvalidScope, s.Environment)
	}
	return nil
}

// ScopeFilters returns the store filters selecting a scope.
func ScopeFilters(s models.RollupScope) storage.Filters {
	return storage.ScopeFilters(s.Tool, s.Project, s.Environment, "")
}

// levelsBelow returns the hierarchy from root down to servers.
func levelsBelow(root models.Level) []models.Level {
	for i, l := range models.Hierarchy {
		if l == root {
			return models.Hierarchy[i:]
		}
	}
	return nil
}

// RollupQuery builds the grouped count behind a rollup of scope.
func RollupQuery(scope models.RollupScope, limits RollupLimits) (storage.GroupQuery, error) {
	if err := ValidateScope(scope); err != nil {
		return storage.GroupQuery{}, err
	}

	q := storage.GroupQuery{
		Breakdowns: []storage.Level{
			{Field: models.FieldStatus, Size: limits.Statuses},
			{Field: models.FieldTool, Size: limits.ToolMix},
		},
		Filters:   ScopeFilters(scope),
		WithStats: true,
	}
	for _, l := range levelsBelow(scope.RootLevel()) {
		q.Levels = append(q.Levels, storage.Level{Field: l.Field(), Size: limits.size(l)})
	}
	return q, nil
}

// BuildRollup turns the buckets of a RollupQuery into the rollup tree.
func BuildRollup(scope models.RollupScope, buckets []models.Bucket, total int64) models.RollupTree {
	levels := levelsBelow(scope.RootLevel())
	return models.RollupTree{
		Scope: scope,
		Level: scope.RootLevel(),
		Total: total,
		Nodes: rollupNodes(levels, buckets),
	}
}

func rollupNodes(levels []models.Level, buckets []models.Bucket) []models.RollupNode {
	if len(levels) == 0 {
		return nil
	}
	nodes := make([]models.RollupNode, 0, len(buckets))
	for _, b := range buckets {
		n := models.RollupNode{
			Level:        levels[0],
			Name:         b.Key,
			Count:        b.Count,
			StatusCounts: StatusCounts(b.Breakdown(models.FieldStatus)),
			Children:     rollupNodes(levels[1:], b.Children),
		}
		if levels[0] == models.LevelProject {
			n.OverallStatus = OverallStatus(n.StatusCounts)
			n.Tools = namedCounts(b.Breakdown(models.FieldTool))
			n.LatestTimestamp, n.SuccessRate = bucketStats(b)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// StatusCounts returns the status distribution of status buckets. The
// success, warning and error keys are always present.
func StatusCounts(buckets []models.Bucket) map[models.Status]int64 {
	counts := map[models.Status]int64{
		models.StatusSuccess: 0,
		models.StatusWarning: 0,
		models.StatusError:   0,
	}
	for _, b := range buckets {
		counts[models.ParseStatus(b.Key)] += b.Count
	}
	return counts
}

// OverallStatus applies worst-case-wins: any error makes the whole scope
// an error, otherwise any warning makes it a warning.
func OverallStatus(counts map[models.Status]int64) models.Status {
	switch {
	case counts[models.StatusError] > 0:
		return models.StatusError
	case counts[models.StatusWarning] > 0:
		return models.StatusWarning
	default:
		return models.StatusSuccess
	}
}

func namedCounts(buckets []models.Bucket) []models.NamedCount {
	out := make([]models.NamedCount, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.NamedCount{Name: b.Key, Count: b.Count})
	}
	return out
}

// bucketStats returns the latest timestamp and the deployment success
// ratio as a percentage rounded to one decimal.
func bucketStats(b models.Bucket) (latest *time.Time, successRate *float64) {
	if b.Stats == nil {
		return nil, nil
	}
	latest = b.Stats.LatestTimestamp
	if avg := b.Stats.DeploymentSuccessAvg; avg != nil {
		rate := Round(*avg*100, 1)
		successRate = &rate
	}
	return latest, successRate
}

// SummaryLimits caps the project summary view.
type SummaryLimits struct {
	Projects int
	Tools    int
	Statuses int
}

// ProjectSummaryQuery groups every project across tools.
func ProjectSummaryQuery(limits SummaryLimits) storage.GroupQuery {
	return storage.GroupQuery{
		Levels: []storage.Level{{Field: models.FieldProject, Size: limits.Projects}},
		Breakdowns: []storage.Level{
			{Field: models.FieldTool, Size: limits.Tools},
			{Field: models.FieldStatus, Size: limits.Statuses},
		},
		WithStats: true,
	}
}

// BuildProjectSummaries turns project buckets into summaries.
func BuildProjectSummaries(buckets []models.Bucket) []models.ProjectSummary {
	out := make([]models.ProjectSummary, 0, len(buckets))
	for _, b := range buckets {
		s := models.ProjectSummary{
			Project:      b.Key,
			Count:        b.Count,
			Tools:        namedCounts(b.Breakdown(models.FieldTool)),
			StatusCounts: StatusCounts(b.Breakdown(models.FieldStatus)),
		}
		s.OverallStatus = OverallStatus(s.StatusCounts)
		latest, rate := bucketStats(b)
		s.LatestTimestamp = latest
		if rate != nil {
			s.SuccessRate = *rate
		}
		out = append(out, s)
	}
	return out
}

// ServerQuery groups the servers of an environment with their statuses.
func ServerQuery(tool, project, environment string, size int) storage.GroupQuery {
	return storage.GroupQuery{
		Levels:     []storage.Level{{Field: models.FieldServer, Size: size}},
		Breakdowns: []storage.Level{{Field: models.FieldStatus}},
		Filters:    storage.ScopeFilters(tool, project, environment, ""),
		WithStats:  true,
	}
}

// BuildServerHealth scores every server bucket of a ServerQuery.
func BuildServerHealth(buckets []models.Bucket) []models.ServerHealth {
	out := make([]models.ServerHealth, 0, len(buckets))
	for _, b := range buckets {
		errs := StatusCounts(b.Breakdown(models.FieldStatus))[models.StatusError]
		score, status := RateServer(errs, b.Count)
		h := models.ServerHealth{
			Name:        b.Key,
			TotalLogs:   b.Count,
			ErrorCount:  errs,
			HealthScore: score,
			Status:      status,
		}
		if b.Stats != nil {
			h.LastSeen = b.Stats.LatestTimestamp
		}
		out = append(out, h)
	}
	return out
}

// DimensionQuery groups the values of one level inside a scope.
func DimensionQuery(level models.Level, scope models.RollupScope, size int) (storage.GroupQuery, error) {
	if err := ValidateScope(scope); err != nil {
		return storage.GroupQuery{}, err
	}
	if _, ok := models.ParseLevel(string(level)); !ok {
		return storage.GroupQuery{}, fmt.Errorf("%w: unknown level %q", ErrInvalidScope, level)
	}
	return storage.GroupQuery{
		Levels:  []storage.Level{{Field: level.Field(), Size: size}},
		Filters: ScopeFilters(scope),
	}, nil
}

// BuildDimensionValues lists the buckets of a DimensionQuery.
func BuildDimensionValues(level models.Level, buckets []models.Bucket) []models.DimensionValue {
	out := make([]models.DimensionValue, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.DimensionValue{Level: level, Name: b.Key, Count: b.Count})
	}
	return out
}

// DetailLimits caps the project details view.
type DetailLimits struct {
	Environments int
	Servers      int
	Severities   int
}

// ProjectDetailsQuery counts a project's environments, servers and
// severities in one grouping.
func ProjectDetailsQuery(project string, limits DetailLimits) storage.GroupQuery {
	return storage.GroupQuery{
		Levels: []storage.Level{{Field: models.FieldProject, Size: 1}},
		Breakdowns: []storage.Level{
			{Field: models.FieldEnvironment, Size: limits.Environments},
			{Field: models.FieldServer, Size: limits.Servers},
			{Field: models.FieldSeverityLevel, Size: limits.Severities},
		},
		Filters: storage.Filters{storage.Eq(models.FieldProject, project)},
	}
}

// BuildProjectDetails fills details from a ProjectDetailsQuery result and
// the two averages, which are 0 when absent.
func BuildProjectDetails(project string, buckets []models.Bucket, avgBuild, avgImpact float64) models.ProjectDetails {
	d := models.ProjectDetails{
		Project:           project,
		Environments:      []models.NamedCount{},
		Servers:           []models.NamedCount{},
		SeverityLevels:    []models.NamedCount{},
		AvgBuildDuration:  Round(avgBuild, 2),
		AvgBusinessImpact: Round(avgImpact, 2),
	}
	if len(buckets) == 0 {
		return d
	}
	b := buckets[0]
	d.Environments = namedCounts(b.Breakdown(models.FieldEnvironment))
	d.Servers = namedCounts(b.Breakdown(models.FieldServer))
	d.SeverityLevels = namedCounts(b.Breakdown(models.FieldSeverityLevel))
	return d
}
