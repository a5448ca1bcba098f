// Package query exposes the top-level health queries. Each query fans its
// independent store reads out concurrently, derives its view with the
// analyzer package and wraps the outcome in a models.Result.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/fidde/cicd_health/internal/analyzer"
	"github.com/fidde/cicd_health/internal/config"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// ErrInvalidInput marks queries missing a required argument.
var ErrInvalidInput = errors.New("invalid input")

// analysesLimit caps the analysis cards of a project.
const analysesLimit = 50

// IsInputError reports whether err was caused by the caller's arguments
// rather than by the store.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, analyzer.ErrInvalidScope) ||
		errors.Is(err, storage.ErrInvalidQuery)
}

// Service answers health queries against one event store.
type Service struct {
	store    storage.EventStore
	mttr     *analyzer.MTTREstimator
	stages   *analyzer.StageClassifier
	cfg      config.AnalysisConfig
	observer analyzer.Observer
	logger   *slog.Logger
}

// New creates a service reading from store.
func New(store storage.EventStore, cfg config.AnalysisConfig, observer analyzer.Observer, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("event store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TrendDays <= 0 {
		cfg.TrendDays = analyzer.DefaultTrendDays
	}

	mttr, err := analyzer.NewMTTREstimator(store, analyzer.MTTROptions{
		Policy:       analyzer.MTTRPolicy(cfg.MTTRPolicy),
		DefaultHours: cfg.MTTRDefaultHours,
		SampleLimit:  cfg.MTTRSampleLimit,
		Observer:     observer,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	aliases := cfg.StageAliases
	if len(aliases) == 0 {
		aliases = config.DefaultStageAliases()
	}
	stages, err := analyzer.NewStageClassifier(aliases, observer, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    store,
		mttr:     mttr,
		stages:   stages,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
	}, nil
}

// failure logs err and wraps it in an error result carrying fallback.
func failure[T any](s *Service, query string, err error, fallback T, attrs ...any) models.Result[T] {
	attrs = append(attrs, "query", query, "error", err)
	if IsInputError(err) {
		s.logger.Debug("rejected query", attrs...)
	} else {
		s.logger.Error("query failed", attrs...)
	}
	return models.Failure(err, fallback)
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, pairs[i])
		}
	}
	return nil
}

func (s *Service) rollupLimits() analyzer.RollupLimits {
	l := s.cfg.Limits
	return analyzer.RollupLimits{
		Tools:        l.Tools,
		Projects:     l.Projects,
		Environments: l.Environments,
		Servers:      l.Servers,
		Statuses:     l.BreakdownStatuses,
		ToolMix:      l.BreakdownTools,
	}
}

// Rollup summarizes the hierarchy below scope.
func (s *Service) Rollup(ctx context.Context, scope models.RollupScope) models.Result[models.RollupTree] {
	fallback := models.RollupTree{Scope: scope, Level: scope.RootLevel(), Nodes: []models.RollupNode{}}

	q, err := analyzer.RollupQuery(scope, s.rollupLimits())
	if err != nil {
		return failure(s, "rollup", err, fallback, "scope", scope)
	}

	var buckets []models.Bucket
	var total int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buckets, err = s.store.CountGrouped(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.store.Count(gctx, q.Filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return failure(s, "rollup", err, fallback, "scope", scope)
	}

	tree := analyzer.BuildRollup(scope, buckets, total)
	return models.Success(tree, len(tree.Nodes))
}

// ProjectSummaries lists every project across tools.
func (s *Service) ProjectSummaries(ctx context.Context) models.Result[[]models.ProjectSummary] {
	l := s.cfg.Limits
	q := analyzer.ProjectSummaryQuery(analyzer.SummaryLimits{
		Projects: l.SummaryProjects,
		Tools:    l.SummaryTools,
		Statuses: l.SummaryStatuses,
	})

	buckets, err := s.store.CountGrouped(ctx, q)
	if err != nil {
		return failure(s, "project summaries", err, []models.ProjectSummary{})
	}
	summaries := analyzer.BuildProjectSummaries(buckets)
	return models.Success(summaries, len(summaries))
}

// Metrics derives the health metrics of a tool's project.
func (s *Service) Metrics(ctx context.Context, tool, project string) models.Result[models.DerivedMetrics] {
	fallback := analyzer.DeriveMetrics(tool, project, analyzer.MetricInputs{}, s.cfg.TrendDays)
	if err := required("tool", tool, "project", project); err != nil {
		return failure(s, "metrics", err, fallback)
	}

	scope := storage.ScopeFilters(tool, project, "", "")
	var in analyzer.MetricInputs

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, extra ...storage.Filter) {
		g.Go(func() error {
			n, err := s.store.Count(gctx, scope.With(extra...))
			*dst = n
			return err
		})
	}
	count(&in.Total)
	count(&in.Successful, storage.Eq(models.FieldDeploymentSuccess, "true"))
	count(&in.Failed, storage.Eq(models.FieldDeploymentSuccess, "false"))
	count(&in.Errors, storage.Eq(models.FieldStatus, string(models.StatusError)))

	g.Go(func() error {
		avg, ok, err := s.store.Avg(gctx, models.FieldBuildDurationSeconds, scope)
		if ok {
			in.AvgBuildSeconds = avg
		}
		return err
	})
	g.Go(func() error {
		var err error
		in.MTTRHours, err = s.mttr.Estimate(gctx, tool, project)
		return err
	})
	g.Go(func() error {
		var err error
		in.Daily, err = s.store.TimeHistogram(gctx, storage.HistogramQuery{Interval: storage.DefaultInterval, Filters: scope, Last: s.cfg.TrendDays})
		return err
	})

	if err := g.Wait(); err != nil {
		return failure(s, "metrics", err, fallback, "tool", tool, "project", project)
	}

	m := analyzer.DeriveMetrics(tool, project, in, s.cfg.TrendDays)
	return models.Success(m, int(m.TotalBuilds))
}

// StageView classifies the most recent events of a tool's project by
// pipeline stage. The server is only honored with an environment.
func (s *Service) StageView(ctx context.Context, scope models.StageScope) models.Result[models.StageView] {
	fallback := models.NewStageView()
	if err := required("tool", scope.Tool, "project", scope.Project); err != nil {
		return failure(s, "stage view", err, fallback)
	}

	server := scope.Server
	if scope.Environment == "" {
		server = ""
	}
	events, err := s.store.Search(ctx, storage.SearchQuery{
		Filters: storage.ScopeFilters(scope.Tool, scope.Project, scope.Environment, server),
		Limit:   s.stageLimit(),
		Fields: []models.Field{
			models.FieldLogType, models.FieldLLMResponse, models.FieldFullSynthesis,
			models.FieldStatus, models.FieldSeverityLevel, models.FieldConfidenceScore,
		},
	})
	if err != nil {
		return failure(s, "stage view", err, fallback, "scope", scope)
	}

	view := s.stages.Classify(events)
	n := 0
	for _, records := range view {
		n += len(records)
	}
	return models.Success(view, n)
}

func (s *Service) stageLimit() int {
	if s.cfg.StageEventLimit > 0 {
		return s.cfg.StageEventLimit
	}
	return analyzer.DefaultStageEventLimit
}

// DimensionValues lists the values of one level inside scope, for
// environment and server pickers.
func (s *Service) DimensionValues(ctx context.Context, level models.Level, scope models.RollupScope) models.Result[[]models.DimensionValue] {
	q, err := analyzer.DimensionQuery(level, scope, s.cfg.Limits.DimensionValues)
	if err != nil {
		return failure(s, "dimension values", err, []models.DimensionValue{}, "level", level)
	}

	buckets, err := s.store.CountGrouped(ctx, q)
	if err != nil {
		return failure(s, "dimension values", err, []models.DimensionValue{}, "level", level, "scope", scope)
	}
	values := analyzer.BuildDimensionValues(level, buckets)
	return models.Success(values, len(values))
}

// Servers scores the servers of an environment.
func (s *Service) Servers(ctx context.Context, tool, project, environment string) models.Result[[]models.ServerHealth] {
	if err := required("tool", tool, "project", project, "environment", environment); err != nil {
		return failure(s, "servers", err, []models.ServerHealth{})
	}

	buckets, err := s.store.CountGrouped(ctx, analyzer.ServerQuery(tool, project, environment, s.cfg.Limits.Servers))
	if err != nil {
		return failure(s, "servers", err, []models.ServerHealth{}, "tool", tool, "project", project, "environment", environment)
	}
	servers := analyzer.BuildServerHealth(buckets)
	return models.Success(servers, len(servers))
}

// ProjectDetails summarizes a project across tools.
func (s *Service) ProjectDetails(ctx context.Context, project string) models.Result[models.ProjectDetails] {
	fallback := analyzer.BuildProjectDetails(project, nil, 0, 0)
	if err := required("project", project); err != nil {
		return failure(s, "project details", err, fallback)
	}

	l := s.cfg.Limits
	q := analyzer.ProjectDetailsQuery(project, analyzer.DetailLimits{
		Environments: l.DetailEnvironments,
		Servers:      l.DetailServers,
		Severities:   l.DetailSeverities,
	})

	var buckets []models.Bucket
	var avgBuild, avgImpact float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buckets, err = s.store.CountGrouped(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		avgBuild, _, err = s.store.Avg(gctx, models.FieldBuildDurationSeconds, q.Filters)
		return err
	})
	g.Go(func() error {
		var err error
		avgImpact, _, err = s.store.Avg(gctx, models.FieldBusinessImpactScore, q.Filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return failure(s, "project details", err, fallback, "project", project)
	}

	details := analyzer.BuildProjectDetails(project, buckets, avgBuild, avgImpact)
	count := 0
	if len(buckets) > 0 {
		count = int(buckets[0].Count)
	}
	return models.Success(details, count)
}

// Analyses returns analysis cards for the most recent events of a tool's
// project.
func (s *Service) Analyses(ctx context.Context, tool, project string) models.Result[[]models.AnalysisCard] {
	if err := required("tool", tool, "project", project); err != nil {
		return failure(s, "analyses", err, []models.AnalysisCard{})
	}

	events, err := s.store.Search(ctx, storage.SearchQuery{
		Filters: storage.ScopeFilters(tool, project, "", ""),
		Limit:   analysesLimit,
	})
	if err != nil {
		return failure(s, "analyses", err, []models.AnalysisCard{}, "tool", tool, "project", project)
	}
	cards := analyzer.Cards(events, s.observer)
	return models.Success(cards, len(cards))
}

// Logs searches events by any combination of dimensions.
func (s *Service) Logs(ctx context.Context, q models.LogQuery) models.Result[[]models.LogEntry] {
	filters := storage.ScopeFilters(q.Tool, q.Project, q.Environment, q.Server)
	for _, f := range []storage.Filter{
		storage.Eq(models.FieldLogType, q.LogType),
		storage.Eq(models.FieldSeverityLevel, q.SeverityLevel),
		storage.Eq(models.FieldStatus, q.Status),
	} {
		if f.Value != "" {
			filters = append(filters, f)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.LogLimit
	}
	events, err := s.store.Search(ctx, storage.SearchQuery{Filters: filters, Limit: limit})
	if err != nil {
		return failure(s, "logs", err, []models.LogEntry{}, "filters", q)
	}
	entries := analyzer.LogEntries(events, s.observer)
	return models.Success(entries, len(entries))
}

// Health checks that the store answers.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("event store health check failed", "error", err)
		return err
	}
	return nil
}
