package query

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fidde/cicd_health/internal/config"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/internal/storage/memory"
	"github.com/fidde/cicd_health/internal/storage/sqlstore"
	"github.com/fidde/cicd_health/pkg/models"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func fixture() []models.AnalysisEvent {
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }
	return []models.AnalysisEvent{
		{ID: "1", Tool: "jenkins", Project: "api", Environment: "prod", Server: "srv-1", LogType: "build",
			Status: models.StatusSuccess, DeploymentSuccess: true, AnalysisTimestamp: at(1), BuildDurationSeconds: ptr(120.0)},
		{ID: "2", Tool: "jenkins", Project: "api", Environment: "prod", Server: "srv-1", LogType: "test",
			Status: models.StatusError, AnalysisTimestamp: at(2), BuildDurationSeconds: ptr(240.0),
			ResolutionTimeEstimate: ptr("1 hour"), LLMResponse: json.RawMessage(`{"failure_summary":"tests failed"}`)},
		{ID: "3", Tool: "jenkins", Project: "api", Environment: "prod", Server: "srv-2", LogType: "git-checkout",
			Status: models.StatusError, AnalysisTimestamp: at(26), ResolutionTimeEstimate: ptr("3 hours")},
		{ID: "4", Tool: "jenkins", Project: "api", Environment: "staging", Server: "srv-3", LogType: "sonarqube-issues",
			Status: models.StatusWarning, DeploymentSuccess: true, AnalysisTimestamp: at(27)},
		{ID: "5", Tool: "jenkins", Project: "api", Environment: "staging", Server: "srv-3", LogType: "deploy",
			Status: models.StatusError, AnalysisTimestamp: at(50), ResolutionTimeEstimate: ptr("30 minutes")},
		{ID: "6", Tool: "jenkins", Project: "api", Environment: "prod", Server: "srv-1", LogType: "build",
			Status: models.StatusSuccess, DeploymentSuccess: true, AnalysisTimestamp: at(51), BuildDurationSeconds: ptr(180.0)},
		{ID: "7", Tool: "gitlab", Project: "web", Environment: "prod", Server: "srv-9", LogType: "build",
			Status: models.StatusSuccess, DeploymentSuccess: true, AnalysisTimestamp: at(3)},
	}
}

func setupService(t *testing.T, store storage.EventStore) *Service {
	t.Helper()

	svc, err := New(store, config.Default().Analysis, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return svc
}

func setupSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	store, err := sqlstore.Open(context.Background(), sqlstore.DefaultConfig(filepath.Join(t.TempDir(), "events.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Insert(context.Background(), fixture()...); err != nil {
		t.Fatalf("failed to insert events: %v", err)
	}
	return store
}

func TestMetrics(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))

	res := svc.Metrics(context.Background(), "jenkins", "api")
	if !res.OK() {
		t.Fatalf("expected success, got %s", res.Message)
	}
	m := res.Data

	if res.Count != 6 || m.TotalBuilds != 6 || m.SuccessfulBuilds != 3 || m.FailedBuilds != 3 || m.TotalErrors != 3 {
		t.Errorf("unexpected counts: %+v", m)
	}
	if m.SuccessRate != 50 || m.FailureRate != 50 || m.DeploymentRate != 50 {
		t.Errorf("unexpected rates: %+v", m)
	}
	if m.AvgBuildTimeMinutes != 3 {
		t.Errorf("expected 3 minutes, got %v", m.AvgBuildTimeMinutes)
	}
	if m.MTTRHours != 1.5 {
		t.Errorf("expected mttr 1.5, got %v", m.MTTRHours)
	}
	if m.HealthScore != 63.1 {
		t.Errorf("expected health 63.1, got %v", m.HealthScore)
	}

	want := []models.TrendPoint{
		{Date: "2024-03-10", Builds: 2, SuccessRate: 50},
		{Date: "2024-03-11", Builds: 2, SuccessRate: 50},
		{Date: "2024-03-12", Builds: 2, SuccessRate: 50},
	}
	if len(m.Trend) != len(want) {
		t.Fatalf("expected %d trend points, got %+v", len(want), m.Trend)
	}
	for i := range want {
		if m.Trend[i] != want[i] {
			t.Errorf("trend[%d] = %+v, want %+v", i, m.Trend[i], want[i])
		}
	}
}

func TestMetricsZeroEvents(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))

	res := svc.Metrics(context.Background(), "jenkins", "missing")
	if !res.OK() {
		t.Fatalf("expected success for empty scope, got %s", res.Message)
	}
	m := res.Data
	if res.Count != 0 || m.TotalBuilds != 0 || m.SuccessRate != 0 || m.FailureRate != 0 ||
		m.MTTRHours != 0 || m.AvgBuildTimeMinutes != 0 || m.HealthScore != 0 {
		t.Errorf("expected all-zero metrics, got %+v", m)
	}
	if m.Trend == nil || len(m.Trend) != 0 {
		t.Errorf("expected empty trend, got %v", m.Trend)
	}
}

func TestQueriesAreIdempotent(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))
	ctx := context.Background()

	calls := map[string]func() any{
		"rollup":  func() any { return svc.Rollup(ctx, models.RollupScope{}) },
		"metrics": func() any { return svc.Metrics(ctx, "jenkins", "api") },
		"stages":  func() any { return svc.StageView(ctx, models.StageScope{Tool: "jenkins", Project: "api"}) },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			first, err := json.Marshal(call())
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			second, err := json.Marshal(call())
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(first) != string(second) {
				t.Fatalf("results differ:\n%s\n%s", first, second)
			}
		})
	}
}

func TestStageView(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))
	ctx := context.Background()

	ids := func(records []models.StageRecord) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		scope models.StageScope
		want  map[models.Stage][]string
		count int
	}{
		{
			name:  "project",
			scope: models.StageScope{Tool: "jenkins", Project: "api"},
			want: map[models.Stage][]string{
				models.StageBuild:          {"6", "1"},
				models.StageTest:           {"2"},
				models.StageCheckout:       {"3"},
				models.StageStaticAnalysis: {"4"},
			},
			count: 5,
		},
		{
			name:  "environment",
			scope: models.StageScope{Tool: "jenkins", Project: "api", Environment: "prod"},
			want: map[models.Stage][]string{
				models.StageBuild:          {"6", "1"},
				models.StageTest:           {"2"},
				models.StageCheckout:       {"3"},
				models.StageStaticAnalysis: {},
			},
			count: 4,
		},
		{
			name:  "server",
			scope: models.StageScope{Tool: "jenkins", Project: "api", Environment: "prod", Server: "srv-2"},
			want: map[models.Stage][]string{
				models.StageBuild:          {},
				models.StageTest:           {},
				models.StageCheckout:       {"3"},
				models.StageStaticAnalysis: {},
			},
			count: 1,
		},
		{
			name:  "server without environment is ignored",
			scope: models.StageScope{Tool: "jenkins", Project: "api", Server: "srv-2"},
			want: map[models.Stage][]string{
				models.StageBuild:          {"6", "1"},
				models.StageTest:           {"2"},
				models.StageCheckout:       {"3"},
				models.StageStaticAnalysis: {"4"},
			},
			count: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.StageView(ctx, tt.scope)
			if !res.OK() {
				t.Fatalf("expected success, got %s", res.Message)
			}
			if res.Count != tt.count {
				t.Errorf("expected count %d, got %d", tt.count, res.Count)
			}
			for stage, want := range tt.want {
				got := ids(res.Data[stage])
				if len(got) != len(want) {
					t.Errorf("stage %s = %v, want %v", stage, got, want)
					continue
				}
				for i := range want {
					if got[i] != want[i] {
						t.Errorf("stage %s = %v, want %v", stage, got, want)
						break
					}
				}
			}
		})
	}

	test := svc.StageView(ctx, models.StageScope{Tool: "jenkins", Project: "api"}).Data[models.StageTest][0]
	if test.Analysis.FailureSummary != "tests failed" {
		t.Errorf("expected decoded analysis, got %+v", test.Analysis)
	}
}

func TestDimensionValuesAndServers(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))
	ctx := context.Background()

	envs := svc.DimensionValues(ctx, models.LevelEnvironment, models.RollupScope{Tool: "jenkins", Project: "api"})
	if !envs.OK() || envs.Count != 2 || envs.Data[0].Name != "prod" || envs.Data[0].Count != 4 {
		t.Errorf("unexpected environments: %+v", envs)
	}

	servers := svc.Servers(ctx, "jenkins", "api", "prod")
	if !servers.OK() || servers.Count != 2 {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	srv1 := servers.Data[0]
	if srv1.Name != "srv-1" || srv1.TotalLogs != 3 || srv1.ErrorCount != 1 || srv1.HealthScore != 66.7 || srv1.Status != models.ServerWarning {
		t.Errorf("unexpected srv-1: %+v", srv1)
	}
}

func TestProjectViews(t *testing.T) {
	svc := setupService(t, memory.NewWithEvents(fixture()...))
	ctx := context.Background()

	summaries := svc.ProjectSummaries(ctx)
	if !summaries.OK() || summaries.Count != 2 || summaries.Data[0].Project != "api" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	if summaries.Data[0].OverallStatus != models.StatusError || summaries.Data[1].OverallStatus != models.StatusSuccess {
		t.Errorf("unexpected overall statuses: %+v", summaries.Data)
	}

	details := svc.ProjectDetails(ctx, "api")
	if !details.OK() || details.Count != 6 || details.Data.AvgBuildDuration != 180 {
		t.Errorf("unexpected details: %+v", details)
	}

	analyses := svc.Analyses(ctx, "jenkins", "api")
	if !analyses.OK() || analyses.Count != 6 || analyses.Data[0].ID != "6" {
		t.Errorf("unexpected analyses: %+v", analyses)
	}

	logs := svc.Logs(ctx, models.LogQuery{Environment: "staging", Server: "srv-3", Limit: 1})
	if !logs.OK() || logs.Count != 1 || logs.Data[0].ID != "5" {
		t.Errorf("unexpected logs: %+v", logs)
	}
}

func TestStoreFailure(t *testing.T) {
	store := memory.NewWithEvents(fixture()...)
	store.Close()
	svc := setupService(t, store)
	ctx := context.Background()

	rollup := svc.Rollup(ctx, models.RollupScope{})
	if rollup.OK() || !errors.Is(rollup.Err, storage.ErrUnavailable) {
		t.Fatalf("expected unavailable error result, got %+v", rollup)
	}
	if rollup.Data.Nodes == nil || rollup.Message == "" {
		t.Errorf("expected default data and message, got %+v", rollup)
	}

	metrics := svc.Metrics(ctx, "jenkins", "api")
	if metrics.OK() || metrics.Data.Tool != "jenkins" || metrics.Data.Trend == nil {
		t.Errorf("expected error result with default metrics, got %+v", metrics)
	}

	stages := svc.StageView(ctx, models.StageScope{Tool: "jenkins", Project: "api"})
	if stages.OK() || len(stages.Data) != len(models.Stages) {
		t.Errorf("expected error result with empty stages, got %+v", stages)
	}

	if err := svc.Health(ctx); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("expected unhealthy store, got %v", err)
	}
}

func TestInvalidInput(t *testing.T) {
	svc := setupService(t, memory.New())
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"rollup scope", svc.Rollup(ctx, models.RollupScope{Project: "api"}).Err},
		{"metrics tool", svc.Metrics(ctx, "", "api").Err},
		{"stage project", svc.StageView(ctx, models.StageScope{Tool: "jenkins"}).Err},
		{"dimension level", svc.DimensionValues(ctx, "region", models.RollupScope{}).Err},
		{"servers environment", svc.Servers(ctx, "jenkins", "api", "").Err},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !IsInputError(tt.err) {
				t.Fatalf("expected input error, got %v", tt.err)
			}
		})
	}

	if logs := svc.Logs(ctx, models.LogQuery{}); !logs.OK() || logs.Data == nil {
		t.Errorf("log search without filters should succeed, got %+v", logs)
	}
}

func TestMemoryAndSQLiteAgree(t *testing.T) {
	ctx := context.Background()
	mem := setupService(t, memory.NewWithEvents(fixture()...))
	lite := setupService(t, setupSQLiteStore(t))

	calls := map[string]func(*Service) any{
		"rollup":           func(s *Service) any { return s.Rollup(ctx, models.RollupScope{}) },
		"rollup scoped":    func(s *Service) any { return s.Rollup(ctx, models.RollupScope{Tool: "jenkins", Project: "api"}) },
		"project summary":  func(s *Service) any { return s.ProjectSummaries(ctx) },
		"metrics":          func(s *Service) any { return s.Metrics(ctx, "jenkins", "api") },
		"stages":           func(s *Service) any { return s.StageView(ctx, models.StageScope{Tool: "jenkins", Project: "api"}) },
		"dimension values": func(s *Service) any { return s.DimensionValues(ctx, models.LevelServer, models.RollupScope{}) },
		"servers":          func(s *Service) any { return s.Servers(ctx, "jenkins", "api", "prod") },
		"project details":  func(s *Service) any { return s.ProjectDetails(ctx, "api") },
		"analyses":         func(s *Service) any { return s.Analyses(ctx, "jenkins", "api") },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			want, err := json.Marshal(call(mem))
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			got, err := json.Marshal(call(lite))
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != string(want) {
				t.Fatalf("sqlite result differs from memory:\nsqlite: %s\nmemory: %s", got, want)
			}
		})
	}
}
