package elasticsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// fakeCluster answers the handful of endpoints the store uses and records
// the request bodies it received.
type fakeCluster struct {
	mu       sync.Mutex
	bodies   map[string][]string
	search   string
	count    int64
	status   int
	bulkFail bool
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	payload, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], string(payload))
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"type":"cluster_block_exception"}}`))
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = w.Write([]byte(f.search))
	case strings.HasSuffix(r.URL.Path, "/_count"):
		_ = json.NewEncoder(w).Encode(map[string]int64{"count": f.count})
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		if f.bulkFail {
			_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"_id":"e1","status":400,"error":{"type":"mapper_parsing_exception"}}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	default:
		_, _ = w.Write([]byte(`{"version":{"number":"8.15.0"},"tagline":"You Know, for Search"}`))
	}
}

func (f *fakeCluster) lastBody(t *testing.T, suffix string) map[string]any {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	for path, bodies := range f.bodies {
		if strings.HasSuffix(path, suffix) && len(bodies) > 0 {
			var out map[string]any
			if err := json.Unmarshal([]byte(bodies[len(bodies)-1]), &out); err != nil {
				t.Fatalf("request body is not JSON: %v", err)
			}
			return out
		}
	}
	t.Fatalf("no request to %s", suffix)
	return nil
}

func setupTestStore(t *testing.T) (*Store, *fakeCluster) {
	t.Helper()

	fake := &fakeCluster{bodies: make(map[string][]string)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.Addresses = []string{server.URL}
	store, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, fake
}

func TestCountGroupedParsesNestedAggregations(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.search = `{
		"hits": {"hits": []},
		"aggregations": {
			"level_0": {"buckets": [
				{"key": "web", "doc_count": 2,
				 "breakdown_0": {"buckets": [{"key": "success", "doc_count": 2}]},
				 "latest": {"value": 1710072000000},
				 "deploy_avg": {"value": 1.0},
				 "level_1": {"buckets": []}},
				{"key": "", "doc_count": 9},
				{"key": "api", "doc_count": 5,
				 "breakdown_0": {"buckets": [{"key": "error", "doc_count": 1}, {"key": "success", "doc_count": 4}]},
				 "latest": {"value": null},
				 "deploy_avg": {"value": 0.8},
				 "level_1": {"buckets": [{"key": "prod", "doc_count": 3,
					"breakdown_0": {"buckets": []}, "latest": {"value": null}, "deploy_avg": {"value": null}}]}}
			]}
		}
	}`

	buckets, err := store.CountGrouped(context.Background(), storage.GroupQuery{
		Levels:     []storage.Level{{Field: models.FieldProject, Size: 10}, {Field: models.FieldEnvironment, Size: 10}},
		Breakdowns: []storage.Level{{Field: models.FieldStatus, Size: 10}},
		Filters:    storage.ScopeFilters("jenkins", "", "", ""),
		WithStats:  true,
	})
	if err != nil {
		t.Fatalf("CountGrouped failed: %v", err)
	}

	if len(buckets) != 2 {
		t.Fatalf("expected empty key dropped, got %d buckets", len(buckets))
	}
	if buckets[0].Key != "api" || buckets[0].Count != 5 {
		t.Errorf("expected api first, got %s=%d", buckets[0].Key, buckets[0].Count)
	}
	statuses := buckets[0].Breakdown(models.FieldStatus)
	if len(statuses) != 2 || statuses[0].Key != "success" {
		t.Errorf("expected status breakdown sorted by count, got %+v", statuses)
	}
	if len(buckets[0].Children) != 1 || buckets[0].Children[0].Key != "prod" {
		t.Errorf("unexpected children: %+v", buckets[0].Children)
	}
	web := buckets[1]
	want := time.UnixMilli(1710072000000).UTC()
	if web.Stats == nil || web.Stats.LatestTimestamp == nil || !web.Stats.LatestTimestamp.Equal(want) {
		t.Errorf("unexpected web stats: %+v", web.Stats)
	}

	req := fake.lastBody(t, "/_search")
	encoded, _ := json.Marshal(req)
	for _, want := range []string{`"tool.keyword":"jenkins"`, `"field":"project.keyword"`, `"field":"environment.keyword"`, `"exclude":[""]`} {
		if !bytes.Contains(encoded, []byte(want)) {
			t.Errorf("expected request to contain %s, got %s", want, encoded)
		}
	}
}

func TestCountSendsDeploymentFilterAsBool(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.count = 42

	n, err := store.Count(context.Background(), storage.Filters{
		storage.Eq(models.FieldProject, "api"),
		storage.Eq(models.FieldDeploymentSuccess, "true"),
	})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}

	encoded, _ := json.Marshal(fake.lastBody(t, "/_count"))
	if !bytes.Contains(encoded, []byte(`"deployment_success":true`)) {
		t.Errorf("expected boolean term, got %s", encoded)
	}
}

func TestAvg(t *testing.T) {
	store, fake := setupTestStore(t)

	fake.search = `{"hits":{"hits":[]},"aggregations":{"value":{"value":150.5},"value_count":{"value":4}}}`
	avg, ok, err := store.Avg(context.Background(), models.FieldBuildDurationSeconds, nil)
	if err != nil {
		t.Fatalf("Avg failed: %v", err)
	}
	if !ok || avg != 150.5 {
		t.Errorf("expected 150.5, got %f (ok=%v)", avg, ok)
	}

	fake.search = `{"hits":{"hits":[]},"aggregations":{"value":{"value":null},"value_count":{"value":0}}}`
	_, ok, err = store.Avg(context.Background(), models.FieldBuildDurationSeconds, nil)
	if err != nil {
		t.Fatalf("Avg failed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for empty aggregation")
	}
}

func TestTimeHistogram(t *testing.T) {
	store, fake := setupTestStore(t)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	fake.search = `{"hits":{"hits":[]},"aggregations":{"value":{"buckets":[
		{"key_as_string":"2024-03-10","key":` + itoa(day.UnixMilli()) + `,"doc_count":3,"successful":{"doc_count":2}},
		{"key_as_string":"2024-03-12","key":` + itoa(day.AddDate(0, 0, 2).UnixMilli()) + `,"doc_count":1,"successful":{"doc_count":0}}
	]}}}`

	buckets, err := store.TimeHistogram(context.Background(), storage.HistogramQuery{})
	if err != nil {
		t.Fatalf("TimeHistogram failed: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	if buckets[0].Count != 3 || buckets[0].SuccessCount != 2 || buckets[1].Count != 0 {
		t.Errorf("unexpected buckets: %+v", buckets)
	}

	encoded, _ := json.Marshal(fake.lastBody(t, "/_search"))
	if !bytes.Contains(encoded, []byte(`"fixed_interval":"86400000ms"`)) {
		t.Errorf("expected daily fixed interval, got %s", encoded)
	}
}

func TestSearchUsesHitIDs(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.search = `{"hits":{"hits":[
		{"_id":"a","_source":{"tool":"jenkins","status":"error","analysis_timestamp":"2024-03-10T10:00:00"}},
		{"_id":"b","_source":{"tool":"jenkins","status":"FAILED","analysis_timestamp":"2024-03-10T12:00:00Z"}}
	]}}`

	events, err := store.Search(context.Background(), storage.SearchQuery{
		Fields: []models.Field{models.FieldResolutionTimeEstimate},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "b" || events[1].ID != "a" {
		t.Fatalf("expected b then a, got %+v", events)
	}
	if events[0].Status != models.StatusUnknown {
		t.Errorf("expected unknown status for unrecognized value, got %q", events[0].Status)
	}

	encoded, _ := json.Marshal(fake.lastBody(t, "/_search"))
	if !bytes.Contains(encoded, []byte(`"includes":["resolution_time_estimate","analysis_timestamp"]`)) {
		t.Errorf("expected source filtering, got %s", encoded)
	}
}

func TestInsertWritesBulkLines(t *testing.T) {
	store, fake := setupTestStore(t)

	err := store.Insert(context.Background(),
		models.AnalysisEvent{ID: "e1", Tool: "jenkins"},
		models.AnalysisEvent{Tool: "gitlab"},
	)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	fake.mu.Lock()
	var raw string
	for path, bodies := range fake.bodies {
		if strings.HasSuffix(path, "/_bulk") {
			raw = bodies[0]
		}
	}
	fake.mu.Unlock()

	lines := 0
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			lines++
		}
	}
	if lines != 4 {
		t.Errorf("expected 4 bulk lines, got %d: %s", lines, raw)
	}
	if !strings.Contains(raw, `"_id":"e1"`) {
		t.Errorf("expected explicit id in bulk metadata: %s", raw)
	}
}

func TestBulkItemErrorsAreReported(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.bulkFail = true

	err := store.Insert(context.Background(), models.AnalysisEvent{ID: "e1"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClusterErrorsAreUnavailable(t *testing.T) {
	store, fake := setupTestStore(t)
	fake.status = http.StatusServiceUnavailable

	if _, err := store.Count(context.Background(), nil); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Count: expected ErrUnavailable, got %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Ping: expected ErrUnavailable, got %v", err)
	}
}

func TestInvalidQueriesAreRejectedLocally(t *testing.T) {
	store, fake := setupTestStore(t)

	_, err := store.CountGrouped(context.Background(), storage.GroupQuery{
		Levels: []storage.Level{{Field: models.FieldLLMResponse}},
	})
	if !errors.Is(err, storage.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
	if len(fake.bodies) != 0 {
		t.Errorf("expected no request, got %v", fake.bodies)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
