// Package elasticsearch provides an event store over an Elasticsearch index
// of analysis documents.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
	"github.com/google/uuid"
)

// Config holds Elasticsearch connection settings.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Index     string

	// KeywordSuffix is appended to keyword fields in term queries and
	// aggregations, matching dynamic mappings ("tool.keyword").
	KeywordSuffix string

	// Refresh makes inserted documents visible to the next search.
	Refresh bool

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// DefaultConfig returns settings for a local single-node cluster.
func DefaultConfig() Config {
	return Config{
		Addresses:     []string{"http://localhost:9200"},
		Index:         "cicd_analysis",
		KeywordSuffix: ".keyword",
	}
}

// Store is an Elasticsearch-backed event store.
type Store struct {
	client        *elasticsearch.Client
	index         string
	keywordSuffix string
	refresh       bool
	logger        *slog.Logger
}

// New creates a store. No request is made until the first operation.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index == "" {
		return nil, errors.New("elasticsearch index is empty")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Store{
		client:        client,
		index:         cfg.Index,
		keywordSuffix: cfg.KeywordSuffix,
		refresh:       cfg.Refresh,
		logger:        logger,
	}, nil
}

// do runs a request and decodes a successful JSON response into out.
func (s *Store) do(op string, res *esapi.Response, err error, out any) error {
	if err != nil {
		return storage.Unavailable(op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return storage.Unavailable(op, fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return storage.Unavailable(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func (s *Store) search(ctx context.Context, op string, b body, out any) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding %s query: %w", op, err)
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(payload)),
		s.client.Search.WithIgnoreUnavailable(true),
	)
	return s.do(op, res, err, out)
}

// Insert indexes events with the bulk API.
func (s *Store) Insert(ctx context.Context, events ...models.AnalysisEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Normalize()
		doc, err := storage.EncodeDocument(e)
		if err != nil {
			return err
		}
		if err := enc.Encode(body{"index": body{"_index": s.index, "_id": e.ID}}); err != nil {
			return err
		}
		buf.WriteString(doc)
		buf.WriteByte('\n')
	}

	opts := []func(*esapi.BulkRequest){s.client.Bulk.WithContext(ctx), s.client.Bulk.WithIndex(s.index)}
	if s.refresh {
		opts = append(opts, s.client.Bulk.WithRefresh("true"))
	}
	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()), opts...)

	var out bulkResponse
	if err := s.do("bulk insert", res, err, &out); err != nil {
		return err
	}
	if out.Errors {
		return storage.Unavailable("bulk insert", out.firstError())
	}
	return nil
}

// CountGrouped groups matching events level by level.
func (s *Store) CountGrouped(ctx context.Context, q storage.GroupQuery) ([]models.Bucket, error) {
	b, err := s.groupedBody(q)
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := s.search(ctx, "count grouped", b, &out); err != nil {
		return nil, err
	}
	return parseLevel(out.Aggregations, q, 0)
}

// Avg averages a numeric field over matching events carrying it.
func (s *Store) Avg(ctx context.Context, field models.Field, filters storage.Filters) (float64, bool, error) {
	b, err := s.avgBody(field, filters)
	if err != nil {
		return 0, false, err
	}

	var out searchResponse
	if err := s.search(ctx, "avg", b, &out); err != nil {
		return 0, false, err
	}
	avg := metricValue(out.Aggregations[aggValue])
	n := metricValue(out.Aggregations[aggCount])
	if avg == nil || n == nil || *n == 0 {
		return 0, false, nil
	}
	return *avg, true, nil
}

// Count counts matching events.
func (s *Store) Count(ctx context.Context, filters storage.Filters) (int64, error) {
	b, err := s.countBody(filters)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("encoding count query: %w", err)
	}

	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.index),
		s.client.Count.WithBody(bytes.NewReader(payload)),
		s.client.Count.WithIgnoreUnavailable(true),
	)
	var out struct {
		Count int64 `json:"count"`
	}
	if err := s.do("count", res, err, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// TimeHistogram buckets matching events by analysis timestamp.
func (s *Store) TimeHistogram(ctx context.Context, q storage.HistogramQuery) ([]models.HistogramBucket, error) {
	b, err := s.histogramBody(q)
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := s.search(ctx, "time histogram", b, &out); err != nil {
		return nil, err
	}

	raw, err := decodeBuckets(out.Aggregations[aggValue])
	if err != nil {
		return nil, storage.Unavailable("time histogram", err)
	}
	buckets := make([]models.HistogramBucket, 0, len(raw))
	for _, rb := range raw {
		ms, ok := rb.Key.(float64)
		if !ok {
			continue
		}
		var success struct {
			DocCount int64 `json:"doc_count"`
		}
		if sub, ok := rb.Aggs[aggSuccess]; ok {
			_ = json.Unmarshal(sub, &success)
		}
		buckets = append(buckets, models.HistogramBucket{
			Start:        time.UnixMilli(int64(ms)).UTC(),
			Count:        rb.DocCount,
			SuccessCount: success.DocCount,
		})
	}
	return storage.FillHistogram(buckets, q), nil
}

// Search returns matching events, newest first.
func (s *Store) Search(ctx context.Context, q storage.SearchQuery) ([]models.AnalysisEvent, error) {
	b, err := s.searchBody(q)
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := s.search(ctx, "search", b, &out); err != nil {
		return nil, err
	}

	events := make([]models.AnalysisEvent, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		e, ok := storage.DecodeSearchHit(s.logger, hit.ID, hit.Source)
		if !ok {
			continue
		}
		if e.ID == "" {
			e.ID = hit.ID
		}
		events = append(events, e)
	}
	storage.SortEvents(events)
	return events, nil
}

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	return s.do("ping", res, err, nil)
}

// Close is a no-op; the client holds no resources beyond idle connections.
func (s *Store) Close() error {
	return nil
}

func sortBuckets(buckets []models.Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
}
