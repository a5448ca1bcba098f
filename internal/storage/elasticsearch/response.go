package elasticsearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

func (r bulkResponse) firstError() error {
	for _, item := range r.Items {
		for action, result := range item {
			if len(result.Error) > 0 {
				return fmt.Errorf("%s %s: status %d: %s", action, result.ID, result.Status, result.Error)
			}
		}
	}
	return errors.New("bulk request reported errors")
}

// rawBucket is one bucket of a terms or histogram aggregation; every field
// besides key and doc_count is a named sub-aggregation.
type rawBucket struct {
	Key      any
	DocCount int64
	Aggs     map[string]json.RawMessage
}

func (b *rawBucket) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["key"]; ok {
		if err := json.Unmarshal(raw, &b.Key); err != nil {
			return err
		}
	}
	if raw, ok := fields["doc_count"]; ok {
		if err := json.Unmarshal(raw, &b.DocCount); err != nil {
			return err
		}
	}
	delete(fields, "key")
	delete(fields, "key_as_string")
	delete(fields, "doc_count")
	b.Aggs = fields
	return nil
}

func decodeBuckets(raw json.RawMessage) ([]rawBucket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var agg struct {
		Buckets []rawBucket `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding buckets: %w", err)
	}
	return agg.Buckets, nil
}

func metricValue(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var m struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m.Value
}

func keyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case nil:
		return ""
	default:
		return fmt.Sprint(k)
	}
}

// parseLevel converts the terms aggregation at depth into buckets.
func parseLevel(aggs map[string]json.RawMessage, q storage.GroupQuery, depth int) ([]models.Bucket, error) {
	if depth >= len(q.Levels) {
		return nil, nil
	}
	raw, err := decodeBuckets(aggs[levelAgg(depth)])
	if err != nil {
		return nil, storage.Unavailable("count grouped", err)
	}

	buckets := make([]models.Bucket, 0, len(raw))
	for _, rb := range raw {
		key := keyString(rb.Key)
		if key == "" || rb.DocCount == 0 {
			continue
		}
		b := models.Bucket{Key: key, Count: rb.DocCount}

		if b.Children, err = parseLevel(rb.Aggs, q, depth+1); err != nil {
			return nil, err
		}

		if len(q.Breakdowns) > 0 {
			b.Breakdowns = make(map[models.Field][]models.Bucket, len(q.Breakdowns))
			for i, bd := range q.Breakdowns {
				sub, err := decodeBuckets(rb.Aggs[breakdownAgg(i)])
				if err != nil {
					return nil, storage.Unavailable("count grouped", err)
				}
				counts := make(map[string]int64, len(sub))
				for _, sb := range sub {
					counts[keyString(sb.Key)] += sb.DocCount
				}
				b.Breakdowns[bd.Field] = storage.SortCounts(counts, bd.Size)
			}
		}

		if q.WithStats {
			stats := &models.BucketStats{}
			if v := metricValue(rb.Aggs[aggLatest]); v != nil {
				latest := time.UnixMilli(int64(*v)).UTC()
				stats.LatestTimestamp = &latest
			}
			stats.DeploymentSuccessAvg = metricValue(rb.Aggs[aggDeploy])
			b.Stats = stats
		}

		buckets = append(buckets, b)
	}

	sortBuckets(buckets)
	if size := q.Levels[depth].Size; size > 0 && len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets, nil
}
