package elasticsearch

import (
	"fmt"
	"strconv"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// Aggregation names used in request bodies and parsed back from responses.
const (
	aggLatest  = "latest"
	aggDeploy  = "deploy_avg"
	aggSuccess = "successful"
	aggValue   = "value"
	aggCount   = "value_count"
)

type body = map[string]any

func levelAgg(depth int) string {
	return "level_" + strconv.Itoa(depth)
}

func breakdownAgg(i int) string {
	return "breakdown_" + strconv.Itoa(i)
}

// field returns the indexed name of a field: keyword fields carry the
// configured suffix, everything else is queried as mapped.
func (s *Store) field(f models.Field) string {
	if f.Groupable() {
		return string(f) + s.keywordSuffix
	}
	return string(f)
}

func (s *Store) filterQuery(filters storage.Filters) (body, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return body{"match_all": body{}}, nil
	}
	clauses := make([]any, 0, len(filters))
	for _, f := range filters {
		var value any = f.Value
		if f.Field == models.FieldDeploymentSuccess {
			v, err := storage.BoolValue(f.Value)
			if err != nil {
				return nil, err
			}
			value = v == 1
		}
		clauses = append(clauses, body{"term": body{s.field(f.Field): value}})
	}
	return body{"bool": body{"filter": clauses}}, nil
}

func (s *Store) termsAgg(l storage.Level) body {
	size := l.Size
	if size <= 0 {
		size = storage.MaxSearchLimit
	}
	return body{
		"field":   s.field(l.Field),
		"size":    size,
		"exclude": []string{""},
		"order":   []any{body{"_count": "desc"}, body{"_key": "asc"}},
	}
}

// groupedBody nests one terms aggregation per level; every level carries
// the breakdown terms and, when asked, the stats sub-aggregations.
func (s *Store) groupedBody(q storage.GroupQuery) (body, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query, err := s.filterQuery(q.Filters)
	if err != nil {
		return nil, err
	}

	var inner body
	for depth := len(q.Levels) - 1; depth >= 0; depth-- {
		subs := body{}
		for i, b := range q.Breakdowns {
			subs[breakdownAgg(i)] = body{"terms": s.termsAgg(b)}
		}
		if q.WithStats {
			subs[aggLatest] = body{"max": body{"field": string(models.FieldAnalysisTimestamp)}}
			subs[aggDeploy] = body{"avg": body{"field": string(models.FieldDeploymentSuccess)}}
		}
		if inner != nil {
			for k, v := range inner {
				subs[k] = v
			}
		}
		agg := body{"terms": s.termsAgg(q.Levels[depth])}
		if len(subs) > 0 {
			agg["aggs"] = subs
		}
		inner = body{levelAgg(depth): agg}
	}

	return body{"size": 0, "track_total_hits": true, "query": query, "aggs": inner}, nil
}

func (s *Store) avgBody(field models.Field, filters storage.Filters) (body, error) {
	if !field.Numeric() {
		return nil, fmt.Errorf("%w: cannot average %q", storage.ErrInvalidQuery, field)
	}
	query, err := s.filterQuery(filters)
	if err != nil {
		return nil, err
	}
	return body{
		"size":  0,
		"query": query,
		"aggs": body{
			aggValue: body{"avg": body{"field": string(field)}},
			aggCount: body{"value_count": body{"field": string(field)}},
		},
	}, nil
}

func (s *Store) countBody(filters storage.Filters) (body, error) {
	query, err := s.filterQuery(filters)
	if err != nil {
		return nil, err
	}
	return body{"query": query}, nil
}

func (s *Store) histogramBody(q storage.HistogramQuery) (body, error) {
	query, err := s.filterQuery(q.Filters)
	if err != nil {
		return nil, err
	}
	return body{
		"size":  0,
		"query": query,
		"aggs": body{
			aggValue: body{
				"date_histogram": body{
					"field":          string(models.FieldAnalysisTimestamp),
					"fixed_interval": strconv.FormatInt(q.EffectiveInterval().Milliseconds(), 10) + "ms",
					"min_doc_count":  0,
				},
				"aggs": body{
					aggSuccess: body{"filter": body{"term": body{string(models.FieldDeploymentSuccess): true}}},
				},
			},
		},
	}, nil
}

func (s *Store) searchBody(q storage.SearchQuery) (body, error) {
	query, err := s.filterQuery(q.Filters)
	if err != nil {
		return nil, err
	}
	b := body{
		"size":  q.EffectiveLimit(),
		"query": query,
		"sort": []any{
			body{string(models.FieldAnalysisTimestamp): body{"order": "desc", "unmapped_type": "date", "missing": "_last"}},
		},
	}
	if len(q.Fields) > 0 {
		includes := make([]string, 0, len(q.Fields)+1)
		for _, f := range q.Fields {
			includes = append(includes, string(f))
		}
		includes = append(includes, string(models.FieldAnalysisTimestamp))
		b["_source"] = body{"includes": includes}
	}
	return b, nil
}
