package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fidde/cicd_health/internal/storage"
	"github.com/fidde/cicd_health/pkg/models"
)

// Table is the events table shared by every SQL backend.
const Table = "analysis_events"

// Columns lists the insert columns in order. Timestamps are unix
// milliseconds and deployment_success is 0 or 1.
var Columns = []string{
	"id", "tool", "project", "environment", "server", "log_type",
	"status", "severity_level", "failure_category", "deployment_success",
	"analysis_timestamp", "build_duration_seconds", "business_impact_score",
	"confidence_score", "resolution_time_estimate", "document",
}

// Query is a statement with its arguments, written with ? placeholders.
type Query struct {
	SQL  string
	Args []any
}

// Bind returns the statement rebound for the dialect.
func (q Query) Bind(d Dialect) string {
	return d.Rebind(q.SQL)
}

// column maps a field to its column, refusing anything outside the schema.
func column(f models.Field) (string, error) {
	if f.Groupable() || f.Numeric() || f == models.FieldDeploymentSuccess {
		return string(f), nil
	}
	return "", fmt.Errorf("%w: no column for %q", storage.ErrInvalidQuery, f)
}

// Where renders filters as a WHERE clause, or "" when there are none.
func Where(filters storage.Filters, extra ...string) (string, []any, error) {
	conds := make([]string, 0, len(filters)+len(extra))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if !f.Field.Filterable() {
			return "", nil, fmt.Errorf("%w: cannot filter on %q", storage.ErrInvalidQuery, f.Field)
		}
		col, err := column(f.Field)
		if err != nil {
			return "", nil, err
		}
		var arg any = f.Value
		if f.Field == models.FieldDeploymentSuccess {
			v, err := storage.BoolValue(f.Value)
			if err != nil {
				return "", nil, err
			}
			arg = v
		}
		conds = append(conds, col+" = ?")
		args = append(args, arg)
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// GroupedQuery selects one row per distinct key combination of the
// query's levels and breakdowns: keys, count, deployment sum and latest
// timestamp, ready for storage.AssembleBuckets.
func GroupedQuery(q storage.GroupQuery) (Query, error) {
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	cols := make([]string, 0, len(q.Levels)+len(q.Breakdowns))
	for _, l := range append(append([]storage.Level{}, q.Levels...), q.Breakdowns...) {
		col, err := column(l.Field)
		if err != nil {
			return Query{}, err
		}
		cols = append(cols, col)
	}
	where, args, err := Where(q.Filters)
	if err != nil {
		return Query{}, err
	}
	keys := strings.Join(cols, ", ")
	sql := "SELECT " + keys +
		", COUNT(*), SUM(deployment_success), MAX(analysis_timestamp) FROM " + Table +
		where + " GROUP BY " + keys
	return Query{SQL: sql, Args: args}, nil
}

// AvgQuery selects the average and the number of non-null values.
func AvgQuery(field models.Field, filters storage.Filters) (Query, error) {
	if !field.Numeric() {
		return Query{}, fmt.Errorf("%w: cannot average %q", storage.ErrInvalidQuery, field)
	}
	col, err := column(field)
	if err != nil {
		return Query{}, err
	}
	where, args, err := Where(filters)
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL:  "SELECT AVG(" + col + "), COUNT(" + col + ") FROM " + Table + where,
		Args: args,
	}, nil
}

// CountQuery counts matching rows.
func CountQuery(filters storage.Filters) (Query, error) {
	where, args, err := Where(filters)
	if err != nil {
		return Query{}, err
	}
	return Query{SQL: "SELECT COUNT(*) FROM " + Table + where, Args: args}, nil
}

// HistogramQuery groups rows into epoch-aligned buckets of the interval.
func HistogramQuery(d Dialect, q storage.HistogramQuery) (Query, error) {
	where, args, err := Where(q.Filters, "analysis_timestamp IS NOT NULL")
	if err != nil {
		return Query{}, err
	}
	step := strconv.FormatInt(q.EffectiveInterval().Milliseconds(), 10)
	bucket := d.intDiv("analysis_timestamp", step) + " * " + step
	return Query{
		SQL: "SELECT " + bucket + " AS bucket, COUNT(*), SUM(deployment_success) FROM " + Table +
			where + " GROUP BY bucket",
		Args: args,
	}, nil
}

// SearchQuery selects stored documents newest first.
func SearchQuery(q storage.SearchQuery) (Query, error) {
	where, args, err := Where(q.Filters)
	if err != nil {
		return Query{}, err
	}
	return Query{
		SQL: "SELECT document FROM " + Table + where +
			" ORDER BY analysis_timestamp DESC NULLS LAST, id ASC LIMIT " + strconv.Itoa(q.EffectiveLimit()),
		Args: args,
	}, nil
}

// InsertQuery renders an idempotent insert of one event.
func InsertQuery(e *models.AnalysisEvent, document string) Query {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
	return Query{
		SQL: "INSERT INTO " + Table + " (" + strings.Join(Columns, ", ") + ") VALUES (" + marks +
			") ON CONFLICT (id) DO NOTHING",
		Args: Values(e, document),
	}
}

// Values returns the column values of an event in Columns order.
func Values(e *models.AnalysisEvent, document string) []any {
	deployed := 0
	if e.DeploymentSuccess {
		deployed = 1
	}
	return []any{
		e.ID, e.Tool, e.Project, e.Environment, e.Server, e.LogType,
		string(e.Status), string(e.SeverityLevel), e.FailureCategory, deployed,
		Millis(e.AnalysisTimestamp), e.BuildDurationSeconds, e.BusinessImpactScore,
		e.ConfidenceScore, e.ResolutionTimeEstimate, document,
	}
}

// Millis converts a timestamp to unix milliseconds; zero becomes nil.
func Millis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// FromMillis converts unix milliseconds back to a UTC timestamp.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
