package storage

import (
	"fmt"
	"strconv"

	"github.com/fidde/cicd_health/pkg/models"
)

// Filter is an equality condition on a filterable field.
type Filter struct {
	Field models.Field
	Value string
}

// Eq builds an equality filter.
func Eq(field models.Field, value string) Filter {
	return Filter{Field: field, Value: value}
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(e *models.AnalysisEvent) bool {
	v, ok := e.Dimension(f.Field)
	if !ok {
		return false
	}
	if f.Field == models.FieldDeploymentSuccess {
		want, err := strconv.ParseBool(f.Value)
		return err == nil && strconv.FormatBool(want) == v
	}
	return v == f.Value
}

// Filters is a conjunction of equality conditions.
type Filters []Filter

// With returns a copy of the filters with extra conditions appended.
func (fs Filters) With(extra ...Filter) Filters {
	out := make(Filters, 0, len(fs)+len(extra))
	out = append(out, fs...)
	return append(out, extra...)
}

// Matches reports whether the event satisfies every filter.
func (fs Filters) Matches(e *models.AnalysisEvent) bool {
	for _, f := range fs {
		if !f.Matches(e) {
			return false
		}
	}
	return true
}

// Validate checks that every filter names a filterable field.
func (fs Filters) Validate() error {
	for _, f := range fs {
		if !f.Field.Filterable() {
			return fmt.Errorf("%w: cannot filter on %q", ErrInvalidQuery, f.Field)
		}
	}
	return nil
}

// ScopeFilters builds filters for the non-empty dimensions, root first.
func ScopeFilters(tool, project, environment, server string) Filters {
	var fs Filters
	for _, f := range []Filter{
		Eq(models.FieldTool, tool),
		Eq(models.FieldProject, project),
		Eq(models.FieldEnvironment, environment),
		Eq(models.FieldServer, server),
	} {
		if f.Value != "" {
			fs = append(fs, f)
		}
	}
	return fs
}

// BoolValue converts a deployment_success filter value to 0/1.
func BoolValue(v string) (int, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a boolean", ErrInvalidQuery, v)
	}
	if b {
		return 1, nil
	}
	return 0, nil
}
