// Package duration turns free-text resolution estimates such as "2-4 hours"
// or "30 minutes" into hours.
package duration

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Form tells which grammar rule produced an estimate.
type Form int

const (
	// Invalid means the phrase named hours but held no usable number.
	Invalid Form = iota
	// Hours is a single hour value, e.g. "3 hours".
	Hours
	// Range is the mean of an hour range, e.g. "2-4 hours".
	Range
	// Minutes is a minute value converted to hours, e.g. "45 minutes".
	Minutes
	// Fallback is the fixed value used for unrecognized phrases.
	Fallback
)

func (f Form) String() string {
	switch f {
	case Hours:
		return "hours"
	case Range:
		return "range"
	case Minutes:
		return "minutes"
	case Fallback:
		return "fallback"
	default:
		return "invalid"
	}
}

const (
	// FallbackHours is returned for phrases matching no rule.
	FallbackHours = 1.0
	// DefaultMinutes is assumed when a minute phrase holds no digits.
	DefaultMinutes = 30
)

var digits = regexp.MustCompile(`\d+`)

// Estimate is a parsed duration. Hours is meaningful unless Form is Invalid.
type Estimate struct {
	Hours float64
	Form  Form
}

// OK reports whether the estimate carries a usable value.
func (e Estimate) OK() bool {
	return e.Form != Invalid
}

// Parse converts a phrase into hours.
func Parse(phrase string) Estimate {
	lower := strings.ToLower(phrase)

	switch {
	case strings.Contains(lower, "hour"):
		return parseHours(stripUnits(lower, "hours", "hour"))
	case strings.Contains(lower, "minute"):
		rest := stripUnits(lower, "minutes", "minute")
		return Estimate{Hours: minutes(rest) / 60, Form: Minutes}
	default:
		return Estimate{Hours: FallbackHours, Form: Fallback}
	}
}

// minutes reads the first run of digits in s. Values too large for a
// float64 saturate instead of falling back to DefaultMinutes.
func minutes(s string) float64 {
	m := digits.FindString(s)
	if m == "" {
		return DefaultMinutes
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.MaxFloat64
	}
	return n
}

func parseHours(s string) Estimate {
	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		if len(parts) != 2 {
			return Estimate{Form: Invalid}
		}
		lo, okLo := number(parts[0])
		hi, okHi := number(parts[1])
		if !okLo || !okHi {
			return Estimate{Form: Invalid}
		}
		return Estimate{Hours: (lo + hi) / 2, Form: Range}
	}

	h, ok := number(s)
	if !ok {
		return Estimate{Form: Invalid}
	}
	return Estimate{Hours: h, Form: Hours}
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func stripUnits(s string, units ...string) string {
	for _, u := range units {
		s = strings.ReplaceAll(s, u, "")
	}
	return strings.TrimSpace(s)
}
