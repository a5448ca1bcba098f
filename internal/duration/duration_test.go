package duration

import (
	"math"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		phrase string
		hours  float64
		form   Form
	}{
		{"2-4 hours", 3.0, Range},
		{"2 - 4 Hours", 3.0, Range},
		{"1 hour", 1.0, Hours},
		{"3 hours", 3.0, Hours},
		{"1.5 HOURS", 1.5, Hours},
		{"30 minutes", 0.5, Minutes},
		{"45 minutes", 0.75, Minutes},
		{"about 90 minutes", 1.5, Minutes},
		{"a few minutes", 0.5, Minutes},
		{"15-30 minutes", 0.25, Minutes},
		{"100000000000000000000 minutes", 1e20 / 60, Minutes},
		{"soon", 1.0, Fallback},
		{"", 1.0, Fallback},
		{"1 day", 1.0, Fallback},
		{"a couple of hours", 0, Invalid},
		{"1-2-3 hours", 0, Invalid},
		{"nan hours", 0, Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got := Parse(tt.phrase)
			if got.Form != tt.form {
				t.Fatalf("Parse(%q).Form = %v, want %v", tt.phrase, got.Form, tt.form)
			}
			if got.OK() && got.Hours != tt.hours {
				t.Errorf("Parse(%q).Hours = %v, want %v", tt.phrase, got.Hours, tt.hours)
			}
		})
	}
}

func TestParseNeverNegative(t *testing.T) {
	for _, phrase := range []string{"-2 hours", "-5 minutes", "0 hours", "0-0 hours"} {
		got := Parse(phrase)
		if got.OK() && got.Hours < 0 {
			t.Errorf("Parse(%q) = %v, want non-negative", phrase, got.Hours)
		}
	}
}

func TestParseHugeMinutesSaturate(t *testing.T) {
	phrase := "1" + strings.Repeat("0", 400) + " minutes"
	got := Parse(phrase)
	if got.Form != Minutes {
		t.Fatalf("Form = %v, want %v", got.Form, Minutes)
	}
	if got.Hours != math.MaxFloat64/60 {
		t.Errorf("Hours = %v, want %v", got.Hours, math.MaxFloat64/60)
	}
}
