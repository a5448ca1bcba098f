package payload

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Fields
		outcome Outcome
	}{
		{
			name:    "object passes through",
			raw:     `{"failure_summary":"x","auto_fix":{"status":"applied"}}`,
			want:    Fields{"failure_summary": "x", "auto_fix": map[string]any{"status": "applied"}},
			outcome: Structured,
		},
		{
			name:    "json-encoded string is decoded",
			raw:     `"{\"failure_summary\":\"x\"}"`,
			want:    Fields{"failure_summary": "x"},
			outcome: DecodedString,
		},
		{
			name:    "plain string yields empty mapping",
			raw:     `"oops"`,
			want:    Fields{},
			outcome: Malformed,
		},
		{
			name:    "bare text yields empty mapping",
			raw:     `oops`,
			want:    Fields{},
			outcome: Malformed,
		},
		{
			name:    "array is not a mapping",
			raw:     `[1,2]`,
			want:    Fields{},
			outcome: Malformed,
		},
		{
			name:    "truncated object",
			raw:     `{"failure_summary":`,
			want:    Fields{},
			outcome: Malformed,
		},
		{name: "null", raw: `null`, want: Fields{}, outcome: Absent},
		{name: "empty", raw: ``, want: Fields{}, outcome: Absent},
		{name: "empty string", raw: `""`, want: Fields{}, outcome: Absent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(json.RawMessage(tt.raw))
			if got.Outcome != tt.outcome {
				t.Errorf("outcome = %v, want %v", got.Outcome, tt.outcome)
			}
			if !reflect.DeepEqual(got.Fields, tt.want) {
				t.Errorf("fields = %#v, want %#v", got.Fields, tt.want)
			}
		})
	}
}

func TestExtractValue(t *testing.T) {
	structured := map[string]any{"root_cause": map[string]any{"component": "db"}}

	tests := []struct {
		name    string
		value   any
		want    Fields
		outcome Outcome
	}{
		{name: "mapping unchanged", value: structured, want: Fields(structured), outcome: Structured},
		{name: "json string", value: `{"failure_summary":"x"}`, want: Fields{"failure_summary": "x"}, outcome: DecodedString},
		{name: "plain string", value: "oops", want: Fields{}, outcome: Malformed},
		{name: "nil", value: nil, want: Fields{}, outcome: Absent},
		{name: "empty string", value: "", want: Fields{}, outcome: Absent},
		{name: "unsupported type", value: 42, want: Fields{}, outcome: Malformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractValue(tt.value)
			if got.Outcome != tt.outcome {
				t.Errorf("outcome = %v, want %v", got.Outcome, tt.outcome)
			}
			if !reflect.DeepEqual(got.Fields, tt.want) {
				t.Errorf("fields = %#v, want %#v", got.Fields, tt.want)
			}
		})
	}
}

func TestFieldsDefaults(t *testing.T) {
	f := Extract(json.RawMessage(`{"auto_fix":{"status":"pending"},"confidence_score":"0.7","root_cause":null}`)).Fields

	if got := f.String("failure_summary", "No summary available"); got != "No summary available" {
		t.Errorf("String() = %q", got)
	}
	if got := f.Map("auto_fix").String("status", "Unknown"); got != "pending" {
		t.Errorf("auto_fix.status = %q", got)
	}
	if got := f.Map("missing").String("status", "Unknown"); got != "Unknown" {
		t.Errorf("missing.status = %q", got)
	}
	if got := f.Float("confidence_score", 0); got != 0.7 {
		t.Errorf("Float() = %v", got)
	}
	if got := f.Value("root_cause", "fallback"); got != "fallback" {
		t.Errorf("Value() = %v", got)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "json string", raw: `"plain text"`, want: "plain text"},
		{name: "bare text", raw: `oops`, want: "oops"},
		{name: "object", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "empty", raw: ``, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(json.RawMessage(tt.raw)); got != tt.want {
				t.Fatalf("Text(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
