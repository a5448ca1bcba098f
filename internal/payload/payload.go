// Package payload decodes the nested LLM analysis payloads attached to
// analysis events. A payload may be stored as an object, as a JSON-encoded
// string, or as text that is not JSON at all; decoding never fails.
package payload

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Outcome tells how a payload was obtained.
type Outcome int

const (
	// Absent means the field was missing, null or empty.
	Absent Outcome = iota
	// Structured means the value already was an object.
	Structured
	// DecodedString means the value was a string holding a JSON object.
	DecodedString
	// Malformed means the value could not be decoded into an object.
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Structured:
		return "structured"
	case DecodedString:
		return "decoded_string"
	case Malformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Decoded is the result of an extraction. Fields is never nil.
type Decoded struct {
	Fields  Fields
	Outcome Outcome
}

// OK reports whether a mapping was actually decoded.
func (d Decoded) OK() bool {
	return d.Outcome == Structured || d.Outcome == DecodedString
}

// Extract decodes a payload kept verbatim from a stored document.
func Extract(raw json.RawMessage) Decoded {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return empty(Absent)
	}

	switch trimmed[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return empty(Malformed)
		}
		return Decoded{Fields: Fields(m), Outcome: Structured}
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return empty(Malformed)
		}
		return decodeString(s)
	default:
		// Not valid JSON at the top level; the store may hand back the
		// bare text of a string field.
		if json.Valid(trimmed) {
			return empty(Malformed)
		}
		return decodeString(string(trimmed))
	}
}

// ExtractValue decodes a payload of unknown Go shape: a mapping, a string,
// raw bytes, or nil.
func ExtractValue(v any) Decoded {
	switch val := v.(type) {
	case nil:
		return empty(Absent)
	case map[string]any:
		if val == nil {
			return empty(Absent)
		}
		return Decoded{Fields: Fields(val), Outcome: Structured}
	case Fields:
		if val == nil {
			return empty(Absent)
		}
		return Decoded{Fields: val, Outcome: Structured}
	case string:
		return decodeString(val)
	case json.RawMessage:
		return Extract(val)
	case []byte:
		return decodeString(string(val))
	default:
		return empty(Malformed)
	}
}

func decodeString(s string) Decoded {
	if strings.TrimSpace(s) == "" {
		return empty(Absent)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return empty(Malformed)
	}
	return Decoded{Fields: Fields(m), Outcome: DecodedString}
}

func empty(o Outcome) Decoded {
	return Decoded{Fields: Fields{}, Outcome: o}
}

// Text returns a stored payload as text: the decoded string when the value
// is a JSON string, the raw bytes otherwise.
func Text(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
