package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fidde/cicd_health/pkg/models"
)

// EncodeDocument serializes an event for the document column. Payloads
// that are not valid JSON are kept as JSON strings so that the extractor
// sees the same text on the way out.
func EncodeDocument(e models.AnalysisEvent) (string, error) {
	e.FullSynthesis = validRaw(e.FullSynthesis)
	e.LLMResponse = validRaw(e.LLMResponse)
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding event %s: %w", e.ID, err)
	}
	return string(b), nil
}

// DecodeDocument parses a stored document.
func DecodeDocument(doc []byte) (models.AnalysisEvent, error) {
	var e models.AnalysisEvent
	if err := json.Unmarshal(doc, &e); err != nil {
		return e, fmt.Errorf("decoding event: %w", err)
	}
	return e, nil
}

// DecodeSearchHit decodes one search result. A document that does not
// decode is logged at warn level and reported as not ok; every backend
// skips such documents instead of failing the search.
func DecodeSearchHit(logger *slog.Logger, id string, doc []byte) (models.AnalysisEvent, bool) {
	e, err := DecodeDocument(doc)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		if id != "" {
			logger = logger.With("id", id)
		}
		logger.Warn("skipping undecodable event", "error", err)
		return e, false
	}
	return e, true
}

func validRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
