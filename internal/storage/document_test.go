package storage

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDecodeSearchHit(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		doc     string
		wantOK  bool
		wantLog string
	}{
		{name: "valid document", id: "e1", doc: `{"id":"e1","tool":"jenkins"}`, wantOK: true},
		{name: "not json", id: "e2", doc: `not json`, wantLog: "id=e2"},
		{name: "wrong shape", doc: `[1,2,3]`, wantLog: "skipping undecodable event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			e, ok := DecodeSearchHit(logger, tt.id, []byte(tt.doc))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK {
				if e.Tool != "jenkins" || buf.Len() != 0 {
					t.Errorf("unexpected decode: %+v, log %q", e, buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("expected warning containing %q, got %q", tt.wantLog, buf.String())
			}
		})
	}
}
