package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingStore logs Sync and Flush calls into a shared trail.
type recordingStore struct {
	EventStore
	name     string
	trail    *[]string
	flushErr error
}

func (s *recordingStore) Sync() { *s.trail = append(*s.trail, "sync "+s.name) }

func (s *recordingStore) Flush(context.Context) error {
	*s.trail = append(*s.trail, "flush "+s.name)
	return s.flushErr
}

// pairStore wraps two stores the way a dual-write store does.
type pairStore struct {
	EventStore
	name  string
	a, b  EventStore
	trail *[]string
}

func (s *pairStore) Sync() { *s.trail = append(*s.trail, "sync "+s.name) }

func (s *pairStore) Unwrap() []EventStore { return []EventStore{s.a, s.b} }

type plainStore struct{ EventStore }

type countingObserver struct{ ops int }

func (o *countingObserver) ObserveStoreOp(string, time.Duration, error) { o.ops++ }

func TestSettle(t *testing.T) {
	errFlush := errors.New("flush failed")

	tests := []struct {
		name      string
		build     func(trail *[]string) EventStore
		wantTrail []string
		wantErr   error
	}{
		{
			name:      "plain store",
			build:     func(*[]string) EventStore { return plainStore{} },
			wantTrail: nil,
		},
		{
			name: "instrumented buffered store",
			build: func(trail *[]string) EventStore {
				return Instrument(&recordingStore{name: "buffer", trail: trail}, &countingObserver{})
			},
			wantTrail: []string{"sync buffer", "flush buffer"},
		},
		{
			name: "pair syncs before flushing both sides",
			build: func(trail *[]string) EventStore {
				return Instrument(&pairStore{
					name:  "pair",
					a:     &recordingStore{name: "primary", trail: trail},
					b:     &recordingStore{name: "secondary", trail: trail},
					trail: trail,
				}, nil)
			},
			wantTrail: []string{"sync pair", "sync primary", "flush primary", "sync secondary", "flush secondary"},
		},
		{
			name: "flush error stops the walk",
			build: func(trail *[]string) EventStore {
				return &pairStore{
					name:  "pair",
					a:     &recordingStore{name: "primary", trail: trail, flushErr: errFlush},
					b:     &recordingStore{name: "secondary", trail: trail},
					trail: trail,
				}
			},
			wantTrail: []string{"sync pair", "sync primary", "flush primary"},
			wantErr:   errFlush,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trail []string
			err := Settle(context.Background(), tt.build(&trail))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Settle error = %v, want %v", err, tt.wantErr)
			}
			if len(trail) != len(tt.wantTrail) {
				t.Fatalf("trail = %v, want %v", trail, tt.wantTrail)
			}
			for i := range trail {
				if trail[i] != tt.wantTrail[i] {
					t.Fatalf("trail = %v, want %v", trail, tt.wantTrail)
				}
			}
		})
	}
}

func TestInstrumentedUnwrap(t *testing.T) {
	inner := plainStore{}
	if got := Instrument(inner, nil).Unwrap(); got != EventStore(inner) {
		t.Errorf("Unwrap returned %v, want the wrapped store", got)
	}
}
