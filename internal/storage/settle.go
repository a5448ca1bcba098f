package storage

import (
	"context"
	"fmt"
)

// Flusher is implemented by stores that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Syncer is implemented by stores that finish writes in the background.
type Syncer interface {
	Sync()
}

// Settle waits until events written to store are durable. It walks
// wrapping stores through Unwrap, syncing a wrapper before flushing what
// it wraps.
func Settle(ctx context.Context, store EventStore) error {
	if s, ok := store.(Syncer); ok {
		s.Sync()
	}

	switch w := store.(type) {
	case interface{ Unwrap() EventStore }:
		if err := Settle(ctx, w.Unwrap()); err != nil {
			return err
		}
	case interface{ Unwrap() []EventStore }:
		for _, inner := range w.Unwrap() {
			if err := Settle(ctx, inner); err != nil {
				return err
			}
		}
	}

	if f, ok := store.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("flushing events: %w", err)
		}
	}
	return nil
}
