package grpchealth

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakeStore struct {
	mu  sync.Mutex
	err error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recordingObserver struct {
	mu     sync.Mutex
	states []bool
}

func (r *recordingObserver) SetStoreUp(up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, up)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupClient(t *testing.T, s *Server) grpc_health_v1.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	go s.Serve(lis)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) failed: %v", service, err)
	}
	return resp.Status
}

func TestProbeReflectsStore(t *testing.T) {
	store := &fakeStore{}
	observer := &recordingObserver{}
	s := New("", store, time.Second, observer, testLogger())
	client := setupClient(t, s)

	if got := check(t, client, StoreService); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING before the first probe, got %v", got)
	}

	if !s.Probe(context.Background()) {
		t.Fatal("expected probe to succeed")
	}
	for _, service := range []string{"", StoreService} {
		if got := check(t, client, service); got != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("service %q: expected SERVING, got %v", service, got)
		}
	}

	store.fail(errors.New("connection refused"))
	if s.Probe(context.Background()) {
		t.Fatal("expected probe to fail")
	}
	if got := check(t, client, StoreService); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING, got %v", got)
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.states) != 2 || !observer.states[0] || observer.states[1] {
		t.Errorf("unexpected observed states: %v", observer.states)
	}
}

func TestWatchStopsWithContext(t *testing.T) {
	s := New("", &fakeStore{}, 10*time.Millisecond, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seen || !s.up {
		t.Errorf("expected a successful probe, got seen=%v up=%v", s.seen, s.up)
	}
}
