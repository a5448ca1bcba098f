// Package grpchealth serves the standard gRPC health protocol, reporting
// whether the event store is reachable.
package grpchealth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// StoreService is the service name whose status tracks the event store.
const StoreService = "cicd_health.EventStore"

// DefaultInterval is how often the store is probed when no interval is
// configured.
const DefaultInterval = 15 * time.Second

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusObserver is told the outcome of every probe.
type StatusObserver interface {
	SetStoreUp(up bool)
}

// Server polls the store and publishes its status over gRPC.
type Server struct {
	store    Pinger
	observer StatusObserver
	interval time.Duration
	logger   *slog.Logger

	health *health.Server
	server *grpc.Server
	addr   string

	mu   sync.Mutex
	up   bool
	seen bool
}

// New creates a health server listening on addr. observer may be nil.
func New(addr string, store Pinger, interval time.Duration, observer StatusObserver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	s := &Server{
		store:    store,
		observer: observer,
		interval: interval,
		logger:   logger,
		health:   health.NewServer(),
		server:   grpc.NewServer(),
		addr:     addr,
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)

	// Reflection lets grpcurl discover the health service.
	reflection.Register(s.server)

	s.health.SetServingStatus(StoreService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Probe pings the store once and publishes the result. It reports whether
// the store answered.
func (s *Server) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	err := s.store.Ping(ctx)
	up := err == nil

	s.mu.Lock()
	changed := !s.seen || s.up != up
	s.up, s.seen = up, true
	s.mu.Unlock()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !up {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(StoreService, status)
	if s.observer != nil {
		s.observer.SetStoreUp(up)
	}

	if changed {
		if up {
			s.logger.Info("event store reachable")
		} else {
			s.logger.Warn("event store unreachable", "error", err)
		}
	}
	return up
}

// Watch probes the store every interval until ctx is done.
func (s *Server) Watch(ctx context.Context) {
	s.Probe(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Shutdown marks every service not serving and stops the server, waiting
// for in-flight RPCs until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}
