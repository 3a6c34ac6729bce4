// Package health reports broker connectivity through the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the service name the relay status is published under,
// next to the server wide empty name.
const ServiceName = "relay"

// Checker reports whether the broker can be used.
type Checker interface {
	Connected() bool
}

// Service keeps the health status in sync with a Checker.
type Service struct {
	checker  Checker
	interval time.Duration
	log      logrus.FieldLogger

	srv     *health.Server
	healthy atomic.Bool
}

// New creates a health service polling checker every interval.
func New(checker Checker, interval time.Duration, log logrus.FieldLogger) *Service {
	s := &Service{
		checker:  checker,
		interval: interval,
		log:      log,
		srv:      health.NewServer(),
	}
	s.Update()
	return s
}

// Register adds the health service and server reflection to g.
func (s *Service) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.srv)
	reflection.Register(g)
}

// Healthy returns the last observed status.
func (s *Service) Healthy() bool {
	return s.healthy.Load()
}

// Update polls the checker once and publishes the result.
func (s *Service) Update() {
	ok := s.checker.Connected()
	if prev := s.healthy.Swap(ok); prev != ok {
		s.log.Infof("health status changed: serving => %v", ok)
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.srv.SetServingStatus("", status)
	s.srv.SetServingStatus(ServiceName, status)
}

// Watch updates the status every interval until ctx is done, then marks the service
// as shutting down.
func (s *Service) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.srv.Shutdown()
			return
		case <-ticker.C:
			s.Update()
		}
	}
}

// Serve runs a gRPC server with the health service on addr in the background.
// The returned function stops it.
func (s *Service) Serve(addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g := grpc.NewServer()
	s.Register(g)

	go func() {
		s.log.Infof("gRPC health service starting on %s", ln.Addr())
		if err := g.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Errorf("gRPC health service error: %v", err)
		}
	}()
	return g.GracefulStop, nil
}
