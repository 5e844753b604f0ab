package grpchealth

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultWatchInterval is how often Watch re-evaluates readiness.
const DefaultWatchInterval = 5 * time.Second

// Server implements grpc.health.v1.Health on top of a readiness function.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer

	ready    func(ctx context.Context) bool
	interval time.Duration
}

// NewServer creates a health server. ready is called on each Check and on
// every Watch tick to decide between SERVING and NOT_SERVING.
func NewServer(ready func(ctx context.Context) bool) *Server {
	return &Server{ready: ready, interval: DefaultWatchInterval}
}

// SetWatchInterval changes the Watch polling interval.
func (s *Server) SetWatchInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Register installs the health service on an existing gRPC server so that
// probes share the API listener and its interceptors.
func (s *Server) Register(gs *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(gs, s)
}

// Check implements grpc_health_v1.HealthServer.
func (s *Server) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: s.currentStatus(ctx)}, nil
}

// Watch implements grpc_health_v1.HealthServer. It sends the current status
// immediately and then only on changes.
func (s *Server) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc.ServerStreamingServer[grpc_health_v1.HealthCheckResponse]) error {
	ctx := stream.Context()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.currentStatus(ctx)
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: last}); err != nil {
		return err
	}

	for {
		select {
		case <-ticker.C:
			current := s.currentStatus(ctx)
			if current != last {
				if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
					return err
				}
				last = current
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Server) currentStatus(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.ready(ctx) {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
