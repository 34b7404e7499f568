package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"casedesk.org/internal/obs"
)

// GRPCHealth serves grpc.health.v1 backed by the same readiness probe as /readyz.
// The empty service name and serviceName are known; anything else is NotFound.
type GRPCHealth struct {
	healthpb.UnimplementedHealthServer

	readiness ReadinessChecker
	version   string
}

// NewGRPCHealth creates the health service.
func NewGRPCHealth(r ReadinessChecker, version string) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCHealth{readiness: r, version: version}
}

// Register attaches the health service to srv.
func (s *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check evaluates readiness. A failing probe reports NOT_SERVING.
func (s *GRPCHealth) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().WithError(err).WithField("version", s.version).Warn("grpc_health_not_serving")
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
