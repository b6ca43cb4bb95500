package health

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCBridge mirrors reports onto a standard gRPC health server. Each
// component becomes a service name; the empty service carries the
// overall status.
type GRPCBridge struct {
	server *health.Server
	// ServeDegraded reports degraded components as SERVING.
	ServeDegraded bool
}

// NewGRPCBridge returns a bridge writing to server.
func NewGRPCBridge(server *health.Server) *GRPCBridge {
	return &GRPCBridge{server: server, ServeDegraded: true}
}

// Publish writes report to the health server. Register it with
// Checker.OnSweep.
func (b *GRPCBridge) Publish(report Report) {
	for _, r := range report.Components {
		b.server.SetServingStatus(r.Component, b.servingStatus(r.Status))
	}
	b.server.SetServingStatus("", b.servingStatus(report.Status))
}

func (b *GRPCBridge) servingStatus(s Status) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case StatusHealthy:
		return healthpb.HealthCheckResponse_SERVING
	case StatusDegraded:
		if b.ServeDegraded {
			return healthpb.HealthCheckResponse_SERVING
		}
		return healthpb.HealthCheckResponse_NOT_SERVING
	case StatusUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}
