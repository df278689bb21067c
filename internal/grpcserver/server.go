// Package grpcserver exposes the component health of the service over the
// standard gRPC health protocol.
package grpcserver

import (
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cad-copilot/backend/pkg/health"
	"cad-copilot/backend/pkg/logger"
)

// Server mirrors a health.Checker into a grpc health service. The empty
// service name reports the whole system.
type Server struct {
	grpc    *grpc.Server
	health  *grpchealth.Server
	checker *health.Checker
	log     *logger.Logger
}

func New(checker *health.Checker, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  grpchealth.NewServer(),
		checker: checker,
		log:     log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	checker.OnUpdate(s.Sync)
	return s
}

// Sync copies the last check results into the serving statuses. It runs
// after every round of checks.
func (s *Server) Sync() {
	overall := healthpb.HealthCheckResponse_SERVING
	if !s.checker.IsSystemHealthy() {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)

	for name, component := range s.checker.GetStatus() {
		status := healthpb.HealthCheckResponse_SERVING
		if component.Status == health.StatusDown {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on port and serves.
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop marks every service as not serving and drains connections.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
