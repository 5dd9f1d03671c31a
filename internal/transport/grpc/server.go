package transportgrpc

import (
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/arklim/zk-tenant-iam/internal/access"
	grpcinterceptors "github.com/arklim/zk-tenant-iam/internal/transport/grpc/interceptors"
	grpcserver "github.com/arklim/zk-tenant-iam/internal/transport/grpc/server"
	"github.com/arklim/zk-tenant-iam/internal/transport/grpc/zkiamv1"
)

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Sessions grpcserver.SessionValidator
	RBAC     grpcserver.PermissionChecker
	Keys     KeySetSource
	// Pipeline guards the tenant-scoped access service.
	Pipeline *access.Pipeline
	Metrics  *grpcinterceptors.GRPCMetrics
	Tracing  *grpcinterceptors.TracingOptions
	Logger   *zap.Logger
}

// Server bundles the gRPC server with its health service so callers can flip serving status.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// AccessPolicies returns the protected methods of the access service.
func AccessPolicies(pipeline *access.Pipeline) map[string]grpcinterceptors.Policy {
	return map[string]grpcinterceptors.Policy{
		zkiamv1.AccessService_CheckPermission_FullMethodName: {
			Pipeline:  pipeline,
			Operation: "grpc.permissions.check",
		},
		zkiamv1.AccessService_EffectivePermissions_FullMethodName: {
			Pipeline:  pipeline,
			Operation: "grpc.permissions.effective",
		},
	}
}

// NewServer wires gRPC services with access control enforced through interceptors.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session validator is required")
	}
	if deps.RBAC != nil && deps.Pipeline == nil {
		return nil, fmt.Errorf("access pipeline is required for the access service")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	accessInterceptor := grpcinterceptors.NewAccessInterceptor(AccessPolicies(deps.Pipeline), logger)
	if deps.Metrics != nil {
		accessInterceptor.WithObserver(deps.Metrics)
	}
	unaryInterceptors := []grpc.UnaryServerInterceptor{
		deps.Metrics.UnaryServerInterceptor(),
		accessInterceptor.UnaryServerInterceptor(),
	}

	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryInterceptors...)}
	if deps.Tracing != nil {
		tracing := *deps.Tracing
		tracing.SkipMethods = append(tracing.SkipMethods, healthpb.Health_Check_FullMethodName, healthpb.Health_Watch_FullMethodName)
		opts = append(opts, grpcinterceptors.TracingServerOption(tracing))
	}
	server := grpc.NewServer(opts...)

	zkiamv1.RegisterSessionServiceServer(server, grpcserver.NewTokenValidationServer(deps.Sessions))
	if deps.Keys != nil {
		zkiamv1.RegisterTokenServiceServer(server, NewTokenServer(deps.Keys, logger))
	}
	if deps.RBAC != nil {
		zkiamv1.RegisterAccessServiceServer(server, grpcserver.NewAccessServer(deps.RBAC))
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	for name := range server.GetServiceInfo() {
		healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return &Server{Server: server, Health: healthServer}, nil
}

// Shutdown marks every service as not serving and stops the server gracefully.
func (s *Server) Shutdown() {
	if s == nil {
		return
	}
	s.Health.Shutdown()
	s.GracefulStop()
}
