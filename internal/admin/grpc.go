package admin

import (
	"context"
	"fmt"
	"net"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewGRPCServer builds the admin gRPC server: stock health + reflection
// services only (no custom RPCs are generated for this surface — see
// DESIGN.md), instrumented with otelgrpc stats handling and a
// grpc-middleware/v2 recovery interceptor, mirroring the teacher's
// infra/server/grpc + interceptors split.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcmiddleware.ChainUnaryServer(recoveryUnaryInterceptor)),
		grpc.ChainStreamInterceptor(grpcmiddleware.ChainStreamServer(recoveryStreamInterceptor)),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	return srv, healthSrv
}

// Serve runs srv on a listener bound to addr. It blocks until the listener
// errors or srv.Stop/GracefulStop is called from another goroutine.
func Serve(srv *grpc.Server, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// recoveryUnaryInterceptor turns a panic inside a unary handler into an
// Internal error instead of crashing the admin server, matching the
// error-handling discipline spec.md §7 requires of the Connector Manager
// itself, extended here to the admin surface.
func recoveryUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.Error(codes.Internal, fmt.Sprintf("admin: panic in %s: %v", info.FullMethod, r))
		}
	}()
	return handler(ctx, req)
}

func recoveryStreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = status.Error(codes.Internal, fmt.Sprintf("admin: panic in %s: %v", info.FullMethod, r))
		}
	}()
	return handler(srv, ss)
}
