// Package grpc hosts the HTTP/2 transport listener: a *grpc.Server with
// the generic wire-passthrough service registered and a responder spun
// up per accepted stream. Grounded on the teacher's own gRPC server
// bootstrap shape (one *grpc.Server, a chain of StreamServerInterceptors,
// a blocking Serve loop started from fx.Lifecycle), generalized from the
// delivery-service's single chat service to rpcmesh's generic wire
// transport.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/transport"
)

// ContractProvider supplies every ServiceContract a freshly accepted
// stream's Responder should register, the way the teacher's module
// wires one fixed service into its gRPC handler.
type ContractProvider func() []*endpoint.ServiceContract

// Server wraps a *grpc.Server bound to rpcmesh's generic passthrough
// wire service: each accepted stream gets its own endpoint.Responder
// serving the contracts ContractProvider returns.
type Server struct {
	grpcServer *grpc.Server
	contracts  ContractProvider
	cdc        codec.Codec
	log        *slog.Logger
}

// NewServer builds a Server. Stream interceptors beyond the built-in
// otelgrpc stats handler can be supplied via extraStream; they are
// chained with go-grpc-middleware/v2's ChainStreamServer the same way the
// teacher chains its own auth interceptor with recovery/logging
// middleware. No unary interceptors are accepted.
func NewServer(contracts ContractProvider, cdc codec.Codec, log *slog.Logger, extraStream ...grpc.StreamServerInterceptor) *Server {
	if log == nil {
		log = slog.Default()
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
	if len(extraStream) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(grpcmiddleware.ChainStreamServer(extraStream...)))
	}

	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		contracts:  contracts,
		cdc:        cdc,
		log:        log,
	}

	transport.RegisterWireHandler(s.grpcServer, s.onStream)
	return s
}

func (s *Server) onStream(t *transport.GRPCWireTransport) {
	resp := endpoint.NewResponder(t, s.cdc, s.log)
	for _, contract := range s.contracts() {
		resp.Register(contract)
	}
	if err := resp.Serve(context.Background()); err != nil {
		s.log.Debug("grpc: responder stream ended", "err", err)
	}
}

// Serve blocks accepting connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc: serve: %w", err)
	}
	return nil
}

// GracefulStop drains in-flight streams and stops accepting new ones.
func (s *Server) GracefulStop() { s.grpcServer.GracefulStop() }
