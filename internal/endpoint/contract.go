// Package endpoint is the C5 layer: a contract registry mapping method
// paths to call kinds and typed handlers, plus the caller- and
// responder-side drivers that sit on top of internal/callengine. Grounded
// on the teacher's service/method registration shape
// (internal/handler/grpc/module.go registering one gRPC service per
// fx.Invoke) generalized to an open registry of many named methods, and
// on the generic Bind[T] handler-wrapping idiom from
// internal/handler/amqp/bind.go, adapted from wrapping a message-bus
// consumer to wrapping one of the four RPC call-kind drivers.
package endpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/webitel/rpcmesh/internal/callengine"
	"github.com/webitel/rpcmesh/internal/codec"
)

// serveFunc is the type-erased form every RegisterXxx closes a generic
// handler over, so the responder's dispatch loop never needs reflection.
type serveFunc func(ctx context.Context, call *callengine.Call, cdc codec.Codec) error

// MethodDescriptor is one registered RPC method.
type MethodDescriptor struct {
	Path  string
	Kind  callengine.Kind
	serve serveFunc
}

// ServiceContract groups a named service's methods, mirroring the
// :path convention "/Service/Method" used on the wire.
type ServiceContract struct {
	Name string

	mu      sync.RWMutex
	methods map[string]*MethodDescriptor
}

// NewServiceContract creates an empty contract for name.
func NewServiceContract(name string) *ServiceContract {
	return &ServiceContract{Name: name, methods: make(map[string]*MethodDescriptor)}
}

func (s *ServiceContract) path(method string) string {
	return fmt.Sprintf("/%s/%s", s.Name, method)
}

func (s *ServiceContract) register(method string, kind callengine.Kind, fn serveFunc) {
	path := s.path(method)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[path] = &MethodDescriptor{Path: path, Kind: kind, serve: fn}
}

// Methods returns every registered descriptor, keyed by path.
func (s *ServiceContract) Methods() map[string]*MethodDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*MethodDescriptor, len(s.methods))
	for k, v := range s.methods {
		out[k] = v
	}
	return out
}

// RegisterUnary binds a single-request/single-response handler to
// "<service>/<method>".
func RegisterUnary[Req, Resp any](s *ServiceContract, method string, handler func(context.Context, Req) (Resp, error)) {
	s.register(method, callengine.Unary, func(ctx context.Context, call *callengine.Call, cdc codec.Codec) error {
		return callengine.ServeUnary(ctx, call, cdc, handler)
	})
}

// RegisterServerStream binds a single-request/streamed-response handler.
func RegisterServerStream[Req, Resp any](s *ServiceContract, method string, handler func(context.Context, Req, func(Resp) error) error) {
	s.register(method, callengine.ServerStreaming, func(ctx context.Context, call *callengine.Call, cdc codec.Codec) error {
		return callengine.ServeServerStream(ctx, call, cdc, handler)
	})
}

// RegisterClientStream binds a streamed-request/single-response handler.
func RegisterClientStream[Req, Resp any](s *ServiceContract, method string, handler func(context.Context, func(context.Context) (Req, error)) (Resp, error)) {
	s.register(method, callengine.ClientStreaming, func(ctx context.Context, call *callengine.Call, cdc codec.Codec) error {
		return callengine.ServeClientStream(ctx, call, cdc, handler)
	})
}

// RegisterBidi binds a fully bidirectional streaming handler.
func RegisterBidi[Req, Resp any](s *ServiceContract, method string, handler func(context.Context, func(context.Context) (Req, error), func(Resp) error) error) {
	s.register(method, callengine.Bidi, func(ctx context.Context, call *callengine.Call, cdc codec.Codec) error {
		return callengine.ServeBidi(ctx, call, cdc, handler)
	})
}
