// Package interceptor provides chainable responder-side middleware for
// internal/endpoint, grounded on the teacher's
// infra/server/grpc/interceptors/stream_auth.go: that file wraps one grpc
// stream's context with identity it computed before the handler ran. The
// call-kind-agnostic Call/CallInfo shape here generalizes the same
// pre-handler-enrichment idiom away from grpc.ServerStream and from the
// single auth concern to a full chain (recovery, tracing, logging).
package interceptor

import (
	"context"

	"github.com/webitel/rpcmesh/internal/callengine"
	"github.com/webitel/rpcmesh/internal/transport"
)

// CallInfo describes the call an interceptor is wrapping.
type CallInfo struct {
	Path     string
	Kind     callengine.Kind
	Metadata transport.Metadata
}

// Handler is the next link in the chain — ultimately the registered
// method's serve function.
type Handler func(ctx context.Context) error

// Interceptor wraps a Handler, optionally altering ctx before calling it
// and observing/translating its error afterward.
type Interceptor func(ctx context.Context, info *CallInfo, handler Handler) error

// Chain composes interceptors into one, running them in the order given —
// the first interceptor is outermost, so it sees the call first and the
// final error last.
func Chain(interceptors ...Interceptor) Interceptor {
	switch len(interceptors) {
	case 0:
		return func(ctx context.Context, _ *CallInfo, handler Handler) error {
			return handler(ctx)
		}
	case 1:
		return interceptors[0]
	}
	return func(ctx context.Context, info *CallInfo, handler Handler) error {
		chained := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic := interceptors[i]
			next := chained
			chained = func(ctx context.Context) error {
				return ic(ctx, info, next)
			}
		}
		return chained(ctx)
	}
}
