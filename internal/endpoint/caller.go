package endpoint

import (
	"context"

	"github.com/webitel/rpcmesh/internal/callengine"
	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/transport"
)

// CallerEndpoint is the C5 client side: a thin, typed wrapper over
// callengine.Invoker so call sites name a service method path and two
// Go types instead of juggling a *Call directly.
type CallerEndpoint struct {
	inv *callengine.Invoker
}

// NewCallerEndpoint builds a CallerEndpoint bound to one transport and
// codec.
func NewCallerEndpoint(tr transport.Transport, cdc codec.Codec) *CallerEndpoint {
	return &CallerEndpoint{inv: callengine.NewInvoker(tr, cdc)}
}

// CallUnary issues a single-request/single-response call.
func CallUnary[Req, Resp any](ctx context.Context, ep *CallerEndpoint, path string, req Req) (Resp, error) {
	return callengine.InvokeUnary[Req, Resp](ctx, ep.inv, path, req)
}

// CallServerStream issues a single-request/streamed-response call.
func CallServerStream[Req, Resp any](ctx context.Context, ep *CallerEndpoint, path string, req Req) (func(context.Context) (Resp, error), error) {
	_, recv, err := callengine.InvokeServerStream[Req, Resp](ctx, ep.inv, path, req)
	return recv, err
}

// CallClientStream issues a streamed-request/single-response call,
// returning a send function and a finish function that closes the
// request side and waits for the response.
func CallClientStream[Req, Resp any](ctx context.Context, ep *CallerEndpoint, path string) (func(context.Context, Req) error, func(context.Context) (Resp, error)) {
	_, send, finish := callengine.InvokeClientStream[Req, Resp](ctx, ep.inv, path)
	return send, finish
}

// CallBidi issues a fully bidirectional streaming call.
func CallBidi[Req, Resp any](ctx context.Context, ep *CallerEndpoint, path string) (func(context.Context, Req) error, func(context.Context) error, func(context.Context) (Resp, error)) {
	_, send, closeSend, recv := callengine.InvokeBidi[Req, Resp](ctx, ep.inv, path)
	return send, closeSend, recv
}
