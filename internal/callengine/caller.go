package callengine

import (
	"context"
	"io"
	"time"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

// Invoker drives the caller side of a call against a transport, handling
// header/trailer bookkeeping so callers only supply application values.
// Grounded on the request/response correlation idiom in piko's
// rpc-stream.go, adapted from one shared connection-wide handler table to
// per-call framing over this package's Call state machine.
type Invoker struct {
	tr  transport.Transport
	cdc codec.Codec
}

// NewInvoker builds an Invoker bound to one transport and codec.
func NewInvoker(tr transport.Transport, cdc codec.Codec) *Invoker {
	return &Invoker{tr: tr, cdc: cdc}
}

func headerMetadata(ctx context.Context, path string) transport.Metadata {
	md := transport.NewMetadata(transport.KeyPath, path)
	if dl, ok := ctx.Deadline(); ok {
		if t := EncodeTimeout(time.Until(dl)); t != "" {
			md.Add(transport.KeyGRPCTimeout, t)
		}
	}
	return md
}

// InvokeUnary performs a single request/single response call and blocks
// until the response (or an error trailer) arrives.
func InvokeUnary[Req, Resp any](ctx context.Context, inv *Invoker, path string, req Req) (Resp, error) {
	var zero Resp
	call := NewCall(inv.tr, inv.tr.CreateStream(), Unary, RoleCaller)
	defer call.Close()

	if err := call.SendHeader(ctx, headerMetadata(ctx, path), false); err != nil {
		return zero, err
	}
	data, err := inv.cdc.Encode(req)
	if err != nil {
		return zero, rpcstatus.New(rpcstatus.Internal, "encode request: %v", err)
	}
	if err := call.SendData(ctx, data, true); err != nil {
		return zero, err
	}

	reader := newFrameReader(call, inv.cdc)
	var resp Resp
	if err := reader.recvInto(ctx, &resp); err != nil {
		if err == io.EOF {
			return zero, rpcstatus.New(rpcstatus.Internal, "peer closed stream without a response")
		}
		return zero, err
	}
	if err := reader.drain(ctx); err != nil && err != io.EOF {
		return zero, err
	}
	return resp, nil
}

// InvokeServerStream sends a single request and returns a recv function
// that decodes successive responses until it reports io.EOF.
func InvokeServerStream[Req, Resp any](ctx context.Context, inv *Invoker, path string, req Req) (*Call, func(context.Context) (Resp, error), error) {
	call := NewCall(inv.tr, inv.tr.CreateStream(), ServerStreaming, RoleCaller)

	if err := call.SendHeader(ctx, headerMetadata(ctx, path), false); err != nil {
		call.Close()
		return nil, nil, err
	}
	data, err := inv.cdc.Encode(req)
	if err != nil {
		call.Close()
		return nil, nil, rpcstatus.New(rpcstatus.Internal, "encode request: %v", err)
	}
	if err := call.SendData(ctx, data, true); err != nil {
		call.Close()
		return nil, nil, err
	}

	reader := newFrameReader(call, inv.cdc)
	recv := func(ctx context.Context) (Resp, error) {
		var out Resp
		err := reader.recvInto(ctx, &out)
		return out, err
	}
	return call, recv, nil
}

// InvokeClientStream returns a send function for pushing requests and a
// finish function that closes the request side and waits for the single
// response.
func InvokeClientStream[Req, Resp any](ctx context.Context, inv *Invoker, path string) (*Call, func(context.Context, Req) error, func(context.Context) (Resp, error)) {
	call := NewCall(inv.tr, inv.tr.CreateStream(), ClientStreaming, RoleCaller)
	writer := newFrameWriter(call, inv.cdc, headerMetadata(ctx, path))
	reader := newFrameReader(call, inv.cdc)

	send := func(ctx context.Context, req Req) error {
		return writer.Send(ctx, req)
	}
	finish := func(ctx context.Context) (Resp, error) {
		var zero Resp
		if err := writer.Close(ctx); err != nil {
			return zero, err
		}
		var resp Resp
		if err := reader.recvInto(ctx, &resp); err != nil {
			if err == io.EOF {
				return zero, rpcstatus.New(rpcstatus.Internal, "peer closed stream without a response")
			}
			return zero, err
		}
		if err := reader.drain(ctx); err != nil && err != io.EOF {
			return zero, err
		}
		return resp, nil
	}
	return call, send, finish
}

// InvokeBidi returns independent send and recv functions pumping both
// directions of a bidirectional call concurrently.
func InvokeBidi[Req, Resp any](ctx context.Context, inv *Invoker, path string) (*Call, func(context.Context, Req) error, func(context.Context) error, func(context.Context) (Resp, error)) {
	call := NewCall(inv.tr, inv.tr.CreateStream(), Bidi, RoleCaller)
	writer := newFrameWriter(call, inv.cdc, headerMetadata(ctx, path))
	reader := newFrameReader(call, inv.cdc)

	send := func(ctx context.Context, req Req) error {
		return writer.Send(ctx, req)
	}
	closeSend := func(ctx context.Context) error {
		return writer.Close(ctx)
	}
	recv := func(ctx context.Context) (Resp, error) {
		var out Resp
		err := reader.recvInto(ctx, &out)
		return out, err
	}
	return call, send, closeSend, recv
}
