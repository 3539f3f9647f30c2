package callengine

import (
	"context"
	"io"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

// ServeUnary decodes the single request, invokes handler, and sends back
// the single response, or a status trailer on failure.
func ServeUnary[Req, Resp any](ctx context.Context, call *Call, cdc codec.Codec, handler func(context.Context, Req) (Resp, error)) error {
	reader := newFrameReader(call, cdc)
	var req Req
	if err := reader.recvInto(ctx, &req); err != nil {
		if err == io.EOF {
			err = rpcstatus.New(rpcstatus.InvalidArgument, "unary call received no request")
		}
		sendFailure(ctx, call, err)
		return err
	}

	resp, err := handler(ctx, req)
	if err != nil {
		sendFailure(ctx, call, err)
		return err
	}

	writer := newFrameWriter(call, cdc, transport.Metadata{})
	return writer.SendFinal(ctx, resp)
}

// ServeServerStream decodes the single request, invokes handler with a
// send function for streamed responses, and closes the stream when
// handler returns.
func ServeServerStream[Req, Resp any](ctx context.Context, call *Call, cdc codec.Codec, handler func(context.Context, Req, func(Resp) error) error) error {
	reader := newFrameReader(call, cdc)
	var req Req
	if err := reader.recvInto(ctx, &req); err != nil {
		if err == io.EOF {
			err = rpcstatus.New(rpcstatus.InvalidArgument, "server-stream call received no request")
		}
		sendFailure(ctx, call, err)
		return err
	}

	writer := newFrameWriter(call, cdc, transport.Metadata{})
	send := func(resp Resp) error { return writer.Send(ctx, resp) }

	if err := handler(ctx, req, send); err != nil {
		sendFailure(ctx, call, err)
		return err
	}
	return writer.Close(ctx)
}

// ServeClientStream invokes handler with a recv function that decodes
// successive requests until io.EOF, then sends the single response
// handler computes.
func ServeClientStream[Req, Resp any](ctx context.Context, call *Call, cdc codec.Codec, handler func(context.Context, func(context.Context) (Req, error)) (Resp, error)) error {
	reader := newFrameReader(call, cdc)
	recv := func(ctx context.Context) (Req, error) {
		var out Req
		err := reader.recvInto(ctx, &out)
		return out, err
	}

	resp, err := handler(ctx, recv)
	if err != nil {
		sendFailure(ctx, call, err)
		return err
	}

	writer := newFrameWriter(call, cdc, transport.Metadata{})
	return writer.SendFinal(ctx, resp)
}

// ServeBidi invokes handler with independent recv/send functions pumping
// both directions of the call concurrently.
func ServeBidi[Req, Resp any](ctx context.Context, call *Call, cdc codec.Codec, handler func(context.Context, func(context.Context) (Req, error), func(Resp) error) error) error {
	reader := newFrameReader(call, cdc)
	writer := newFrameWriter(call, cdc, transport.Metadata{})

	recv := func(ctx context.Context) (Req, error) {
		var out Req
		err := reader.recvInto(ctx, &out)
		return out, err
	}
	send := func(resp Resp) error { return writer.Send(ctx, resp) }

	if err := handler(ctx, recv, send); err != nil {
		sendFailure(ctx, call, err)
		return err
	}
	return writer.Close(ctx)
}
