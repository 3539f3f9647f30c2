package callengine

import (
	"context"
	"io"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

// frameReader decodes inbound payload frames off a Call, surfacing a
// non-ok grpc-status trailer as an *rpcstatus.Error and a clean completion
// as io.EOF — mirroring how grpc-go's ClientStream.RecvMsg reports the end
// of a stream.
type frameReader struct {
	call   *Call
	cdc    codec.Codec
	ended  bool
	endErr error
}

func newFrameReader(call *Call, cdc codec.Codec) *frameReader {
	return &frameReader{call: call, cdc: cdc}
}

func (r *frameReader) recvInto(ctx context.Context, out any) error {
	if r.ended {
		if r.endErr != nil {
			return r.endErr
		}
		return io.EOF
	}
	for {
		msg, err := r.call.Recv(ctx)
		if err != nil {
			return err
		}
		if msg.IsMetadataOnly() {
			if msg.EndOfStream {
				r.ended = true
				r.endErr = trailerError(msg.Metadata)
				if r.endErr != nil {
					return r.endErr
				}
				return io.EOF
			}
			continue
		}
		if err := r.cdc.Decode(msg.Payload, out); err != nil {
			return rpcstatus.New(rpcstatus.Internal, "decode: %v", err)
		}
		if msg.EndOfStream {
			r.ended = true
		}
		return nil
	}
}

// drain discards frames up to and including the trailer. Used after the
// last expected payload on a unary or client-streaming call, to surface a
// trailer that arrives as its own frame rather than riding the payload.
func (r *frameReader) drain(ctx context.Context) error {
	if r.ended {
		if r.endErr != nil {
			return r.endErr
		}
		return io.EOF
	}
	for {
		msg, err := r.call.Recv(ctx)
		if err != nil {
			return err
		}
		if msg.EndOfStream {
			r.ended = true
			r.endErr = trailerError(msg.Metadata)
			if r.endErr != nil {
				return r.endErr
			}
			return io.EOF
		}
	}
}

func trailerError(md *transport.Metadata) error {
	if md == nil {
		return nil
	}
	status, ok := md.Get(transport.KeyGRPCStatus)
	if !ok || status == rpcstatus.OK.String() {
		return nil
	}
	msg, _ := md.Get(transport.KeyGRPCMessage)
	return rpcstatus.New(codeFromString(status), "%s", msg)
}

func codeFromString(s string) rpcstatus.Code {
	for c := rpcstatus.OK; c <= rpcstatus.Internal; c++ {
		if c.String() == s {
			return c
		}
	}
	return rpcstatus.Unknown
}

// frameWriter encodes and sends outbound payload frames on a Call, lazily
// emitting the header frame on the first send.
type frameWriter struct {
	call       *Call
	cdc        codec.Codec
	headerMD   transport.Metadata
	headerSent bool
}

func newFrameWriter(call *Call, cdc codec.Codec, headerMD transport.Metadata) *frameWriter {
	return &frameWriter{call: call, cdc: cdc, headerMD: headerMD}
}

func (w *frameWriter) ensureHeader(ctx context.Context) error {
	if w.headerSent {
		return nil
	}
	w.headerSent = true
	return w.call.SendHeader(ctx, w.headerMD, false)
}

func (w *frameWriter) Send(ctx context.Context, v any) error {
	if err := w.ensureHeader(ctx); err != nil {
		return err
	}
	data, err := w.cdc.Encode(v)
	if err != nil {
		return rpcstatus.New(rpcstatus.Internal, "encode: %v", err)
	}
	return w.call.SendData(ctx, data, false)
}

func (w *frameWriter) SendFinal(ctx context.Context, v any) error {
	if err := w.ensureHeader(ctx); err != nil {
		return err
	}
	data, err := w.cdc.Encode(v)
	if err != nil {
		return rpcstatus.New(rpcstatus.Internal, "encode: %v", err)
	}
	return w.call.SendData(ctx, data, true)
}

func (w *frameWriter) Close(ctx context.Context) error {
	if err := w.ensureHeader(ctx); err != nil {
		return err
	}
	return w.call.Finish()
}

func sendFailure(ctx context.Context, call *Call, err error) {
	se := rpcstatus.FromError(err)
	_ = call.Cancel(ctx, se.Code, se.Message)
}
