package transport

import (
	"context"
	"encoding/json"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/webitel/rpcmesh/internal/streamid"
)

// wireCodecName is registered with grpc's encoding registry so the
// generic passthrough stream below exchanges raw wireEnvelope frames
// instead of proto-marshalled messages. Negotiated via
// grpc.CallContentSubtype on the client and grpc's own content-type
// parsing on the server — the standard technique for riding a hand-rolled
// streaming protocol on top of a real google.golang.org/grpc connection
// instead of code-generated proto services.
const wireCodecName = "rpcmesh-wire"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

type wireCodec struct{}

func (wireCodec) Name() string { return wireCodecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// WireServiceName is the single grpc service every rpcmesh connection
// rides on; method routing happens inside the envelope's MethodPath
// field (the :path metadata key), not at the grpc method level, so only
// one streaming RPC is ever registered.
const WireServiceName = "rpcmesh.wire.v1.Wire"

const wireStreamName = "Stream"

// WireStreamDesc describes the sole bidirectional-streaming method the
// client dials.
var WireStreamDesc = grpc.StreamDesc{
	StreamName:    wireStreamName,
	ServerStreams: true,
	ClientStreams: true,
}

// grpcStream is the subset of grpc.ServerStream/grpc.ClientStream this
// package needs, letting GRPCWireTransport wrap either side identically.
type grpcStream interface {
	Context() context.Context
	SendMsg(m any) error
	RecvMsg(m any) error
}

// RegisterWireHandler installs the generic passthrough handler on
// server: every accepted connection is wrapped as a GRPCWireTransport
// and handed to onStream, mirroring the one-goroutine-per-stream shape
// of the teacher's DeliveryService.Stream handler but generalized from
// one proto service method to the whole rpcmesh wire protocol.
func RegisterWireHandler(server *grpc.Server, onStream func(*GRPCWireTransport)) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: WireServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName: wireStreamName,
				Handler: func(_ any, stream grpc.ServerStream) error {
					t := newGRPCWireTransport(stream, streamid.Responder)
					onStream(t)
					<-t.closedCh
					return nil
				},
				ServerStreams: true,
				ClientStreams: true,
			},
		},
	}, nil)
}

// DialWireTransport opens the generic passthrough stream on conn and
// wraps it as a caller-role Transport.
func DialWireTransport(ctx context.Context, conn *grpc.ClientConn) (*GRPCWireTransport, error) {
	cs, err := conn.NewStream(ctx, &WireStreamDesc, "/"+WireServiceName+"/"+wireStreamName,
		grpc.CallContentSubtype(wireCodecName))
	if err != nil {
		return nil, err
	}
	return newGRPCWireTransport(cs, streamid.Caller), nil
}

// GRPCWireTransport is the C1 HTTP/2-gRPC binding: one grpc stream
// carrying the rpcmesh wire protocol as a sequence of JSON envelopes,
// one per SendMsg/RecvMsg call — HTTP/2's own DATA framing delimits
// message boundaries, so unlike the raw byte-stream case this needs no
// internal/wire length-prefixing.
type GRPCWireTransport struct {
	stream grpcStream
	role   streamid.Role
	sidMgr *streamid.Manager
	demux  *demux
	outbox chan *TransportMessage

	mu        sync.Mutex
	closed    bool
	closedCh  chan struct{}
	streamErr error
}

func newGRPCWireTransport(stream grpcStream, role streamid.Role) *GRPCWireTransport {
	t := &GRPCWireTransport{
		stream:   stream,
		role:     role,
		sidMgr:   streamid.New(role),
		demux:    newDemux(defaultBuffer),
		outbox:   make(chan *TransportMessage, defaultBuffer),
		closedCh: make(chan struct{}),
	}
	go t.writePump()
	go t.readPump()
	return t
}

func (t *GRPCWireTransport) Role() streamid.Role { return t.role }

func (t *GRPCWireTransport) CreateStream() uint32 { return t.sidMgr.Next() }

func (t *GRPCWireTransport) enqueue(ctx context.Context, msg *TransportMessage) error {
	select {
	case t.outbox <- msg:
		return nil
	case <-t.closedCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *GRPCWireTransport) SendMetadata(ctx context.Context, streamID uint32, md Metadata, end bool) error {
	cp := md.Clone()
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Metadata: &cp, EndOfStream: end})
}

func (t *GRPCWireTransport) SendMessage(ctx context.Context, streamID uint32, payload []byte, end bool) error {
	p := payload
	if p == nil {
		p = []byte{}
	}
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Payload: p, EndOfStream: end})
}

func (t *GRPCWireTransport) FinishSending(streamID uint32) error {
	return t.enqueue(context.Background(), &TransportMessage{StreamID: streamID, EndOfStream: true})
}

func (t *GRPCWireTransport) ReleaseStreamID(streamID uint32) { t.demux.release(streamID) }

func (t *GRPCWireTransport) Messages() <-chan *TransportMessage { return t.demux.all }

func (t *GRPCWireTransport) StreamMessages(streamID uint32) <-chan *TransportMessage {
	return t.demux.streamChan(streamID, defaultBuffer)
}

func (t *GRPCWireTransport) writePump() {
	for {
		select {
		case msg, ok := <-t.outbox:
			if !ok {
				return
			}
			env := envelopeFromMessage(msg)
			if err := t.stream.SendMsg(&env); err != nil {
				t.fail(err)
				return
			}
		case <-t.closedCh:
			return
		}
	}
}

func (t *GRPCWireTransport) readPump() {
	for {
		var env wireEnvelope
		if err := t.stream.RecvMsg(&env); err != nil {
			t.fail(err)
			return
		}
		t.demux.dispatch(env.toMessage())
	}
}

func (t *GRPCWireTransport) fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.streamErr = err
	t.mu.Unlock()
	close(t.closedCh)
	t.demux.closeAll()
}

// Err returns the error that caused this transport to close, if any.
func (t *GRPCWireTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamErr
}

// Close ends the underlying grpc stream and tears down all stream
// subscriptions.
func (t *GRPCWireTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closedCh)
	t.demux.closeAll()
	if cs, ok := t.stream.(grpc.ClientStream); ok {
		return cs.CloseSend()
	}
	return nil
}
