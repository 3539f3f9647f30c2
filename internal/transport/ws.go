package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webitel/rpcmesh/internal/streamid"
)

// WSTransport is the C1 WebSocket binding: one physical connection
// multiplexing many logical streams as JSON-framed messages, with a
// single writer goroutine pumping an outbox channel — the same
// one-goroutine-writes-the-socket discipline the teacher's ws handler
// relies on implicitly (gorilla/websocket forbids concurrent writers).
type WSTransport struct {
	conn   *websocket.Conn
	role   streamid.Role
	sidMgr *streamid.Manager
	demux  *demux
	outbox chan *TransportMessage

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}

	writeErr  error
	writeOnce sync.Once
}

// NewWSTransport wraps an established WebSocket connection as a
// Transport playing role.
func NewWSTransport(conn *websocket.Conn, role streamid.Role) *WSTransport {
	t := &WSTransport{
		conn:     conn,
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

func (t *WSTransport) Role() streamid.Role { return t.role }

func (t *WSTransport) CreateStream() uint32 { return t.sidMgr.Next() }

func (t *WSTransport) enqueue(ctx context.Context, msg *TransportMessage) error {
	select {
	case t.outbox <- msg:
		return nil
	case <-t.closedCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) SendMetadata(ctx context.Context, streamID uint32, md Metadata, end bool) error {
	cp := md.Clone()
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Metadata: &cp, EndOfStream: end})
}

func (t *WSTransport) SendMessage(ctx context.Context, streamID uint32, payload []byte, end bool) error {
	p := payload
	if p == nil {
		p = []byte{}
	}
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Payload: p, EndOfStream: end})
}

func (t *WSTransport) FinishSending(streamID uint32) error {
	return t.enqueue(context.Background(), &TransportMessage{StreamID: streamID, EndOfStream: true})
}

func (t *WSTransport) ReleaseStreamID(streamID uint32) {
	t.demux.release(streamID)
}

func (t *WSTransport) Messages() <-chan *TransportMessage { return t.demux.all }

func (t *WSTransport) StreamMessages(streamID uint32) <-chan *TransportMessage {
	return t.demux.streamChan(streamID, defaultBuffer)
}

func (t *WSTransport) writePump() {
	for {
		select {
		case msg, ok := <-t.outbox:
			if !ok {
				return
			}
			frame := envelopeFromMessage(msg)
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				t.writeOnce.Do(func() { t.writeErr = err })
				_ = t.Close()
				return
			}
		case <-t.closedCh:
			return
		}
	}
}

func (t *WSTransport) readPump() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			_ = t.Close()
			return
		}
		var frame wireEnvelope
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		t.demux.dispatch(frame.toMessage())
	}
}

// Close closes the underlying WebSocket connection and tears down all
// stream subscriptions.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closedCh)
	t.demux.closeAll()
	return t.conn.Close()
}
