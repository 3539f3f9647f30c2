package transport

import (
	"context"
	"sync"

	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/streamid"
)

// defaultBuffer is the per-stream/per-connection bounded buffer size,
// grounded on the teacher's registry.Cell mailbox default capacity
// (registry/hub.go's mailboxSize default).
const defaultBuffer = 1024

// MemoryTransport is the in-memory paired Transport variant: two instances
// cross-wire their inbound demultiplexers, so a send on one delivers
// (after passing through a dedicated pump goroutine, preserving FIFO) to
// the other's queue. Used primarily for tests and same-process fan-out.
type MemoryTransport struct {
	role   streamid.Role
	sidMgr *streamid.Manager
	demux  *demux
	outbox chan *TransportMessage

	peer *MemoryTransport

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	open     map[uint32]struct{}
	finished map[uint32]bool
}

// NewMemoryPair builds two cross-wired transports: caller plays the
// client role (odd stream ids), responder plays the server role (even
// stream ids), matching spec.md's HTTP/2-style parity rule.
func NewMemoryPair() (caller, responder *MemoryTransport) {
	caller = newMemoryTransport(streamid.Caller)
	responder = newMemoryTransport(streamid.Responder)
	caller.peer = responder
	responder.peer = caller

	go caller.pump()
	go responder.pump()
	return caller, responder
}

func newMemoryTransport(role streamid.Role) *MemoryTransport {
	return &MemoryTransport{
		role:     role,
		sidMgr:   streamid.New(role),
		demux:    newDemux(defaultBuffer),
		outbox:   make(chan *TransportMessage, defaultBuffer),
		closedCh: make(chan struct{}),
		open:     make(map[uint32]struct{}),
		finished: make(map[uint32]bool),
	}
}

func (t *MemoryTransport) pump() {
	for {
		select {
		case msg, ok := <-t.outbox:
			if !ok {
				return
			}
			t.peer.demux.dispatch(msg)
		case <-t.closedCh:
			return
		}
	}
}

func (t *MemoryTransport) Role() streamid.Role { return t.role }

func (t *MemoryTransport) CreateStream() uint32 {
	id := t.sidMgr.Next()
	t.mu.Lock()
	t.open[id] = struct{}{}
	t.mu.Unlock()
	return id
}

func (t *MemoryTransport) enqueue(ctx context.Context, msg *TransportMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.open[msg.StreamID] = struct{}{}
	t.mu.Unlock()

	select {
	case t.outbox <- msg:
		return nil
	case <-t.closedCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MemoryTransport) SendMetadata(ctx context.Context, streamID uint32, md Metadata, end bool) error {
	cp := md.Clone()
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Metadata: &cp, EndOfStream: end})
}

func (t *MemoryTransport) SendMessage(ctx context.Context, streamID uint32, payload []byte, end bool) error {
	p := payload
	if p == nil {
		p = []byte{}
	}
	return t.enqueue(ctx, &TransportMessage{StreamID: streamID, Payload: p, EndOfStream: end})
}

func (t *MemoryTransport) FinishSending(streamID uint32) error {
	t.mu.Lock()
	if t.finished[streamID] {
		t.mu.Unlock()
		return nil
	}
	t.finished[streamID] = true
	t.mu.Unlock()

	return t.enqueue(context.Background(), &TransportMessage{StreamID: streamID, EndOfStream: true})
}

func (t *MemoryTransport) ReleaseStreamID(streamID uint32) {
	t.mu.Lock()
	delete(t.open, streamID)
	t.mu.Unlock()
	t.demux.release(streamID)
}

func (t *MemoryTransport) Messages() <-chan *TransportMessage {
	return t.demux.all
}

func (t *MemoryTransport) StreamMessages(streamID uint32) <-chan *TransportMessage {
	return t.demux.streamChan(streamID, defaultBuffer)
}

// Close cancels all open streams on both ends of the pair, synthesizing an
// end-of-stream abort with grpc-status=unavailable for each, then closes
// local subscriptions, per spec.md §4.1's failure semantics.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	open := t.open
	t.open = nil
	t.mu.Unlock()

	close(t.closedCh)

	abortMD := NewMetadata(KeyGRPCStatus, rpcstatus.Unavailable.String(), KeyGRPCMessage, "transport closed")
	for id := range open {
		abort := &TransportMessage{StreamID: id, Metadata: func() *Metadata { m := abortMD.Clone(); return &m }(), EndOfStream: true}
		t.demux.dispatch(abort)
		if t.peer != nil {
			t.peer.demux.dispatch(&TransportMessage{StreamID: id, Metadata: func() *Metadata { m := abortMD.Clone(); return &m }(), EndOfStream: true})
		}
	}

	t.demux.closeAll()
	return nil
}
