// Package transport defines the C1 byte-frame multiplexer contract: a
// transport exposes per-stream send of metadata/data/end frames and a
// demultiplexed incoming-message stream, independent of the concrete
// wire (in-memory, WebSocket, or HTTP/2 with gRPC framing).
package transport

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/webitel/rpcmesh/internal/streamid"
)

// ErrClosed is returned by send operations after the transport has closed.
var ErrClosed = errors.New("transport: closed")

// Reserved metadata keys mirroring gRPC semantics.
const (
	KeyPath         = ":path"
	KeyStatus       = ":status"
	KeyContentType  = "content-type"
	KeyGRPCStatus   = "grpc-status"
	KeyGRPCMessage  = "grpc-message"
	KeyGRPCTimeout  = "grpc-timeout"
)

// Metadata is an ordered list of (name, value) pairs with case-insensitive
// lookup and multi-value preservation, mirroring gRPC header semantics.
type Metadata struct {
	pairs [][2]string
}

// NewMetadata builds a Metadata from a flat list of alternating name/value
// strings, for convenient call-site construction.
func NewMetadata(kv ...string) Metadata {
	var md Metadata
	for i := 0; i+1 < len(kv); i += 2 {
		md.Add(kv[i], kv[i+1])
	}
	return md
}

// Add appends a (name, value) pair, preserving any existing values for the
// same (case-insensitively matched) name.
func (m *Metadata) Add(name, value string) {
	m.pairs = append(m.pairs, [2]string{name, value})
}

// Get returns the first value stored for name (case-insensitive), and
// whether any value was found.
func (m Metadata) Get(name string) (string, bool) {
	for _, p := range m.pairs {
		if strings.EqualFold(p[0], name) {
			return p[1], true
		}
	}
	return "", false
}

// Values returns every value stored for name (case-insensitive), in
// insertion order.
func (m Metadata) Values(name string) []string {
	var out []string
	for _, p := range m.pairs {
		if strings.EqualFold(p[0], name) {
			out = append(out, p[1])
		}
	}
	return out
}

// Pairs returns the raw (name, value) pairs in insertion order.
func (m Metadata) Pairs() [][2]string {
	return m.pairs
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	cp := make([][2]string, len(m.pairs))
	copy(cp, m.pairs)
	return Metadata{pairs: cp}
}

// TransportMessage is the unit exchanged by a Transport. A message is
// either metadata-only or payload-bearing; EndOfStream may ride on either
// kind.
type TransportMessage struct {
	StreamID    uint32
	Metadata    *Metadata
	Payload     []byte
	EndOfStream bool
	MethodPath  string
}

// IsMetadataOnly reports whether m carries no payload (a nil Payload). A
// non-nil zero-length payload is not metadata-only: a payload frame always
// carries a non-nil, possibly empty, slice explicitly sent via
// SendMessage.
func (m *TransportMessage) IsMetadataOnly() bool {
	return m.Payload == nil
}

// Transport is the C1 contract: pluggable byte transports implement this
// to carry TransportMessages for many logical streams over one physical
// connection.
type Transport interface {
	// CreateStream allocates a new stream id for this connection's role.
	// Pure allocation, no I/O.
	CreateStream() uint32

	// SendMetadata transmits a metadata-only frame on streamID.
	SendMetadata(ctx context.Context, streamID uint32, md Metadata, end bool) error

	// SendMessage transmits a payload frame on streamID.
	SendMessage(ctx context.Context, streamID uint32, payload []byte, end bool) error

	// FinishSending emits a zero-length end-of-stream marker. Idempotent.
	FinishSending(streamID uint32) error

	// ReleaseStreamID best-effort closes in-flight send/receive for id.
	ReleaseStreamID(streamID uint32)

	// Messages returns the demultiplexed incoming message channel for the
	// whole connection.
	Messages() <-chan *TransportMessage

	// StreamMessages returns the demultiplexed incoming message channel
	// scoped to a single stream id.
	StreamMessages(streamID uint32) <-chan *TransportMessage

	// Role reports which side of the connection this transport plays,
	// governing CreateStream's id parity.
	Role() streamid.Role

	// Close cancels all streams, drains subscriptions, and closes the
	// underlying connection.
	Close() error
}

// demux is an embeddable helper implementing the per-stream fan-out that
// every concrete Transport needs: one shared inbound channel plus lazily
// created per-stream channels, torn down on stream release or Close.
type demux struct {
	mu      sync.Mutex
	all     chan *TransportMessage
	streams map[uint32]chan *TransportMessage
	closed  bool
}

func newDemux(buffer int) *demux {
	return &demux{
		all:     make(chan *TransportMessage, buffer),
		streams: make(map[uint32]chan *TransportMessage),
	}
}

func (d *demux) streamChan(id uint32, buffer int) chan *TransportMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.streams[id]
	if !ok {
		ch = make(chan *TransportMessage, buffer)
		d.streams[id] = ch
	}
	return ch
}

// dispatch fans msg out to both the connection-wide channel and its
// stream-scoped channel. Best-effort: a full channel drops the message
// rather than blocking the transport's single reader goroutine, matching
// the bounded-buffer backpressure model described in spec.md §5 (a slow
// consumer loses messages past its buffer; it never stalls delivery to
// others).
func (d *demux) dispatch(msg *TransportMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	ch, ok := d.streams[msg.StreamID]
	if !ok {
		ch = make(chan *TransportMessage, cap(d.all))
		d.streams[msg.StreamID] = ch
	}
	d.mu.Unlock()

	select {
	case d.all <- msg:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

func (d *demux) release(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.streams[id]; ok {
		delete(d.streams, id)
		close(ch)
	}
}

func (d *demux) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, ch := range d.streams {
		delete(d.streams, id)
		close(ch)
	}
	close(d.all)
}
