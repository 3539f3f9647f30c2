// Package callengine drives the four RPC call kinds (unary, server-stream,
// client-stream, bidirectional) as small state machines on top of a
// transport.Transport, owning per-call metadata, payload codec selection,
// cancellation and deadlines. This is C4.
package callengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

// Kind identifies one of the four call patterns.
type Kind int

const (
	Unary Kind = iota
	ServerStreaming
	ClientStreaming
	Bidi
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "unary"
	case ServerStreaming:
		return "server_stream"
	case ClientStreaming:
		return "client_stream"
	case Bidi:
		return "bidi"
	default:
		return "unknown"
	}
}

// Role identifies which side of the call this process plays.
type Role int

const (
	RoleCaller Role = iota
	RoleResponder
)

// State is the call lifecycle, matching spec.md §4.4 exactly:
// idle -> open -> half_closed_local | half_closed_remote -> closed.
type State int32

const (
	StateIdle State = iota
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half_closed_local"
	case StateHalfClosedRemote:
		return "half_closed_remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EncodeTimeout renders d as a grpc-timeout header value (e.g. "500m" for
// 500 milliseconds), using gRPC's unit-suffix convention.
func EncodeTimeout(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "m"
}

// ParseTimeout parses a grpc-timeout header value back into a Duration.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("callengine: empty grpc-timeout")
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("callengine: invalid grpc-timeout %q: %w", s, err)
	}
	switch unit {
	case 'H':
		return time.Duration(n) * time.Hour, nil
	case 'M':
		return time.Duration(n) * time.Minute, nil
	case 'S':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Millisecond, nil
	case 'u':
		return time.Duration(n) * time.Microsecond, nil
	case 'n':
		return time.Duration(n) * time.Nanosecond, nil
	default:
		return 0, fmt.Errorf("callengine: unknown grpc-timeout unit %q", s)
	}
}

// Call is the per-stream record driving one RPC's state machine. It wraps
// a transport stream with FIFO send/receive helpers and deadline/
// cancellation bookkeeping. A Call is not safe for concurrent Send* calls
// from multiple goroutines, matching the strict per-stream FIFO ordering
// spec.md §4.4 requires; concurrent Recv from the same Call is also not
// supported (one consumer per call, as with every implementation in the
// reference corpus).
type Call struct {
	Kind Kind
	Role Role

	tr       transport.Transport
	streamID uint32

	mu            sync.Mutex
	state         State
	sentPayloads  int
	recvPayloads  int
	metadataSent  bool
	cancelFn      context.CancelFunc

	incoming <-chan *transport.TransportMessage
}

// NewCall wraps an existing transport stream. The caller is responsible
// for having obtained streamID via tr.CreateStream() (caller role) or from
// the first inbound message on an unregistered id (responder role).
func NewCall(tr transport.Transport, streamID uint32, kind Kind, role Role) *Call {
	return &Call{
		Kind:     kind,
		Role:     role,
		tr:       tr,
		streamID: streamID,
		state:    StateIdle,
		incoming: tr.StreamMessages(streamID),
	}
}

// State returns the call's current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StreamID returns the stream id this call was assigned.
func (c *Call) StreamID() uint32 { return c.streamID }

func (c *Call) transitionOnLocalEnd() {
	switch c.state {
	case StateIdle, StateOpen:
		c.state = StateHalfClosedLocal
	case StateHalfClosedRemote:
		c.state = StateClosed
	}
}

func (c *Call) transitionOnRemoteEnd() {
	switch c.state {
	case StateIdle, StateOpen:
		c.state = StateHalfClosedRemote
	case StateHalfClosedLocal:
		c.state = StateClosed
	}
}

// SendHeader transmits the initial metadata frame for this call. It must
// be the first frame sent, per spec.md §3's invariant that the first
// message on any stream carries metadata.
func (c *Call) SendHeader(ctx context.Context, md transport.Metadata, end bool) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return rpcstatus.New(rpcstatus.FailedPrecondition, "call already closed")
	}
	c.metadataSent = true
	if c.state == StateIdle {
		c.state = StateOpen
	}
	if end {
		c.transitionOnLocalEnd()
	}
	c.mu.Unlock()

	return c.tr.SendMetadata(ctx, c.streamID, md, end)
}

// SendData transmits one payload frame, enforcing the single-request
// invariant for Unary and ServerStreaming callers (more than one request
// payload is a programming error on those kinds).
func (c *Call) SendData(ctx context.Context, payload []byte, end bool) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateHalfClosedLocal {
		c.mu.Unlock()
		return rpcstatus.New(rpcstatus.FailedPrecondition, "cannot send on a half-closed-local or closed call")
	}
	if c.Role == RoleCaller && (c.Kind == Unary || c.Kind == ServerStreaming) && c.sentPayloads >= 1 {
		c.mu.Unlock()
		return rpcstatus.New(rpcstatus.FailedPrecondition, "%s callers may only send a single request payload", c.Kind)
	}
	if c.Role == RoleResponder && c.Kind == Unary && c.sentPayloads >= 1 {
		c.mu.Unlock()
		return rpcstatus.New(rpcstatus.FailedPrecondition, "unary responders may only send a single response payload")
	}
	c.sentPayloads++
	if end {
		c.transitionOnLocalEnd()
	} else if c.state == StateIdle {
		c.state = StateOpen
	}
	c.mu.Unlock()

	return c.tr.SendMessage(ctx, c.streamID, payload, end)
}

// Finish emits a zero-length end-of-stream marker, transitioning to
// half-closed-local (or closed, if the remote already finished).
func (c *Call) Finish() error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateHalfClosedLocal {
		c.mu.Unlock()
		return nil
	}
	c.transitionOnLocalEnd()
	c.mu.Unlock()

	return c.tr.FinishSending(c.streamID)
}

// Cancel transitions the call to closed immediately, best-effort emitting
// a trailer carrying the cancellation status before releasing the stream.
func (c *Call) Cancel(ctx context.Context, code rpcstatus.Code, message string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	if c.cancelFn != nil {
		c.cancelFn()
	}
	c.mu.Unlock()

	md := transport.NewMetadata(transport.KeyGRPCStatus, code.String(), transport.KeyGRPCMessage, message)
	_ = c.tr.SendMetadata(ctx, c.streamID, md, true)
	c.tr.ReleaseStreamID(c.streamID)
	return nil
}

// Close releases the underlying stream id without sending anything
// further; used once both directions have finished normally.
func (c *Call) Close() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.tr.ReleaseStreamID(c.streamID)
}

// Recv returns the next inbound message for this call, or an error if the
// context is cancelled first. It updates the half-closed-remote/closed
// transition when the message carries EndOfStream.
func (c *Call) Recv(ctx context.Context) (*transport.TransportMessage, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return nil, rpcstatus.New(rpcstatus.Unavailable, "stream closed")
		}
		c.mu.Lock()
		if !msg.IsMetadataOnly() {
			c.recvPayloads++
		}
		if msg.EndOfStream {
			c.transitionOnRemoteEnd()
		}
		c.mu.Unlock()
		return msg, nil
	case <-ctx.Done():
		return nil, rpcstatus.New(rpcstatus.DeadlineExceeded, "%v", ctx.Err())
	}
}

// SetCancelFunc stores the context.CancelFunc that tears down any deadline
// timer or parent context tied to this call, so Cancel can release it.
func (c *Call) SetCancelFunc(fn context.CancelFunc) {
	c.mu.Lock()
	c.cancelFn = fn
	c.mu.Unlock()
}
