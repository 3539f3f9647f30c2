// Package routerclient is the C8 layer: a typed client for the router
// service built on internal/endpoint, grounded on piko's Stream type
// (request/response correlation via a per-id channel table) generalized
// from a uint64 message id to the router's string request_id.
package routerclient

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/router"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/routerrpc"
	"github.com/webitel/rpcmesh/internal/transport"
)

// Client wraps a caller endpoint bound to the router service, retaining
// the identity needed to replay register→initialize_p2p after a
// reconnect.
type Client struct {
	ep *endpoint.CallerEndpoint

	mu         sync.RWMutex
	clientID   string
	clientName string
	groups     []string
	metadata   map[string]any

	p2pSend      func(context.Context, router.RouterMessage) error
	p2pCloseSend func(context.Context) error
	p2pRecv      func(context.Context) (router.RouterMessage, error)

	respHandlersMu sync.Mutex
	respHandlers   map[string]chan *router.RouterMessage

	// breakers guards send_request per target_id: a peer that keeps
	// timing out trips its own breaker so a hung target doesn't stall
	// every future request through this client's event loop. Bounded by
	// an LRU so a caller that talks to many distinct, short-lived
	// targets over time never grows this unboundedly.
	breakers *lru.Cache[string, *gobreaker.CircuitBreaker]

	inbound chan *router.RouterMessage

	pumpDone  chan struct{}
	closeOnce sync.Once
	stopCh    chan struct{}

	heartbeatStop chan struct{}
}

// breakerCacheSize bounds how many distinct send_request targets this
// client tracks a circuit breaker for at once.
const breakerCacheSize = 256

// New builds a Client bound to tr, talking the given codec.
func New(tr transport.Transport, cdc codec.Codec) *Client {
	breakers, _ := lru.New[string, *gobreaker.CircuitBreaker](breakerCacheSize)
	return &Client{
		ep:           endpoint.NewCallerEndpoint(tr, cdc),
		respHandlers: make(map[string]chan *router.RouterMessage),
		breakers:     breakers,
		inbound:      make(chan *router.RouterMessage, 64),
		stopCh:       make(chan struct{}),
	}
}

// breakerFor returns the circuit breaker guarding send_request calls to
// target, creating one on first use.
func (c *Client) breakerFor(target string) *gobreaker.CircuitBreaker {
	if cb, ok := c.breakers.Get(target); ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "send_request:" + target,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	c.breakers.Add(target, cb)
	return cb
}

// Register asks the router for a new client_id and retains the name,
// groups and metadata so a later reconnect can register them again.
func (c *Client) Register(ctx context.Context, name string, groups []string, metadata map[string]any) (string, error) {
	resp, err := endpoint.CallUnary[routerrpc.RegisterRequest, routerrpc.RegisterResponse](
		ctx, c.ep, "/router/register",
		routerrpc.RegisterRequest{ClientName: name, Groups: groups, Metadata: metadata},
	)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.clientID = resp.ClientID
	c.clientName = name
	c.groups = groups
	c.metadata = metadata
	c.mu.Unlock()
	return resp.ClientID, nil
}

// ClientID returns the id retained from the last successful Register.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// InitializeP2P opens the bidirectional p2p stream, sends the initial
// handshake heartbeat carrying this client's id, waits for the
// responder's connected acknowledgement, and starts the background pump
// that demultiplexes inbound messages to either a correlated
// send_request waiter or the Inbound channel.
func (c *Client) InitializeP2P(ctx context.Context) error {
	id := c.ClientID()
	if id == "" {
		return rpcstatus.New(rpcstatus.FailedPrecondition, "InitializeP2P called before Register")
	}

	send, closeSend, recv := endpoint.CallBidi[router.RouterMessage, router.RouterMessage](ctx, c.ep, "/router/p2p")
	c.p2pSend, c.p2pCloseSend, c.p2pRecv = send, closeSend, recv

	if err := send(ctx, router.RouterMessage{Type: router.MessageHeartbeat, SenderID: id}); err != nil {
		return err
	}
	ack, err := recv(ctx)
	if err != nil {
		return err
	}
	if ack.Type != router.MessageHeartbeat {
		return rpcstatus.New(rpcstatus.Internal, "unexpected p2p handshake reply type %q", ack.Type)
	}

	c.pumpDone = make(chan struct{})
	go c.pump()
	return nil
}

func (c *Client) pump() {
	defer close(c.pumpDone)
	for {
		msg, err := c.p2pRecv(context.Background())
		if err != nil {
			return
		}
		if reqID, ok := msg.RequestID(); ok && (msg.Type == router.MessageResponse || msg.Type == router.MessageError) {
			if ch, found := c.takeResponseHandler(reqID); found {
				ch <- &msg
				continue
			}
		}
		select {
		case c.inbound <- &msg:
		case <-c.stopCh:
			return
		}
	}
}

// Inbound returns the channel of messages not correlated to a pending
// send_request — unicast/multicast/broadcast/heartbeat traffic the
// application should consume directly.
func (c *Client) Inbound() <-chan *router.RouterMessage { return c.inbound }

// SendUnicast pushes a point-to-point message to target.
func (c *Client) SendUnicast(ctx context.Context, target string, payload map[string]any) error {
	return c.p2pSend(ctx, router.RouterMessage{Type: router.MessageUnicast, TargetID: target, Payload: payload})
}

// SendResponse replies to a correlated send_request from target, reusing
// its request_id inside payload so the caller's pump can match it.
func (c *Client) SendResponse(ctx context.Context, target string, payload map[string]any) error {
	return c.p2pSend(ctx, router.RouterMessage{Type: router.MessageResponse, TargetID: target, Payload: payload})
}

// SendMulticast pushes a message to every client in group.
func (c *Client) SendMulticast(ctx context.Context, group string, payload map[string]any) error {
	return c.p2pSend(ctx, router.RouterMessage{Type: router.MessageMulticast, GroupName: group, Payload: payload})
}

// SendBroadcast pushes a message to every other registered client.
func (c *Client) SendBroadcast(ctx context.Context, payload map[string]any) error {
	return c.p2pSend(ctx, router.RouterMessage{Type: router.MessageBroadcast, Payload: payload})
}

// SendRequest attaches a fresh request_id to payload, sends a request
// message to target, and awaits the matching response within timeout,
// cleaning up the correlation entry on either completion or timeout.
// Calls are routed through a per-target circuit breaker so a peer that
// keeps timing out stops being retried on every subsequent request.
func (c *Client) SendRequest(ctx context.Context, target string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	result, err := c.breakerFor(target).Execute(func() (any, error) {
		return c.doSendRequest(ctx, target, payload, timeout)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, rpcstatus.New(rpcstatus.Unavailable, "send_request to %q: %v", target, err)
		}
		return nil, err
	}
	return result.(map[string]any), nil
}

func (c *Client) doSendRequest(ctx context.Context, target string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	reqID := uuid.NewString()
	merged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged["request_id"] = reqID

	ch := make(chan *router.RouterMessage, 1)
	c.registerResponseHandler(reqID, ch)
	defer c.takeResponseHandlerDiscard(reqID)

	if err := c.p2pSend(ctx, router.RouterMessage{Type: router.MessageRequest, TargetID: target, Payload: merged}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Type == router.MessageError {
			return nil, rpcstatus.New(rpcstatus.Internal, "%s", resp.ErrorMessage)
		}
		return resp.Payload, nil
	case <-timer.C:
		return nil, rpcstatus.New(rpcstatus.DeadlineExceeded, "send_request to %q timed out after %s", target, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) registerResponseHandler(id string, ch chan *router.RouterMessage) {
	c.respHandlersMu.Lock()
	defer c.respHandlersMu.Unlock()
	c.respHandlers[id] = ch
}

func (c *Client) takeResponseHandler(id string) (chan *router.RouterMessage, bool) {
	c.respHandlersMu.Lock()
	defer c.respHandlersMu.Unlock()
	ch, ok := c.respHandlers[id]
	if ok {
		delete(c.respHandlers, id)
	}
	return ch, ok
}

func (c *Client) takeResponseHandlerDiscard(id string) {
	c.respHandlersMu.Lock()
	delete(c.respHandlers, id)
	c.respHandlersMu.Unlock()
}

// StartHeartbeat posts a keepalive heartbeat every interval until Close
// or StopHeartbeat is called; interval should be smaller than the
// router's configured inactivity timeout.
func (c *Client) StartHeartbeat(interval time.Duration) {
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				_ = c.p2pSend(context.Background(), router.RouterMessage{Type: router.MessageHeartbeat, SenderID: c.ClientID()})
			}
		}
	}()
}

// StopHeartbeat stops a running auto-heartbeat goroutine, if any.
func (c *Client) StopHeartbeat() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

// Close ends the p2p stream and stops the pump goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		if c.p2pCloseSend != nil {
			_ = c.p2pCloseSend(context.Background())
		}
	})
}
