package routerrpc

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/rpcmesh/internal/diagnostics"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/router"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
)

const p2pSinkBuffer = 128

// Service implements the router's five RPC methods against a
// router.Registry, the narrower interface Core exposes — grounded on the
// teacher's DeliveryService wrapping service.Deliverer (internal/handler/grpc/delivery.go).
type Service struct {
	registry router.Registry
	log      *slog.Logger
}

// NewService builds a Service bound to registry.
func NewService(registry router.Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{registry: registry, log: log}
}

// Contract builds the "router" ServiceContract exposing register, ping,
// get_online_clients, p2p, and events.
func (s *Service) Contract() *endpoint.ServiceContract {
	c := endpoint.NewServiceContract("router")
	endpoint.RegisterUnary(c, "register", s.register)
	endpoint.RegisterUnary(c, "ping", s.ping)
	endpoint.RegisterUnary(c, "get_online_clients", s.getOnlineClients)
	endpoint.RegisterBidi(c, "p2p", s.p2p)
	endpoint.RegisterServerStream(c, "events", s.events)
	return c
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	id := req.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	s.registry.RegisterClient(id, req.ClientName, req.Groups, req.Metadata)
	return RegisterResponse{ClientID: id}, nil
}

func (s *Service) ping(ctx context.Context, req ClientTimestamp) (PongResponse, error) {
	return PongResponse{ClientTsMs: req.ClientTsMs, ServerTsMs: time.Now().UnixMilli()}, nil
}

func (s *Service) getOnlineClients(ctx context.Context, req GetOnlineClientsRequest) (ClientsList, error) {
	return ClientsList{Clients: s.registry.ListClients(req.Groups, req.Metadata)}, nil
}

// p2p implements the spec's handshake: the first inbound message must
// name sender_id, which the responder validates against the registry
// before swapping in the stream's outbound sink, acknowledging with a
// connected heartbeat, then bridging both directions until the stream
// ends.
func (s *Service) p2p(ctx context.Context, recv func(context.Context) (router.RouterMessage, error), send func(router.RouterMessage) error) error {
	first, err := recv(ctx)
	if err != nil {
		return err
	}
	senderID := first.SenderID
	if senderID == "" {
		return rpcstatus.New(rpcstatus.InvalidArgument, "first p2p message must carry sender_id")
	}
	if _, ok := s.registry.GetClient(senderID); !ok {
		return rpcstatus.New(rpcstatus.NotFound, "unknown client %q", senderID)
	}

	handle, ok := s.registry.OpenSink(senderID, p2pSinkBuffer)
	if !ok {
		return rpcstatus.New(rpcstatus.Internal, "failed to attach sink for %q", senderID)
	}
	defer handle.Close()

	var sendMu sync.Mutex
	safeSend := func(msg router.RouterMessage) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return send(msg)
	}

	ack := router.RouterMessage{
		Type:        router.MessageHeartbeat,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     map[string]any{"connected": true},
	}
	if err := safeSend(ack); err != nil {
		return err
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-handle.Recv():
				if !ok {
					return
				}
				if err := safeSend(*msg); err != nil {
					return
				}
			}
		}
	}()
	defer func() { <-forwardDone }()

	for {
		msg, err := recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.route(senderID, &msg); err != nil {
			s.log.Warn("p2p route failed", slog.String("sender_id", senderID), slog.Any("err", err))
		}
	}
}

// route dispatches one inbound RouterMessage from senderID to its
// destination, per spec.md §4.6's "forwards every subsequent inbound
// message to the router core".
func (s *Service) route(senderID string, msg *router.RouterMessage) error {
	msg.SenderID = senderID
	switch msg.Type {
	case router.MessageUnicast, router.MessageRequest, router.MessageResponse:
		if msg.TargetID == "" {
			return rpcstatus.New(rpcstatus.InvalidArgument, "%s requires target_id", msg.Type)
		}
		if !s.registry.SendToClient(msg.TargetID, msg) {
			s.registry.SendToClient(senderID, &router.RouterMessage{
				Type:         router.MessageError,
				TargetID:     senderID,
				ErrorMessage: "unknown client " + msg.TargetID,
				TimestampMs:  time.Now().UnixMilli(),
			})
		}
	case router.MessageMulticast:
		s.registry.SendToGroup(msg.GroupName, msg, senderID)
	case router.MessageBroadcast:
		s.registry.SendBroadcast(msg, senderID)
	case router.MessagePing, router.MessagePong, router.MessageHeartbeat:
		// keepalive traffic only; last_activity is already touched by
		// the registry's delivery path.
	default:
		return rpcstatus.New(rpcstatus.InvalidArgument, "unsupported message type %q", msg.Type)
	}
	return nil
}

// events yields a router_stats snapshot first, then forwards every live
// RouterEvent until the caller's context is done.
func (s *Service) events(ctx context.Context, _ Null, send func(router.RouterEvent) error) error {
	if err := send(diagnostics.Event(s.registry)); err != nil {
		return err
	}

	_, events, cancel := s.registry.SubscribeEvents()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
