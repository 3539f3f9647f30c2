package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventBridge fans a Core's local RouterEvents out to sibling instances
// over a shared watermill pub/sub topic and folds their events back into
// this Core's own EventBus, so a monitor CLI attached to any one instance
// sees the whole mesh's topology_changed/health_warning traffic. Directly
// adapted from the teacher's internal/handler/amqp/router.go fan-out
// idiom (each node binds its own uniquely-named queue to one shared
// exchange so every instance, not just one, receives the event) —
// generalized here from message-delivery fan-out to observability-event
// fan-out. Purely additive: correctness of unicast/multicast/broadcast
// delivery never depends on the bridge being present or connected.
type EventBridge struct {
	core   *Core
	pub    message.Publisher
	router *message.Router
	topic  string
	nodeID string
	log    *slog.Logger
	cancel context.CancelFunc
}

// NewEventBridge wires core's local event stream onto pub (tagged with
// nodeID so its own fan-out echo is dropped on read-back) and starts a
// watermill router consuming sub's node-unique queue for topic, folding
// every other node's events into core's own EventBus.
func NewEventBridge(core *Core, pub message.Publisher, sub message.Subscriber, topic, nodeID string, log *slog.Logger) (*EventBridge, error) {
	if log == nil {
		log = slog.Default()
	}
	if nodeID == "" {
		nodeID = watermill.NewShortUUID()
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(log))
	if err != nil {
		return nil, fmt.Errorf("router: event bridge: %w", err)
	}

	b := &EventBridge{core: core, pub: pub, router: wmRouter, topic: topic, nodeID: nodeID, log: log}

	wmRouter.AddNoPublisherHandler(
		"rpcmesh_event_bridge."+nodeID,
		topic,
		sub,
		b.handleInbound,
	)

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go func() {
		if err := wmRouter.Run(ctx); err != nil {
			log.Error("router: event bridge run error", "err", err)
		}
	}()

	_, events, cancelSub := core.SubscribeEvents()
	go func() {
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.publish(ev)
			}
		}
	}()

	return b, nil
}

func (b *EventBridge) publish(ev RouterEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("router: event bridge marshal failed", "err", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("node_id", b.nodeID)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		b.log.Warn("router: event bridge publish failed", "err", err)
	}
}

// handleInbound folds one sibling-published RouterEvent back into this
// Core's own EventBus, dropping messages this same node published (the
// shared topic echoes every publish back to every subscriber, this
// node's own queue included).
func (b *EventBridge) handleInbound(msg *message.Message) error {
	if msg.Metadata.Get("node_id") == b.nodeID {
		return nil
	}
	var ev RouterEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		b.log.Warn("router: event bridge unmarshal failed", "err", err)
		return nil
	}
	b.core.events.Publish(ev)
	return nil
}

// Close stops the bridge's router and publish goroutine.
func (b *EventBridge) Close() error {
	b.cancel()
	return b.router.Close()
}
