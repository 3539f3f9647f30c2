package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the external API surface of Core, mirroring the teacher's
// Hubber interface so routerrpc can depend on the narrower contract
// instead of the concrete type.
type Registry interface {
	RegisterClient(id, name string, groups []string, metadata map[string]any) *RouterClient
	OpenSink(id string, bufferSize int) (*SinkHandle, bool)
	DetachSink(id string)
	DisconnectClient(id, reason string)
	SendToClient(id string, msg *RouterMessage) bool
	SendToGroup(group string, msg *RouterMessage, exclude string) int
	SendBroadcast(msg *RouterMessage, exclude string) int
	IsClientOnline(id string) bool
	GetClient(id string) (*RouterClient, bool)
	ListClients(groups []string, metadataFilter map[string]any) []ClientInfo
	SubscribeEvents() (id string, events <-chan RouterEvent, cancel func())
	Shutdown()
}

// Core is the router registry, directly adapted from the teacher's Hub
// (internal/domain/registry/hub.go): a sync.Map of client records plus a
// sync.Map of mailbox actors, a liveness monitor goroutine, and an event
// distributor shared by every subscriber of the events stream.
type Core struct {
	clients sync.Map // clientID -> *RouterClient
	cells   sync.Map // clientID -> *clientCell

	// healthCheckInterval and inactivityTimeout are stored as
	// atomic.Int64 nanosecond counts so config.Watch's fsnotify-driven
	// hot-reload goroutine can adjust the running monitor's pacing
	// without racing runMonitor/sweep, which re-read them every tick.
	healthCheckInterval atomic.Int64
	inactivityTimeout   atomic.Int64
	mailboxSize         int

	events *EventBus
	log    *slog.Logger

	ctx      context.Context
	cancelFn context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCore builds a Core and starts its liveness monitor.
func NewCore(opts ...Option) *Core {
	c := &Core{
		mailboxSize: 256,
		log:         slog.Default(),
	}
	c.healthCheckInterval.Store(int64(30 * time.Second))
	c.inactivityTimeout.Store(int64(120 * time.Second))
	for _, opt := range opts {
		opt(c)
	}
	c.events = NewEventBus(c.InactivityTimeout())
	c.ctx, c.cancelFn = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.runMonitor()
	return c
}

// HealthCheckInterval returns the monitor's current tick period.
func (c *Core) HealthCheckInterval() time.Duration {
	return time.Duration(c.healthCheckInterval.Load())
}

// SetHealthCheckInterval updates the monitor's tick period; it takes
// effect from the monitor's next tick.
func (c *Core) SetHealthCheckInterval(d time.Duration) {
	c.healthCheckInterval.Store(int64(d))
}

// InactivityTimeout returns the current silence duration after which a
// client is forcibly disconnected.
func (c *Core) InactivityTimeout() time.Duration {
	return time.Duration(c.inactivityTimeout.Load())
}

// SetInactivityTimeout updates the inactivity timeout; it takes effect on
// the monitor's next sweep.
func (c *Core) SetInactivityTimeout(d time.Duration) {
	c.inactivityTimeout.Store(int64(d))
}

// RegisterClient creates or replaces the record for id. Per spec.md §4.5,
// if id is already registered the previous sink and cell are torn down
// first and the client_connected event is suppressed for the reconnect.
func (c *Core) RegisterClient(id, name string, groups []string, metadata map[string]any) *RouterClient {
	rc := newRouterClient(id, name, groups, metadata)
	cell := newClientCell(id, c.mailboxSize)

	_, existed := c.clients.Swap(id, rc)
	prevCellAny, cellExisted := c.cells.Swap(id, cell)

	if cellExisted {
		if prevCell, ok := prevCellAny.(*clientCell); ok {
			prevCell.Stop()
		}
	}

	if !existed {
		c.events.Publish(RouterEvent{
			Type:        EventClientConnected,
			Data:        map[string]any{"client_id": id, "client_name": name, "groups": groups},
			TimestampMs: nowMs(),
		})
	}
	c.emitTopologyChanged()
	return rc
}

// SinkHandle is the public-facing handle to a client's outbound P2P-stream
// sink, returned by OpenSink so callers outside this package (the
// P2P-stream dispatcher) never need the unexported sink type itself.
type SinkHandle struct {
	core     *Core
	clientID string
	s        *sink
}

// Send enqueues msg for delivery over this sink within timeout.
func (h *SinkHandle) Send(msg *RouterMessage, timeout time.Duration) bool {
	return h.s.Send(msg, timeout)
}

// Recv returns the channel the P2P-stream handler reads outbound
// messages from.
func (h *SinkHandle) Recv() <-chan *RouterMessage { return h.s.Recv() }

// Close detaches and tears down this sink.
func (h *SinkHandle) Close() {
	h.core.DetachSink(h.clientID)
	h.s.Close()
}

// OpenSink creates a new sink for id's P2P stream and attaches it to id's
// cell, returning false if id is not a registered client.
func (c *Core) OpenSink(id string, bufferSize int) (*SinkHandle, bool) {
	cellAny, ok := c.cells.Load(id)
	if !ok {
		return nil, false
	}
	s := newSink(c.ctx, id, bufferSize)
	cellAny.(*clientCell).Attach(s)
	if rcAny, ok := c.clients.Load(id); ok {
		rcAny.(*RouterClient).touch()
	}
	return &SinkHandle{core: c, clientID: id, s: s}, true
}

// DetachSink removes (without closing) id's current sink, leaving the
// client record registered for a future reconnect.
func (c *Core) DetachSink(id string) {
	if cellAny, ok := c.cells.Load(id); ok {
		cellAny.(*clientCell).Detach()
	}
}

// DisconnectClient forcibly removes id's record and cell, publishing
// client_disconnected with reason.
func (c *Core) DisconnectClient(id, reason string) {
	if cellAny, ok := c.cells.LoadAndDelete(id); ok {
		cellAny.(*clientCell).Stop()
	}
	_, existed := c.clients.LoadAndDelete(id)
	if existed {
		c.events.Publish(RouterEvent{
			Type:        EventClientDisconnected,
			Data:        map[string]any{"client_id": id, "reason": reason},
			TimestampMs: nowMs(),
		})
		c.emitTopologyChanged()
	}
}

// SendToClient enqueues msg for delivery to id's mailbox, refreshing the
// client's last activity, and returns false if id is not registered or
// the mailbox is saturated.
func (c *Core) SendToClient(id string, msg *RouterMessage) bool {
	cellAny, ok := c.cells.Load(id)
	if !ok {
		return false
	}
	if !cellAny.(*clientCell).Push(msg) {
		return false
	}
	if rcAny, ok := c.clients.Load(id); ok {
		rcAny.(*RouterClient).touch()
	}
	return true
}

// SendToGroup delivers msg to every registered client in group except
// exclude, returning the number of clients it was enqueued for.
func (c *Core) SendToGroup(group string, msg *RouterMessage, exclude string) int {
	delivered := 0
	c.clients.Range(func(key, value any) bool {
		id := key.(string)
		if id == exclude {
			return true
		}
		rc := value.(*RouterClient)
		if !rc.InGroup(group) {
			return true
		}
		if c.SendToClient(id, msg) {
			delivered++
		}
		return true
	})
	return delivered
}

// SendBroadcast delivers msg to every registered client except exclude.
func (c *Core) SendBroadcast(msg *RouterMessage, exclude string) int {
	delivered := 0
	c.clients.Range(func(key, value any) bool {
		id := key.(string)
		if id == exclude {
			return true
		}
		if c.SendToClient(id, msg) {
			delivered++
		}
		return true
	})
	return delivered
}

// IsClientOnline reports whether id is registered and currently Online.
func (c *Core) IsClientOnline(id string) bool {
	rc, ok := c.GetClient(id)
	if !ok {
		return false
	}
	return rc.Status() == StatusOnline
}

// GetClient returns id's live record.
func (c *Core) GetClient(id string) (*RouterClient, bool) {
	v, ok := c.clients.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*RouterClient), true
}

// ListClients returns a snapshot of every registered client matching
// groups (if non-empty, a client must belong to at least one) and
// metadataFilter (if non-empty, every key/value must match exactly).
func (c *Core) ListClients(groups []string, metadataFilter map[string]any) []ClientInfo {
	var out []ClientInfo
	c.clients.Range(func(_, value any) bool {
		rc := value.(*RouterClient)
		if len(groups) > 0 {
			matched := false
			for _, g := range groups {
				if rc.InGroup(g) {
					matched = true
					break
				}
			}
			if !matched {
				return true
			}
		}
		if len(metadataFilter) > 0 {
			md := rc.Metadata()
			for k, v := range metadataFilter {
				if md[k] != v {
					return true
				}
			}
		}
		out = append(out, rc.snapshot())
		return true
	})
	return out
}

// SubscribeEvents registers a new consumer of the router's event stream.
func (c *Core) SubscribeEvents() (id string, events <-chan RouterEvent, cancel func()) {
	return c.events.Subscribe()
}

func (c *Core) emitTopologyChanged() {
	count := 0
	c.clients.Range(func(_, _ any) bool { count++; return true })
	c.events.Publish(RouterEvent{
		Type:        EventTopologyChanged,
		Data:        map[string]any{"client_count": count},
		TimestampMs: nowMs(),
	})
}

// Shutdown stops the liveness monitor, the event distributor, and every
// client cell.
func (c *Core) Shutdown() {
	c.stopOnce.Do(func() {
		c.cancelFn()
		c.wg.Wait()
		c.cells.Range(func(key, value any) bool {
			value.(*clientCell).Stop()
			c.cells.Delete(key)
			return true
		})
		c.events.Close()
	})
}
