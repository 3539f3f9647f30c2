package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// subscriber is one consumer of the event distributor's fan-out,
// grounded on the same mailbox idiom as clientCell but scoped to a
// bounded queue of RouterEvent rather than RouterMessage.
type subscriber struct {
	id    string
	queue chan RouterEvent

	lastSendUnix int64
	closeOnce    sync.Once
}

const eventQueueSize = 256

// EventBus fans RouterEvents out to independent per-subscriber queues,
// dropping the oldest event and emitting health_warning on overflow, and
// auto-cleaning subscribers that go quiet for longer than 0.8× the
// client inactivity timeout.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	cleanupAfter time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewEventBus builds an EventBus whose auto-cleanup window is 0.8× the
// router's configured client inactivity timeout.
func NewEventBus(inactivityTimeout time.Duration) *EventBus {
	b := &EventBus{
		subs:         make(map[string]*subscriber),
		cleanupAfter: time.Duration(float64(inactivityTimeout) * 0.8),
		stopCh:       make(chan struct{}),
	}
	go b.runReaper()
	return b
}

func (b *EventBus) runReaper() {
	interval := b.cleanupAfter / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.reapStale()
		}
	}
}

func (b *EventBus) reapStale() {
	now := time.Now()
	var stale []string
	b.mu.RLock()
	for id, sub := range b.subs {
		last := time.Unix(atomic.LoadInt64(&sub.lastSendUnix), 0)
		if now.Sub(last) > b.cleanupAfter {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()
	for _, id := range stale {
		b.remove(id)
	}
}

// Subscribe registers a new subscriber and returns its id, its event
// channel, and a cancel function that removes it immediately.
func (b *EventBus) Subscribe() (id string, events <-chan RouterEvent, cancel func()) {
	sid := uuid.NewString()
	sub := &subscriber{
		id:           sid,
		queue:        make(chan RouterEvent, eventQueueSize),
		lastSendUnix: time.Now().Unix(),
	}
	b.mu.Lock()
	b.subs[sid] = sub
	b.mu.Unlock()
	return sid, sub.queue, func() { b.remove(sid) }
}

func (b *EventBus) remove(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.closeOnce.Do(func() { close(sub.queue) })
	}
}

// Publish fans ev out to every current subscriber. When a subscriber's
// queue is saturated it drops the two oldest queued events, so that both
// ev and a health_warning for that subscriber alone fit.
func (b *EventBus) Publish(ev RouterEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		atomic.StoreInt64(&sub.lastSendUnix, time.Now().Unix())
		select {
		case sub.queue <- ev:
		default:
			for i := 0; i < 2; i++ {
				select {
				case <-sub.queue:
				default:
				}
			}
			select {
			case sub.queue <- ev:
			default:
			}
			b.warnLocked(sub)
		}
	}
}

func (b *EventBus) warnLocked(sub *subscriber) {
	warn := RouterEvent{
		Type:        EventHealthWarning,
		Data:        map[string]any{"subscriber_id": sub.id, "reason": "queue overflow"},
		TimestampMs: nowMs(),
	}
	select {
	case sub.queue <- warn:
	default:
	}
}

// Close stops the reaper and closes every subscriber's queue.
func (b *EventBus) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closeOnce.Do(func() { close(sub.queue) })
	}
}
