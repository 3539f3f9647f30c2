package router

import (
	"sync"
	"sync/atomic"
	"time"
)

// clientCell is the per-client mailbox actor, directly adapted from the
// teacher's Cell (registry/cell.go): a buffered channel decouples the
// router core's send operations from the sink's actual write, and the
// batch-draining loop (drain up to 64 per wakeup) is preserved verbatim.
// Unlike the teacher's Cell, which fans one event out to many concurrent
// device sessions, a clientCell here wraps exactly one sink at a time —
// the router spec gives each client a single P2P stream — but keeps the
// same absorber-goroutine shape so a slow sink never blocks Core.SendToClient.
type clientCell struct {
	clientID string

	mailbox chan *RouterMessage
	mu      sync.RWMutex
	sink    *sink

	doneCh           chan struct{}
	lastActivityUnix int64
}

func newClientCell(clientID string, bufferSize int) *clientCell {
	c := &clientCell{
		clientID:         clientID,
		mailbox:          make(chan *RouterMessage, bufferSize),
		doneCh:           make(chan struct{}),
		lastActivityUnix: time.Now().Unix(),
	}
	go c.loop()
	return c
}

func (c *clientCell) touch() {
	atomic.StoreInt64(&c.lastActivityUnix, time.Now().Unix())
}

// IsIdle reports whether this cell has no attached sink and has seen no
// activity for longer than timeout, making it eligible for reclamation.
func (c *clientCell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	hasSink := c.sink != nil
	c.mu.RUnlock()
	if hasSink {
		return false
	}
	last := time.Unix(atomic.LoadInt64(&c.lastActivityUnix), 0)
	return time.Since(last) > timeout
}

// Push enqueues msg for delivery, dropping it if the mailbox is
// saturated rather than blocking the caller.
func (c *clientCell) Push(msg *RouterMessage) bool {
	c.touch()
	select {
	case c.mailbox <- msg:
		return true
	default:
		return false
	}
}

// Attach replaces the cell's sink, closing any previous one first per
// spec.md §4.5 invariant 2 ("a sink is replaced, not aliased").
func (c *clientCell) Attach(s *sink) {
	c.mu.Lock()
	old := c.sink
	c.sink = s
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	c.touch()
}

// Detach removes and returns the current sink without closing it,
// leaving the client record intact for a future reconnect.
func (c *clientCell) Detach() *sink {
	c.mu.Lock()
	s := c.sink
	c.sink = nil
	c.mu.Unlock()
	c.touch()
	return s
}

// HasSink reports whether a sink is currently attached.
func (c *clientCell) HasSink() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sink != nil
}

// sinkClosed reports whether the attached sink (if any) has had its own
// context cancelled — the second, independent zombie predicate.
func (c *clientCell) sinkClosed() bool {
	c.mu.RLock()
	s := c.sink
	c.mu.RUnlock()
	if s == nil {
		return false
	}
	return s.closed()
}

func (c *clientCell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case msg := <-c.mailbox:
			c.deliver(msg)

			// [STRATEGY: BATCH_DRAINING] mirrors the teacher's Cell.loop:
			// once awakened, drain up to 64 queued messages before going
			// back to the expensive select.
			for range 64 {
				select {
				case next := <-c.mailbox:
					c.deliver(next)
				default:
					goto wait
				}
			}
		wait:
		}
	}
}

func (c *clientCell) deliver(msg *RouterMessage) {
	c.mu.RLock()
	s := c.sink
	c.mu.RUnlock()
	if s == nil {
		return
	}
	s.Send(msg, 250*time.Millisecond)
}

// Stop terminates the mailbox loop and closes any attached sink.
func (c *clientCell) Stop() {
	close(c.doneCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != nil {
		c.sink.Close()
		c.sink = nil
	}
}
