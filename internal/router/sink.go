package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// sink is a pool-recycled outbound channel for one client's P2P stream,
// directly adapted from the teacher's connect type (registry/connect.go):
// same sync.Pool recycling, same context-scoped cancellation, same
// priority-based backpressure eviction in handleBackpressure.
type sink struct {
	clientID string

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh chan *RouterMessage

	closeOnce    sync.Once
	droppedCount uint64
}

var sinkPool = sync.Pool{
	New: func() any { return &sink{} },
}

// newSink acquires a pooled sink for clientID, wired to shut down when
// parent is cancelled.
func newSink(parent context.Context, clientID string, bufferSize int) *sink {
	s := sinkPool.Get().(*sink)
	s.reset(parent, clientID, bufferSize)
	return s
}

func (s *sink) reset(parent context.Context, clientID string, bufferSize int) {
	ctx, cancel := context.WithCancel(parent)
	*s = sink{
		clientID: clientID,
		ctx:      ctx,
		cancelFn: cancel,
		sendCh:   make(chan *RouterMessage, bufferSize),
	}
}

// Send pushes msg onto the sink within timeout, falling back to priority
// eviction if the buffer stays saturated for the whole window.
func (s *sink) Send(msg *RouterMessage, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-s.ctx.Done():
		return false
	case s.sendCh <- msg:
		return true
	case <-ctx.Done():
		return s.handleBackpressure(msg, timeout)
	}
}

func (s *sink) handleBackpressure(msg *RouterMessage, timeout time.Duration) bool {
	if msg.Priority() <= PriorityLow {
		atomic.AddUint64(&s.droppedCount, 1)
		return false
	}

	select {
	case old := <-s.sendCh:
		if old.Priority() < msg.Priority() {
			s.sendCh <- msg
			return true
		}
		select {
		case s.sendCh <- old:
		default:
		}
	case <-time.After(timeout):
	}

	atomic.AddUint64(&s.droppedCount, 1)
	return false
}

// Recv returns the channel the P2P stream handler reads outbound
// messages from.
func (s *sink) Recv() <-chan *RouterMessage { return s.sendCh }

// closed reports whether this sink's own context has been cancelled —
// the "sink closed" predicate used independently from cell/registry
// membership by the liveness monitor's zombie check.
func (s *sink) closed() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Close idempotently tears the sink down and recycles it into the pool.
func (s *sink) Close() {
	s.closeOnce.Do(func() {
		s.cancelFn()
		close(s.sendCh)
		s.sendCh = nil
		sinkPool.Put(s)
	})
}
