package router

import (
	"testing"
	"time"
)

func newTestCore(t *testing.T, healthCheck, inactivity time.Duration) *Core {
	c := NewCore(
		WithHealthCheckInterval(healthCheck),
		WithInactivityTimeout(inactivity),
		WithMailboxSize(16),
	)
	t.Cleanup(c.Shutdown)
	return c
}

func TestRegisterAndUnicast(t *testing.T) {
	c := newTestCore(t, time.Hour, time.Hour)

	c.RegisterClient("alice", "Alice", nil, nil)
	c.RegisterClient("bob", "Bob", nil, nil)
	c.RegisterClient("charlie", "Charlie", nil, nil)

	bobSink, ok := c.OpenSink("bob", 8)
	if !ok {
		t.Fatal("OpenSink(bob) = false")
	}
	defer bobSink.Close()

	if !c.SendToClient("bob", &RouterMessage{Type: MessageUnicast, SenderID: "alice", Payload: map[string]any{"text": "hi"}}) {
		t.Fatal("SendToClient(bob) = false")
	}

	select {
	case msg := <-bobSink.Recv():
		if msg.SenderID != "alice" || msg.Type != MessageUnicast {
			t.Fatalf("msg = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unicast delivery")
	}

	if c.SendToClient("unknown", &RouterMessage{Type: MessageUnicast}) {
		t.Fatal("SendToClient(unknown) = true, want false")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	c := newTestCore(t, time.Hour, time.Hour)

	c.RegisterClient("alice", "Alice", nil, nil)
	c.RegisterClient("bob", "Bob", nil, nil)
	c.RegisterClient("charlie", "Charlie", nil, nil)

	aliceSink, _ := c.OpenSink("alice", 8)
	defer aliceSink.Close()
	bobSink, _ := c.OpenSink("bob", 8)
	defer bobSink.Close()
	charlieSink, _ := c.OpenSink("charlie", 8)
	defer charlieSink.Close()

	delivered := c.SendBroadcast(&RouterMessage{Type: MessageBroadcast, SenderID: "alice"}, "alice")
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}

	select {
	case <-aliceSink.Recv():
		t.Fatal("sender received its own broadcast")
	case <-time.After(100 * time.Millisecond):
	}

	for _, s := range []*SinkHandle{bobSink, charlieSink} {
		select {
		case <-s.Recv():
		case <-time.After(time.Second):
			t.Fatal("expected recipient did not receive the broadcast")
		}
	}
}

func TestDisconnectClientStopsDelivery(t *testing.T) {
	c := newTestCore(t, time.Hour, time.Hour)
	c.RegisterClient("alice", "Alice", nil, nil)

	if !c.IsClientOnline("alice") {
		t.Fatal("IsClientOnline(alice) = false right after register")
	}

	c.DisconnectClient("alice", "test")

	if c.IsClientOnline("alice") {
		t.Fatal("IsClientOnline(alice) = true after disconnect")
	}
	if c.SendToClient("alice", &RouterMessage{Type: MessageUnicast}) {
		t.Fatal("SendToClient(alice) = true after disconnect")
	}
}

func TestReconnectPreservesIdentity(t *testing.T) {
	c := newTestCore(t, time.Hour, time.Hour)
	c.RegisterClient("alice", "Alice", []string{"support"}, map[string]any{"region": "eu"})

	sink1, _ := c.OpenSink("alice", 8)

	rc := c.RegisterClient("alice", "Alice", []string{"support"}, map[string]any{"region": "eu"})
	if rc.ClientName != "Alice" || !rc.InGroup("support") || rc.Metadata()["region"] != "eu" {
		t.Fatalf("reconnect did not preserve identity: %+v", rc.snapshot())
	}

	if !sink1.s.closed() {
		t.Fatal("previous sink was not closed on re-registration")
	}
}

func TestHealthCheckDisconnectsInactiveClient(t *testing.T) {
	c := newTestCore(t, 50*time.Millisecond, 150*time.Millisecond)
	c.RegisterClient("alice", "Alice", nil, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.GetClient("alice"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("alice was not disconnected by the liveness monitor within the deadline")
}

func TestSetInactivityTimeoutTakesEffectOnNextSweep(t *testing.T) {
	c := newTestCore(t, 30*time.Millisecond, time.Hour)
	c.RegisterClient("alice", "Alice", nil, nil)
	// an attached sink keeps the sweep from reaping alice as a zombie.
	sink, ok := c.OpenSink("alice", 8)
	if !ok {
		t.Fatal("OpenSink failed for a registered client")
	}
	defer sink.Close()

	time.Sleep(100 * time.Millisecond)
	if _, ok := c.GetClient("alice"); !ok {
		t.Fatal("alice disconnected before the timeout was tightened")
	}

	c.SetInactivityTimeout(30 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.GetClient("alice"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("alice was not disconnected after tightening the inactivity timeout")
}

func TestEventBusPublishesTopologyChanged(t *testing.T) {
	c := newTestCore(t, time.Hour, time.Hour)
	_, events, cancel := c.SubscribeEvents()
	defer cancel()

	c.RegisterClient("alice", "Alice", nil, nil)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventTopologyChanged {
				return
			}
		case <-deadline:
			t.Fatal("did not observe a topology_changed event")
		}
	}
}
