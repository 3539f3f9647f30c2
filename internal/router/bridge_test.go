package router

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func TestEventBridgeFoldsSiblingEventsAndDropsOwnEcho(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	coreA := newTestCore(t, time.Hour, time.Hour)
	coreB := newTestCore(t, time.Hour, time.Hour)

	bridgeA, err := NewEventBridge(coreA, pubsub, pubsub, "rpcmesh.events.test", "node-a", nil)
	if err != nil {
		t.Fatalf("NewEventBridge(A): %v", err)
	}
	t.Cleanup(func() { _ = bridgeA.Close() })

	bridgeB, err := NewEventBridge(coreB, pubsub, pubsub, "rpcmesh.events.test", "node-b", nil)
	if err != nil {
		t.Fatalf("NewEventBridge(B): %v", err)
	}
	t.Cleanup(func() { _ = bridgeB.Close() })

	_, eventsB, cancelB := coreB.SubscribeEvents()
	defer cancelB()

	coreA.RegisterClient("alice", "Alice", nil, nil)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-eventsB:
			if ev.Type == EventClientConnected {
				return
			}
		case <-deadline:
			t.Fatal("coreB never observed coreA's client_connected event over the bridge")
		}
	}
}
