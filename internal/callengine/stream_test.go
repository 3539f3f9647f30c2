package callengine

import (
	"context"
	"testing"
	"time"

	"github.com/webitel/rpcmesh/internal/transport"
)

func TestStateTransitionsCallerSide(t *testing.T) {
	caller, responder := transport.NewMemoryPair()
	defer caller.Close()
	defer responder.Close()

	id := caller.CreateStream()
	call := NewCall(caller, id, Unary, RoleCaller)
	if call.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", call.State())
	}

	if err := call.SendHeader(context.Background(), transport.NewMetadata(transport.KeyPath, "/X/y"), false); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if call.State() != StateOpen {
		t.Fatalf("state after header = %v, want open", call.State())
	}

	if err := call.SendData(context.Background(), []byte("payload"), true); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if call.State() != StateHalfClosedLocal {
		t.Fatalf("state after local end = %v, want half_closed_local", call.State())
	}
}

func TestStateClosesOnBothEnds(t *testing.T) {
	caller, responder := transport.NewMemoryPair()
	defer caller.Close()
	defer responder.Close()

	id := caller.CreateStream()
	call := NewCall(caller, id, Unary, RoleCaller)

	if err := call.SendHeader(context.Background(), transport.NewMetadata(), true); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if call.State() != StateHalfClosedLocal {
		t.Fatalf("state = %v, want half_closed_local", call.State())
	}

	// simulate the remote finishing too, by feeding the call's own Recv
	// loop an end-of-stream frame via the responder sending one back.
	respondToStream(t, responder, id)

	msg, err := call.Recv(mustTimeoutCtx(t))
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !msg.EndOfStream {
		t.Fatalf("expected end-of-stream frame")
	}
	if call.State() != StateClosed {
		t.Fatalf("state after remote end = %v, want closed", call.State())
	}
}

func TestUnaryCallersMayNotSendTwoPayloads(t *testing.T) {
	caller, responder := transport.NewMemoryPair()
	defer caller.Close()
	defer responder.Close()

	id := caller.CreateStream()
	call := NewCall(caller, id, Unary, RoleCaller)
	_ = call.SendHeader(context.Background(), transport.NewMetadata(), false)
	if err := call.SendData(context.Background(), []byte("a"), false); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := call.SendData(context.Background(), []byte("b"), false); err == nil {
		t.Fatalf("expected second unary payload to be rejected")
	}
}

func TestParseAndEncodeTimeout(t *testing.T) {
	d := 250 * time.Millisecond
	encoded := EncodeTimeout(d)
	got, err := ParseTimeout(encoded)
	if err != nil {
		t.Fatalf("ParseTimeout: %v", err)
	}
	if got != d {
		t.Fatalf("got %v, want %v", got, d)
	}
}

func respondToStream(t *testing.T, responder transport.Transport, streamID uint32) {
	t.Helper()
	if err := responder.SendMetadata(context.Background(), streamID, transport.NewMetadata(), true); err != nil {
		t.Fatalf("responder SendMetadata: %v", err)
	}
}

func mustTimeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}
