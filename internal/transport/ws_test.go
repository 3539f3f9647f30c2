package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/webitel/rpcmesh/internal/streamid"
)

// newWSPair spins up a real httptest server accepting one WebSocket
// upgrade, dials it, and wraps both ends as WSTransport — the same
// upgrade shape infra/server/ws.Handler uses against a live listener,
// exercised here against an in-process one.
func newWSPair(t *testing.T) (caller, responder *WSTransport) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	serverConn := <-serverConnCh

	caller = NewWSTransport(clientConn, streamid.Caller)
	responder = NewWSTransport(serverConn, streamid.Responder)
	t.Cleanup(func() {
		_ = caller.Close()
		_ = responder.Close()
	})
	return caller, responder
}

func TestWSTransportStreamIDParity(t *testing.T) {
	caller, responder := newWSPair(t)

	if id := caller.CreateStream(); id%2 != 1 {
		t.Fatalf("caller stream id %d should be odd", id)
	}
	if id := responder.CreateStream(); id%2 != 0 {
		t.Fatalf("responder stream id %d should be even", id)
	}
}

func TestWSTransportDeliversAcrossConnection(t *testing.T) {
	caller, responder := newWSPair(t)
	ctx := t.Context()

	id := caller.CreateStream()
	md := NewMetadata(KeyPath, "/Echo/echo")
	if err := caller.SendMetadata(ctx, id, md, false); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}
	if err := caller.SendMessage(ctx, id, []byte("hello"), false); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := caller.FinishSending(id); err != nil {
		t.Fatalf("FinishSending: %v", err)
	}

	ch := responder.StreamMessages(id)

	first := recvOrTimeout(t, ch)
	if !first.IsMetadataOnly() {
		t.Fatalf("first message should be metadata-only")
	}
	if p, _ := first.Metadata.Get(KeyPath); p != "/Echo/echo" {
		t.Fatalf("path = %q", p)
	}

	second := recvOrTimeout(t, ch)
	if string(second.Payload) != "hello" {
		t.Fatalf("payload = %q", second.Payload)
	}

	third := recvOrTimeout(t, ch)
	if !third.EndOfStream {
		t.Fatalf("expected end-of-stream marker")
	}
}

func TestWSTransportCloseAbortsStreams(t *testing.T) {
	caller, responder := newWSPair(t)
	ctx := t.Context()

	id := caller.CreateStream()
	if err := caller.SendMetadata(ctx, id, NewMetadata(), false); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}
	recvOrTimeout(t, responder.StreamMessages(id))

	if err := caller.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := caller.SendMessage(ctx, id, []byte("x"), false); err != ErrClosed {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
}
