package callengine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/transport"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text string `json:"text"`
}

type countRequest struct {
	N int `json:"n"`
}

type countItem struct {
	I int `json:"i"`
}

type sumResponse struct {
	Total int `json:"total"`
}

func acceptFirstStream(t *testing.T, responder transport.Transport) uint32 {
	t.Helper()
	select {
	case msg := <-responder.Messages():
		return msg.StreamID
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a new stream")
		return 0
	}
}

func TestUnaryRoundTrip(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	inv := NewInvoker(callerTr, cdc)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		id := acceptFirstStream(t, responderTr)
		call := NewCall(responderTr, id, Unary, RoleResponder)
		defer call.Close()
		_ = ServeUnary(context.Background(), call, cdc, func(ctx context.Context, req echoRequest) (echoResponse, error) {
			return echoResponse{Text: "echo:" + req.Text}, nil
		})
	}()

	resp, err := InvokeUnary[echoRequest, echoResponse](context.Background(), inv, "/Echo/echo", echoRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("InvokeUnary: %v", err)
	}
	if resp.Text != "echo:hi" {
		t.Fatalf("resp = %+v", resp)
	}
	<-serverDone
}

func TestServerStreamRoundTrip(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	inv := NewInvoker(callerTr, cdc)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		id := acceptFirstStream(t, responderTr)
		call := NewCall(responderTr, id, ServerStreaming, RoleResponder)
		defer call.Close()
		_ = ServeServerStream(context.Background(), call, cdc, func(ctx context.Context, req countRequest, send func(countItem) error) error {
			for i := 0; i < req.N; i++ {
				if err := send(countItem{I: i}); err != nil {
					return err
				}
			}
			return nil
		})
	}()

	_, recv, err := InvokeServerStream[countRequest, countItem](context.Background(), inv, "/Count/stream", countRequest{N: 3})
	if err != nil {
		t.Fatalf("InvokeServerStream: %v", err)
	}
	for i := 0; i < 3; i++ {
		item, err := recv(mustTimeoutCtx(t))
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if item.I != i {
			t.Fatalf("item %d = %+v", i, item)
		}
	}
	if _, err := recv(mustTimeoutCtx(t)); err != io.EOF {
		t.Fatalf("final recv = %v, want io.EOF", err)
	}
	<-serverDone
}

func TestClientStreamRoundTrip(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	inv := NewInvoker(callerTr, cdc)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		id := acceptFirstStream(t, responderTr)
		call := NewCall(responderTr, id, ClientStreaming, RoleResponder)
		defer call.Close()
		_ = ServeClientStream(context.Background(), call, cdc, func(ctx context.Context, recv func(context.Context) (countItem, error)) (sumResponse, error) {
			total := 0
			for {
				item, err := recv(ctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return sumResponse{}, err
				}
				total += item.I
			}
			return sumResponse{Total: total}, nil
		})
	}()

	_, send, finish := InvokeClientStream[countItem, sumResponse](context.Background(), inv, "/Sum/accumulate")
	for i := 1; i <= 3; i++ {
		if err := send(context.Background(), countItem{I: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	resp, err := finish(mustTimeoutCtx(t))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if resp.Total != 6 {
		t.Fatalf("total = %d, want 6", resp.Total)
	}
	<-serverDone
}

func TestBidiRoundTrip(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	inv := NewInvoker(callerTr, cdc)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		id := acceptFirstStream(t, responderTr)
		call := NewCall(responderTr, id, Bidi, RoleResponder)
		defer call.Close()
		_ = ServeBidi(context.Background(), call, cdc, func(ctx context.Context, recv func(context.Context) (echoRequest, error), send func(echoResponse) error) error {
			for {
				req, err := recv(ctx)
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := send(echoResponse{Text: "echo:" + req.Text}); err != nil {
					return err
				}
			}
		})
	}()

	_, send, closeSend, recv := InvokeBidi[echoRequest, echoResponse](context.Background(), inv, "/Echo/bidi")
	words := []string{"a", "b", "c"}
	for _, w := range words {
		if err := send(context.Background(), echoRequest{Text: w}); err != nil {
			t.Fatalf("send %q: %v", w, err)
		}
	}
	if err := closeSend(context.Background()); err != nil {
		t.Fatalf("closeSend: %v", err)
	}
	for _, w := range words {
		resp, err := recv(mustTimeoutCtx(t))
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if resp.Text != "echo:"+w {
			t.Fatalf("resp = %+v, want echo:%s", resp, w)
		}
	}
	if _, err := recv(mustTimeoutCtx(t)); err != io.EOF {
		t.Fatalf("final recv = %v, want io.EOF", err)
	}
	<-serverDone
}
