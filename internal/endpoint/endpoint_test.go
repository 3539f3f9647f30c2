package endpoint

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/rpcstatus"
	"github.com/webitel/rpcmesh/internal/transport"
)

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Text string `json:"text"`
}

func TestResponderDispatchesUnary(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	contract := NewServiceContract("Greeter")
	RegisterUnary(contract, "greet", func(ctx context.Context, req greetRequest) (greetResponse, error) {
		return greetResponse{Text: "hello, " + req.Name}, nil
	})

	responder := NewResponder(responderTr, cdc, nil)
	responder.Register(contract)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go responder.Serve(ctx)

	caller := NewCallerEndpoint(callerTr, cdc)
	resp, err := CallUnary[greetRequest, greetResponse](context.Background(), caller, "/Greeter/greet", greetRequest{Name: "ada"})
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Text != "hello, ada" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestResponderRejectsUnknownMethod(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	responder := NewResponder(responderTr, cdc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go responder.Serve(ctx)

	caller := NewCallerEndpoint(callerTr, cdc)
	_, err := CallUnary[greetRequest, greetResponse](context.Background(), caller, "/Greeter/missing", greetRequest{Name: "ada"})
	if err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
	se := rpcstatus.FromError(err)
	if se.Code != rpcstatus.Unimplemented {
		t.Fatalf("code = %v, want Unimplemented", se.Code)
	}
}

func TestResponderDispatchesServerStream(t *testing.T) {
	callerTr, responderTr := transport.NewMemoryPair()
	defer callerTr.Close()
	defer responderTr.Close()

	cdc := codec.JSON{}
	contract := NewServiceContract("Numbers")
	RegisterServerStream(contract, "count", func(ctx context.Context, req greetRequest, send func(greetResponse) error) error {
		for i := 0; i < 2; i++ {
			if err := send(greetResponse{Text: req.Name}); err != nil {
				return err
			}
		}
		return nil
	})

	responder := NewResponder(responderTr, cdc, nil)
	responder.Register(contract)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go responder.Serve(ctx)

	caller := NewCallerEndpoint(callerTr, cdc)
	recv, err := CallServerStream[greetRequest, greetResponse](context.Background(), caller, "/Numbers/count", greetRequest{Name: "x"})
	if err != nil {
		t.Fatalf("CallServerStream: %v", err)
	}
	for i := 0; i < 2; i++ {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		if _, err := recv(rctx); err != nil {
			rcancel()
			t.Fatalf("recv %d: %v", i, err)
		}
		rcancel()
	}
	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	defer rcancel()
	if _, err := recv(rctx); err != io.EOF {
		t.Fatalf("final recv = %v, want io.EOF", err)
	}
}
