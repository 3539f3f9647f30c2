package routerrpc

import (
	"context"
	"testing"
	"time"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/router"
	"github.com/webitel/rpcmesh/internal/transport"
)

// testClient wires one simulated connection (its own memory transport
// pair and responder loop) against a shared registry, mirroring how two
// independent gRPC connections would reach the same router.Core.
type testClient struct {
	caller *endpoint.CallerEndpoint
}

func newTestClient(t *testing.T, svc *Service, cdc codec.Codec) *testClient {
	callerTr, responderTr := transport.NewMemoryPair()
	t.Cleanup(func() { callerTr.Close(); responderTr.Close() })

	responder := endpoint.NewResponder(responderTr, cdc, nil)
	responder.Register(svc.Contract())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go responder.Serve(ctx)

	return &testClient{caller: endpoint.NewCallerEndpoint(callerTr, cdc)}
}

func mustDeadline(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegisterPingGetOnlineClients(t *testing.T) {
	core := router.NewCore(router.WithHealthCheckInterval(time.Hour), router.WithInactivityTimeout(time.Hour))
	t.Cleanup(core.Shutdown)
	svc := NewService(core, nil)
	cdc := codec.JSON{}

	client := newTestClient(t, svc, cdc)

	regResp, err := endpoint.CallUnary[RegisterRequest, RegisterResponse](mustDeadline(t), client.caller, "/router/register", RegisterRequest{ClientName: "Alice"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if regResp.ClientID == "" {
		t.Fatal("register returned empty client_id")
	}

	pong, err := endpoint.CallUnary[ClientTimestamp, PongResponse](mustDeadline(t), client.caller, "/router/ping", ClientTimestamp{ClientTsMs: 42})
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.ClientTsMs != 42 || pong.ServerTsMs == 0 {
		t.Fatalf("pong = %+v", pong)
	}

	list, err := endpoint.CallUnary[GetOnlineClientsRequest, ClientsList](mustDeadline(t), client.caller, "/router/get_online_clients", GetOnlineClientsRequest{})
	if err != nil {
		t.Fatalf("get_online_clients: %v", err)
	}
	if len(list.Clients) != 1 || list.Clients[0].ClientID != regResp.ClientID {
		t.Fatalf("list = %+v", list)
	}
}

func TestP2PUnicastAndUnknownTarget(t *testing.T) {
	core := router.NewCore(router.WithHealthCheckInterval(time.Hour), router.WithInactivityTimeout(time.Hour))
	t.Cleanup(core.Shutdown)
	svc := NewService(core, nil)
	cdc := codec.JSON{}

	alice := newTestClient(t, svc, cdc)
	bob := newTestClient(t, svc, cdc)

	aliceReg, err := endpoint.CallUnary[RegisterRequest, RegisterResponse](mustDeadline(t), alice.caller, "/router/register", RegisterRequest{ClientName: "Alice"})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bobReg, err := endpoint.CallUnary[RegisterRequest, RegisterResponse](mustDeadline(t), bob.caller, "/router/register", RegisterRequest{ClientName: "Bob"})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	aliceSend, _, aliceRecv := endpoint.CallBidi[router.RouterMessage, router.RouterMessage](mustDeadline(t), alice.caller, "/router/p2p")
	bobSend, _, bobRecv := endpoint.CallBidi[router.RouterMessage, router.RouterMessage](mustDeadline(t), bob.caller, "/router/p2p")

	if err := aliceSend(mustDeadline(t), router.RouterMessage{Type: router.MessageHeartbeat, SenderID: aliceReg.ClientID}); err != nil {
		t.Fatalf("alice handshake send: %v", err)
	}
	if err := bobSend(mustDeadline(t), router.RouterMessage{Type: router.MessageHeartbeat, SenderID: bobReg.ClientID}); err != nil {
		t.Fatalf("bob handshake send: %v", err)
	}

	aliceAck, err := aliceRecv(mustDeadline(t))
	if err != nil || aliceAck.Type != router.MessageHeartbeat {
		t.Fatalf("alice ack = %+v, err = %v", aliceAck, err)
	}
	bobAck, err := bobRecv(mustDeadline(t))
	if err != nil || bobAck.Type != router.MessageHeartbeat {
		t.Fatalf("bob ack = %+v, err = %v", bobAck, err)
	}

	if err := aliceSend(mustDeadline(t), router.RouterMessage{
		Type:     router.MessageUnicast,
		TargetID: bobReg.ClientID,
		Payload:  map[string]any{"text": "hi"},
	}); err != nil {
		t.Fatalf("unicast send: %v", err)
	}

	got, err := bobRecv(mustDeadline(t))
	if err != nil {
		t.Fatalf("bob recv unicast: %v", err)
	}
	if got.Type != router.MessageUnicast || got.SenderID != aliceReg.ClientID {
		t.Fatalf("bob got = %+v", got)
	}

	if err := aliceSend(mustDeadline(t), router.RouterMessage{
		Type:     router.MessageUnicast,
		TargetID: "no-such-client",
	}); err != nil {
		t.Fatalf("unicast-to-unknown send: %v", err)
	}

	errMsg, err := aliceRecv(mustDeadline(t))
	if err != nil {
		t.Fatalf("alice recv error message: %v", err)
	}
	if errMsg.Type != router.MessageError {
		t.Fatalf("errMsg = %+v, want type error", errMsg)
	}
}
