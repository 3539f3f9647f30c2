// Package ws is the WebSocket transport listener: an http.Handler that
// upgrades each incoming connection and spins up one endpoint.Responder
// over it, the way the teacher's internal/handler/ws/delivery.go
// upgrades a connection and pumps one user's event feed — generalized
// from one fixed subscribe-and-pump loop to rpcmesh's generic
// register/dispatch responder.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/webitel/rpcmesh/internal/codec"
	"github.com/webitel/rpcmesh/internal/endpoint"
	"github.com/webitel/rpcmesh/internal/streamid"
	"github.com/webitel/rpcmesh/internal/transport"
)

// ContractProvider supplies every ServiceContract a freshly upgraded
// connection's Responder should register.
type ContractProvider func() []*endpoint.ServiceContract

// Handler upgrades incoming HTTP requests to WebSocket connections and
// serves the rpcmesh wire protocol over each one.
type Handler struct {
	upgrader  websocket.Upgrader
	contracts ContractProvider
	cdc       codec.Codec
	log       *slog.Logger
}

// NewHandler builds a Handler. checkOrigin mirrors the teacher's
// permissive development default; callers should tighten it for
// production deployments.
func NewHandler(contracts ContractProvider, cdc codec.Codec, log *slog.Logger, checkOrigin func(*http.Request) bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		contracts: contracts,
		cdc:       cdc,
		log:       log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	tr := transport.NewWSTransport(conn, streamid.Responder)
	resp := endpoint.NewResponder(tr, h.cdc, h.log)
	for _, contract := range h.contracts() {
		resp.Register(contract)
	}

	if err := resp.Serve(r.Context()); err != nil {
		h.log.Debug("ws: responder stream ended", "err", err)
	}
	_ = tr.Close()
}
