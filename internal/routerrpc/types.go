// Package routerrpc is the C7 layer: the router service's RPC surface,
// expressed as five endpoint.ServiceContract methods on top of the
// router core instead of the teacher's single raw *grpc.ServerStream
// handler (internal/handler/grpc/delivery.go).
package routerrpc

import "github.com/webitel/rpcmesh/internal/router"

// RegisterRequest asks the router to allocate (or re-admit) a client.
type RegisterRequest struct {
	ClientID   string         `json:"client_id,omitempty"`
	ClientName string         `json:"client_name,omitempty"`
	Groups     []string       `json:"groups,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RegisterResponse carries the client_id the caller should present on
// every subsequent call, including the p2p handshake.
type RegisterResponse struct {
	ClientID string `json:"client_id"`
}

// ClientTimestamp is the ping request payload.
type ClientTimestamp struct {
	ClientTsMs int64 `json:"client_ts"`
}

// PongResponse echoes the caller's timestamp alongside the router's own.
type PongResponse struct {
	ClientTsMs int64 `json:"client_ts"`
	ServerTsMs int64 `json:"server_ts"`
}

// GetOnlineClientsRequest optionally filters the client listing.
type GetOnlineClientsRequest struct {
	Groups   []string       `json:"groups,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ClientsList is the response to get_online_clients.
type ClientsList struct {
	Clients []router.ClientInfo `json:"clients"`
}

// Null is the empty request for the events server-stream method.
type Null struct{}
