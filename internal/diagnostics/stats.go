// Package diagnostics builds the router_stats/health_warning snapshots
// the events() RPC and the monitor CLI both render, keeping the shape in
// one place instead of duplicating field names between the two
// consumers.
package diagnostics

import (
	"time"

	"github.com/webitel/rpcmesh/internal/router"
)

// Stats is a point-in-time summary of the router core's topology.
type Stats struct {
	ActiveClients int            `json:"active_clients"`
	GroupCounts   map[string]int `json:"group_counts,omitempty"`
	IdleClients   int            `json:"idle_clients"`
}

// Snapshot computes Stats from a live registry by walking its current
// client list — the same read-only ClientInfo slice get_online_clients
// returns, so this never takes the registry's internal locks directly.
func Snapshot(registry router.Registry) Stats {
	clients := registry.ListClients(nil, nil)
	st := Stats{ActiveClients: len(clients), GroupCounts: make(map[string]int)}
	for _, c := range clients {
		if c.Status == router.StatusIdle {
			st.IdleClients++
		}
		for _, g := range c.Groups {
			st.GroupCounts[g]++
		}
	}
	return st
}

// Event wraps a Stats snapshot as the router_stats RouterEvent the events
// RPC sends as its first message on every new subscription.
func Event(registry router.Registry) router.RouterEvent {
	st := Snapshot(registry)
	return router.RouterEvent{
		Type: router.EventRouterStats,
		Data: map[string]any{
			"active_clients": st.ActiveClients,
			"idle_clients":    st.IdleClients,
			"group_counts":    st.GroupCounts,
		},
		TimestampMs: time.Now().UnixMilli(),
	}
}

// HealthWarning describes one health_warning event in a shape convenient
// for the monitor dashboard to render without re-parsing the event's raw
// Data map.
type HealthWarning struct {
	SubscriberID string
	Reason       string
	TimestampMs  int64
}

// ParseHealthWarning extracts a HealthWarning from a RouterEvent of type
// health_warning, returning ok=false for any other event type or a
// malformed Data payload.
func ParseHealthWarning(ev router.RouterEvent) (HealthWarning, bool) {
	if ev.Type != router.EventHealthWarning {
		return HealthWarning{}, false
	}
	hw := HealthWarning{TimestampMs: ev.TimestampMs}
	if v, ok := ev.Data["subscriber_id"].(string); ok {
		hw.SubscriberID = v
	}
	if v, ok := ev.Data["reason"].(string); ok {
		hw.Reason = v
	}
	return hw, true
}
