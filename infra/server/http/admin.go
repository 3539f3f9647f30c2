// Package http exposes a small chi-routed admin surface alongside the
// RPC transports: health/readiness probes and read-only snapshots of
// router state, grounded on the teacher's internal/handler/lp/delivery.go
// (chi.URLParam-based lookup by identity, plain http.Error/json responses)
// generalized from long-polling a single user's events to point-in-time
// JSON snapshots of the router registry.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/rpcmesh/internal/diagnostics"
	"github.com/webitel/rpcmesh/internal/router"
)

// NewAdminRouter builds the admin HTTP surface over registry.
func NewAdminRouter(registry router.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", handleHealthz)
	r.Get("/v1/stats", handleStats(registry))
	r.Get("/v1/clients", handleListClients(registry))
	r.Get("/v1/clients/{clientID}", handleGetClient(registry))
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleStats(registry router.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, diagnostics.Snapshot(registry))
	}
}

func handleListClients(registry router.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, registry.ListClients(nil, nil))
	}
}

func handleGetClient(registry router.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientID")
		if _, ok := registry.GetClient(clientID); !ok {
			http.Error(w, "client not found", http.StatusNotFound)
			return
		}
		for _, info := range registry.ListClients(nil, nil) {
			if info.ClientID == clientID {
				writeJSON(w, info)
				return
			}
		}
		http.Error(w, "client not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
