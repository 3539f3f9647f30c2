package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webitel/rpcmesh/internal/diagnostics"
	"github.com/webitel/rpcmesh/internal/router"
)

func newTestRegistry(t *testing.T) *router.Core {
	c := router.NewCore(
		router.WithHealthCheckInterval(time.Hour),
		router.WithInactivityTimeout(time.Hour),
		router.WithMailboxSize(16),
	)
	t.Cleanup(c.Shutdown)
	return c
}

func TestHealthzReturnsOK(t *testing.T) {
	registry := newTestRegistry(t)
	srv := httptest.NewServer(NewAdminRouter(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatsReflectsRegisteredClients(t *testing.T) {
	registry := newTestRegistry(t)
	registry.RegisterClient("alice", "Alice", []string{"sales"}, nil)
	registry.RegisterClient("bob", "Bob", []string{"sales"}, nil)

	srv := httptest.NewServer(NewAdminRouter(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var st diagnostics.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ActiveClients != 2 {
		t.Fatalf("ActiveClients = %d, want 2", st.ActiveClients)
	}
	if st.GroupCounts["sales"] != 2 {
		t.Fatalf("GroupCounts[sales] = %d, want 2", st.GroupCounts["sales"])
	}
}

func TestGetClientByIDNotFound(t *testing.T) {
	registry := newTestRegistry(t)
	srv := httptest.NewServer(NewAdminRouter(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/clients/ghost")
	if err != nil {
		t.Fatalf("GET /v1/clients/ghost: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetClientByIDFound(t *testing.T) {
	registry := newTestRegistry(t)
	registry.RegisterClient("alice", "Alice", []string{"sales"}, nil)

	srv := httptest.NewServer(NewAdminRouter(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/clients/alice")
	if err != nil {
		t.Fatalf("GET /v1/clients/alice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info router.ClientInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ClientID != "alice" {
		t.Fatalf("ClientID = %q, want alice", info.ClientID)
	}
}
