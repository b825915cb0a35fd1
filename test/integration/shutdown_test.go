package integration

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/registry"
	"github.com/lanwire/lanchat/internal/server"
	"github.com/lanwire/lanchat/test/testhelpers"
)

// startBrokerWithHub wires a broker like testhelpers.StartBroker but keeps
// the hub handle so shutdown can be driven explicitly.
func startBrokerWithHub(t *testing.T) (*httptest.Server, *server.Hub) {
	t.Helper()

	server.SetConfig(nil)
	hub := server.NewHub(registry.New(0), protocol.NewCodec(0))
	server.StartHub(hub)

	ts := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(func() {
		ts.Close()
		server.SetConfig(nil)
	})
	return ts, hub
}

// TestHubShutdownClosesClients verifies Shutdown disconnects every active
// client and returns once the pumps have drained.
func TestHubShutdownClosesClients(t *testing.T) {
	ts, hub := startBrokerWithHub(t)

	room := testhelpers.DialRoom(t, ts, "abc", "alice")
	lobby := testhelpers.DialLobby(t, ts)
	testhelpers.WaitForKind(t, room, protocol.KindUserList)
	testhelpers.WaitForKind(t, lobby, protocol.KindRoomList)

	start := time.Now()
	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown with active clients took too long: %v", elapsed)
	}

	if _, err := testhelpers.TryReceiveEnvelope(room, 2*time.Second); err == nil {
		t.Error("Expected the room connection to be closed after shutdown")
	}
	if _, err := testhelpers.TryReceiveEnvelope(lobby, 2*time.Second); err == nil {
		t.Error("Expected the lobby connection to be closed after shutdown")
	}
}

// TestHubShutdownIdleHub verifies shutting down a hub with no clients
// completes promptly.
func TestHubShutdownIdleHub(t *testing.T) {
	_, hub := startBrokerWithHub(t)

	start := time.Now()
	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Idle shutdown took too long: %v", elapsed)
	}
}

// TestPublishAfterShutdownDoesNotBlock verifies the publish entry points
// return instead of hanging once the hub loop has exited.
func TestPublishAfterShutdownDoesNotBlock(t *testing.T) {
	_, hub := startBrokerWithHub(t)

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		hub.PublishRooms()
		hub.AnnounceStatus("abc", "after shutdown")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked after shutdown")
	}
}

// TestHTTPServerGracefulShutdown verifies ShutdownServer stops a listening
// server cleanly.
func TestHTTPServerGracefulShutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", server.HealthHandler)

	srv := server.CreateServer("127.0.0.1:0", mux)
	ts := httptest.NewUnstartedServer(mux)
	ts.Config = srv
	ts.Start()

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/")
	resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	if err := server.ShutdownServer(srv, 5*time.Second); err != nil {
		t.Fatalf("Server shutdown failed: %v", err)
	}
}
