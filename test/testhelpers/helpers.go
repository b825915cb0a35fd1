// Package testhelpers provides common utilities for exercising the lanchat
// broker in integration tests: starting a fully wired broker, dialing its
// WebSocket endpoints, and exchanging protocol envelopes.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/registry"
	"github.com/lanwire/lanchat/internal/server"
)

// DefaultOrigin matches the default allowed-origins configuration.
const DefaultOrigin = "http://localhost:8080"

// StartBroker starts a complete broker (registry, hub, routes) on an
// httptest server. Passing nil cfg uses the default configuration. The
// broker and its hub are torn down via t.Cleanup.
func StartBroker(t *testing.T, cfg *server.Config) *httptest.Server {
	t.Helper()

	server.SetConfig(cfg)

	var grace time.Duration
	var maxSize int64
	if cfg != nil {
		grace = cfg.RoomGrace
		maxSize = cfg.MaxMessageSize
	}

	hub := server.NewHub(registry.New(grace), protocol.NewCodec(maxSize))
	server.StartHub(hub)

	ts := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		server.SetConfig(nil)
	})
	return ts
}

// WSBaseURL rewrites an httptest server URL to its ws:// form.
func WSBaseURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// DialLobby opens a lobby connection against the broker and registers its
// cleanup. It fails the test if the dial does not succeed.
func DialLobby(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	return mustDial(t, WSBaseURL(ts)+"/ws/lobby")
}

// DialRoom opens a room connection, optionally with a display name in the
// query string. An empty name omits the query parameter.
func DialRoom(t *testing.T, ts *httptest.Server, room, name string) *websocket.Conn {
	t.Helper()

	url := WSBaseURL(ts) + "/ws/room/" + room
	if name != "" {
		url += "?name=" + name
	}
	return mustDial(t, url)
}

func mustDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(url, DefaultOrigin)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ConnectWebSocket dials url with the given Origin header. It returns the
// connection or the dial error, letting callers assert on rejections.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEnvelope writes one protocol envelope as a JSON text frame.
func SendEnvelope(t *testing.T, conn *websocket.Conn, env *protocol.Envelope) {
	t.Helper()

	payload, err := protocol.NewCodec(0).Encode(env)
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("Failed to send envelope: %v", err)
	}
}

// SendText sends a chat text envelope.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	SendEnvelope(t, conn, &protocol.Envelope{Type: protocol.KindText, Text: text})
}

// SendRename sends a rename envelope carrying the new display name.
func SendRename(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	SendEnvelope(t, conn, &protocol.Envelope{Type: protocol.KindRename, Username: name})
}

// ReceiveEnvelope reads and decodes the next envelope, failing the test if
// none arrives within the timeout.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) *protocol.Envelope {
	t.Helper()

	env, err := TryReceiveEnvelope(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to receive envelope: %v", err)
	}
	return env
}

// TryReceiveEnvelope reads the next envelope or returns the read error.
func TryReceiveEnvelope(conn *websocket.Conn, timeout time.Duration) (*protocol.Envelope, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.NewCodec(0).Decode(payload)
}

// WaitForKind reads envelopes until one of the wanted kind arrives,
// discarding the others. It fails the test on timeout.
func WaitForKind(t *testing.T, conn *websocket.Conn, kind protocol.Kind) *protocol.Envelope {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env, err := TryReceiveEnvelope(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("Failed while waiting for %q envelope: %v", kind, err)
		}
		if env.Type == kind {
			return env
		}
	}
	t.Fatalf("Timed out waiting for %q envelope", kind)
	return nil
}

// SendRawMessage sends a raw frame over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
