package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
)

var testUpgrader = websocket.Upgrader{}

// wsURL rewrites an httptest server URL to its WebSocket form.
func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// nextEvent pulls one event from the stream or fails the test.
func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a transport event")
		return nil
	}
}

// waitConnection consumes events until a ConnectionEvent for the scope
// arrives in the wanted state.
func waitConnection(t *testing.T, events <-chan Event, sc Scope, state State) ConnectionEvent {
	t.Helper()
	for {
		ev := nextEvent(t, events)
		conn, ok := ev.(ConnectionEvent)
		if ok && conn.Scope == sc && conn.State == state {
			return conn
		}
	}
}

func TestLobbyChannelReceivesRoomList(t *testing.T) {
	codec := protocol.NewCodec(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/lobby" {
			http.NotFound(w, r)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		payload, _ := codec.Encode(&protocol.Envelope{
			Type:  protocol.KindRoomList,
			Rooms: []protocol.RoomInfo{{Name: "abc", Count: 2}},
		})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}))
	defer srv.Close()

	client := New(wsURL(t, srv), "alice")
	defer client.Close()
	client.Connect()

	waitConnection(t, client.Events(), ScopeLobby, StateOpen)

	ev := nextEvent(t, client.Events())
	msg, ok := ev.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", ev)
	}
	if msg.Scope != ScopeLobby || msg.Envelope.Type != protocol.KindRoomList {
		t.Fatalf("unexpected message event: %+v", msg)
	}
	if len(msg.Envelope.Rooms) != 1 || msg.Envelope.Rooms[0].Name != "abc" {
		t.Fatalf("unexpected room list: %+v", msg.Envelope.Rooms)
	}
}

func TestRoomChannelCarriesNameAndRoom(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.String()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := New(wsURL(t, srv), "alice")
	defer client.Close()

	if err := client.JoinRoom("abc"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	waitConnection(t, client.Events(), ScopeRoom, StateOpen)

	select {
	case url := <-got:
		if url != "/ws/room/abc?name=alice" {
			t.Fatalf("room dial hit %q, want /ws/room/abc?name=alice", url)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the room dial")
	}
}

func TestJoinRoomRejectsInvalidName(t *testing.T) {
	client := New("ws://127.0.0.1:1", "alice")
	if err := client.JoinRoom("not a room"); !errors.Is(err, ErrBadName) {
		t.Fatalf("JoinRoom error = %v, want ErrBadName", err)
	}
}

func TestSendFailsFastWithoutRoom(t *testing.T) {
	client := New("ws://127.0.0.1:1", "alice")
	if err := client.SendText("hi"); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("SendText error = %v, want ErrNoRoom", err)
	}
}

func TestSendFailsFastWhileReconnecting(t *testing.T) {
	// Port 1 refuses connections, so the room channel never opens.
	client := New("ws://127.0.0.1:1", "alice", WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	defer client.Close()

	if err := client.JoinRoom("abc"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	waitConnection(t, client.Events(), ScopeRoom, StateReconnecting)

	err := client.SendText("hi")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendText error = %v, want ErrNotConnected", err)
	}

	// The failure surfaces as an event too, so the UI can tell the user.
	for {
		ev := nextEvent(t, client.Events())
		if fail, ok := ev.(SendFailEvent); ok {
			if fail.Kind != protocol.KindText || !errors.Is(fail.Err, ErrNotConnected) {
				t.Fatalf("unexpected send fail event: %+v", fail)
			}
			return
		}
	}
}

func TestReconnectDelaysGrow(t *testing.T) {
	client := New("ws://127.0.0.1:1", "alice", WithBackoff(5*time.Millisecond, 40*time.Millisecond))
	defer client.Close()
	client.Connect()

	var delays []time.Duration
	for len(delays) < 4 {
		ev := nextEvent(t, client.Events())
		if conn, ok := ev.(ConnectionEvent); ok && conn.State == StateReconnecting {
			delays = append(delays, conn.Delay)
		}
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Fatalf("reconnect delays shrank: %v", delays)
		}
	}
	if delays[0] != 5*time.Millisecond {
		t.Fatalf("first delay = %v, want the base delay", delays[0])
	}
}

func TestRoomSwitchRedialsRoomChannelOnly(t *testing.T) {
	dials := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials <- r.URL.Path
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := New(wsURL(t, srv), "alice")
	defer client.Close()
	client.Connect()
	waitConnection(t, client.Events(), ScopeLobby, StateOpen)

	if err := client.JoinRoom("abc"); err != nil {
		t.Fatalf("JoinRoom returned error: %v", err)
	}
	waitConnection(t, client.Events(), ScopeRoom, StateOpen)

	if err := client.JoinRoom("def"); err != nil {
		t.Fatalf("second JoinRoom returned error: %v", err)
	}
	waitConnection(t, client.Events(), ScopeRoom, StateOpen)

	var paths []string
	for len(dials) > 0 {
		paths = append(paths, <-dials)
	}
	want := []string{"/ws/lobby", "/ws/room/abc", "/ws/room/def"}
	if len(paths) != len(want) {
		t.Fatalf("dial paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("dial paths = %v, want %v", paths, want)
		}
	}
	if client.LobbyState() != StateOpen {
		t.Fatal("lobby channel should stay connected across room switches")
	}
}

func TestSendFilePreValidatesBudget(t *testing.T) {
	client := New("ws://127.0.0.1:1", "alice", WithMaxMessageSize(256))
	if err := client.SendFile("big.bin", "application/octet-stream", make([]byte, 1024)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("SendFile error = %v, want ErrTooLarge", err)
	}
}
