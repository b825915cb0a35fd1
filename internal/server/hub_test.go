package server

import (
	"testing"
	"time"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/registry"
)

func newTestHub(t *testing.T, maxBytes int64) *Hub {
	t.Helper()
	SetConfig(nil)
	t.Cleanup(func() { SetConfig(nil) })

	reg := registry.New(0)
	hub := NewHub(reg, protocol.NewCodec(maxBytes))
	StartHub(hub)
	t.Cleanup(func() { _ = hub.Shutdown(time.Second) })
	return hub
}

// receiveEnvelope reads one queued outbound envelope from a client. It
// decodes with an unbounded codec: replies such as too_large must come
// through even when the hub itself runs a tiny budget.
func receiveEnvelope(t *testing.T, hub *Hub, client *Client) *protocol.Envelope {
	t.Helper()
	select {
	case payload := <-client.send:
		env, err := protocol.NewCodec(0).Decode(payload)
		if err != nil {
			t.Fatalf("outbound payload failed to decode: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an outbound envelope")
		return nil
	}
}

func TestNewHubWiring(t *testing.T) {
	hub := newTestHub(t, 0)

	if hub.Registry() == nil || hub.Codec() == nil {
		t.Fatal("hub missing registry or codec")
	}
	if !hub.Registry().Exists(registry.LobbyRoom) {
		t.Fatal("hub registry has no lobby room")
	}
	if hub.GetRegisterChan() == nil || hub.GetUnregisterChan() == nil {
		t.Fatal("hub channels are nil")
	}
}

func TestChatBeforeNameIsDropped(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("", false)
	client := NewClient(nil, hub, sess, scopeRoom, "abc", "127.0.0.1:1")

	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindText, Text: "hi"})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError || env.Code != protocol.CodeNoUsername {
		t.Fatalf("expected no_username error, got %+v", env)
	}
	if hub.Registry().Exists("abc") {
		t.Fatal("unauthenticated chat must not create the room")
	}
}

func TestChatOnLobbyChannelRejected(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("alice", true)
	client := NewClient(nil, hub, sess, scopeLobby, "", "127.0.0.1:1")

	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindText, Text: "hi"})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError {
		t.Fatalf("expected error envelope, got %+v", env)
	}
}

func TestOversizeChatRejectedBeforeBroadcast(t *testing.T) {
	hub := newTestHub(t, 128)
	sess := hub.Registry().NewSession("alice", false)
	client := NewClient(nil, hub, sess, scopeRoom, "abc", "127.0.0.1:1")
	client.state = stateJoined

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'a'
	}
	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindText, Text: string(big)})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError || env.Code != protocol.CodeTooLarge {
		t.Fatalf("expected too_large error, got %+v", env)
	}
}

func TestRenameValidationError(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("", false)
	client := NewClient(nil, hub, sess, scopeRoom, "abc", "127.0.0.1:1")

	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindRename, Username: "not a name!"})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError || env.Code != protocol.CodeBadUsername {
		t.Fatalf("expected bad_username error, got %+v", env)
	}
	if sess.Name() != "" {
		t.Fatalf("rejected rename mutated the session name to %q", sess.Name())
	}
}

func TestCreateRequestAcksWithJoin(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("alice", true)
	client := NewClient(nil, hub, sess, scopeLobby, "", "127.0.0.1:1")

	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindCreate, Name: "abc"})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindJoin || env.Room != "abc" {
		t.Fatalf("expected join ack for abc, got %+v", env)
	}
	if !hub.Registry().Exists("abc") {
		t.Fatal("create request did not create the room")
	}
}

func TestCreateRequestBadName(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("alice", true)
	client := NewClient(nil, hub, sess, scopeLobby, "", "127.0.0.1:1")

	client.handleEnvelope(&protocol.Envelope{Type: protocol.KindCreate, Name: "way too long room name"})

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError || env.Code != protocol.CodeBadRoom {
		t.Fatalf("expected bad_room error, got %+v", env)
	}
}

func TestMalformedCountResetsOnValidEnvelope(t *testing.T) {
	hub := newTestHub(t, 0)
	sess := hub.Registry().NewSession("alice", false)
	client := NewClient(nil, hub, sess, scopeRoom, "abc", "127.0.0.1:1")

	// The first two strikes keep the connection; a valid envelope in
	// between must reset the count.
	if !client.processMessage([]byte("garbage")) {
		t.Fatal("first malformed message should not be fatal")
	}
	if !client.processMessage([]byte("garbage")) {
		t.Fatal("second malformed message should not be fatal")
	}
	if !client.processMessage([]byte(`{"type":"rename","username":"bob"}`)) {
		t.Fatal("valid envelope rejected")
	}
	if client.malformed != 0 {
		t.Fatalf("valid envelope should reset the malformed count, got %d", client.malformed)
	}
}

func TestOversizeDoesNotCountAsMalformed(t *testing.T) {
	hub := newTestHub(t, 32)
	sess := hub.Registry().NewSession("alice", false)
	client := NewClient(nil, hub, sess, scopeRoom, "abc", "127.0.0.1:1")

	big := make([]byte, 64)
	if !client.processMessage(big) {
		t.Fatal("over-budget message must not be fatal")
	}
	if client.malformed != 0 {
		t.Fatalf("capacity error counted as malformed: %d", client.malformed)
	}

	env := receiveEnvelope(t, hub, client)
	if env.Type != protocol.KindError || env.Code != protocol.CodeTooLarge {
		t.Fatalf("expected too_large error, got %+v", env)
	}
}

func TestFanoutDropsClientWithFullBuffer(t *testing.T) {
	hub := newTestHub(t, 0)

	fast := hub.Registry().NewSession("fast", false)
	slow := hub.Registry().NewSession("slow", false)
	fastClient := NewClient(nil, hub, fast, scopeRoom, "abc", "127.0.0.1:1")
	slowClient := NewClient(nil, hub, slow, scopeRoom, "abc", "127.0.0.1:2")

	hub.clients[fast.ID()] = fastClient
	hub.clients[slow.ID()] = slowClient
	mustJoin(t, hub, fast, "abc")
	mustJoin(t, hub, slow, "abc")

	// Saturate the slow consumer's queue.
	for i := 0; i < cap(slowClient.send); i++ {
		slowClient.send <- []byte("x")
	}

	payload, err := hub.Codec().Encode(&protocol.Envelope{Type: protocol.KindText, Text: "hi"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	hub.fanout(hub.roomTargets("abc"), payload, nil)

	if _, ok := hub.clients[slow.ID()]; ok {
		t.Fatal("overflowing client should have been dropped")
	}
	if _, ok := hub.clients[fast.ID()]; !ok {
		t.Fatal("healthy client must survive a peer's overflow")
	}

	// The slow client's departure also vacated the room membership.
	users := hub.Registry().SnapshotUsers("abc")
	if len(users) != 1 || users[0] != "fast" {
		t.Fatalf("SnapshotUsers = %v, want [fast]", users)
	}

	// Its send channel is closed so the write pump can drain and exit.
	for {
		if _, ok := <-slowClient.send; !ok {
			break
		}
	}
}

func mustJoin(t *testing.T, hub *Hub, sess *registry.Session, room string) {
	t.Helper()
	if _, _, err := hub.Registry().Join(sess, room); err != nil {
		t.Fatalf("Join(%q) returned error: %v", room, err)
	}
}
