// Package server exposes HTTP handlers, including the WebSocket upgrades for
// the lobby and room channels, a health check, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// LobbyHandler returns the handler for the lobby channel. A lobby connection
// receives the room-list stream and accepts create and join requests; it
// never carries chat traffic.
func LobbyHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := upgrade(w, r)
		if !ok {
			return
		}

		sess := hub.Registry().NewSession(displayName(r), true)
		client := NewClient(conn, hub, sess, scopeLobby, "", r.RemoteAddr)
		hub.enroll(client)
	}
}

// RoomHandler returns the handler for room channels. The room name comes
// from the URL path; an optional name query introduces the client so it can
// start sending without a separate rename.
func RoomHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.PathValue("room")
		conn, ok := upgrade(w, r)
		if !ok {
			return
		}

		if !protocol.ValidName(room) {
			rejectRoom(hub, conn, room, r.RemoteAddr)
			return
		}

		sess := hub.Registry().NewSession(displayName(r), false)
		client := NewClient(conn, hub, sess, scopeRoom, room, r.RemoteAddr)
		hub.enroll(client)
	}
}

func upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return nil, false
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return nil, false
	}
	return conn, true
}

// displayName extracts the self-declared name from the query, discarding
// anything that fails validation so an invalid name degrades to "introduce
// yourself first" instead of an open-then-close dance.
func displayName(r *http.Request) string {
	name := r.URL.Query().Get("name")
	if !protocol.ValidName(name) {
		return ""
	}
	return name
}

// rejectRoom reports a bad room name over the fresh connection and closes it
// with a policy close code. Joining an invalid room never relocates the
// client to the lobby.
func rejectRoom(hub *Hub, conn *websocket.Conn, room, addr string) {
	payload, err := hub.Codec().Encode(&protocol.Envelope{
		Type: protocol.KindError,
		Code: protocol.CodeBadRoom,
		Text: "invalid room name: " + room,
	})
	if err == nil {
		if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil && !isExpectedCloseError(werr) {
			log.Printf("Error reporting bad room to %s: %v", addr, werr)
		}
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad room")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	if cerr := conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
		log.Printf("Error closing rejected connection from %s: %v", addr, cerr)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "lanchat broker is running!")
}

// TestPageHandler serves an HTML test page for exercising both channels: it
// connects to the lobby, lists rooms, and lets you join one and chat.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>lanchat test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages, #rooms {
            border: 1px solid #ccc;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #messages { height: 260px; }
        #rooms { height: 80px; }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>lanchat test page</h1>
    <div>
        <input type="text" id="name" placeholder="username">
        <input type="text" id="room" placeholder="room">
        <button onclick="joinRoom()">Join</button>
    </div>
    <div id="rooms"></div>
    <div id="messages"></div>
    <div>
        <input type="text" id="input" placeholder="message" size="48">
        <button onclick="sendText()">Send</button>
    </div>
    <script>
        const base = 'ws://' + location.host;
        let roomWS = null;

        function show(target, line) {
            const el = document.createElement('div');
            el.textContent = line;
            target.appendChild(el);
            target.scrollTop = target.scrollHeight;
        }
        const messages = document.getElementById('messages');
        const roomsDiv = document.getElementById('rooms');

        const lobbyWS = new WebSocket(base + '/ws/lobby');
        lobbyWS.onmessage = function(ev) {
            const m = JSON.parse(ev.data);
            if (m.type === 'roomList') {
                roomsDiv.textContent = '';
                (m.rooms || []).forEach(r => show(roomsDiv, r.name + ' (' + r.count + ')'));
            }
        };

        function joinRoom() {
            const room = document.getElementById('room').value.trim();
            const name = document.getElementById('name').value.trim();
            if (!room || !name) return;
            if (roomWS) roomWS.close();
            lobbyWS.send(JSON.stringify({type: 'create', name: room}));
            roomWS = new WebSocket(base + '/ws/room/' + encodeURIComponent(room) + '?name=' + encodeURIComponent(name));
            roomWS.onmessage = function(ev) {
                const m = JSON.parse(ev.data);
                if (m.type === 'text') show(messages, m.username + ': ' + m.text);
                else if (m.type === 'status') show(messages, '* ' + m.text);
                else if (m.type === 'userList') show(messages, 'users: ' + (m.users || []).join(', '));
                else if (m.type === 'error') show(messages, 'error: ' + m.code + ' ' + (m.text || ''));
            };
        }

        function sendText() {
            const input = document.getElementById('input');
            const text = input.value.trim();
            if (!text || !roomWS || roomWS.readyState !== WebSocket.OPEN) return;
            roomWS.send(JSON.stringify({type: 'text', text: text}));
            show(messages, 'me: ' + text);
            input.value = '';
        }
        document.getElementById('input').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendText();
        });
    </script>
</body>
</html>`
