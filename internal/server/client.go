// Package server manages individual WebSocket connections, handling
// read/write pumps, rate limiting, and per-connection protocol state.
package server

import (
	"errors"
	"io"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/registry"
)

// maxMalformed is how many consecutive undecodable envelopes a connection
// may send before it is treated as a protocol violation and terminated.
const maxMalformed = 3

// readLimitSlack widens the hard socket read limit beyond the message byte
// budget so an over-budget message can be read, rejected with an open-
// connection error reply, and counted against the sender instead of
// tearing the socket down. Frames beyond budget+slack still hit the hard
// limit and close the connection.
const readLimitSlack = 64 << 10

// Client represents one WebSocket connection in the chat system: a lobby
// subscriber or a room member. It owns the connection state machine, the
// bounded outbound queue, and the per-connection rate limiter.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	sess           *registry.Session
	scope          scope
	roomName       string
	addr           string
	closed         bool
	state          connState
	malformed      int
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for an upgraded connection. roomName is the
// target room for room-scope connections and ignored for lobby ones. The
// session carries the display name if the client introduced itself at open.
func NewClient(conn *websocket.Conn, hub *Hub, sess *registry.Session, sc scope, roomName, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize + readLimitSlack)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	c := &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		sess:           sess,
		scope:          sc,
		roomName:       roomName,
		addr:           addr,
		closed:         false,
		state:          stateConnecting,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}
	c.transition(stateOpen)
	if sess.Name() != "" {
		c.transition(stateNamed)
	}
	return c
}

// transition advances the connection state machine, refusing moves the
// lifecycle does not allow.
func (c *Client) transition(to connState) bool {
	if !validTransition(c.state, to) {
		return false
	}
	c.state = to
	return true
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Session returns the registry session this connection carries.
func (c *Client) Session() *registry.Session {
	return c.sess
}

// sendEnvelope queues an envelope for this connection only. Delivery is
// best-effort: a full queue drops the reply, and the overflow policy in the
// hub will catch a consumer that stays stuck.
func (c *Client) sendEnvelope(env *protocol.Envelope) {
	payload, err := c.hub.Codec().Encode(env)
	if err != nil {
		log.Printf("Error encoding %s reply for %s: %v", env.Type, c.addr, err)
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("Dropping %s reply to %s: send buffer full", env.Type, c.addr)
	}
}

func (c *Client) sendError(code, text string) {
	c.sendEnvelope(&protocol.Envelope{Type: protocol.KindError, Code: code, Text: text})
}

// closeWithPolicy writes a close frame with the given close code and tears
// the connection down. Used for fatal protocol violations.
func (c *Client) closeWithPolicy(closeCode int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(closeCode, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing close frame to %s: %v", c.addr, err)
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection for %s: %v", c.addr, err)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Frame from %s exceeded hard read limit of %d bytes", c.addr, c.maxMessageSize+readLimitSlack)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one wire message and dispatches it through the
// connection state machine. It returns false when the connection must be
// terminated for a protocol violation.
func (c *Client) processMessage(rawMessage []byte) bool {
	env, err := c.hub.Codec().Decode(rawMessage)
	if err != nil {
		return c.handleDecodeError(err)
	}

	c.malformed = 0
	c.handleEnvelope(env)
	return true
}

// handleDecodeError classifies a failed decode. Over-budget messages are a
// capacity error: reported to the sender, connection stays open. Malformed
// or unknown envelopes count toward the violation limit; the third
// consecutive one is fatal.
func (c *Client) handleDecodeError(err error) bool {
	var decErr *protocol.DecodeError
	if errors.As(err, &decErr) && decErr.Reason == protocol.ReasonTooLarge {
		log.Printf("Message from %s exceeded budget of %d bytes", c.addr, c.maxMessageSize)
		c.sendError(protocol.CodeTooLarge, "message exceeds size limit")
		return true
	}

	c.malformed++
	log.Printf("Invalid message from %s (%d consecutive): %v", c.addr, c.malformed, err)
	if c.malformed >= maxMalformed {
		log.Printf("Terminating %s after %d consecutive malformed messages", c.addr, c.malformed)
		c.closeWithPolicy(websocket.ClosePolicyViolation, "protocol violation")
		return false
	}
	return true
}

// handleEnvelope routes a decoded envelope by kind, enforcing which kinds
// are acceptable on which channel and in which connection state.
func (c *Client) handleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindRename:
		c.handleRename(env.Username)
	case protocol.KindText, protocol.KindFile:
		c.handleChat(env)
	case protocol.KindCreate:
		c.handleCreate(env.Name)
	case protocol.KindJoin:
		c.handleCreate(env.Room)
	default:
		c.sendError("", "unexpected message type "+string(env.Type))
	}
}

// handleRename validates and applies a new display name, then diffuses the
// presence change. The first accepted rename on a room channel also
// completes the deferred join.
func (c *Client) handleRename(name string) {
	oldName := c.sess.Name()
	if err := c.hub.Registry().Rename(c.sess, name); err != nil {
		c.sendError(protocol.CodeBadUsername, "invalid username: "+name)
		return
	}

	c.transition(stateNamed)

	if c.scope != scopeRoom {
		return
	}

	if c.state == stateNamed {
		// First name on a room channel: membership starts now.
		if _, _, err := c.hub.Registry().Join(c.sess, c.roomName); err != nil {
			c.sendError(protocol.CodeBadRoom, "no such room: "+c.roomName)
			return
		}
		c.transition(stateJoined)
		c.hub.AnnounceStatus(c.roomName, name+" joined")
		c.hub.PublishUsers(c.roomName)
		c.hub.PublishRooms()
		return
	}

	room := c.sess.Room()
	if room != "" {
		c.hub.AnnounceStatus(room, oldName+" is now "+name)
		c.hub.PublishUsers(room)
	}
}

// handleChat broadcasts a text or file message to the client's room. The
// envelope is re-stamped with the sender's name and a server timestamp, so
// clients cannot spoof attribution.
func (c *Client) handleChat(env *protocol.Envelope) {
	if c.scope != scopeRoom {
		c.sendError("", "chat messages are not accepted on the lobby channel")
		return
	}
	if c.state != stateJoined {
		c.sendError(protocol.CodeNoUsername, "set a username before sending messages")
		return
	}

	env.Username = c.sess.Name()
	env.TS = time.Now().Unix()

	// Stamping may push a borderline envelope over budget; re-check the
	// encoded form so nothing over the limit reaches the room.
	payload, ok := c.hub.Codec().FitsBudget(env)
	if !ok {
		c.sendError(protocol.CodeTooLarge, "message exceeds size limit")
		return
	}

	c.hub.enqueue(publication{kind: pubRoom, room: c.sess.Room(), payload: payload})
}

// handleCreate serves lobby-channel create and join requests. The two are
// convergent: both ensure the room exists and acknowledge with a join
// envelope the client uses to open its room channel.
func (c *Client) handleCreate(name string) {
	if c.scope != scopeLobby {
		c.sendError("", "room requests are only accepted on the lobby channel")
		return
	}

	created, err := c.hub.Registry().CreateRoom(name)
	if err != nil {
		c.sendError(protocol.CodeBadRoom, "invalid room name: "+name)
		return
	}
	if created {
		c.hub.PublishRooms()
	}
	c.sendEnvelope(&protocol.Envelope{Type: protocol.KindJoin, Room: name})
}

func (c *Client) readPump() {
	defer func() {
		c.transition(stateClosing)
		// The hub loop exits on shutdown, so the handoff must not block
		// once nothing is draining the channel.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
		c.transition(stateClosed)
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(rawMessage) {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing. Hub shutdown ends the pump directly; the send
// channel stays open in that path.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		// Only log unexpected connection close errors
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// writeTextMessage writes a single message frame. Envelopes are standalone
// JSON documents, so no batching into one frame here; queued messages go
// out as their own frames.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
