// Package transport is the client-side dual-channel WebSocket transport: a
// lobby channel that streams the room directory and a room channel for the
// joined room's message stream. Each channel reconnects on its own with
// capped exponential backoff, and everything the server pushes surfaces as
// tagged events for the presentation layer.
package transport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
)

// Sentinel errors for send-side validation.
var (
	ErrTooLarge = errors.New("message exceeds size limit")
	ErrBadName  = errors.New("invalid name")
	ErrNoRoom   = errors.New("no room joined")
)

// Client maintains the two channel handles against one broker. The lobby
// channel lives for the client's lifetime; the room channel is torn down and
// redialed whenever the joined room changes.
type Client struct {
	baseURL string
	dialer  *websocket.Dialer
	codec   *protocol.Codec
	events  chan Event

	mu       sync.Mutex
	name     string
	roomName string
	lobby    *channel
	room     *channel

	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithMaxMessageSize sets the wire byte budget used for encoding and
// pre-validating outgoing messages. It should match the broker's limit.
func WithMaxMessageSize(max int64) Option {
	return func(c *Client) { c.codec = protocol.NewCodec(max) }
}

// WithBackoff overrides the reconnect pacing.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// New creates a transport client for the broker at baseURL, for example
// "ws://192.168.1.20:8080". name is the user's display name; it may be
// empty and set later with Rename.
func New(baseURL, name string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		dialer:      websocket.DefaultDialer,
		codec:       protocol.NewCodec(0),
		events:      make(chan Event, 256),
		name:        name,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the stream of transport events. The channel stays open for
// the client's lifetime; after Close no further events are delivered.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect opens the lobby channel. Room-list visibility does not depend on
// which room is joined, so this channel stays up until Close.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lobby != nil {
		return
	}

	lobbyURL := c.baseURL + "/ws/lobby"
	c.lobby = newChannel(ScopeLobby, func() string { return lobbyURL },
		c.dialer, c.codec, NewBackoff(c.backoffBase, c.backoffMax), c.events)
	c.lobby.Start()
}

// JoinRoom switches the joined room: the current room channel (if any) is
// closed and a fresh one is dialed against the new room. The lobby channel
// is unaffected.
func (c *Client) JoinRoom(room string) error {
	if !protocol.ValidName(room) {
		return fmt.Errorf("%w: %q", ErrBadName, room)
	}

	c.mu.Lock()
	if c.room != nil {
		c.room.Stop()
		c.room = nil
	}
	c.roomName = room
	ch := newChannel(ScopeRoom, c.roomURL,
		c.dialer, c.codec, NewBackoff(c.backoffBase, c.backoffMax), c.events)
	c.room = ch
	c.mu.Unlock()

	ch.Start()
	return nil
}

// roomURL builds the current room endpoint. It re-reads the room and name
// under the lock so reconnect attempts always target the latest state.
func (c *Client) roomURL() string {
	c.mu.Lock()
	room, name := c.roomName, c.name
	c.mu.Unlock()

	target := c.baseURL + "/ws/room/" + url.PathEscape(room)
	if name != "" {
		target += "?name=" + url.QueryEscape(name)
	}
	return target
}

// LeaveRoom closes the room channel. The lobby channel stays connected.
func (c *Client) LeaveRoom() {
	c.mu.Lock()
	ch := c.room
	c.room = nil
	c.roomName = ""
	c.mu.Unlock()

	if ch != nil {
		ch.Stop()
	}
}

// Close is the user-initiated shutdown of both channels. No reconnects are
// attempted afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	lobby, room := c.lobby, c.room
	c.lobby, c.room = nil, nil
	c.mu.Unlock()

	if room != nil {
		room.Stop()
	}
	if lobby != nil {
		lobby.Stop()
	}
}

// RoomState reports the room channel's lifecycle state.
func (c *Client) RoomState() State {
	c.mu.Lock()
	ch := c.room
	c.mu.Unlock()
	if ch == nil {
		return StateIdle
	}
	return ch.State()
}

// LobbyState reports the lobby channel's lifecycle state.
func (c *Client) LobbyState() State {
	c.mu.Lock()
	ch := c.lobby
	c.mu.Unlock()
	if ch == nil {
		return StateIdle
	}
	return ch.State()
}

// Name returns the display name used for room dials.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// SendText sends a chat message to the joined room. It fails fast when the
// room channel is not open; nothing is queued for retry.
func (c *Client) SendText(text string) error {
	env := &protocol.Envelope{Type: protocol.KindText, Text: text}
	if _, ok := c.codec.FitsBudget(env); !ok {
		return ErrTooLarge
	}
	return c.sendRoom(env)
}

// SendFile sends a small file inline as a base64 data URL. The encoded
// envelope must fit the wire budget, so usable file size is roughly the
// budget divided by 1.37.
func (c *Client) SendFile(name, mime string, data []byte) error {
	if mime == "" {
		mime = "application/octet-stream"
	}
	env := &protocol.Envelope{
		Type: protocol.KindFile,
		Name: name,
		Mime: mime,
		Size: int64(len(data)),
		Data: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	if _, ok := c.codec.FitsBudget(env); !ok {
		return ErrTooLarge
	}
	return c.sendRoom(env)
}

// Rename updates the display name: it is remembered for future room dials
// and, when a room channel is open, announced to the broker immediately.
func (c *Client) Rename(name string) error {
	if !protocol.ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}

	c.mu.Lock()
	c.name = name
	ch := c.room
	c.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Send(&protocol.Envelope{Type: protocol.KindRename, Username: name})
}

// CreateRoom asks the broker to ensure a room exists. Creation is
// convergent with joining: the broker acknowledges with a join envelope
// either way.
func (c *Client) CreateRoom(name string) error {
	if !protocol.ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}

	c.mu.Lock()
	ch := c.lobby
	c.mu.Unlock()

	if ch == nil {
		return ErrNotConnected
	}
	return ch.Send(&protocol.Envelope{Type: protocol.KindCreate, Name: name})
}

func (c *Client) sendRoom(env *protocol.Envelope) error {
	c.mu.Lock()
	ch := c.room
	c.mu.Unlock()

	if ch == nil {
		return ErrNoRoom
	}
	return ch.Send(env)
}
