package transport

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanwire/lanchat/internal/protocol"
)

// ErrNotConnected is returned by send operations on a channel that is not
// currently open. Messages are never queued across a disconnect.
var ErrNotConnected = errors.New("channel is not connected")

// channel wraps one WebSocket connection with a connect/reconnect state
// machine. On unexpected closure it schedules redial attempts forever with
// capped exponential backoff; Stop cancels any pending attempt.
type channel struct {
	scope   Scope
	urlFn   func() string
	dialer  *websocket.Dialer
	codec   *protocol.Codec
	backoff *Backoff
	events  chan<- Event

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	timer   *time.Timer
	stopped bool
}

func newChannel(scope Scope, urlFn func() string, dialer *websocket.Dialer, codec *protocol.Codec, backoff *Backoff, events chan<- Event) *channel {
	return &channel{
		scope:   scope,
		urlFn:   urlFn,
		dialer:  dialer,
		codec:   codec,
		backoff: backoff,
		events:  events,
		state:   StateIdle,
	}
}

// Start begins connecting asynchronously.
func (ch *channel) Start() {
	go ch.dial()
}

// State returns the channel's current lifecycle state.
func (ch *channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Send writes one envelope if the channel is open, failing fast otherwise.
func (ch *channel) Send(env *protocol.Envelope) error {
	payload, err := ch.codec.Encode(env)
	if err != nil {
		ch.emit(SendFailEvent{Scope: ch.scope, Kind: env.Type, Err: err})
		return err
	}

	ch.mu.Lock()
	conn, state := ch.conn, ch.state
	ch.mu.Unlock()

	if state != StateOpen || conn == nil {
		ch.emit(SendFailEvent{Scope: ch.scope, Kind: env.Type, Err: ErrNotConnected})
		return ErrNotConnected
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		ch.emit(SendFailEvent{Scope: ch.scope, Kind: env.Type, Err: err})
		return err
	}
	return nil
}

// Stop is the user-initiated disconnect: it cancels pending reconnect
// timers, closes the connection, and suppresses further redials.
func (ch *channel) Stop() {
	ch.mu.Lock()
	ch.stopped = true
	ch.state = StateIdle
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	conn := ch.conn
	ch.conn = nil
	ch.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (ch *channel) dial() {
	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		return
	}
	ch.state = StateConnecting
	target := ch.urlFn()
	ch.mu.Unlock()

	conn, resp, err := ch.dialer.Dial(target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Printf("Dial %s channel (%s) failed: %v", ch.scope, target, err)
		ch.scheduleReconnect()
		return
	}

	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		_ = conn.Close()
		return
	}
	ch.conn = conn
	ch.state = StateOpen
	ch.mu.Unlock()

	ch.backoff.Reset()
	ch.emit(ConnectionEvent{Scope: ch.scope, State: StateOpen})
	go ch.readLoop(conn)
}

// readLoop decodes incoming envelopes until the connection breaks, then
// hands control to the reconnect path unless the closure was user-initiated.
func (ch *channel) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		env, err := ch.codec.Decode(payload)
		if err != nil {
			log.Printf("Discarding undecodable message on %s channel: %v", ch.scope, err)
			continue
		}
		ch.emit(MessageEvent{Scope: ch.scope, Envelope: env})
	}

	_ = conn.Close()

	ch.mu.Lock()
	// A stale pump from a previous connection must not trigger redials.
	if ch.stopped || ch.conn != conn {
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	ch.mu.Unlock()

	ch.scheduleReconnect()
}

// scheduleReconnect arms the redial timer and reports the wait to the
// presentation layer. Retries continue indefinitely; on a LAN the outage is
// assumed transient and closing the client is the way out.
func (ch *channel) scheduleReconnect() {
	ch.mu.Lock()
	if ch.stopped {
		ch.mu.Unlock()
		return
	}
	delay := ch.backoff.Next()
	ch.state = StateReconnecting
	ch.timer = time.AfterFunc(delay, ch.dial)
	ch.mu.Unlock()

	ch.emit(ConnectionEvent{Scope: ch.scope, State: StateReconnecting, Delay: delay})
}

func (ch *channel) emit(ev Event) {
	ch.events <- ev
}
