package transport

import (
	"time"

	"github.com/lanwire/lanchat/internal/protocol"
)

// Scope names which of the two channels an event concerns.
type Scope string

// Channel scopes.
const (
	ScopeLobby Scope = "lobby"
	ScopeRoom  Scope = "room"
)

// State is the lifecycle state of one channel's connect/reconnect machine.
type State int

// Channel states.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "invalid"
	}
}

// Event is one item of the tagged event stream the transport delivers to the
// presentation layer. The closed set of variants is ConnectionEvent,
// MessageEvent, and SendFailEvent.
type Event interface {
	event()
}

// ConnectionEvent reports a channel lifecycle change. Delay is non-zero only
// for reconnecting states and carries the wait before the next attempt.
type ConnectionEvent struct {
	Scope Scope
	State State
	Delay time.Duration
}

// MessageEvent carries one decoded envelope received on a channel.
type MessageEvent struct {
	Scope    Scope
	Envelope *protocol.Envelope
}

// SendFailEvent reports a send that failed fast because its channel was not
// open or the write errored. The message is not queued for retry; resending
// is the user's decision.
type SendFailEvent struct {
	Scope Scope
	Kind  protocol.Kind
	Err   error
}

func (ConnectionEvent) event() {}
func (MessageEvent) event()    {}
func (SendFailEvent) event()   {}
