// Package server models the lifecycle of one WebSocket connection as an
// explicit state machine, validating inputs at each transition.
package server

// connState tracks where a connection sits in its lifecycle. A session may
// only send chat payloads once it has a display name and a room, and once
// closing begins no other transition is possible.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateNamed
	stateJoined
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateNamed:
		return "named"
	case stateJoined:
		return "joined"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// validTransition reports whether moving from one state to another is legal.
// Joined loops onto itself for room switches, and any live state may begin
// closing.
func validTransition(from, to connState) bool {
	switch to {
	case stateOpen:
		return from == stateConnecting
	case stateNamed:
		return from == stateOpen
	case stateJoined:
		return from == stateNamed || from == stateJoined
	case stateClosing:
		return from != stateClosing && from != stateClosed
	case stateClosed:
		return from == stateClosing
	default:
		return false
	}
}
