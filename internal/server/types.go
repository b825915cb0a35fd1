// Package server defines shared broadcast types and utility helpers that are
// reused across client and hub logic.
package server

import "strings"

// scope identifies which channel a connection serves: the lobby stream of
// room-list updates, or the message stream of one joined room.
type scope int

const (
	scopeLobby scope = iota
	scopeRoom
)

func (s scope) String() string {
	if s == scopeLobby {
		return "lobby"
	}
	return "room"
}

// pubKind selects what a queued publication carries. Room-list and user-list
// publications snapshot the registry at fan-out time so consecutive
// membership changes collapse onto fresh data.
type pubKind int

const (
	pubRoom pubKind = iota
	pubUsers
	pubRooms
)

// publication is one unit of fan-out work processed by the hub loop. All
// publications pass through a single channel, which preserves per-sender
// order across every recipient.
type publication struct {
	kind    pubKind
	room    string
	payload []byte
	exclude *Client
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
