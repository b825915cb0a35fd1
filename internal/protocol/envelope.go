// Package protocol defines the JSON message envelope exchanged over both
// WebSocket channels and the codec that validates it at the wire boundary.
package protocol

// Kind discriminates the envelope variants carried in the "type" field.
type Kind string

// Envelope kinds. Client-originated kinds are text, file, rename, create and
// join; the remainder are server-originated.
const (
	KindText     Kind = "text"
	KindFile     Kind = "file"
	KindRename   Kind = "rename"
	KindCreate   Kind = "create"
	KindJoin     Kind = "join"
	KindStatus   Kind = "status"
	KindUserList Kind = "userList"
	KindRoomList Kind = "roomList"
	KindError    Kind = "error"
)

// Error codes reported to clients inside error envelopes.
const (
	CodeBadUsername = "bad_username"
	CodeBadRoom     = "bad_room"
	CodeNoUsername  = "no_username"
	CodeTooLarge    = "too_large"
)

// RoomInfo is one entry of a room-list snapshot.
type RoomInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Envelope is the tagged message object exchanged over a channel. Only the
// fields relevant to the Type variant are populated; the rest stay at their
// zero value and are omitted from the wire form.
type Envelope struct {
	Type     Kind       `json:"type"`
	Text     string     `json:"text,omitempty"`
	Username string     `json:"username,omitempty"`
	Name     string     `json:"name,omitempty"`
	Room     string     `json:"room,omitempty"`
	Mime     string     `json:"mime,omitempty"`
	Size     int64      `json:"size,omitempty"`
	Data     string     `json:"data,omitempty"`
	Code     string     `json:"code,omitempty"`
	TS       int64      `json:"ts,omitempty"`
	Users    []string   `json:"users,omitempty"`
	Rooms    []RoomInfo `json:"rooms,omitempty"`
}

var knownKinds = map[Kind]struct{}{
	KindText:     {},
	KindFile:     {},
	KindRename:   {},
	KindCreate:   {},
	KindJoin:     {},
	KindStatus:   {},
	KindUserList: {},
	KindRoomList: {},
	KindError:    {},
}

// KnownKind reports whether k is a recognized envelope discriminant.
func KnownKind(k Kind) bool {
	_, ok := knownKinds[k]
	return ok
}
