package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Session holds the server-side identity of one connected client: its
// assigned display name and current room. Sessions are created by the
// registry and mutated only through registry operations; the accessors are
// safe to call from any goroutine.
type Session struct {
	id    string
	lobby bool

	mu   sync.Mutex
	name string
	room string
}

func newSession(name string, lobby bool) *Session {
	return &Session{
		id:    uuid.NewString(),
		lobby: lobby,
		name:  name,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the session's current display name, or "" if none has been
// accepted yet.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Room returns the name of the room the session is currently joined to, or
// "" if it is not a member of any room.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// LobbySubscriber reports whether this session holds a lobby channel and
// should receive room-list updates.
func (s *Session) LobbySubscriber() bool {
	return s.lobby
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
}
