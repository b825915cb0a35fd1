// Package registry is the in-memory directory of rooms and sessions. It is
// the single source of truth for membership: every create, join, leave, and
// rename runs under one registry-wide lock, and broadcast fan-out works from
// immutable snapshots taken through the same lock.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lanwire/lanchat/internal/protocol"
)

// LobbyRoom is the always-present default room. It is created at
// construction and never garbage-collected.
const LobbyRoom = "lobby"

// Validation failures surfaced by registry mutations. The wire error codes
// sent to clients derive from these.
var (
	ErrBadRoom     = errors.New("invalid room name")
	ErrBadUsername = errors.New("invalid display name")
)

// Registry owns all rooms and the session-to-room mapping. All mutation is
// serialized behind one mutex; reads hand out copies so callers never touch
// shared state.
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]map[*Session]struct{}
	timers       map[string]*time.Timer
	grace        time.Duration
	roomsChanged func()
}

// New constructs a registry with the lobby room in place. grace is how long
// an empty non-lobby room lingers before deletion; zero deletes immediately
// when the last member leaves. A rejoin within the grace window cancels the
// pending deletion.
func New(grace time.Duration) *Registry {
	r := &Registry{
		rooms:  make(map[string]map[*Session]struct{}),
		timers: make(map[string]*time.Timer),
		grace:  grace,
	}
	r.EnsureLobby()
	return r
}

// SetRoomsChangedFunc registers a callback invoked when a deferred room
// deletion fires, so the owner can push a fresh room-list to lobby
// subscribers. Immediate mutations report their changes through return
// values instead; the callback only covers timer-driven changes.
func (r *Registry) SetRoomsChangedFunc(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomsChanged = fn
}

// EnsureLobby guarantees the lobby room exists. Idempotent.
func (r *Registry) EnsureLobby() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[LobbyRoom]; !ok {
		r.rooms[LobbyRoom] = make(map[*Session]struct{})
	}
}

// NewSession creates a session owned by one socket. name may be empty for a
// client that has not introduced itself yet; lobby marks sessions holding a
// lobby channel.
func (r *Registry) NewSession(name string, lobby bool) *Session {
	return newSession(name, lobby)
}

// CreateRoom creates the named room if absent. Creation is idempotent:
// concurrent creates of the same name converge on one room and both callers
// succeed, with created reporting whether this call was the one that made
// it. An invalid name fails with ErrBadRoom.
func (r *Registry) CreateRoom(name string) (created bool, err error) {
	if !protocol.ValidName(name) {
		return false, ErrBadRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(name), nil
}

func (r *Registry) createLocked(name string) bool {
	if _, ok := r.rooms[name]; ok {
		return false
	}
	r.rooms[name] = make(map[*Session]struct{})
	return true
}

// Join moves sess into the named room, creating it on demand with CreateRoom
// semantics. The previous room (if any) is vacated first. An invalid name
// fails with ErrBadRoom and leaves the session where it was; there is no
// silent fallback to the lobby.
func (r *Registry) Join(sess *Session, room string) (prev string, created bool, err error) {
	if !protocol.ValidName(room) {
		return "", false, ErrBadRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev = sess.Room()
	if prev == room {
		return prev, false, nil
	}

	if prev != "" {
		r.removeLocked(sess, prev)
	}

	created = r.createLocked(room)
	r.cancelDeletionLocked(room)
	r.rooms[room][sess] = struct{}{}
	sess.setRoom(room)
	return prev, created, nil
}

// Leave removes sess from its current room. It returns the vacated room name
// ("" if the session was not joined anywhere) and whether the room was
// deleted outright as a result.
func (r *Registry) Leave(sess *Session) (room string, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room = sess.Room()
	if room == "" {
		return "", false
	}

	deleted = r.removeLocked(sess, room)
	sess.setRoom("")
	return room, deleted
}

// removeLocked detaches sess from room and reaps the room if it became an
// empty non-lobby room, either immediately or after the grace period.
func (r *Registry) removeLocked(sess *Session, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	delete(members, sess)

	if len(members) > 0 || room == LobbyRoom {
		return false
	}

	if r.grace <= 0 {
		delete(r.rooms, room)
		return true
	}

	r.scheduleDeletionLocked(room)
	return false
}

func (r *Registry) scheduleDeletionLocked(room string) {
	if _, pending := r.timers[room]; pending {
		return
	}
	r.timers[room] = time.AfterFunc(r.grace, func() {
		r.reapRoom(room)
	})
}

func (r *Registry) cancelDeletionLocked(room string) {
	if timer, ok := r.timers[room]; ok {
		timer.Stop()
		delete(r.timers, room)
	}
}

func (r *Registry) reapRoom(room string) {
	r.mu.Lock()
	delete(r.timers, room)
	members, ok := r.rooms[room]
	if !ok || len(members) > 0 || room == LobbyRoom {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, room)
	notify := r.roomsChanged
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Rename validates and assigns a new display name for sess. The caller is
// responsible for pushing the refreshed user-list; the room-list is
// unaffected by renames.
func (r *Registry) Rename(sess *Session, name string) error {
	if !protocol.ValidName(name) {
		return ErrBadUsername
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sess.setName(name)
	return nil
}

// Exists reports whether the named room currently exists.
func (r *Registry) Exists(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[room]
	return ok
}

// SnapshotRooms returns the current room-list: every non-lobby room with its
// member count, sorted by name.
func (r *Registry) SnapshotRooms() []protocol.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]protocol.RoomInfo, 0, len(r.rooms))
	for name, members := range r.rooms {
		if name == LobbyRoom {
			continue
		}
		infos = append(infos, protocol.RoomInfo{Name: name, Count: len(members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// SnapshotUsers returns the display names of every member of the named room.
// Unnamed sessions are skipped. The order is sorted for stable output.
func (r *Registry) SnapshotUsers(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	users := make([]string, 0, len(members))
	for sess := range members {
		if name := sess.Name(); name != "" {
			users = append(users, name)
		}
	}
	sort.Strings(users)
	return users
}

// MemberIDs returns the session IDs of the named room's members, for
// broadcast fan-out. The returned slice is an immutable snapshot;
// delivery proceeds without the registry lock.
func (r *Registry) MemberIDs(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(members))
	for sess := range members {
		ids = append(ids, sess.ID())
	}
	return ids
}
