// Package server coordinates client registration, room-scoped broadcast
// fan-out, and connection cleanup for the chat broker via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/registry"
)

// Hub manages all WebSocket connections and fans published messages out to
// room members and lobby subscribers. Membership truth lives in the
// registry; the hub only maps session IDs to outbound queues. All fan-out
// runs on a single loop so two messages from one sender reach every
// recipient in the order they were sent.
type Hub struct {
	registry   *registry.Registry
	codec      *protocol.Codec
	clients    map[string]*Client
	lobby      map[*Client]struct{}
	publish    chan publication
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub bound to the given registry and codec. The returned
// Hub is ready to manage connections once Run is started.
func NewHub(reg *registry.Registry, codec *protocol.Codec) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:   reg,
		codec:      codec,
		clients:    make(map[string]*Client),
		lobby:      make(map[*Client]struct{}),
		publish:    make(chan publication),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	// A deferred room deletion is the one registry change that happens off
	// any connection's goroutine; reflect it to lobby subscribers here.
	reg.SetRoomsChangedFunc(h.PublishRooms)
	return h
}

// Registry returns the membership registry backing this hub.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Codec returns the codec enforcing this hub's message byte budget.
func (h *Hub) Codec() *protocol.Codec {
	return h.codec
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Publish delivers an already-composed envelope to every member of a room.
// It may be called from any goroutine; delivery order follows enqueue order.
func (h *Hub) Publish(room string, env *protocol.Envelope) {
	payload, err := h.codec.Encode(env)
	if err != nil {
		log.Printf("Error encoding %s envelope for room %q: %v", env.Type, room, err)
		return
	}
	h.enqueue(publication{kind: pubRoom, room: room, payload: payload})
}

// PublishUsers pushes a fresh user-list snapshot to every member of a room.
func (h *Hub) PublishUsers(room string) {
	h.enqueue(publication{kind: pubUsers, room: room})
}

// PublishRooms pushes a fresh room-list snapshot to every lobby subscriber.
func (h *Hub) PublishRooms() {
	h.enqueue(publication{kind: pubRooms})
}

// AnnounceStatus broadcasts a server-originated status line to a room.
func (h *Hub) AnnounceStatus(room, text string) {
	h.Publish(room, &protocol.Envelope{
		Type: protocol.KindStatus,
		Text: text,
		TS:   time.Now().Unix(),
	})
}

func (h *Hub) enqueue(pub publication) {
	select {
	case h.publish <- pub:
	case <-h.ctx.Done():
	}
}

// enroll hands a fresh connection to the hub loop. A connection arriving
// during shutdown is closed instead of blocking its handler goroutine.
func (h *Hub) enroll(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client.sess.ID()]
	if !exists || client.closed {
		return false
	}

	// The send channel may be closed concurrently, hence the recover above.
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and publication fan-out. This method should be called in a
// separate goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case pub := <-h.publish:
			h.handlePublication(pub)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.sess.ID()] = client
	if client.scope == scopeLobby {
		h.lobby[client] = struct{}{}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client registered from %s (%s channel). Total clients: %d", client.addr, client.scope, clientCount)

	// A room connection that already carries a valid name joins its room
	// before the pumps start; an unnamed one joins on its first rename.
	if client.scope == scopeRoom && client.sess.Name() != "" {
		if err := h.joinRoom(client); err != nil {
			h.dropClient(client)
			return
		}
	}

	// Lobby subscribers get the current directory right away instead of
	// waiting for the next membership change.
	if client.scope == scopeLobby {
		h.sendRooms(client)
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// joinRoom moves a registered client into its target room and diffuses the
// resulting presence updates. Runs on the hub loop.
func (h *Hub) joinRoom(client *Client) error {
	prev, _, err := h.registry.Join(client.sess, client.roomName)
	if err != nil {
		client.sendError(protocol.CodeBadRoom, "no such room: "+client.roomName)
		return err
	}
	client.transition(stateJoined)

	if prev != "" && prev != client.roomName {
		h.fanoutStatus(prev, client.sess.Name()+" left")
		h.fanoutUsers(prev)
	}
	h.fanoutStatus(client.roomName, client.sess.Name()+" joined")
	h.fanoutUsers(client.roomName)
	h.fanoutRooms()
	return nil
}

// dropClient removes a client that never made it into service and closes
// its connection without the usual presence announcements.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client.sess.ID())
	delete(h.lobby, client)
	client.closed = true
	h.mutex.Unlock()

	close(client.send)
	if client.conn != nil {
		_ = client.conn.Close()
	}
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client.sess.ID()]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.sess.ID())
	delete(h.lobby, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	log.Printf("Client unregistered from %s. Total clients: %d", client.addr, clientCount)

	h.leaveAndAnnounce(client)
}

// leaveAndAnnounce runs the registry leave path for a departed client and
// diffuses presence updates to whoever can still observe it.
func (h *Hub) leaveAndAnnounce(client *Client) {
	room, deleted := h.registry.Leave(client.sess)
	if room == "" {
		return
	}
	if !deleted {
		if name := client.sess.Name(); name != "" {
			h.fanoutStatus(room, name+" left")
		}
		h.fanoutUsers(room)
	}
	h.fanoutRooms()
}

func (h *Hub) handlePublication(pub publication) {
	switch pub.kind {
	case pubRoom:
		h.fanout(h.roomTargets(pub.room), pub.payload, pub.exclude)
	case pubUsers:
		h.fanoutUsers(pub.room)
	case pubRooms:
		h.fanoutRooms()
	}
}

// fanoutUsers composes a user-list snapshot for a room and delivers it to
// the room's members. Runs on the hub loop.
func (h *Hub) fanoutUsers(room string) {
	payload, err := h.codec.Encode(&protocol.Envelope{
		Type:  protocol.KindUserList,
		Users: h.registry.SnapshotUsers(room),
	})
	if err != nil {
		log.Printf("Error encoding user list for room %q: %v", room, err)
		return
	}
	h.fanout(h.roomTargets(room), payload, nil)
}

// fanoutRooms composes a room-list snapshot and delivers it to every lobby
// subscriber. Runs on the hub loop.
func (h *Hub) fanoutRooms() {
	payload, err := h.codec.Encode(&protocol.Envelope{
		Type:  protocol.KindRoomList,
		Rooms: h.registry.SnapshotRooms(),
	})
	if err != nil {
		log.Printf("Error encoding room list: %v", err)
		return
	}
	h.fanout(h.lobbyTargets(), payload, nil)
}

// sendRooms delivers a room-list snapshot to a single client. Runs on the
// hub loop.
func (h *Hub) sendRooms(client *Client) {
	payload, err := h.codec.Encode(&protocol.Envelope{
		Type:  protocol.KindRoomList,
		Rooms: h.registry.SnapshotRooms(),
	})
	if err != nil {
		log.Printf("Error encoding room list: %v", err)
		return
	}
	h.fanout([]*Client{client}, payload, nil)
}

func (h *Hub) fanoutStatus(room, text string) {
	payload, err := h.codec.Encode(&protocol.Envelope{
		Type: protocol.KindStatus,
		Text: text,
		TS:   time.Now().Unix(),
	})
	if err != nil {
		log.Printf("Error encoding status for room %q: %v", room, err)
		return
	}
	h.fanout(h.roomTargets(room), payload, nil)
}

// roomTargets resolves a room's membership snapshot to connected clients.
func (h *Hub) roomTargets(room string) []*Client {
	ids := h.registry.MemberIDs(room)

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if client, ok := h.clients[id]; ok {
			targets = append(targets, client)
		}
	}
	return targets
}

func (h *Hub) lobbyTargets() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	targets := make([]*Client, 0, len(h.lobby))
	for client := range h.lobby {
		targets = append(targets, client)
	}
	return targets
}

// fanout delivers one payload to each target's outbound queue. A target
// whose queue is full is treated as unreachable and dropped, so one stuck
// consumer never blocks the rest of the room.
func (h *Hub) fanout(targets []*Client, payload []byte, exclude *Client) {
	var clientsToRemove []*Client

	for _, client := range targets {
		if exclude != nil && client == exclude {
			continue
		}
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
}

// removeFailedClients drops clients whose outbound queues overflowed and
// diffuses the presence changes their departure causes.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	var removed []*Client
	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client.sess.ID()]; exists {
			delete(h.clients, client.sess.ID())
			delete(h.lobby, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			removed = append(removed, client)
			log.Printf("Client from %s removed due to full send buffer", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}

	for _, client := range removed {
		h.leaveAndAnnounce(client)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
