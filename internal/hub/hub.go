// Package hub binds WebSocket connections to party sessions and fans every
// mutation out to the session's room. It owns the connection registry, the
// per-room subscriber sets and the host bindings; session state itself lives
// in the session store.
package hub

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psychopatz/KaraYouke/internal/session"
)

// Hub is the connection registry plus the per-session broadcast channel.
// At most one connection holds the host slot for a session at any instant.
type Hub struct {
	store    *session.Store
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	hosts   map[string]*Client

	nextConn atomic.Uint64
}

func New(store *session.Store, log *zap.Logger) *Hub {
	return &Hub{
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			// The party screen and remotes run on arbitrary LAN origins.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		hosts:   make(map[string]*Client),
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := h.register(conn)
	go c.writePump(h.log)
	go c.readPump(h)

	h.log.Info("client connected", zap.String("client_id", c.id))
}

// register creates a connection with no session binding yet.
func (h *Hub) register(conn *websocket.Conn) *Client {
	c := &Client{
		id:   fmt.Sprintf("conn_%d_%d", time.Now().UnixNano(), h.nextConn.Add(1)),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// joinRoom subscribes the connection to the session's broadcasts. It does not
// add a participant to the session; identity registration is a separate step.
func (h *Hub) joinRoom(c *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c)
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[code] = room
	}
	room[c] = struct{}{}
	c.code = code
	if c.role == "" {
		c.role = RoleParticipant
	}
}

func (h *Hub) leaveRoomLocked(c *Client) {
	if c.code == "" {
		return
	}
	if room, ok := h.rooms[c.code]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.code)
		}
	}
	if h.hosts[c.code] == c {
		delete(h.hosts, c.code)
	}
	c.code = ""
	c.role = ""
	c.userID = ""
}

// bindHost records the connection as the session's host. A new registration
// unconditionally replaces the previous host; there is no negotiation.
func (h *Hub) bindHost(c *Client, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c)
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[code] = room
	}
	room[c] = struct{}{}
	if prev, ok := h.hosts[code]; ok && prev != c {
		prev.role = RoleParticipant
	}
	h.hosts[code] = c
	c.code = code
	c.role = RoleHost
	c.userID = ""
}

func (h *Hub) host(code string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hosts[code]
}

// subscribers snapshots the room membership so fan-out happens outside the
// registry lock.
func (h *Hub) subscribers(code string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[code]
	subs := make([]*Client, 0, len(room))
	for c := range room {
		subs = append(subs, c)
	}
	return subs
}

// Broadcast sends the event to every connection in the session's room. A
// failed or slow subscriber never aborts delivery to the rest.
func (h *Hub) Broadcast(code, msgType string, payload any) {
	h.broadcastExcept(code, nil, msgType, payload)
}

func (h *Hub) broadcastExcept(code string, except *Client, msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.log.Error("encode broadcast", zap.String("message_type", msgType), zap.Error(err))
		return
	}
	for _, c := range h.subscribers(code) {
		if c == except {
			continue
		}
		c.enqueue(h.log, data)
	}
}

func (h *Hub) unicast(c *Client, msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.log.Error("encode unicast", zap.String("message_type", msgType), zap.Error(err))
		return
	}
	c.enqueue(h.log, data)
}

// disconnect tears down whatever the connection was bound to. A host
// disconnect deletes the whole session; a participant disconnect removes the
// participant; an unbound connection is a no-op beyond registry cleanup.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	code, userID, role := c.code, c.userID, c.role
	wasHost := role == RoleHost && h.hosts[code] == c
	h.leaveRoomLocked(c)
	h.mu.Unlock()

	c.markClosed()

	switch {
	case wasHost:
		h.DeleteSession(code)
	case code != "" && userID != "":
		h.removeParticipant(code, userID)
	}

	h.log.Info("client disconnected",
		zap.String("client_id", c.id),
		zap.String("session_code", code),
		zap.String("role", role))
}

// DeleteSession broadcasts the termination event to the room, then removes
// the session and unbinds every subscriber. Losing the host always ends the
// party; a new host re-registers under the same code via restore.
func (h *Hub) DeleteSession(code string) {
	h.Broadcast(code, MsgTypeSessionDeleted, RoomPayload{SessionCode: code})

	h.mu.Lock()
	for sub := range h.rooms[code] {
		sub.code = ""
		sub.userID = ""
		sub.role = ""
	}
	delete(h.rooms, code)
	delete(h.hosts, code)
	h.mu.Unlock()

	if h.store.Delete(code) {
		h.log.Info("session deleted", zap.String("session_code", code))
	}
}

// removeParticipant is the single teardown path shared by logout, kick and
// disconnect, so every caller converges on identical final state and exactly
// one session_updated broadcast.
func (h *Hub) removeParticipant(code, userID string) {
	snap, removed, err := h.store.RemoveParticipant(code, userID)
	if err != nil {
		h.log.Debug("remove participant", zap.String("session_code", code), zap.Error(err))
		return
	}
	h.Broadcast(code, MsgTypeSessionUpdated, snap)
	if removed {
		h.log.Info("participant removed",
			zap.String("session_code", code),
			zap.String("user_id", userID))
	}
}
