package ws

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/codedeck/backend/internal/identity"
	"github.com/codedeck/backend/internal/presence"
	"github.com/codedeck/backend/internal/protocol"
	"github.com/codedeck/backend/internal/room"
)

// Hub is the session controller: every join, field change and disconnect
// flows through its single Run loop, so room mutations and their broadcasts
// are serialized. Long-latency work (code execution) never enters the loop;
// it runs on its own goroutine and only re-enters through ToRoom.
type Hub struct {
	registry *identity.Registry
	store    *room.Store

	// Membership, guarded by mu for readers outside the Run loop
	// (stats, execution fan-out).
	rooms   map[string]map[*Client]bool
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *inboundEvent

	// Monotonic arrival counter; presence enumeration follows it so the
	// list is stable across recomputations.
	nextOrd uint64

	mu sync.RWMutex
}

// inboundEvent is one decoded frame from one connection, tagged with its
// sender. Events from the same connection arrive here in send order.
type inboundEvent struct {
	sender *Client
	env    *protocol.Envelope
}

func NewHub(registry *identity.Registry, store *room.Store) *Hub {
	return &Hub{
		registry:   registry,
		store:      store,
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundEvent, 64),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.nextOrd++
			client.ord = h.nextOrd
			h.clients[client.id] = client
			h.mu.Unlock()
			slog.Info("client connected", "socket_id", client.id)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case event := <-h.inbound:
			h.dispatch(event)
		}
	}
}

// dispatch routes one inbound event to its handler. Unknown events are
// dropped with a log line; nothing a client sends may take the loop down.
func (h *Hub) dispatch(event *inboundEvent) {
	switch event.env.Event {
	case protocol.EventJoin:
		h.handleJoin(event.sender, event.env.Payload)
	case protocol.EventCodeChange:
		h.handleFieldChange(event.sender, event.env.Payload, protocol.EventCodeChange)
	case protocol.EventLanguageChange:
		h.handleFieldChange(event.sender, event.env.Payload, protocol.EventLanguageChange)
	case protocol.EventInputChange:
		h.handleFieldChange(event.sender, event.env.Payload, protocol.EventInputChange)
	case protocol.EventSyncCode:
		h.handleSyncCode(event.sender, event.env.Payload)
	case protocol.EventLeave:
		// The frontend sends leave before closing; cleanup happens on the
		// actual disconnect.
	default:
		slog.Warn("unhandled event", "event", event.env.Event, "socket_id", event.sender.id)
	}
}

func (h *Hub) handleJoin(sender *Client, payload json.RawMessage) {
	var join protocol.JoinPayload
	if err := json.Unmarshal(payload, &join); err != nil {
		slog.Warn("malformed join payload", "socket_id", sender.id, "err", err)
		return
	}
	if err := join.Validate(); err != nil {
		slog.Warn("invalid join payload", "socket_id", sender.id, "err", err)
		return
	}

	// Re-joining overwrites the identity and re-adds membership; both are
	// idempotent.
	h.registry.Register(sender.id, join.Username, join.UserID)

	h.mu.Lock()
	if _, ok := h.rooms[join.RoomID]; !ok {
		h.rooms[join.RoomID] = make(map[*Client]bool)
	}
	h.rooms[join.RoomID][sender] = true
	sender.joined[join.RoomID] = true
	h.mu.Unlock()

	r := h.store.GetOrCreate(join.RoomID)

	clients := presence.Snapshot(h.registry, h.memberIDs(join.RoomID))
	slog.Info("client joined room",
		"room", join.RoomID, "socket_id", sender.id, "username", join.Username,
		"present", len(clients))

	// Everyone, joiner included, gets the refreshed presence list in one
	// consistent message.
	h.ToRoom(join.RoomID, protocol.EventJoined, protocol.JoinedPayload{
		Clients:  clients,
		Username: join.Username,
		SocketID: sender.id,
	})

	// Only the joiner needs the full document.
	snap := r.Snapshot()
	sender.sendEvent(protocol.EventSyncAll, protocol.SyncAllPayload{
		Code:      snap.Code,
		Language:  snap.Language,
		UserInput: snap.UserInput,
		Output:    snap.Output,
	})
}

// handleFieldChange covers code, language and input updates: overwrite the
// room field, then fan out to everyone except the sender, who already holds
// the value it just sent.
func (h *Hub) handleFieldChange(sender *Client, payload json.RawMessage, event protocol.Event) {
	var change struct {
		RoomID    string `json:"roomId"`
		Code      string `json:"code"`
		Language  string `json:"language"`
		UserInput string `json:"userInput"`
	}
	if err := json.Unmarshal(payload, &change); err != nil {
		slog.Warn("malformed payload", "event", event, "socket_id", sender.id, "err", err)
		return
	}

	roomID := change.RoomID
	if roomID == "" {
		roomID = h.soleRoomOf(sender)
	}
	if roomID == "" {
		slog.Warn("event without resolvable room", "event", event, "socket_id", sender.id)
		return
	}

	var field room.Field
	var value string
	var out any
	switch event {
	case protocol.EventCodeChange:
		field, value = room.FieldCode, change.Code
		out = protocol.CodeChangePayload{Code: change.Code}
	case protocol.EventLanguageChange:
		if !room.LanguageSupported(change.Language) {
			slog.Warn("unsupported language ignored", "room", roomID, "language", change.Language)
			return
		}
		field, value = room.FieldLanguage, change.Language
		out = protocol.LanguageChangePayload{Language: change.Language}
	case protocol.EventInputChange:
		field, value = room.FieldUserInput, change.UserInput
		out = protocol.InputChangePayload{UserInput: change.UserInput}
	}

	if err := h.store.UpdateField(roomID, field, value); err != nil {
		// Benign race with room teardown; absorb.
		slog.Warn("update for missing room dropped", "event", event, "room", roomID)
		return
	}

	h.toRoomExcept(roomID, sender, event, out)
}

// handleSyncCode relays a code snapshot to one target connection as a
// code-change. Legacy path kept for older frontends.
func (h *Hub) handleSyncCode(sender *Client, payload json.RawMessage) {
	var sync protocol.SyncCodePayload
	if err := json.Unmarshal(payload, &sync); err != nil {
		slog.Warn("malformed sync-code payload", "socket_id", sender.id, "err", err)
		return
	}
	h.ToConnection(sync.SocketID, protocol.EventCodeChange, protocol.CodeChangePayload{Code: sync.Code})
}

// handleDisconnect walks every room the connection joined: tell the
// remaining members, drop the identity, then garbage collect rooms that no
// longer hold any identified connection.
func (h *Hub) handleDisconnect(client *Client) {
	username := presence.AnonymousName
	if id, ok := h.registry.Lookup(client.id); ok {
		username = id.Username
	}

	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)

	joinedRooms := make([]string, 0, len(client.joined))
	for roomID := range client.joined {
		joinedRooms = append(joinedRooms, roomID)
		if members, ok := h.rooms[roomID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	close(client.send)
	h.mu.Unlock()

	for _, roomID := range joinedRooms {
		h.ToRoom(roomID, protocol.EventDisconnected, protocol.DisconnectedPayload{
			SocketID: client.id,
			Username: username,
		})
	}

	h.registry.Unregister(client.id)

	for _, roomID := range joinedRooms {
		identified := presence.CountIdentified(h.registry, h.memberIDs(roomID))
		if h.store.DeleteIfEmpty(roomID, identified) {
			slog.Info("room deleted", "room", roomID)
		}
	}

	slog.Info("client disconnected", "socket_id", client.id, "username", username)
}

// Broadcast primitives. All are safe to call from outside the Run loop.

// ToRoom delivers an event to every connection in the room.
func (h *Hub) ToRoom(roomID string, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode broadcast failed", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		client.queue(data)
	}
}

// toRoomExcept delivers an event to every room member but the sender.
func (h *Hub) toRoomExcept(roomID string, sender *Client, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode broadcast failed", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[roomID] {
		if client != sender {
			client.queue(data)
		}
	}
}

// ToConnection delivers an event to a single connection, if it still exists.
func (h *Hub) ToConnection(connectionID string, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("encode send failed", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if ok {
		client.queue(data)
	}
}

func (h *Hub) memberIDs(roomID string) []string {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ord < members[j].ord })

	ids := make([]string, len(members))
	for i, client := range members {
		ids[i] = client.id
	}
	return ids
}

// soleRoomOf resolves a missing roomId to the one room the sender joined,
// for older clients that rely on implicit membership.
func (h *Hub) soleRoomOf(client *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(client.joined) != 1 {
		return ""
	}
	for roomID := range client.joined {
		return roomID
	}
	return ""
}

// Stats accessors for the HTTP API.

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
