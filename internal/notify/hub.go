package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a slow client can hold up a notification write.
const writeWait = 5 * time.Second

// Event is the wire envelope for hub notifications.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans notifications out to websocket clients grouped by patient id.
// Delivery is best-effort: clients that cannot be written to within the
// deadline are dropped, never waited on.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]bool)}
}

// Register adds a connection to a patient's room.
func (h *Hub) Register(patientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[patientID]
	if !ok {
		room = make(map[*websocket.Conn]bool)
		h.rooms[patientID] = room
	}
	room[conn] = true
	slog.Debug("Hub Register connection added", "patientID", patientID, "roomSize", len(room))
}

// Unregister removes a connection from a patient's room and closes it.
func (h *Hub) Unregister(patientID string, conn *websocket.Conn) {
	h.mu.Lock()
	if room, ok := h.rooms[patientID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, patientID)
		}
	}
	h.mu.Unlock()
	conn.Close()
	slog.Debug("Hub Unregister connection removed", "patientID", patientID)
}

// SendToPatient delivers an event to every connection in the patient's room.
// It returns the number of connections written to.
func (h *Hub) SendToPatient(patientID, event string, data any) int {
	return h.send(h.connections(patientID), patientID, event, data)
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(event string, data any) int {
	h.mu.RLock()
	type target struct {
		patientID string
		conn      *websocket.Conn
	}
	var targets []target
	for patientID, room := range h.rooms {
		for conn := range room {
			targets = append(targets, target{patientID, conn})
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		sent += h.send([]*websocket.Conn{t.conn}, t.patientID, event, data)
	}
	return sent
}

// RoomSize reports how many connections a patient's room currently holds.
func (h *Hub) RoomSize(patientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[patientID])
}

func (h *Hub) connections(patientID string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[patientID]
	conns := make([]*websocket.Conn, 0, len(room))
	for conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// send writes the event to each connection, dropping any that fail.
func (h *Hub) send(conns []*websocket.Conn, patientID, event string, data any) int {
	if len(conns) == 0 {
		return 0
	}
	payload, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		slog.Error("Hub failed to marshal event", "event", event, "error", err)
		return 0
	}

	sent := 0
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("Hub dropping unwritable connection", "patientID", patientID, "error", err)
			h.Unregister(patientID, conn)
			continue
		}
		sent++
	}
	return sent
}
