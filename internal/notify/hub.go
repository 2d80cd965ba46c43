package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Hub fans events out to WebSocket subscribers grouped into tenant rooms.
// It implements Notifier for the session manager and contact service.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	events chan Event
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// Publish broadcasts an event to every subscriber in the tenant's room.
// Slow subscribers are skipped, never waited on.
func (h *Hub) Publish(tenantID, event string, payload any) {
	evt := Event{Tenant: tenantID, Name: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[tenantID] {
		select {
		case sub.events <- evt:
		default:
			slog.Warn("subscriber buffer full, dropping event",
				"tenant", tenantID, "event", event)
		}
	}
}

// subscribe joins the tenant room. The cancel function leaves it.
func (h *Hub) subscribe(tenantID string) (<-chan Event, func()) {
	sub := &subscriber{events: make(chan Event, 64)}

	h.mu.Lock()
	room := h.rooms[tenantID]
	if room == nil {
		room = make(map[*subscriber]struct{})
		h.rooms[tenantID] = room
	}
	room[sub] = struct{}{}
	h.mu.Unlock()

	return sub.events, func() {
		h.mu.Lock()
		delete(h.rooms[tenantID], sub)
		if len(h.rooms[tenantID]) == 0 {
			delete(h.rooms, tenantID)
		}
		h.mu.Unlock()
	}
}

// SubscriberCount returns the number of subscribers in a tenant room.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[tenantID])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub is bound behind the operator's own auth layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventRate caps events delivered per client: burst of 20, 10/s sustained.
// Protects slow UI clients from reconnect storms across many accounts.
var eventRate = rate.Limit(10)

const eventBurst = 20

// ServeWS upgrades an HTTP request to a WebSocket subscription on the
// tenant room given by the "tenant" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "missing tenant", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	events, cancel := h.subscribe(tenantID)
	slog.Info("subscriber joined", "tenant", tenantID)

	go h.writePump(conn, events, cancel, tenantID)
	go h.readPump(conn)
}

// writePump delivers events and pings until the subscription ends.
func (h *Hub) writePump(conn *websocket.Conn, events <-chan Event, cancel func(), tenantID string) {
	limiter := rate.NewLimiter(eventRate, eventBurst)
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
		slog.Info("subscriber left", "tenant", tenantID)
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !limiter.Allow() {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process control messages
// and detect the peer going away.
func (h *Hub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
