package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/camden-git/faceregistry/sessions"
)

// Event represents a message sent to a websocket client
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type Client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub routes events to the websocket client owning a session. Each
// connection gets its own session in the registry; events addressed to a
// session that has no connected client are dropped.
type Hub struct {
	registry   *sessions.Registry
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub(registry *sessions.Registry) *Hub {
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.sessionID]; ok && current == client {
				delete(h.clients, client.sessionID)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers an event to the client owning sessionID, if connected.
func (h *Hub) Send(sessionID string, event Event) {
	event.SessionID = sessionID
	event.Timestamp = time.Now().Unix()
	encoded, err := json.Marshal(event)
	if err != nil {
		log.Printf("realtime: failed to marshal event: %v", err)
		return
	}

	// the lock is held across the send: Run closes client.send under the
	// write lock on unregister, so releasing early would race a disconnect
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	select {
	case client.send <- encoded:
	default:
		log.Printf("realtime: dropping event for session %s, send buffer full", sessionID)
	}
}

// Progress pushes a human-readable status update to a session.
func (h *Hub) Progress(sessionID, message string) {
	h.Send(sessionID, Event{Type: "progress", Message: message})
}

// Result pushes the final outcome of an operation to a session.
func (h *Hub) Result(sessionID string, payload interface{}) {
	h.Send(sessionID, Event{Type: "result", Payload: payload})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection, provisions a session for it and streams
// events until the peer goes away. The session's storage is wiped on
// disconnect; the idle sweep catches anything this misses.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: websocket upgrade error: %v", err)
		return
	}

	sessionID := uuid.NewString()
	if _, err := h.registry.Create(sessionID); err != nil {
		log.Printf("realtime: failed to provision session %s: %v", sessionID, err)
		conn.Close()
		return
	}

	client := &Client{sessionID: sessionID, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	// writer
	go func() {
		for msg := range client.send {
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
		client.conn.Close()
	}()

	h.Send(sessionID, Event{Type: "connected"})

	// reader (consumes pings and keeps the session's activity fresh)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		h.registry.Touch(sessionID)
	}
	h.unregister <- client
	if err := h.registry.Remove(sessionID); err != nil {
		log.Printf("realtime: failed to remove session %s: %v", sessionID, err)
	}
}
