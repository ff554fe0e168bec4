package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/voice"
)

// Event is one message pushed to websocket subscribers.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Hub fans events out to connected websocket clients. Slow clients are
// dropped rather than blocking the broadcast path. It subscribes to both
// the detector and the conversation manager.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]chan Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]chan Event),
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("gateway: events upgrade failed", "err", err)
		return
	}

	ch := make(chan Event, 32)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)

	// readLoop only to observe the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan Event) {
	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// Broadcast queues an event for every client, dropping clients whose queue
// is full.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	var stale []*websocket.Conn
	for conn, ch := range h.conns {
		select {
		case ch <- ev:
		default:
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()
	for _, conn := range stale {
		logging.Warnw("gateway: dropping slow events client")
		h.remove(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.remove(conn)
	}
}

// voice.Listener

func (h *Hub) OnWakeDetected() {
	h.Broadcast(Event{Type: "wake_detected"})
}

func (h *Hub) OnCommandReceived(text string, confidence float64) {
	h.Broadcast(Event{Type: "command_received", Data: map[string]interface{}{
		"text":       text,
		"confidence": confidence,
	}})
}

func (h *Hub) OnStateChanged(s voice.State) {
	h.Broadcast(Event{Type: "state_changed", Data: map[string]interface{}{
		"state": s.String(),
	}})
}

// conversation.Listener

func (h *Hub) OnSessionStarted(s conversation.Session) {
	h.Broadcast(Event{Type: "session_started", Data: map[string]interface{}{
		"session_id":   s.ID,
		"satellite_id": s.SatelliteID,
	}})
}

func (h *Hub) OnSessionEnded(s conversation.Session) {
	h.Broadcast(Event{Type: "session_ended", Data: map[string]interface{}{
		"session_id":   s.ID,
		"satellite_id": s.SatelliteID,
		"messages":     len(s.Messages),
	}})
}

func (h *Hub) OnExchange(s conversation.Session, user, assistant conversation.Message, took time.Duration, spoken bool) {
	h.Broadcast(Event{Type: "exchange", Data: map[string]interface{}{
		"session_id":    s.ID,
		"command":       user.Content,
		"response":      assistant.Content,
		"processing_ms": took.Milliseconds(),
		"spoken":        spoken,
	}})
}
