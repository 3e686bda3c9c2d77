package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/pipeline"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow dashboard pages served from other hosts on the LAN
	},
}

// Hub pushes live detection events to websocket clients.
type Hub struct {
	log     *logger.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Hub{
		log:     log,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

type wireDetection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        [4]int  `json:"bbox"`
}

type detectionMessage struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	FrameIndex  int             `json:"frame_index"`
	Inference   int             `json:"inference"`
	InferenceMS int64           `json:"inference_ms"`
	Timestamp   int64           `json:"timestamp"`
	Detections  []wireDetection `json:"detections"`
}

// Observe broadcasts one inference result.
func (h *Hub) Observe(ev pipeline.Event) error {
	msg := detectionMessage{
		Type:        "detections",
		SessionID:   ev.SessionID,
		FrameIndex:  ev.FrameIndex,
		Inference:   ev.Inference,
		InferenceMS: ev.Result.Inference.Milliseconds(),
		Timestamp:   ev.Time.UnixMilli(),
		Detections:  make([]wireDetection, len(ev.Result.Detections)),
	}
	for i, d := range ev.Result.Detections {
		msg.Detections[i] = wireDetection{
			Class:      d.Label,
			Confidence: d.Confidence,
			Box:        [4]int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y},
		}
	}
	return h.Broadcast(msg)
}

// Broadcast sends v as JSON to every client and drops clients that fail.
func (h *Hub) Broadcast(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var stale []*websocket.Conn
	h.mu.Lock()
	for conn, writeMu := range h.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		h.remove(conn)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.remove(conn)
	}
}

// ServeHTTP upgrades the connection and keeps it registered until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer h.remove(conn)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
