package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/bhava/internal/fusion"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const writeWait = 2 * time.Second

// Subscriber delivers fused results as they are produced.
type Subscriber interface {
	Subscribe(fn func(fusion.Result)) func()
}

type predictionMessage struct {
	fusion.Result
	Timestamp int64 `json:"timestamp"`
}

// PredictionsHandler broadcasts fused predictions via WebSocket.
type PredictionsHandler struct {
	clients     map[*websocket.Conn]bool
	mu          sync.RWMutex
	messages    chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

// NewPredictionsHandler subscribes to source and starts broadcasting.
func NewPredictionsHandler(source Subscriber) *PredictionsHandler {
	h := &PredictionsHandler{
		clients:  make(map[*websocket.Conn]bool),
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	h.unsubscribe = source.Subscribe(h.enqueue)
	go h.broadcast()
	return h
}

// enqueue runs on the capture goroutine and never blocks it; results are
// dropped while the queue is full.
func (h *PredictionsHandler) enqueue(r fusion.Result) {
	h.mu.RLock()
	idle := len(h.clients) == 0
	h.mu.RUnlock()
	if idle {
		return
	}

	msg, err := json.Marshal(predictionMessage{Result: r, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("encode prediction: %v", err)
		return
	}

	select {
	case h.messages <- msg:
	default:
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *PredictionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *PredictionsHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from the source and stops broadcasting.
func (h *PredictionsHandler) Close() {
	h.closeOnce.Do(func() {
		h.unsubscribe()
		close(h.done)
	})
}

// broadcast sends queued predictions to all connected clients.
func (h *PredictionsHandler) broadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.messages:
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					// The reader loop removes the client once the close is seen
					conn.Close()
				}
			}
			h.mu.RUnlock()
		}
	}
}
