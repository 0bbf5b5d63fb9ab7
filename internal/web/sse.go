package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/mazechase/internal/events"
)

const (
	sseClientBuffer = 16
	sseKeepAlive    = 30 * time.Second
)

// SSEClient represents a connected SSE client.
type SSEClient struct {
	ID string
	// UserID narrows the stream to one player's events when set.
	UserID  string
	Channel chan []byte
}

// SSEHub fans bus events out to connected SSE clients.
type SSEHub struct {
	clients   map[*SSEClient]bool
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	log       logrus.FieldLogger
}

func NewSSEHub(log logrus.FieldLogger) *SSEHub {
	return &SSEHub{
		clients: make(map[*SSEClient]bool),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Run broadcasts events until ch is closed.
func (h *SSEHub) Run(ch <-chan events.Event) {
	h.log.Info("SSE hub started")
	for event := range ch {
		h.broadcast(event)
	}
	h.log.Info("SSE hub stopped")
}

// Close disconnects every client and rejects new ones.
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SSEHub) broadcast(event events.Event) {
	msg, err := encodeSSE(event)
	if err != nil {
		h.log.WithError(err).WithField("event", event.Type()).Warn("Failed to encode event")
		return
	}
	owner := eventOwner(event)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.UserID != "" && client.UserID != owner {
			continue
		}
		select {
		case client.Channel <- msg:
		default:
			h.log.WithField("client", client.ID).Warn("Dropping message for slow SSE client")
		}
	}
}

func eventOwner(event events.Event) string {
	switch e := event.(type) {
	case events.SessionStarted:
		return e.UserID
	case events.SessionAbandoned:
		return e.UserID
	case events.SessionEnded:
		return e.UserID
	case events.StatsUpdated:
		return e.UserID
	case events.PersonalBest:
		return e.UserID
	}
	return ""
}

func encodeSSE(event events.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", event.Type())
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}

// HandleConnection streams events to one client until it disconnects or the
// hub is closed. "?user=<id>" limits the stream to that player's events.
func (h *SSEHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &SSEClient{
		ID:      uuid.New().String(),
		UserID:  r.URL.Query().Get("user"),
		Channel: make(chan []byte, sseClientBuffer),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	log := h.log.WithFields(logrus.Fields{"client": client.ID, "user_id": client.UserID})
	log.Debug("SSE client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		log.Debug("SSE client disconnected")
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case msg := <-client.Channel:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
