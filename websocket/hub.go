package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"student-polling-backend/models"
)

// Message is the frame pushed to clients.
type Message struct {
	Type    string              `json:"type"`
	PollID  string              `json:"poll_id"`
	Results *models.PollResults `json:"results"`
}

const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
)

// Client is one connection watching a poll.
type Client struct {
	PollID string
	send   chan []byte
}

func NewClient(pollID string, buffer int) *Client {
	return &Client{PollID: pollID, send: make(chan []byte, buffer)}
}

// Send exposes the outbound channel; it is closed when the hub drops the client.
func (c *Client) Send() <-chan []byte { return c.send }

// Hub groups clients by poll and fans results out to them.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations until ctx is cancelled, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for pollID, clients := range h.clients {
				for c := range clients {
					close(c.send)
				}
				delete(h.clients, pollID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; !ok {
				h.clients[client.PollID] = make(map[*Client]bool)
			}
			h.clients[client.PollID][client] = true
			n := len(h.clients[client.PollID])
			h.mu.Unlock()
			h.log.Debug("websocket client registered", "poll_id", client.PollID, "clients", n)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.PollID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.clients, client.PollID)
			}
		}
	}
}

// BroadcastResults pushes an update to every client of pollID. Slow clients
// whose buffer is full are dropped.
func (h *Hub) BroadcastResults(pollID string, results *models.PollResults) {
	payload, err := json.Marshal(Message{Type: MessageUpdate, PollID: pollID, Results: results})
	if err != nil {
		h.log.Error("encode websocket message", "poll_id", pollID, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients[pollID] {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.remove(client)
	}
}

// ClientCount reports how many clients watch pollID.
func (h *Hub) ClientCount(pollID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pollID])
}

// RegisterClient adds client; once the hub has stopped the client is closed
// straight away.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
