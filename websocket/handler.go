package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"student-polling-backend/models"
	"student-polling-backend/handlers"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// ResultsSource provides the snapshot sent on connect.
type ResultsSource interface {
	Results(ctx context.Context, pollID string) (*models.PollResults, error)
}

type Handler struct {
	hub      *Hub
	results  ResultsSource
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler builds the upgrade handler. An empty origins list or "*" accepts
// any origin.
func NewHandler(hub *Hub, results ResultsSource, origins []string, log *slog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		results: results,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// HandleWebSocketConnection upgrades GET /polls/:id/ws and sends the current
// results before streaming updates.
func (h *Handler) HandleWebSocketConnection(c *gin.Context) {
	pollID := c.Param("id")
	snapshot, err := h.results.Results(c.Request.Context(), pollID)
	if err != nil {
		handlers.RespondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "poll_id", pollID, "error", err)
		return
	}

	client := NewClient(pollID, sendBuffer)
	if payload, err := json.Marshal(Message{Type: MessageSnapshot, PollID: pollID, Results: snapshot}); err == nil {
		client.send <- payload
	}
	h.hub.RegisterClient(client)

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

// readPump discards inbound frames; it exists to process pongs and notice
// disconnects.
func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.UnregisterClient(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read failed", "poll_id", client.PollID, "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
