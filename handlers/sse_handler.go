package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"student-polling-backend/models"

	"github.com/gin-gonic/gin"
)

const sseHeartbeat = 15 * time.Second

// ResultsSource provides the snapshot sent when a stream opens.
type ResultsSource interface {
	Results(ctx context.Context, pollID string) (*models.PollResults, error)
}

type sseClient struct {
	pollID string
	events chan *models.PollResults
}

// SSEBroker streams results updates over server-sent events.
type SSEBroker struct {
	mu      sync.RWMutex
	clients map[string]map[*sseClient]struct{}
	log     *slog.Logger
}

func NewSSEBroker(log *slog.Logger) *SSEBroker {
	return &SSEBroker{
		clients: make(map[string]map[*sseClient]struct{}),
		log:     log,
	}
}

func (b *SSEBroker) subscribe(pollID string) *sseClient {
	client := &sseClient{pollID: pollID, events: make(chan *models.PollResults, 16)}
	b.mu.Lock()
	if _, ok := b.clients[pollID]; !ok {
		b.clients[pollID] = make(map[*sseClient]struct{})
	}
	b.clients[pollID][client] = struct{}{}
	b.mu.Unlock()
	return client
}

func (b *SSEBroker) unsubscribe(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients[client.pollID], client)
	if len(b.clients[client.pollID]) == 0 {
		delete(b.clients, client.pollID)
	}
}

// ClientCount reports how many streams watch pollID.
func (b *SSEBroker) ClientCount(pollID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[pollID])
}

// BroadcastResults queues results for every stream of pollID. A stream that
// is behind drops the update; the next one supersedes it anyway.
func (b *SSEBroker) BroadcastResults(pollID string, results *models.PollResults) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients[pollID] {
		select {
		case client.events <- results:
		default:
		}
	}
}

// Handler serves GET /polls/:id/live: a snapshot from results, then an event
// per update and a heartbeat comment every 15 seconds.
func (b *SSEBroker) Handler(results ResultsSource) gin.HandlerFunc {
	return func(c *gin.Context) { b.stream(c, results) }
}

func (b *SSEBroker) stream(c *gin.Context, results ResultsSource) {
	pollID := c.Param("id")
	snapshot, err := results.Results(c.Request.Context(), pollID)
	if err != nil {
		RespondError(c, b.log, err)
		return
	}

	client := b.subscribe(pollID)
	defer b.unsubscribe(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("sse client disconnected", "poll_id", pollID)
			return
		case update := <-client.events:
			c.SSEvent("update", update)
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := c.Writer.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
