package mq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"student-polling-backend/models"
)

// MemoryQueue is the in-process fallback used when Redis is unavailable.
// Messages do not survive a restart.
type MemoryQueue struct {
	opts Options
	log  *slog.Logger

	ch       chan VoteMessage
	mu       sync.Mutex
	running  bool
	handler  Handler
	stopChan chan struct{}
	wg       sync.WaitGroup

	statsMu    sync.Mutex
	processing int64
	dead       []VoteMessage
	retries    map[string]int
}

func NewMemoryQueue(capacity int, opts Options, log *slog.Logger) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		opts:    opts.withDefaults(),
		log:     log,
		ch:      make(chan VoteMessage, capacity),
		retries: make(map[string]int),
	}
}

func (q *MemoryQueue) PublishVoteRecorded(_ context.Context, event models.VoteRecorded) error {
	return q.enqueue(VoteMessage{MessageID: event.VoteID, Event: event, EnqueuedAt: time.Now().Unix()})
}

func (q *MemoryQueue) enqueue(msg VoteMessage) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return nil
	}
	q.handler = handler
	q.stopChan = make(chan struct{})
	q.running = true
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("in-memory vote queue consumer started", "workers", q.opts.Workers)
	return nil
}

func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopChan)
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info("in-memory vote queue consumer stopped", "pending", len(q.ch))
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopChan:
			return
		case msg := <-q.ch:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg VoteMessage) {
	q.statsMu.Lock()
	q.processing++
	q.statsMu.Unlock()
	defer func() {
		q.statsMu.Lock()
		q.processing--
		q.statsMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.ProcessingTimeout)
	err := q.handler(ctx, msg.Event)
	cancel()

	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	if err == nil {
		delete(q.retries, msg.MessageID)
		return
	}

	q.retries[msg.MessageID]++
	if q.retries[msg.MessageID] > q.opts.MaxRetries {
		delete(q.retries, msg.MessageID)
		q.dead = append(q.dead, msg)
		q.log.Error("vote message moved to dead letter queue", "message_id", msg.MessageID, "error", err)
		return
	}
	q.log.Warn("vote message handling failed, retrying", "message_id", msg.MessageID, "error", err)
	time.AfterFunc(q.opts.RetryDelay, func() {
		if err := q.enqueue(msg); err != nil {
			q.statsMu.Lock()
			q.dead = append(q.dead, msg)
			q.statsMu.Unlock()
		}
	})
}

func (q *MemoryQueue) RetryDeadLetters(_ context.Context) (int, error) {
	q.statsMu.Lock()
	dead := q.dead
	q.dead = nil
	q.statsMu.Unlock()

	count := 0
	for i, msg := range dead {
		if err := q.enqueue(msg); err != nil {
			q.statsMu.Lock()
			q.dead = append(q.dead, dead[i:]...)
			q.statsMu.Unlock()
			return count, err
		}
		count++
	}
	return count, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	return Stats{
		Backend:    "memory",
		Pending:    int64(len(q.ch)),
		Processing: q.processing,
		DeadLetter: int64(len(q.dead)),
	}, nil
}
