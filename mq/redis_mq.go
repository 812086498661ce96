package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"student-polling-backend/models"

	"github.com/redis/go-redis/v9"
)

const (
	MainQueueName       = "vote_queue"
	ProcessingQueueName = "vote_processing"
	DeadLetterQueueName = "vote_dead_letter"
	RetriesHashName     = "vote_retries"
	InFlightHashName    = "vote_inflight"
)

// RedisMQ is a reliable list queue: messages move atomically from the main
// list to a processing list and leave it only once handled or dead-lettered.
type RedisMQ struct {
	client  redis.Cmdable
	opts    Options
	log     *slog.Logger
	handler Handler

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	sem      chan struct{}
	now      func() time.Time
}

func NewRedisMQ(client redis.Cmdable, opts Options, log *slog.Logger) *RedisMQ {
	opts = opts.withDefaults()
	return &RedisMQ{
		client: client,
		opts:   opts,
		log:    log,
		sem:    make(chan struct{}, opts.Workers),
		now:    time.Now,
	}
}

func (r *RedisMQ) PublishVoteRecorded(ctx context.Context, event models.VoteRecorded) error {
	msg := VoteMessage{MessageID: event.VoteID, Event: event, EnqueuedAt: r.now().Unix()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode vote message: %w", err)
	}
	if err := r.client.LPush(ctx, MainQueueName, data).Err(); err != nil {
		return fmt.Errorf("push vote message: %w", err)
	}
	return nil
}

// Start recovers messages left in processing by a previous run and starts
// consuming.
func (r *RedisMQ) Start(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.handler = handler
	r.stopChan = make(chan struct{})

	if n, err := r.recoverInFlight(context.Background()); err != nil {
		r.log.Warn("vote queue recovery failed", "error", err)
	} else if n > 0 {
		r.log.Info("requeued in-flight vote messages", "count", n)
	}

	r.running = true
	r.wg.Add(2)
	go r.consumeLoop()
	go r.timeoutCheckLoop()
	r.log.Info("redis vote queue consumer started")
	return nil
}

func (r *RedisMQ) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("redis vote queue consumer stopped")
}

func (r *RedisMQ) stopped() bool {
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()
	ctx := context.Background()
	for {
		if r.stopped() {
			return
		}
		raw, err := r.client.BRPopLPush(ctx, MainQueueName, ProcessingQueueName, time.Second).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				r.log.Warn("vote queue pop failed", "error", err)
				select {
				case <-r.stopChan:
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}

		r.sem <- struct{}{}
		r.wg.Add(1)
		go func() {
			defer func() {
				<-r.sem
				r.wg.Done()
			}()
			r.processMessage(ctx, raw)
		}()
	}
}

func (r *RedisMQ) processMessage(ctx context.Context, raw string) {
	var msg VoteMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.log.Error("undecodable vote message", "error", err)
		r.moveToDeadLetter(ctx, raw)
		return
	}

	r.client.HSet(ctx, InFlightHashName, msg.MessageID, r.now().Unix())
	defer r.client.HDel(ctx, InFlightHashName, msg.MessageID)

	handleCtx, cancel := context.WithTimeout(ctx, r.opts.ProcessingTimeout)
	err := r.handler(handleCtx, msg.Event)
	cancel()
	if err == nil {
		r.client.LRem(ctx, ProcessingQueueName, 1, raw)
		r.client.HDel(ctx, RetriesHashName, msg.MessageID)
		return
	}

	r.log.Warn("vote message handling failed", "message_id", msg.MessageID, "poll_id", msg.Event.PollID, "error", err)
	r.retryOrDeadLetter(ctx, raw, msg)
}

func (r *RedisMQ) retryOrDeadLetter(ctx context.Context, raw string, msg VoteMessage) {
	retries, err := r.client.HIncrBy(ctx, RetriesHashName, msg.MessageID, 1).Result()
	if err != nil || int(retries) > r.opts.MaxRetries {
		r.log.Error("vote message moved to dead letter queue", "message_id", msg.MessageID, "retries", retries)
		r.moveToDeadLetter(ctx, raw)
		return
	}

	msg.EnqueuedAt = r.now().Unix()
	updated, _ := json.Marshal(msg)
	// The message stays in processing until requeued so a crash in between
	// leaves it recoverable.
	time.AfterFunc(r.opts.RetryDelay, func() {
		if r.stopped() {
			return
		}
		pipe := r.client.TxPipeline()
		pipe.LRem(ctx, ProcessingQueueName, 1, raw)
		pipe.LPush(ctx, MainQueueName, updated)
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.Warn("vote message requeue failed", "message_id", msg.MessageID, "error", err)
		}
	})
}

func (r *RedisMQ) moveToDeadLetter(ctx context.Context, raw string) {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, DeadLetterQueueName, raw)
	pipe.LRem(ctx, ProcessingQueueName, 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("dead letter move failed", "error", err)
	}
}

func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts(context.Background())
		}
	}
}

// checkTimeouts retries messages whose handler started longer than the
// processing timeout ago.
func (r *RedisMQ) checkTimeouts(ctx context.Context) {
	messages, err := r.client.LRange(ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		r.log.Warn("processing queue scan failed", "error", err)
		return
	}
	started, err := r.client.HGetAll(ctx, InFlightHashName).Result()
	if err != nil {
		r.log.Warn("in-flight scan failed", "error", err)
		return
	}

	cutoff := r.now().Add(-r.opts.ProcessingTimeout).Unix()
	for _, raw := range messages {
		var msg VoteMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.moveToDeadLetter(ctx, raw)
			continue
		}
		at, ok := started[msg.MessageID]
		if !ok {
			continue
		}
		if ts, _ := strconv.ParseInt(at, 10, 64); ts > cutoff {
			continue
		}
		r.client.HDel(ctx, InFlightHashName, msg.MessageID)
		r.log.Warn("vote message timed out", "message_id", msg.MessageID)
		r.retryOrDeadLetter(ctx, raw, msg)
	}
}

// recoverInFlight moves everything in processing back to the main queue.
func (r *RedisMQ) recoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := r.client.RPopLPush(ctx, ProcessingQueueName, MainQueueName).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, r.client.Del(ctx, InFlightHashName).Err()
}

// RetryDeadLetters moves every dead-lettered message back to the main queue
// with a fresh retry budget.
func (r *RedisMQ) RetryDeadLetters(ctx context.Context) (int, error) {
	total, err := r.client.LLen(ctx, DeadLetterQueueName).Result()
	if err != nil {
		return 0, fmt.Errorf("dead letter length: %w", err)
	}
	count := 0
	for i := int64(0); i < total; i++ {
		raw, err := r.client.RPopLPush(ctx, DeadLetterQueueName, MainQueueName).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("requeue dead letter: %w", err)
		}
		var msg VoteMessage
		if json.Unmarshal([]byte(raw), &msg) == nil {
			r.client.HDel(ctx, RetriesHashName, msg.MessageID)
		}
		count++
	}
	r.log.Info("dead letters requeued", "count", count)
	return count, nil
}

func (r *RedisMQ) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	mainLen := pipe.LLen(ctx, MainQueueName)
	procLen := pipe.LLen(ctx, ProcessingQueueName)
	deadLen := pipe.LLen(ctx, DeadLetterQueueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{Backend: "redis"}, err
	}
	return Stats{
		Backend:    "redis",
		Pending:    mainLen.Val(),
		Processing: procLen.Val(),
		DeadLetter: deadLen.Val(),
	}, nil
}
