package mq

import (
	"context"
	"errors"
	"time"

	"student-polling-backend/models"
)

var (
	ErrQueueFull    = errors.New("vote queue is full")
	ErrQueueStopped = errors.New("vote queue is stopped")
	ErrNoHandler    = errors.New("vote queue has no handler")
)

// Handler consumes one VoteRecorded event. It must be idempotent: a message
// can be delivered more than once after a crash or timeout.
type Handler func(ctx context.Context, event models.VoteRecorded) error

// Queue carries VoteRecorded events from the recorder to their consumer.
type Queue interface {
	PublishVoteRecorded(ctx context.Context, event models.VoteRecorded) error
	Start(handler Handler) error
	Stop()
	Stats(ctx context.Context) (Stats, error)
	RetryDeadLetters(ctx context.Context) (int, error)
}

type Stats struct {
	Backend    string `json:"backend"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	DeadLetter int64  `json:"dead_letter"`
}

// VoteMessage is the envelope stored on the queue.
type VoteMessage struct {
	MessageID  string              `json:"message_id"`
	Event      models.VoteRecorded `json:"event"`
	EnqueuedAt int64               `json:"enqueued_at"`
}

type Options struct {
	MaxRetries        int
	RetryDelay        time.Duration
	ProcessingTimeout time.Duration
	Workers           int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = 5 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}
