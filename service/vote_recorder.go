package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"student-polling-backend/models"
	"student-polling-backend/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// EventPublisher receives VoteRecorded events once a vote is durable.
type EventPublisher interface {
	PublishVoteRecorded(ctx context.Context, event models.VoteRecorded) error
}

// VoteObserver is told the outcome of every Record call.
type VoteObserver interface {
	ObserveVote(kind ErrorKind, attempts int, elapsed time.Duration)
}

// Receipt confirms a recorded vote. Results reflect the poll as of this vote.
type Receipt struct {
	VoteID    string             `json:"vote_id"`
	PollID    string             `json:"poll_id"`
	OptionID  string             `json:"option_id"`
	VoterID   string             `json:"voter_id"`
	Timestamp time.Time          `json:"timestamp"`
	Results   models.PollResults `json:"results"`
}

// VoteRecorder records votes and keeps the tallies consistent with them.
//
// The vote row and both counter increments commit in one transaction; the
// (poll, voter) unique index decides races between duplicate submissions.
type VoteRecorder struct {
	store          repository.VoteStore
	events         EventPublisher
	results        ResultsCache
	lists          ListInvalidator
	observer       VoteObserver
	log            *slog.Logger
	now            func() time.Time
	maxRetries     int
	attemptTimeout time.Duration
	initialBackoff time.Duration
}

// RecorderOption configures a VoteRecorder.
type RecorderOption func(*VoteRecorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *VoteRecorder) { r.now = now }
}

// WithRetry bounds the retries of transient storage failures.
func WithRetry(maxRetries int, initialBackoff time.Duration) RecorderOption {
	return func(r *VoteRecorder) {
		r.maxRetries = maxRetries
		r.initialBackoff = initialBackoff
	}
}

// WithAttemptTimeout limits how long a single attempt may hold the store.
func WithAttemptTimeout(d time.Duration) RecorderOption {
	return func(r *VoteRecorder) { r.attemptTimeout = d }
}

func WithPublisher(p EventPublisher) RecorderOption {
	return func(r *VoteRecorder) { r.events = p }
}

func WithResultsCache(c ResultsCache) RecorderOption {
	return func(r *VoteRecorder) { r.results = c }
}

// WithListInvalidator drops cached listings as soon as a vote commits.
func WithListInvalidator(l ListInvalidator) RecorderOption {
	return func(r *VoteRecorder) { r.lists = l }
}

func WithObserver(o VoteObserver) RecorderOption {
	return func(r *VoteRecorder) { r.observer = o }
}

func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *VoteRecorder) { r.log = l }
}

// NewVoteRecorder creates a recorder over store.
func NewVoteRecorder(store repository.VoteStore, opts ...RecorderOption) *VoteRecorder {
	r := &VoteRecorder{
		store:          store,
		log:            slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		maxRetries:     3,
		attemptTimeout: 5 * time.Second,
		initialBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record durably records voterID's choice of optionID in pollID.
//
// Errors classify with KindOf as not found, poll closed, already voted,
// invalid, transient storage failure (after retries) or permanent storage
// failure. On any error no counter has changed.
func (r *VoteRecorder) Record(ctx context.Context, pollID, voterID, optionID string) (*Receipt, error) {
	start := time.Now()
	pollID = strings.TrimSpace(pollID)
	voterID = strings.TrimSpace(voterID)
	optionID = strings.TrimSpace(optionID)

	if voterID == "" {
		return nil, fmt.Errorf("%w: voter id is required", ErrInvalidVote)
	}
	if pollID == "" || optionID == "" {
		return nil, fmt.Errorf("%w: poll id and option id are required", ErrInvalidVote)
	}
	if tooLong(voterID, models.MaxVoterIDLen) {
		return nil, fmt.Errorf("%w: voter id longer than %d characters", ErrInvalidVote, models.MaxVoterIDLen)
	}
	if tooLong(optionID, models.MaxOptionIDLen) {
		return nil, fmt.Errorf("%w: option id longer than %d characters", ErrInvalidVote, models.MaxOptionIDLen)
	}

	// fixed across retries so a commit whose acknowledgement was lost is recognised
	voteID := uuid.NewString()
	attempts := 0
	var receipt *Receipt

	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()

		rc, err := r.attempt(attemptCtx, voteID, pollID, voterID, optionID, attempts > 1)
		if err == nil {
			receipt = rc
			return nil
		}
		if repository.IsTransient(err) {
			r.log.Warn("transient storage failure while recording vote",
				"poll_id", pollID, "attempt", attempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialBackoff
	policy.MaxInterval = 20 * r.initialBackoff
	policy.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxRetries)), ctx))
	err = classifyRecordErr(err)

	if r.observer != nil {
		r.observer.ObserveVote(KindOf(err), attempts, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	r.afterCommit(ctx, receipt)
	return receipt, nil
}

func (r *VoteRecorder) attempt(ctx context.Context, voteID, pollID, voterID, optionID string, retry bool) (*Receipt, error) {
	poll, err := r.store.GetPoll(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}

	now := r.now()
	if !poll.IsOpen(now) {
		return nil, ErrPollClosed
	}
	option, ok := poll.FindOption(optionID)
	if !ok {
		return nil, ErrOptionNotFound
	}

	existing, err := r.store.FindVote(ctx, pollID, voterID)
	switch {
	case err == nil && retry && existing.ID == voteID:
		// an earlier attempt committed; its result was lost in transit
		return r.receipt(poll, existing), nil
	case err == nil:
		return nil, ErrAlreadyVoted
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	vote := &models.Vote{
		ID:        voteID,
		PollID:    pollID,
		VoterID:   voterID,
		OptionID:  optionID,
		Timestamp: now,
	}
	err = r.store.RunInTx(ctx, func(tx repository.VoteStore) error {
		if _, err := tx.InsertVote(ctx, vote); err != nil {
			return err
		}
		return tx.AtomicIncrement(ctx, pollID, optionID)
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateVote):
		return nil, ErrAlreadyVoted
	case errors.Is(err, repository.ErrNotFound):
		// poll deleted between the read and the write
		return nil, ErrPollNotFound
	case err != nil:
		return nil, err
	}

	option.Votes++
	poll.TotalVotes++
	return r.receipt(poll, vote), nil
}

func (r *VoteRecorder) receipt(poll *models.Poll, vote *models.Vote) *Receipt {
	return &Receipt{
		VoteID:    vote.ID,
		PollID:    vote.PollID,
		OptionID:  vote.OptionID,
		VoterID:   vote.VoterID,
		Timestamp: vote.Timestamp,
		Results:   poll.Results(r.now()),
	}
}

// afterCommit runs the best-effort follow-ups. The vote is already durable,
// so failures here are only logged.
func (r *VoteRecorder) afterCommit(ctx context.Context, receipt *Receipt) {
	ctx = context.WithoutCancel(ctx)

	if r.results != nil {
		if err := r.results.Invalidate(ctx, receipt.PollID); err != nil {
			r.log.Warn("failed to invalidate results cache", "poll_id", receipt.PollID, "error", err)
		}
	}
	if r.lists != nil {
		r.lists.InvalidateLists(ctx)
	}

	if r.events != nil {
		event := models.VoteRecorded{
			VoteID:    receipt.VoteID,
			PollID:    receipt.PollID,
			OptionID:  receipt.OptionID,
			VoterID:   receipt.VoterID,
			Timestamp: receipt.Timestamp,
		}
		if err := r.events.PublishVoteRecorded(ctx, event); err != nil {
			r.log.Warn("failed to publish vote event", "poll_id", receipt.PollID, "vote_id", receipt.VoteID, "error", err)
		}
	}
}

func classifyRecordErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPollNotFound), errors.Is(err, ErrOptionNotFound),
		errors.Is(err, ErrPollClosed), errors.Is(err, ErrAlreadyVoted), errors.Is(err, ErrInvalidVote):
		return err
	}
	return storageErr(err)
}
