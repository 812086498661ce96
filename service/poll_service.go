package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"student-polling-backend/models"
	"student-polling-backend/repository"
)

// ResultsCache holds the latest results snapshot of each poll. Writers read
// Version before loading from the store; SetIfVersion refuses the write if
// Invalidate ran in between.
type ResultsCache interface {
	Get(ctx context.Context, pollID string) (*models.PollResults, error)
	Version(ctx context.Context, pollID string) (int64, error)
	SetIfVersion(ctx context.Context, results *models.PollResults, version int64) (bool, error)
	Invalidate(ctx context.Context, pollID string) error
}

// ListInvalidator drops cached listings that embed vote counts.
type ListInvalidator interface {
	InvalidateLists(ctx context.Context)
}

// VoterHint remembers voters seen voting. It may only answer "yes" reliably;
// "no" must be confirmed against the store.
type VoterHint interface {
	MarkVoted(ctx context.Context, pollID, voterID string) error
	HasVoted(ctx context.Context, pollID, voterID string) (bool, error)
	Forget(ctx context.Context, pollID string) error
}

// Broadcaster pushes results to realtime subscribers of a poll.
type Broadcaster interface {
	BroadcastResults(pollID string, results *models.PollResults)
}

// Broadcasters fans out to several realtime transports.
type Broadcasters []Broadcaster

func (b Broadcasters) BroadcastResults(pollID string, results *models.PollResults) {
	for _, br := range b {
		br.BroadcastResults(pollID, results)
	}
}

// CreatePollInput is what an administrator submits for a new poll.
type CreatePollInput struct {
	Title       string
	Description string
	EndDate     time.Time
	Options     []string
}

// UpdatePollInput carries optional edits; nil fields are left alone.
type UpdatePollInput struct {
	Title       *string
	Description *string
	EndDate     *time.Time
	IsActive    *bool
}

// PollService exposes the poll catalogue around the vote recorder.
type PollService struct {
	repo        repository.PollRepository
	results     ResultsCache
	voters      VoterHint
	broadcaster Broadcaster
	log         *slog.Logger
	now         func() time.Time
}

// NewPollService creates the service. results, voters and broadcaster may be nil.
func NewPollService(repo repository.PollRepository, results ResultsCache, voters VoterHint, broadcaster Broadcaster, log *slog.Logger) *PollService {
	return &PollService{
		repo:        repo,
		results:     results,
		voters:      voters,
		broadcaster: broadcaster,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreatePoll validates input and stores a new open poll. Blank option
// entries are dropped; at least two must remain.
func (s *PollService) CreatePoll(ctx context.Context, in CreatePollInput, createdBy string) (*models.Poll, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" {
		return nil, invalidf("title is required")
	}
	if tooLong(title, models.MaxTitleLen) {
		return nil, invalidf("title longer than %d characters", models.MaxTitleLen)
	}
	if tooLong(createdBy, models.MaxAuthorLen) {
		return nil, invalidf("creator longer than %d characters", models.MaxAuthorLen)
	}
	if description == "" {
		return nil, invalidf("description is required")
	}
	if in.EndDate.IsZero() {
		return nil, invalidf("end date is required")
	}
	now := s.now()
	if !in.EndDate.After(now) {
		return nil, invalidf("end date must be in the future")
	}

	var options []models.PollOption
	for i, text := range in.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if tooLong(text, models.MaxOptionTextLen) {
			return nil, invalidf("option %d longer than %d characters", i+1, models.MaxOptionTextLen)
		}
		pos := len(options)
		options = append(options, models.PollOption{ID: models.OptionID(pos), Text: text, Position: pos})
	}
	if len(options) < 2 {
		return nil, invalidf("at least two non-empty options are required")
	}

	poll := &models.Poll{
		Title:       title,
		Description: description,
		Options:     options,
		EndDate:     in.EndDate.UTC(),
		IsActive:    true,
		CreatedBy:   createdBy,
	}
	if err := s.repo.CreatePoll(ctx, poll); err != nil {
		return nil, storageErr(err)
	}
	s.log.Info("poll created", "poll_id", poll.ID, "options", len(options), "created_by", createdBy)
	return poll, nil
}

// ListPolls returns polls newest first, optionally only those open now.
func (s *PollService) ListPolls(ctx context.Context, onlyOpen bool) ([]models.PollView, error) {
	now := s.now()
	var filter repository.PollFilter
	if onlyOpen {
		filter.OpenAt = now
	}

	polls, err := s.repo.ListPolls(ctx, filter)
	if err != nil {
		return nil, storageErr(err)
	}
	views := make([]models.PollView, len(polls))
	for i := range polls {
		views[i] = polls[i].View(now)
	}
	return views, nil
}

func (s *PollService) GetPoll(ctx context.Context, pollID string) (*models.PollView, error) {
	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	view := poll.View(s.now())
	return &view, nil
}

func (s *PollService) getPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := s.repo.GetPoll(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return poll, nil
}

// Results returns the results snapshot, from cache when present.
func (s *PollService) Results(ctx context.Context, pollID string) (*models.PollResults, error) {
	if s.results != nil {
		cached, err := s.results.Get(ctx, pollID)
		if err == nil && cached != nil {
			// status is time dependent; the snapshot may predate the end date
			if cached.Status == models.PollStatusOpen && !s.now().Before(cached.EndDate) {
				cached.Status = models.PollStatusClosed
			}
			return cached, nil
		}
	}
	return s.RefreshResults(ctx, pollID)
}

// RefreshResults recomputes the snapshot from the store and caches it.
func (s *PollService) RefreshResults(ctx context.Context, pollID string) (*models.PollResults, error) {
	results, _, err := s.refresh(ctx, pollID)
	return results, err
}

// refresh reports superseded when a vote or edit invalidated the poll while
// it was being read, in which case the snapshot was not cached.
func (s *PollService) refresh(ctx context.Context, pollID string) (*models.PollResults, bool, error) {
	version, cacheable := int64(0), s.results != nil
	if cacheable {
		v, err := s.results.Version(ctx, pollID)
		if err != nil {
			s.log.Warn("failed to read results version", "poll_id", pollID, "error", err)
			cacheable = false
		}
		version = v
	}

	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, false, err
	}
	results := poll.Results(s.now())
	if !cacheable {
		return &results, false, nil
	}

	stored, err := s.results.SetIfVersion(ctx, &results, version)
	if err != nil {
		s.log.Warn("failed to cache results", "poll_id", pollID, "error", err)
		return &results, false, nil
	}
	if !stored {
		s.log.Debug("results changed while refreshing, not cached", "poll_id", pollID)
	}
	return &results, !stored, nil
}

// UpdatePoll applies an admin edit and pushes the new status to subscribers.
func (s *PollService) UpdatePoll(ctx context.Context, pollID string, in UpdatePollInput) (*models.Poll, error) {
	patch := repository.PollPatch{
		Description: in.Description,
		IsActive:    in.IsActive,
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, invalidf("title must not be empty")
		}
		if tooLong(title, models.MaxTitleLen) {
			return nil, invalidf("title longer than %d characters", models.MaxTitleLen)
		}
		patch.Title = &title
	}
	if in.EndDate != nil {
		if in.EndDate.IsZero() {
			return nil, invalidf("end date must not be empty")
		}
		end := in.EndDate.UTC()
		patch.EndDate = &end
	}

	poll, err := s.repo.UpdatePoll(ctx, pollID, patch)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	s.log.Info("poll updated", "poll_id", pollID)
	s.publishResults(ctx, poll)
	return poll, nil
}

// SetActive opens or closes voting on a poll.
func (s *PollService) SetActive(ctx context.Context, pollID string, active bool) (*models.Poll, error) {
	return s.UpdatePoll(ctx, pollID, UpdatePollInput{IsActive: &active})
}

// DeletePoll removes a poll and its options. Vote records stay.
func (s *PollService) DeletePoll(ctx context.Context, pollID string) error {
	err := s.repo.DeletePoll(ctx, pollID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPollNotFound
	}
	if err != nil {
		return storageErr(err)
	}
	if s.results != nil {
		if err := s.results.Invalidate(ctx, pollID); err != nil {
			s.log.Warn("failed to drop results cache", "poll_id", pollID, "error", err)
		}
	}
	if s.voters != nil {
		if err := s.voters.Forget(ctx, pollID); err != nil {
			s.log.Warn("failed to drop voter hints", "poll_id", pollID, "error", err)
		}
	}
	s.log.Info("poll deleted", "poll_id", pollID)
	return nil
}

// HasVoted is the server-side answer to "did this voter already vote here".
func (s *PollService) HasVoted(ctx context.Context, pollID, voterID string) (bool, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return false, invalidf("voter id is required")
	}
	if s.voters != nil {
		if seen, err := s.voters.HasVoted(ctx, pollID, voterID); err == nil && seen {
			return true, nil
		}
	}

	voted, err := s.repo.HasVoted(ctx, pollID, voterID)
	if err != nil {
		return false, storageErr(err)
	}
	if voted && s.voters != nil {
		if err := s.voters.MarkVoted(ctx, pollID, voterID); err != nil {
			s.log.Debug("failed to remember voter", "poll_id", pollID, "error", err)
		}
	}
	return voted, nil
}

// CloseExpired closes every active poll past its end date.
func (s *PollService) CloseExpired(ctx context.Context) ([]string, error) {
	ids, err := s.repo.CloseExpired(ctx, s.now())
	if err != nil {
		return nil, storageErr(err)
	}
	for _, id := range ids {
		if _, err := s.RefreshResults(ctx, id); err != nil {
			s.log.Warn("failed to refresh closed poll", "poll_id", id, "error", err)
			continue
		}
		s.broadcast(ctx, id)
	}
	if len(ids) > 0 {
		s.log.Info("closed expired polls", "count", len(ids))
	}
	return ids, nil
}

// HandleVoteRecorded runs the asynchronous follow-up of a committed vote.
func (s *PollService) HandleVoteRecorded(ctx context.Context, event models.VoteRecorded) error {
	if s.voters != nil {
		if err := s.voters.MarkVoted(ctx, event.PollID, event.VoterID); err != nil {
			s.log.Warn("failed to remember voter", "poll_id", event.PollID, "error", err)
		}
	}
	if inv, ok := s.repo.(ListInvalidator); ok {
		inv.InvalidateLists(ctx)
	}

	results, superseded, err := s.refresh(ctx, event.PollID)
	if errors.Is(err, ErrPollNotFound) {
		// deleted after the vote; nothing left to show
		return nil
	}
	if err != nil {
		return err
	}
	// a later vote's event carries the newer tally
	if s.broadcaster != nil && !superseded {
		s.broadcaster.BroadcastResults(event.PollID, results)
	}
	return nil
}

func (s *PollService) publishResults(ctx context.Context, poll *models.Poll) {
	results := poll.Results(s.now())
	if s.results != nil {
		if err := s.results.Invalidate(ctx, poll.ID); err != nil {
			s.log.Warn("failed to drop results cache", "poll_id", poll.ID, "error", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastResults(poll.ID, &results)
	}
}

func (s *PollService) broadcast(ctx context.Context, pollID string) {
	if s.broadcaster == nil {
		return
	}
	results, err := s.Results(ctx, pollID)
	if err != nil {
		return
	}
	s.broadcaster.BroadcastResults(pollID, results)
}
