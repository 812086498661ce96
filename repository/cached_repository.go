package repository

import (
	"context"
	"log/slog"
	"time"

	"student-polling-backend/models"
)

// ExistenceFilter is a probabilistic set of poll IDs. A negative answer is
// only trusted once the filter has been fully warmed (Ready).
type ExistenceFilter interface {
	Ready(ctx context.Context) bool
	Generation(ctx context.Context) (int64, error)
	MarkReady(ctx context.Context, generation int64) (bool, error)
	Reset(ctx context.Context) error
	Add(ctx context.Context, item string) error
	MightContain(ctx context.Context, item string) (bool, error)
}

// ListCache stores listing responses as JSON.
type ListCache interface {
	GetOrLoad(ctx context.Context, key string, dest interface{}, load func() (interface{}, error)) error
	Invalidate(ctx context.Context, keys ...string) error
}

// PollListKey caches the unfiltered poll listing.
const PollListKey = "polls:list"

// CachedPollRepository puts the existence filter in front of GetPoll and a
// list cache in front of ListPolls. Both are optional.
type CachedPollRepository struct {
	PollRepository
	filter ExistenceFilter
	lists  ListCache
	log    *slog.Logger
}

// NewCachedPollRepository wraps base. filter and lists may be nil.
func NewCachedPollRepository(base PollRepository, filter ExistenceFilter, lists ListCache, log *slog.Logger) *CachedPollRepository {
	return &CachedPollRepository{
		PollRepository: base,
		filter:         filter,
		lists:          lists,
		log:            log,
	}
}

func (r *CachedPollRepository) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	if r.filter != nil && r.filter.Ready(ctx) {
		exists, err := r.filter.MightContain(ctx, pollID)
		if err == nil && !exists {
			return nil, ErrNotFound
		}
		if err != nil {
			r.log.Warn("poll filter lookup failed", "poll_id", pollID, "error", err)
		}
	}
	return r.PollRepository.GetPoll(ctx, pollID)
}

func (r *CachedPollRepository) CreatePoll(ctx context.Context, poll *models.Poll) error {
	if err := r.PollRepository.CreatePoll(ctx, poll); err != nil {
		return err
	}
	if r.filter != nil {
		if err := r.filter.Add(ctx, poll.ID); err != nil {
			// a filter missing a real ID would reject votes; stop trusting it until re-warmed
			r.log.Warn("failed to add poll to filter", "poll_id", poll.ID, "error", err)
			if err := r.filter.Reset(ctx); err != nil {
				r.log.Error("failed to reset poll filter", "error", err)
			}
		}
	}
	r.InvalidateLists(ctx)
	return nil
}

func (r *CachedPollRepository) ListPolls(ctx context.Context, filter PollFilter) ([]models.Poll, error) {
	if r.lists == nil {
		return r.PollRepository.ListPolls(ctx, filter)
	}

	var polls []models.Poll
	err := r.lists.GetOrLoad(ctx, PollListKey, &polls, func() (interface{}, error) {
		return r.PollRepository.ListPolls(ctx, PollFilter{})
	})
	if err != nil {
		r.log.Warn("poll list cache unavailable", "error", err)
		return r.PollRepository.ListPolls(ctx, filter)
	}

	if filter.OpenAt.IsZero() {
		return polls, nil
	}
	open := make([]models.Poll, 0, len(polls))
	for _, p := range polls {
		if p.IsOpen(filter.OpenAt) {
			open = append(open, p)
		}
	}
	return open, nil
}

func (r *CachedPollRepository) UpdatePoll(ctx context.Context, pollID string, patch PollPatch) (*models.Poll, error) {
	poll, err := r.PollRepository.UpdatePoll(ctx, pollID, patch)
	if err != nil {
		return nil, err
	}
	r.InvalidateLists(ctx)
	return poll, nil
}

func (r *CachedPollRepository) DeletePoll(ctx context.Context, pollID string) error {
	if err := r.PollRepository.DeletePoll(ctx, pollID); err != nil {
		return err
	}
	r.InvalidateLists(ctx)
	return nil
}

func (r *CachedPollRepository) CloseExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.PollRepository.CloseExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		r.InvalidateLists(ctx)
	}
	return ids, nil
}

// InvalidateLists drops cached poll listings.
func (r *CachedPollRepository) InvalidateLists(ctx context.Context) {
	if r.lists == nil {
		return
	}
	if err := r.lists.Invalidate(ctx, PollListKey); err != nil {
		r.log.Warn("failed to invalidate poll list cache", "error", err)
	}
}

// FilterReady reports whether the existence filter is being trusted.
func (r *CachedPollRepository) FilterReady(ctx context.Context) bool {
	return r.filter != nil && r.filter.Ready(ctx)
}

// WarmFilter loads every poll ID into the existence filter and marks it
// ready, unless the filter was reset while loading.
func (r *CachedPollRepository) WarmFilter(ctx context.Context) error {
	if r.filter == nil {
		return nil
	}
	gen, err := r.filter.Generation(ctx)
	if err != nil {
		return err
	}
	ids, err := r.PollRepository.ListPollIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.filter.Add(ctx, id); err != nil {
			return err
		}
	}
	ready, err := r.filter.MarkReady(ctx, gen)
	if err != nil {
		return err
	}
	if !ready {
		r.log.Info("poll filter reset during warm-up, will retry", "polls", len(ids))
		return nil
	}
	r.log.Info("poll filter warmed", "polls", len(ids))
	return nil
}

// CachedPostRepository puts the list cache in front of ListPosts.
type CachedPostRepository struct {
	PostRepository
	lists ListCache
	log   *slog.Logger
}

func NewCachedPostRepository(base PostRepository, lists ListCache, log *slog.Logger) *CachedPostRepository {
	return &CachedPostRepository{PostRepository: base, lists: lists, log: log}
}

// PostListKey is the cache key of a post listing.
func PostListKey(category models.PostCategory) string {
	if category == "" {
		return "posts:list:all"
	}
	return "posts:list:" + string(category)
}

func (r *CachedPostRepository) ListPosts(ctx context.Context, category models.PostCategory) ([]models.Post, error) {
	if r.lists == nil {
		return r.PostRepository.ListPosts(ctx, category)
	}

	var posts []models.Post
	err := r.lists.GetOrLoad(ctx, PostListKey(category), &posts, func() (interface{}, error) {
		return r.PostRepository.ListPosts(ctx, category)
	})
	if err != nil {
		r.log.Warn("post list cache unavailable", "error", err)
		return r.PostRepository.ListPosts(ctx, category)
	}
	return posts, nil
}

func (r *CachedPostRepository) CreatePost(ctx context.Context, post *models.Post) error {
	if err := r.PostRepository.CreatePost(ctx, post); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedPostRepository) DeletePost(ctx context.Context, postID string) error {
	if err := r.PostRepository.DeletePost(ctx, postID); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedPostRepository) invalidate(ctx context.Context) {
	if r.lists == nil {
		return
	}
	keys := []string{PostListKey("")}
	for _, c := range models.PostCategories {
		keys = append(keys, PostListKey(c))
	}
	if err := r.lists.Invalidate(ctx, keys...); err != nil {
		r.log.Warn("failed to invalidate post list cache", "error", err)
	}
}
