package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"student-polling-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFilter struct {
	mu      sync.Mutex
	items   map[string]bool
	ready   bool
	gen     int64
	failAdd bool
	onAdd   func() // runs once, after the next Add
}

func newFakeFilter() *fakeFilter { return &fakeFilter{items: map[string]bool{}} }

func (f *fakeFilter) Ready(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeFilter) Generation(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen, nil
}

func (f *fakeFilter) MarkReady(_ context.Context, gen int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return false, nil
	}
	f.ready = true
	return true, nil
}

func (f *fakeFilter) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.ready = false
	return nil
}

func (f *fakeFilter) Add(_ context.Context, item string) error {
	f.mu.Lock()
	if f.failAdd {
		f.mu.Unlock()
		return errors.New("redis down")
	}
	f.items[item] = true
	hook := f.onAdd
	f.onAdd = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeFilter) MightContain(_ context.Context, item string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[item], nil
}

type fakeListCache struct {
	data  map[string][]byte
	loads int
}

func newFakeListCache() *fakeListCache { return &fakeListCache{data: map[string][]byte{}} }

func (c *fakeListCache) GetOrLoad(_ context.Context, key string, dest interface{}, load func() (interface{}, error)) error {
	if raw, ok := c.data[key]; ok {
		return json.Unmarshal(raw, dest)
	}
	c.loads++
	v, err := load()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return json.Unmarshal(raw, dest)
}

func (c *fakeListCache) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedGetPollUsesFilterOnlyWhenReady(t *testing.T) {
	base := NewGormPollRepository(setupTestDB(t))
	filter := newFakeFilter()
	repo := NewCachedPollRepository(base, filter, nil, quietLogger())
	ctx := context.Background()

	// created behind the cache's back: the filter does not know it
	createPoll(t, base, "p1", "a", "b")

	_, err := repo.GetPoll(ctx, "p1")
	require.NoError(t, err, "an unwarmed filter must not reject")

	require.NoError(t, repo.WarmFilter(ctx))
	assert.True(t, repo.FilterReady(ctx))

	_, err = repo.GetPoll(ctx, "p1")
	require.NoError(t, err)

	_, err = repo.GetPoll(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWarmFilterStaysUntrustedAfterConcurrentReset(t *testing.T) {
	base := NewGormPollRepository(setupTestDB(t))
	filter := newFakeFilter()
	repo := NewCachedPollRepository(base, filter, nil, quietLogger())
	ctx := context.Background()
	createPoll(t, base, "p1", "a", "b")

	// a reset lands while the warm-up is still adding ids
	filter.onAdd = func() { require.NoError(t, filter.Reset(ctx)) }
	require.NoError(t, repo.WarmFilter(ctx))
	assert.False(t, repo.FilterReady(ctx))

	require.NoError(t, repo.WarmFilter(ctx))
	assert.True(t, repo.FilterReady(ctx))
	_, err := repo.GetPoll(ctx, "p1")
	require.NoError(t, err)
}

func TestCachedCreatePollResetsFilterWhenAddFails(t *testing.T) {
	base := NewGormPollRepository(setupTestDB(t))
	filter := newFakeFilter()
	repo := NewCachedPollRepository(base, filter, nil, quietLogger())
	ctx := context.Background()
	require.NoError(t, repo.WarmFilter(ctx))

	filter.failAdd = true
	poll := &models.Poll{
		Title:    "new",
		EndDate:  time.Now().UTC().Add(time.Hour),
		IsActive: true,
		Options:  []models.PollOption{{ID: "option_1", Text: "a"}, {ID: "option_2", Text: "b", Position: 1}},
	}
	require.NoError(t, repo.CreatePoll(ctx, poll))
	assert.False(t, repo.FilterReady(ctx))

	got, err := repo.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
}

func TestCachedListPollsInvalidation(t *testing.T) {
	base := NewGormPollRepository(setupTestDB(t))
	lists := newFakeListCache()
	repo := NewCachedPollRepository(base, nil, lists, quietLogger())
	ctx := context.Background()

	createPoll(t, base, "p1", "a", "b")

	polls, err := repo.ListPolls(ctx, PollFilter{})
	require.NoError(t, err)
	assert.Len(t, polls, 1)

	_, err = repo.ListPolls(ctx, PollFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, lists.loads)

	inactive := false
	_, err = repo.UpdatePoll(ctx, "p1", PollPatch{IsActive: &inactive})
	require.NoError(t, err)

	polls, err = repo.ListPolls(ctx, PollFilter{OpenAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.Empty(t, polls)
	assert.Equal(t, 2, lists.loads)

	polls, err = repo.ListPolls(ctx, PollFilter{})
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.False(t, polls[0].IsActive)
}

func TestCachedPostRepository(t *testing.T) {
	base := NewGormPostRepository(setupTestDB(t))
	lists := newFakeListCache()
	repo := NewCachedPostRepository(base, lists, quietLogger())
	ctx := context.Background()

	post := &models.Post{Title: "Exam week", Content: "Library opens 24h", Category: models.CategoryAcademic, PublishDate: "2025-05-01"}
	require.NoError(t, repo.CreatePost(ctx, post))
	require.NotEmpty(t, post.ID)

	academic, err := repo.ListPosts(ctx, models.CategoryAcademic)
	require.NoError(t, err)
	require.Len(t, academic, 1)
	assert.Equal(t, "2025-05-01", academic[0].PublishDate)

	events, err := repo.ListPosts(ctx, models.CategoryEvents)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, repo.DeletePost(ctx, post.ID))
	academic, err = repo.ListPosts(ctx, models.CategoryAcademic)
	require.NoError(t, err)
	assert.Empty(t, academic)

	assert.ErrorIs(t, repo.DeletePost(ctx, post.ID), ErrNotFound)
	_, err = repo.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
