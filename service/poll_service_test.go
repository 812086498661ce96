package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"student-polling-backend/cache"
	"student-polling-backend/database"
	"student-polling-backend/models"
	"student-polling-backend/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := database.SQLiteDSN(filepath.Join(t.TempDir(), "svc.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func setupRepo(t *testing.T) *repository.GormPollRepository {
	return repository.NewGormPollRepository(openTestDB(t))
}

type serviceFixture struct {
	repo        *repository.GormPollRepository
	polls       *PollService
	recorder    *VoteRecorder
	results     *memResults
	voters      *memVoters
	broadcaster *recordingBroadcaster
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &serviceFixture{
		repo:        setupRepo(t),
		results:     newMemResults(),
		voters:      newMemVoters(),
		broadcaster: &recordingBroadcaster{},
	}
	f.polls = NewPollService(f.repo, f.results, f.voters, f.broadcaster, log)
	f.recorder = NewVoteRecorder(f.repo, WithResultsCache(f.results), WithRecorderLogger(log), WithRetry(2, time.Millisecond))
	return f
}

func validPollInput() CreatePollInput {
	return CreatePollInput{
		Title:       "Class rep",
		Description: "Pick the class representative",
		EndDate:     time.Now().Add(time.Hour),
		Options:     []string{"Ana", " ", "Ben", ""},
	}
}

func TestCreatePollAssignsOptionIDs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin@school.edu")
	require.NoError(t, err)
	assert.NotEmpty(t, poll.ID)
	assert.True(t, poll.IsActive)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, "option_1", poll.Options[0].ID)
	assert.Equal(t, "Ana", poll.Options[0].Text)
	assert.Equal(t, "option_2", poll.Options[1].ID)
	assert.Equal(t, "Ben", poll.Options[1].Text)

	view, err := f.polls.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollStatusOpen, view.Status)
	assert.Equal(t, "admin@school.edu", view.CreatedBy)
}

func TestCreatePollValidation(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreatePollInput)
	}{
		{"blank title", func(in *CreatePollInput) { in.Title = "  " }},
		{"blank description", func(in *CreatePollInput) { in.Description = "" }},
		{"missing end date", func(in *CreatePollInput) { in.EndDate = time.Time{} }},
		{"end date in the past", func(in *CreatePollInput) { in.EndDate = time.Now().Add(-time.Minute) }},
		{"one real option", func(in *CreatePollInput) { in.Options = []string{"only", " "} }},
		{"title wider than column", func(in *CreatePollInput) { in.Title = strings.Repeat("t", models.MaxTitleLen+1) }},
		{"option wider than column", func(in *CreatePollInput) { in.Options[0] = strings.Repeat("o", models.MaxOptionTextLen+1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validPollInput()
			tt.mutate(&in)
			_, err := f.polls.CreatePoll(context.Background(), in, "admin")
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindInvalid, KindOf(err))
		})
	}
}

func TestVotesThroughRealStoreKeepTotals(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	_, err = f.recorder.Record(ctx, poll.ID, "s100", "option_1")
	require.NoError(t, err)
	_, err = f.recorder.Record(ctx, poll.ID, "s101", "option_2")
	require.NoError(t, err)
	_, err = f.recorder.Record(ctx, poll.ID, "s100", "option_2")
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	results, err := f.polls.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), results.TotalVotes)
	assert.InDelta(t, 50.0, results.Options[0].Percentage, 0.001)

	voted, err := f.polls.HasVoted(ctx, poll.ID, "s100")
	require.NoError(t, err)
	assert.True(t, voted)
	voted, err = f.polls.HasVoted(ctx, poll.ID, "s999")
	require.NoError(t, err)
	assert.False(t, voted)

	_, err = f.polls.HasVoted(ctx, poll.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestResultsReflectVoteAfterCachedSnapshot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	before, err := f.polls.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Zero(t, before.TotalVotes)

	_, err = f.recorder.Record(ctx, poll.ID, "s1", "option_1")
	require.NoError(t, err)

	after, err := f.polls.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.TotalVotes)
}

func TestSetActiveClosesVoting(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	updated, err := f.polls.SetActive(ctx, poll.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 1, f.broadcaster.count())

	_, err = f.recorder.Record(ctx, poll.ID, "s1", "option_1")
	assert.ErrorIs(t, err, ErrPollClosed)

	_, err = f.polls.SetActive(ctx, poll.ID, true)
	require.NoError(t, err)
	_, err = f.recorder.Record(ctx, poll.ID, "s1", "option_1")
	require.NoError(t, err)

	_, err = f.polls.SetActive(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestUpdatePollValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	blank := " "
	_, err = f.polls.UpdatePoll(ctx, poll.ID, UpdatePollInput{Title: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	title := "Class representative 2025"
	desc := "Second round"
	updated, err := f.polls.UpdatePoll(ctx, poll.ID, UpdatePollInput{Title: &title, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, desc, updated.Description)
}

func TestCloseExpiredBroadcastsClosedStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	f.polls.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	ids, err := f.polls.CloseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{poll.ID}, ids)
	require.Equal(t, 1, f.broadcaster.count())
	assert.Equal(t, models.PollStatusClosed, f.broadcaster.sent[0].Status)

	view, err := f.polls.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.False(t, view.IsActive)
}

func TestDeletePollForgetsCaches(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)
	_, err = f.recorder.Record(ctx, poll.ID, "s1", "option_1")
	require.NoError(t, err)
	require.NoError(t, f.polls.HandleVoteRecorded(ctx, models.VoteRecorded{PollID: poll.ID, VoterID: "s1"}))

	seen, _ := f.voters.HasVoted(ctx, poll.ID, "s1")
	require.True(t, seen)

	require.NoError(t, f.polls.DeletePoll(ctx, poll.ID))
	seen, _ = f.voters.HasVoted(ctx, poll.ID, "s1")
	assert.False(t, seen)
	cached, _ := f.results.Get(ctx, poll.ID)
	assert.Nil(t, cached)

	_, err = f.polls.GetPoll(ctx, poll.ID)
	assert.ErrorIs(t, err, ErrPollNotFound)
	assert.ErrorIs(t, f.polls.DeletePoll(ctx, poll.ID), ErrPollNotFound)
}

func TestHandleVoteRecordedRefreshesAndBroadcasts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	receipt, err := f.recorder.Record(ctx, poll.ID, "s7", "option_2")
	require.NoError(t, err)

	event := models.VoteRecorded{VoteID: receipt.VoteID, PollID: poll.ID, OptionID: "option_2", VoterID: "s7"}
	require.NoError(t, f.polls.HandleVoteRecorded(ctx, event))

	require.Equal(t, 1, f.broadcaster.count())
	assert.Equal(t, int64(1), f.broadcaster.sent[0].TotalVotes)
	cached, err := f.results.Get(ctx, poll.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, int64(1), cached.Options[1].Votes)

	// events for deleted polls are dropped quietly
	require.NoError(t, f.polls.HandleVoteRecorded(ctx, models.VoteRecorded{PollID: "gone", VoterID: "s7"}))
}

func TestListPollsOpenOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	open, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)
	closed, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)
	_, err = f.polls.SetActive(ctx, closed.ID, false)
	require.NoError(t, err)

	all, err := f.polls.ListPolls(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyOpen, err := f.polls.ListPolls(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	assert.Equal(t, open.ID, onlyOpen[0].ID)
	assert.Equal(t, models.PollStatusOpen, onlyOpen[0].Status)
}

func TestSlowRefreshDoesNotOverwriteNewerResults(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	first, err := f.recorder.Record(ctx, poll.ID, "s1", "option_1")
	require.NoError(t, err)

	// this consumer reads the poll after vote 1, then stalls while vote 2
	// commits and is handled by another consumer
	slow := &gatedRepo{PollRepository: f.repo}
	slowBroadcast := &recordingBroadcaster{}
	slowPolls := NewPollService(slow, f.results, f.voters, slowBroadcast, slog.New(slog.NewTextHandler(io.Discard, nil)))
	slow.onRead = func() {
		second, err := f.recorder.Record(ctx, poll.ID, "s2", "option_2")
		require.NoError(t, err)
		require.NoError(t, f.polls.HandleVoteRecorded(ctx, models.VoteRecorded{VoteID: second.VoteID, PollID: poll.ID, OptionID: "option_2", VoterID: "s2"}))
	}
	require.NoError(t, slowPolls.HandleVoteRecorded(ctx, models.VoteRecorded{VoteID: first.VoteID, PollID: poll.ID, OptionID: "option_1", VoterID: "s1"}))

	results, err := f.polls.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), results.TotalVotes)
	assert.Zero(t, slowBroadcast.count(), "the outdated tally is not pushed to subscribers")
	require.Equal(t, 1, f.broadcaster.count())
	assert.Equal(t, int64(2), f.broadcaster.sent[0].TotalVotes)
}

func TestSlowResultsReadDoesNotCacheOutdatedTally(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	poll, err := f.polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)

	slow := &gatedRepo{PollRepository: f.repo}
	reader := NewPollService(slow, f.results, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	slow.onRead = func() {
		_, err := f.recorder.Record(ctx, poll.ID, "s1", "option_1")
		require.NoError(t, err)
	}
	stale, err := reader.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Zero(t, stale.TotalVotes)

	fresh, err := f.polls.Results(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.TotalVotes)
}

func TestListReadRightAfterVoteShowsIt(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	lists := cache.NewListCache(client, cache.NewLockService(client), time.Minute, log)
	repo := repository.NewCachedPollRepository(setupRepo(t), nil, lists, log)
	polls := NewPollService(repo, nil, nil, nil, log)
	// no publisher: the listing must not depend on the event being consumed
	rec := NewVoteRecorder(repo, WithListInvalidator(repo), WithRecorderLogger(log), WithRetry(1, time.Millisecond))

	poll, err := polls.CreatePoll(ctx, validPollInput(), "admin")
	require.NoError(t, err)
	before, err := polls.ListPolls(ctx, false)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Zero(t, before[0].TotalVotes)
	require.True(t, mr.Exists(repository.PollListKey))

	_, err = rec.Record(ctx, poll.ID, "s1", "option_1")
	require.NoError(t, err)

	after, err := polls.ListPolls(ctx, false)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, int64(1), after[0].TotalVotes)
	assert.Equal(t, int64(1), after[0].Options[0].Votes)
}
