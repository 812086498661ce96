package service

import (
	"context"
	"sync"
	"time"

	"student-polling-backend/models"
	"student-polling-backend/repository"
)

// fakeStore is an in-memory VoteStore whose transactions are serialised and
// rolled back on error.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	polls map[string]*models.Poll
	votes map[string]models.Vote

	insertErrs []error // returned by successive InsertVote calls before doing anything
	commitErrs []error // returned by successive RunInTx calls after a successful commit
	inserts    int
}

func newFakeStore(polls ...*models.Poll) *fakeStore {
	s := &fakeStore{polls: map[string]*models.Poll{}, votes: map[string]models.Vote{}}
	for _, p := range polls {
		s.polls[p.ID] = p
	}
	return s
}

func voteKey(pollID, voterID string) string { return pollID + "|" + voterID }

func copyPoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	return &cp
}

func (s *fakeStore) GetPoll(_ context.Context, pollID string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPoll(p), nil
}

func (s *fakeStore) FindVote(_ context.Context, pollID, voterID string) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.votes[voteKey(pollID, voterID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (s *fakeStore) InsertVote(_ context.Context, vote *models.Vote) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return "", err
		}
	}
	key := voteKey(vote.PollID, vote.VoterID)
	if _, dup := s.votes[key]; dup {
		return "", repository.ErrDuplicateVote
	}
	s.votes[key] = *vote
	return vote.ID, nil
}

func (s *fakeStore) AtomicIncrement(_ context.Context, pollID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range p.Options {
		if p.Options[i].ID == optionID {
			p.Options[i].Votes++
			p.TotalVotes++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *fakeStore) RunInTx(_ context.Context, fn func(repository.VoteStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	pollsBefore := map[string]*models.Poll{}
	for id, p := range s.polls {
		pollsBefore[id] = copyPoll(p)
	}
	votesBefore := map[string]models.Vote{}
	for k, v := range s.votes {
		votesBefore[k] = v
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.polls, s.votes = pollsBefore, votesBefore
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStore) poll(id string) *models.Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyPoll(s.polls[id])
}

func (s *fakeStore) voteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.VoteRecorded
	err    error
}

func (p *recordingPublisher) PublishVoteRecorded(_ context.Context, e models.VoteRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type observation struct {
	kind     ErrorKind
	attempts int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (o *recordingObserver) ObserveVote(kind ErrorKind, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.obs = append(o.obs, observation{kind, attempts})
}

func (o *recordingObserver) last() observation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.obs[len(o.obs)-1]
}

type memResults struct {
	mu       sync.Mutex
	data     map[string]models.PollResults
	versions map[string]int64
}

func newMemResults() *memResults {
	return &memResults{data: map[string]models.PollResults{}, versions: map[string]int64{}}
}

func (m *memResults) Get(_ context.Context, pollID string) (*models.PollResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[pollID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memResults) Version(_ context.Context, pollID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[pollID], nil
}

func (m *memResults) SetIfVersion(_ context.Context, r *models.PollResults, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[r.PollID] != version {
		return false, nil
	}
	m.data[r.PollID] = *r
	return true, nil
}

// set seeds a snapshot regardless of version.
func (m *memResults) set(r *models.PollResults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.PollID] = *r
}

func (m *memResults) Invalidate(_ context.Context, pollID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[pollID]++
	delete(m.data, pollID)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateLists(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

// gatedRepo runs onRead once, right after the next GetPoll has read the store.
type gatedRepo struct {
	repository.PollRepository
	mu     sync.Mutex
	onRead func()
}

func (g *gatedRepo) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	poll, err := g.PollRepository.GetPoll(ctx, pollID)
	g.mu.Lock()
	hook := g.onRead
	g.onRead = nil
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return poll, err
}

type memVoters struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemVoters() *memVoters { return &memVoters{seen: map[string]bool{}} }

func (m *memVoters) MarkVoted(_ context.Context, pollID, voterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[voteKey(pollID, voterID)] = true
	return nil
}

func (m *memVoters) HasVoted(_ context.Context, pollID, voterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[voteKey(pollID, voterID)], nil
}

func (m *memVoters) Forget(_ context.Context, pollID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.seen {
		if len(k) > len(pollID) && k[:len(pollID)+1] == pollID+"|" {
			delete(m.seen, k)
		}
	}
	return nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []models.PollResults
}

func (b *recordingBroadcaster) BroadcastResults(_ string, r *models.PollResults) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, *r)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}
