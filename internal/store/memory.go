package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"backend-tagmap/internal/domain"
)

// Memory keeps everything in process. Committed tag state is immutable: a Tx
// works on a private copy that replaces the committed one on commit.
type Memory struct {
	mu    sync.RWMutex
	tags  map[string]*memTag
	locks keyedMutex
}

type memTag struct {
	tag      domain.Tag
	statuses []domain.StatusRecord
	votes    map[string]time.Time
}

func (m *memTag) clone() *memTag {
	cp := &memTag{
		tag:      m.tag,
		statuses: append([]domain.StatusRecord(nil), m.statuses...),
		votes:    make(map[string]time.Time, len(m.votes)),
	}
	for k, v := range m.votes {
		cp.votes[k] = v
	}
	return cp
}

func NewMemory() *Memory {
	return &Memory{
		tags:  make(map[string]*memTag),
		locks: keyedMutex{locks: make(map[string]*refLock)},
	}
}

func (s *Memory) committed(tagID string) (*memTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[tagID]
	return t, ok
}

func (s *Memory) CreateTag(ctx context.Context, tag domain.Tag, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(tag.ID)
	defer unlock()

	if _, exists := s.committed(tag.ID); exists {
		return fmt.Errorf("tag %s already exists", tag.ID)
	}
	tag.Status = nil
	tag.StatusHistory = nil
	return s.run(ctx, &memTag{tag: tag, votes: map[string]time.Time{}}, fn)
}

func (s *Memory) WithTag(ctx context.Context, tagID string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(tagID)
	defer unlock()

	cur, ok := s.committed(tagID)
	if !ok {
		return fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return s.run(ctx, cur.clone(), fn)
}

func (s *Memory) run(ctx context.Context, staged *memTag, fn func(Tx) error) error {
	tx := &memTx{state: staged}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	s.tags[staged.tag.ID] = staged
	s.mu.Unlock()
	return runHooks(ctx, tx.hooks)
}

func (s *Memory) GetTag(ctx context.Context, tagID string) (domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tag{}, err
	}
	cur, ok := s.committed(tagID)
	if !ok {
		return domain.Tag{}, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return cur.tag, nil
}

func (s *Memory) StatusHistory(ctx context.Context, tagID string) ([]domain.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cur, ok := s.committed(tagID)
	if !ok {
		return nil, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return append([]domain.StatusRecord(nil), cur.statuses...), nil
}

func (s *Memory) LatestStatus(ctx context.Context, tagID string) (domain.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatusRecord{}, err
	}
	cur, ok := s.committed(tagID)
	if !ok {
		return domain.StatusRecord{}, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	if len(cur.statuses) == 0 {
		return domain.StatusRecord{}, fmt.Errorf("%w: tag %s", domain.ErrEmptyLedger, tagID)
	}
	return cur.statuses[len(cur.statuses)-1], nil
}

func (s *Memory) CountVotes(ctx context.Context, tagID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cur, ok := s.committed(tagID)
	if !ok {
		return 0, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	return len(cur.votes), nil
}

func (s *Memory) HasVote(ctx context.Context, tagID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	cur, ok := s.committed(tagID)
	if !ok {
		return false, fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	_, voted := cur.votes[userID]
	return voted, nil
}

func (s *Memory) ListTags(ctx context.Context, q ListQuery) ([]domain.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := make([]*memTag, 0, len(s.tags))
	for _, t := range s.tags {
		snapshot = append(snapshot, t)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i].tag, snapshot[j].tag
		return Less(a.CreateTime, a.ID, b.CreateTime, b.ID)
	})

	var out []domain.Tag
	for _, mt := range snapshot {
		if len(mt.statuses) == 0 {
			continue
		}
		t := mt.tag
		if q.After != nil && !Less(t.CreateTime, t.ID, q.After.CreatedAt, q.After.ID) {
			continue
		}
		current := mt.statuses[len(mt.statuses)-1]
		if q.ExcludeStatus != "" && current.StatusName == q.ExcludeStatus {
			continue
		}
		if q.CreatedBy != "" && t.CreateUser.ID != q.CreatedBy {
			continue
		}
		if q.Box != nil && !q.Box.Contains(t.Point.Lat, t.Point.Lng) {
			continue
		}
		t.Status = &current
		out = append(out, t)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) IncrementViewCount(ctx context.Context, tagID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(tagID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tags[tagID]
	if !ok {
		return fmt.Errorf("%w: tag %s", domain.ErrNotFound, tagID)
	}
	next := *cur
	next.tag.ViewCount++
	s.tags[tagID] = &next
	return nil
}

type memTx struct {
	state *memTag
	hooks []func(context.Context) error
}

func (t *memTx) TagID() string { return t.state.tag.ID }

func (t *memTx) Tag(context.Context) (domain.Tag, error) { return t.state.tag, nil }

func (t *memTx) UpdateTag(_ context.Context, tag domain.Tag) error {
	tag.ID = t.state.tag.ID
	tag.ViewCount = t.state.tag.ViewCount
	tag.CreateUser = t.state.tag.CreateUser
	tag.CreateTime = t.state.tag.CreateTime
	tag.Status = nil
	tag.StatusHistory = nil
	t.state.tag = tag
	return nil
}

func (t *memTx) LatestStatus(context.Context) (domain.StatusRecord, bool, error) {
	if len(t.state.statuses) == 0 {
		return domain.StatusRecord{}, false, nil
	}
	return t.state.statuses[len(t.state.statuses)-1], true, nil
}

func (t *memTx) InsertStatus(_ context.Context, rec domain.StatusRecord) error {
	if n := len(t.state.statuses); n > 0 && !rec.CreateTime.After(t.state.statuses[n-1].CreateTime) {
		return fmt.Errorf("status record for tag %s does not advance history", t.state.tag.ID)
	}
	rec.TagID = t.state.tag.ID
	t.state.statuses = append(t.state.statuses, rec)
	return nil
}

func (t *memTx) HasVote(_ context.Context, userID string) (bool, error) {
	_, ok := t.state.votes[userID]
	return ok, nil
}

func (t *memTx) AddVote(_ context.Context, userID string, at time.Time) error {
	if _, ok := t.state.votes[userID]; !ok {
		t.state.votes[userID] = at
	}
	return nil
}

func (t *memTx) RemoveVote(_ context.Context, userID string) error {
	delete(t.state.votes, userID)
	return nil
}

func (t *memTx) CountVotes(context.Context) (int, error) { return len(t.state.votes), nil }

func (t *memTx) ResetVotes(context.Context) (int, error) {
	n := len(t.state.votes)
	t.state.votes = map[string]time.Time{}
	return n, nil
}

func (t *memTx) AfterCommit(fn func(ctx context.Context) error) {
	t.hooks = append(t.hooks, fn)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function. Entries are
// dropped once nobody holds or waits on them.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
