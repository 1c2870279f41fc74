package contest

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used for local development
// (STORE_MODE=memory) and tests.
type MemoryRepository struct {
	mu sync.RWMutex

	nextID int64

	contests  map[int64]*Contest
	members   map[int64]map[int64]struct{}
	results   map[int64]map[int64]*Result
	exercises map[int64]*Exercise
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		contests:  make(map[int64]*Contest),
		members:   make(map[int64]map[int64]struct{}),
		results:   make(map[int64]map[int64]*Result),
		exercises: make(map[int64]*Exercise),
	}
}

// PutExercise seeds or replaces an exercise.
func (m *MemoryRepository) PutExercise(ex Exercise) {
	m.mu.Lock()
	m.exercises[ex.ID] = &ex
	m.mu.Unlock()
}

func (m *MemoryRepository) CreateContest(ctx context.Context, c *Contest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	copy := *c
	copy.ID = m.nextID
	if copy.CreatedAt.IsZero() {
		copy.CreatedAt = time.Now().UTC()
	}
	m.contests[copy.ID] = &copy
	c.ID = copy.ID
	c.CreatedAt = copy.CreatedAt
	return copy.ID, nil
}

func (m *MemoryRepository) GetContest(ctx context.Context, id int64) (*Contest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contests[id]
	if !ok {
		return nil, nil
	}
	copy := *c
	return &copy, nil
}

func (m *MemoryRepository) TransitionStatus(ctx context.Context, id int64, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (m *MemoryRepository) DeleteContest(ctx context.Context, id int64) error {
	m.mu.Lock()
	delete(m.contests, id)
	delete(m.members, id)
	delete(m.results, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) ListAvailable(ctx context.Context, offset, limit int) ([]*Contest, int, error) {
	m.mu.RLock()
	items := make([]*Contest, 0, len(m.contests))
	for _, c := range m.contests {
		if c.Status == StatusCreated && c.Amount > 1 {
			copy := *c
			items = append(items, &copy)
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	total := len(items)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []*Contest{}, total, nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, total, nil
}

func (m *MemoryRepository) AddMember(ctx context.Context, contestID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[contestID]
	if !ok {
		set = make(map[int64]struct{})
		m.members[contestID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *MemoryRepository) RemoveMember(ctx context.Context, contestID, userID int64) error {
	m.mu.Lock()
	if set, ok := m.members[contestID]; ok {
		delete(set, userID)
	}
	m.mu.Unlock()
	return nil
}

// Members returns the durable membership of a contest.
func (m *MemoryRepository) Members(contestID int64) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.members[contestID]))
	for id := range m.members[contestID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *MemoryRepository) SaveResult(ctx context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.results[r.ContestID]
	if !ok {
		byUser = make(map[int64]*Result)
		m.results[r.ContestID] = byUser
	}
	if _, exists := byUser[r.UserID]; exists {
		return ErrDuplicateResult
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	copy := *r
	byUser[r.UserID] = &copy
	set, ok := m.members[r.ContestID]
	if !ok {
		set = make(map[int64]struct{})
		m.members[r.ContestID] = set
	}
	set[r.UserID] = struct{}{}
	return nil
}

func (m *MemoryRepository) ListResults(ctx context.Context, contestID int64) ([]*Result, error) {
	m.mu.RLock()
	out := make([]*Result, 0, len(m.results[contestID]))
	for _, r := range m.results[contestID] {
		copy := *r
		out = append(out, &copy)
	}
	m.mu.RUnlock()
	sortResults(out)
	return out, nil
}

func (m *MemoryRepository) GetExercise(ctx context.Context, id int64) (*Exercise, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exercises[id]
	if !ok {
		return nil, nil
	}
	copy := *ex
	return &copy, nil
}

func sortResults(items []*Result) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Place.Order() != items[j].Place.Order() {
			return items[i].Place.Order() < items[j].Place.Order()
		}
		return items[i].FinishedAt.Before(items[j].FinishedAt)
	})
}
