package exam

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process. The mutex makes StartAttempt's
// check-and-create atomic, which only holds for a single instance; use the
// SQL store when several instances share attempts.
type memoryStore struct {
	mu       sync.RWMutex
	tests    map[string]TestDefinition
	attempts map[string]Attempt
}

func NewInMemoryStore() Store {
	return &memoryStore{
		tests:    map[string]TestDefinition{},
		attempts: map[string]Attempt{},
	}
}

func (m *memoryStore) PutTest(_ context.Context, t TestDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[t.ID] = t
	return nil
}

func (m *memoryStore) GetTest(_ context.Context, id string) (TestDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return TestDefinition{}, ErrTestNotFound
	}
	return t, nil
}

func (m *memoryStore) StartAttempt(_ context.Context, req StartRequest) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[req.TestID]; !ok {
		return Attempt{}, false, ErrTestNotFound
	}
	used := 0
	for _, a := range m.attempts {
		if a.TestID != req.TestID || a.LearnerID != req.LearnerID {
			continue
		}
		if a.Status == StatusInProgress {
			return a.clone(), true, nil
		}
		used++
	}
	if used >= req.MaxAttempts {
		return Attempt{}, false, ErrAttemptLimitExceeded
	}
	a := Attempt{
		ID:            req.ID,
		TestID:        req.TestID,
		LearnerID:     req.LearnerID,
		AttemptNumber: used + 1,
		Status:        StatusInProgress,
		StartedAt:     req.StartedAt,
		Deadline:      req.Deadline,
		Answers:       map[string]Answer{},
		Version:       1,
	}
	m.attempts[a.ID] = a
	return a.clone(), false, nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a.clone(), nil
}

func (m *memoryStore) UpdateAttempt(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attempts[a.ID]
	if !ok {
		return ErrAttemptNotFound
	}
	if cur.Version != a.Version {
		return ErrVersionConflict
	}
	a.Version++
	m.attempts[a.ID] = a.clone()
	return nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	out := make([]Attempt, 0)
	for _, a := range m.attempts {
		if opts.TestID != "" && a.TestID != opts.TestID {
			continue
		}
		if opts.LearnerID != "" && a.LearnerID != opts.LearnerID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, a.clone())
	}
	m.mu.RUnlock()

	key := func(a Attempt) time.Time { return a.StartedAt }
	if opts.Sort == "submitted_at" {
		key = func(a Attempt) time.Time {
			if a.SubmittedAt == nil {
				return time.Time{}
			}
			return *a.SubmittedAt
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if ki.Equal(kj) {
			return out[i].ID > out[j].ID
		}
		return ki.After(kj)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Attempt{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memoryStore) Ledger(_ context.Context, testID, learnerID string) (LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := LedgerEntry{TestID: testID, LearnerID: learnerID}
	for _, a := range m.attempts {
		if a.TestID != testID || a.LearnerID != learnerID {
			continue
		}
		if a.Status == StatusInProgress {
			l.ActiveAttemptID = a.ID
			continue
		}
		l.Used++
	}
	return l, nil
}

func (m *memoryStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, a := range m.attempts {
		if a.Overdue(now) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
