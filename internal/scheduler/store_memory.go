package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

func (m *MemoryStore) Schedule(ctx context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Task
	for _, t := range m.tasks {
		if t.Status == TaskPending && !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for _, t := range due {
		t.Status = TaskClaimed
		m.tasks[t.ID] = t
	}
	return due, nil
}

func (m *MemoryStore) Finish(ctx context.Context, id string, status TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *MemoryStore) CancelForSession(ctx context.Context, sessionID string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.SessionID == sessionID && t.Kind == kind && t.Status == TaskPending {
			t.Status = TaskCancelled
			m.tasks[id] = t
		}
	}
	return nil
}

// Pending returns pending tasks for assertions in tests.
func (m *MemoryStore) Pending() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if t.Status == TaskPending {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
