package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// MemoryStore implements Store with the same semantics as PostgresStore.
// Useful for tests; not intended for production use.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		clock:    time.Now,
	}
}

// SetClock overrides the update timestamp source. Test hook.
func (m *MemoryStore) SetClock(clock func() time.Time) { m.clock = clock }

func (m *MemoryStore) Create(ctx context.Context, cs CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[cs.ID]; ok {
		return ErrDuplicate
	}
	for _, raw := range m.sessions {
		var other CallSession
		if err := json.Unmarshal(raw, &other); err != nil {
			return err
		}
		if other.Metadata.RequestID == cs.Metadata.RequestID {
			return ErrDuplicate
		}
	}
	raw, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	m.sessions[cs.ID] = raw
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(id)
}

func (m *MemoryStore) FindByCallSid(ctx context.Context, callSid string) (CallSession, error) {
	if callSid == "" {
		return CallSession{}, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessions {
		cs, err := m.loadLocked(id)
		if err != nil {
			return CallSession{}, err
		}
		if cs.Client.CallSid == callSid || cs.Provider.CallSid == callSid {
			return cs, nil
		}
	}
	return CallSession{}, ErrNotFound
}

func (m *MemoryStore) Mutate(ctx context.Context, id string, fn func(*CallSession) error) (CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.loadLocked(id)
	if err != nil {
		return CallSession{}, err
	}
	if err := fn(&cs); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cs, nil
		}
		return CallSession{}, err
	}
	cs.Metadata.UpdatedAt = m.clock().UTC()

	raw, err := json.Marshal(cs)
	if err != nil {
		return CallSession{}, err
	}
	m.sessions[id] = raw
	return cs, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) loadLocked(id string) (CallSession, error) {
	raw, ok := m.sessions[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	var cs CallSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return CallSession{}, err
	}
	return cs, nil
}
