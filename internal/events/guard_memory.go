package events

import (
	"context"
	"fmt"
	"sync"
)

// MemoryGuard is an in-memory Guard for tests. FailNext makes the next
// MarkProcessed call return an error, to exercise the retryable path.
type MemoryGuard struct {
	mu       sync.Mutex
	seen     map[string]string
	failNext error
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]string)}
}

func (g *MemoryGuard) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *MemoryGuard) MarkProcessed(ctx context.Context, key, sessionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return false, err
	}
	if key == "" {
		return false, fmt.Errorf("event key is required")
	}
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = sessionID
	return true, nil
}

func (g *MemoryGuard) Forget(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
	return nil
}
