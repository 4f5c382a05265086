package session

import (
	"fmt"
	"sync"
)

// ErrScopeInUse is returned by New when another live session already owns
// the requested (feature, sessionId) scope.
var ErrScopeInUse = fmt.Errorf("a session already owns this scope")

// Registry enforces that at most one live session owns a given
// (feature, sessionId) scope at a time. It holds no behavior beyond the
// creation guard, so cache writes within a scope stay last-writer-wins
// safe without locking.
type Registry struct {
	mu     sync.Mutex
	scopes map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]bool)}
}

func (r *Registry) acquire(scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scopes[scope] {
		return false
	}
	r.scopes[scope] = true
	return true
}

func (r *Registry) release(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scopes, scope)
}
