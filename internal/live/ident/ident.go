// Package ident produces collision-resistant identifiers for optimistic
// placeholders, idempotency keys, and outbox records.
package ident

import "github.com/google/uuid"

// OptimisticPrefix marks locally assigned placeholder ids so they can
// never collide with server-assigned ids.
const OptimisticPrefix = "opt-"

// Generator produces identifiers. The zero value uses random UUIDs;
// tests may inject a deterministic Source.
type Generator struct {
	// Source returns a fresh unique string. Nil means uuid.NewString.
	Source func() string
}

func (g *Generator) next() string {
	if g.Source != nil {
		return g.Source()
	}
	return uuid.NewString()
}

// NewOptimisticID returns a placeholder id for a not-yet-confirmed item.
func (g *Generator) NewOptimisticID() string {
	return OptimisticPrefix + g.next()
}

// NewIdempotencyKey returns a key the server uses to recognize a
// retransmitted duplicate of the same logical operation.
func (g *Generator) NewIdempotencyKey() string {
	return g.next()
}

// NewQueueID returns an id for an outbox record.
func (g *Generator) NewQueueID() string {
	return g.next()
}

// IsOptimistic reports whether id is a locally assigned placeholder id.
func IsOptimistic(id string) bool {
	return len(id) >= len(OptimisticPrefix) && id[:len(OptimisticPrefix)] == OptimisticPrefix
}
