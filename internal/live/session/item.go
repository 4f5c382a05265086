package session

import (
	"encoding/json"
	"time"
)

// Item is the generic shape of a synced collection entry: a chat message,
// poll, question, or agenda entry.
//
// ID is server-assigned once confirmed. Before confirmation the local
// OptimisticID doubles as the ID and as the correlation key between the
// placeholder, its queued outbox event, and the eventual server copy.
type Item struct {
	ID           string `json:"id"`
	OptimisticID string `json:"optimisticId,omitempty"`

	// Optimistic marks a locally originated item not yet confirmed by the
	// server. Pending marks an item whose mutation is still queued for
	// transmission.
	Optimistic bool `json:"isOptimistic"`
	Pending    bool `json:"isPending"`

	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Edited    bool           `json:"edited,omitempty"`
	Deleted   bool           `json:"deleted,omitempty"`
	Reactions map[string]int `json:"reactions,omitempty"`

	// Extra carries feature-specific fields (poll options, agenda slots)
	// opaquely through the engine.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// Clone returns a deep copy of the item, used to take rollback snapshots
// before an optimistic transform.
func (it Item) Clone() Item {
	out := it
	if it.Reactions != nil {
		out.Reactions = make(map[string]int, len(it.Reactions))
		for k, v := range it.Reactions {
			out.Reactions[k] = v
		}
	}
	if it.Extra != nil {
		out.Extra = append(json.RawMessage(nil), it.Extra...)
	}
	return out
}
