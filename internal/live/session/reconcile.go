package session

import "time"

// DefaultDedupWindow is how close two same-author, same-content items'
// timestamps must be for the incoming one to count as a duplicate
// broadcast.
const DefaultDedupWindow = 5 * time.Second

// Reconcile merges an inbound authoritative item into the existing
// collection without duplication or loss. It is a pure function: the
// input slice is never mutated, and the returned slice is the new
// collection.
//
// The tie-break order is fixed:
//  1. An existing item with the same server id is overwritten in place
//     (covers re-delivery of the same broadcast).
//  2. An existing item still carrying an unresolved optimistic marker
//     that matches on (content, authorId) is replaced in place, so the
//     confirmed copy keeps its original list position.
//  3. An existing item matching on (content, authorId) with a timestamp
//     within window of the incoming item means the incoming item is a
//     duplicate broadcast: it is discarded.
//  4. Otherwise the item is genuinely new and is appended, preserving
//     arrival order.
func Reconcile(existing []Item, incoming Item, window time.Duration) []Item {
	if window <= 0 {
		window = DefaultDedupWindow
	}

	for i, it := range existing {
		if it.ID != "" && it.ID == incoming.ID {
			return replaceAt(existing, i, incoming)
		}
	}

	for i, it := range existing {
		if it.Optimistic && it.Content == incoming.Content && it.AuthorID == incoming.AuthorID {
			return replaceAt(existing, i, incoming)
		}
	}

	for _, it := range existing {
		if it.Content == incoming.Content && it.AuthorID == incoming.AuthorID &&
			absDuration(it.Timestamp.Sub(incoming.Timestamp)) <= window {
			return append([]Item(nil), existing...)
		}
	}

	out := make([]Item, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, incoming)
}

func replaceAt(items []Item, i int, incoming Item) []Item {
	out := append([]Item(nil), items...)
	out[i] = incoming
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
