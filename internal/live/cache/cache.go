// Package cache provides the scoped persistent cache for live session
// state.
//
// Entries are keyed per (feature, sessionId) and replaced wholesale on
// every write. Staleness is advisory metadata computed from the entry's
// write time; the cache never evicts on its own. Writes are best-effort:
// storage failures are logged and swallowed so the in-memory state stays
// authoritative for the current tab.
package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/store"
)

// Codec customizes how payloads are persisted so non-plain-data shapes
// can round-trip. The zero value is not usable; use DefaultCodec.
type Codec struct {
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(data []byte, v any) error
}

// DefaultCodec persists payloads as JSON.
func DefaultCodec() Codec {
	return Codec{Marshal: json.Marshal, Unmarshal: json.Unmarshal}
}

// Entry is a cached snapshot for one (feature, sessionId) scope.
type Entry struct {
	// Raw is the serialized payload as written.
	Raw []byte

	// CachedAt is when the snapshot was written.
	CachedAt time.Time

	codec Codec
}

// Decode unmarshals the cached payload into v.
func (e *Entry) Decode(v any) error {
	if err := e.codec.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return nil
}

// Stale reports whether the entry is older than staleAfter as of now.
// Staleness is advisory; stale entries are still returned by Get.
func (e *Entry) Stale(staleAfter time.Duration, now time.Time) bool {
	return now.Sub(e.CachedAt) > staleAfter
}

// Config holds cache configuration.
type Config struct {
	// Codec for payload serialization (default: JSON).
	Codec Codec

	// Logger for swallowed write failures (default: stderr logger).
	Logger *log.Logger

	// Now returns the current time. Overridable for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Codec:  DefaultCodec(),
		Logger: log.New(os.Stderr, "[cache] ", log.LstdFlags),
		Now:    time.Now,
	}
}

// Cache reads and writes scoped snapshots through the durable store.
type Cache struct {
	store  *store.Store
	config *Config
}

// New creates a Cache over the given store.
func New(st *store.Store, config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Codec.Marshal == nil || config.Codec.Unmarshal == nil {
		config.Codec = DefaultCodec()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Cache{store: st, config: config}
}

// Key returns the storage key for a (feature, sessionId) scope.
func Key(feature, sessionID string) string {
	return fmt.Sprintf("socket_cache_%s_%s", feature, sessionID)
}

// Get returns the cached entry for the scope, or nil when absent.
// Read failures are returned; the caller decides whether a cold start is
// acceptable.
func (c *Cache) Get(feature, sessionID string) (*Entry, error) {
	raw, cachedAt, err := c.store.Get(Key(feature, sessionID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return &Entry{Raw: raw, CachedAt: cachedAt, codec: c.config.Codec}, nil
}

// Put replaces the scope's snapshot wholesale. Best-effort: failures are
// logged and swallowed, never surfaced to the caller.
func (c *Cache) Put(feature, sessionID string, payload any) {
	raw, err := c.config.Codec.Marshal(payload)
	if err != nil {
		c.config.Logger.Printf("WARNING: failed to serialize cache payload for %s/%s: %v", feature, sessionID, err)
		return
	}
	if err := c.store.Put(Key(feature, sessionID), raw, c.config.Now()); err != nil {
		c.config.Logger.Printf("WARNING: failed to persist cache for %s/%s: %v", feature, sessionID, err)
	}
}

// Clear removes the scope's snapshot. Best-effort like Put.
func (c *Cache) Clear(feature, sessionID string) {
	if err := c.store.Delete(Key(feature, sessionID)); err != nil {
		c.config.Logger.Printf("WARNING: failed to clear cache for %s/%s: %v", feature, sessionID, err)
	}
}
