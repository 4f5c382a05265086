// Package outbox provides the durable FIFO queue of not-yet-acknowledged
// outbound mutations, scoped per (feature, sessionId).
//
// Enqueue is fire-and-forget: the caller is never blocked on disk write
// completion, and storage failures degrade silently (the in-memory state
// remains correct for the current tab). A single writer goroutine
// preserves insertion order. Draining replays queued events strictly in
// FIFO order and is single-flight per scope.
package outbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/store"
)

// Handler performs the actual transmission of one queued event during a
// drain. Returning (true, nil) removes the event from the queue; (false,
// nil) stops the drain leaving the event and everything behind it queued.
type Handler func(ctx context.Context, ev store.QueuedEvent) (bool, error)

// Config holds outbox configuration.
type Config struct {
	// WriteBuffer is the capacity of the async write queue (default: 256).
	WriteBuffer int

	// Logger for swallowed storage failures (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WriteBuffer: 256,
		Logger:      log.New(os.Stderr, "[outbox] ", log.LstdFlags),
	}
}

// Outbox queues mutations durably while the session is disconnected or
// unjoined.
type Outbox struct {
	store  *store.Store
	config *Config

	writes chan writeReq
	wg     sync.WaitGroup

	mu       sync.Mutex
	draining map[string]bool
	closed   bool
}

// writeReq is either an event append or, with a nil event, a flush barrier.
type writeReq struct {
	ev   *store.QueuedEvent
	done chan struct{}
}

// New creates an Outbox over the given store and starts its writer.
func New(st *store.Store, config *Config) *Outbox {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WriteBuffer <= 0 {
		config.WriteBuffer = 256
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}

	o := &Outbox{
		store:    st,
		config:   config,
		writes:   make(chan writeReq, config.WriteBuffer),
		draining: make(map[string]bool),
	}

	o.wg.Add(1)
	go o.writeLoop()
	return o
}

// writeLoop serializes appends so FIFO order matches enqueue order.
func (o *Outbox) writeLoop() {
	defer o.wg.Done()

	for req := range o.writes {
		if req.ev != nil {
			if _, err := o.store.AppendOutbox(*req.ev); err != nil {
				o.config.Logger.Printf("WARNING: failed to persist queued event %s: %v", req.ev.ID, err)
			}
		}
		if req.done != nil {
			close(req.done)
		}
	}
}

// Enqueue appends ev durably and returns immediately. Errors never reach
// the caller; a full write buffer falls back to a blocking hand-off so
// order is still preserved. The mutex is held across the channel send so
// a concurrent Close cannot close the channel underneath it.
func (o *Outbox) Enqueue(ev store.QueuedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.config.Logger.Printf("WARNING: enqueue after close, dropping event %s", ev.ID)
		return
	}
	o.writes <- writeReq{ev: &ev}
}

// Flush blocks until all previously enqueued writes have been persisted.
func (o *Outbox) Flush() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	done := make(chan struct{})
	o.writes <- writeReq{done: done}
	o.mu.Unlock()

	<-done
}

// Pending returns the number of durable queued events for scope.
func (o *Outbox) Pending(scope string) (int, error) {
	o.Flush()
	return o.store.CountOutbox(scope)
}

// Drain replays every queued event for scope through handler in FIFO
// insertion order, removing each only after handler reports success.
//
// Draining is not reentrant per scope: a second Drain while one is
// in-flight for the same scope returns immediately with no error.
func (o *Outbox) Drain(ctx context.Context, scope string, handler Handler) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("outbox is closed")
	}
	if o.draining[scope] {
		o.mu.Unlock()
		return nil
	}
	o.draining[scope] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.draining, scope)
		o.mu.Unlock()
	}()

	o.Flush()

	events, err := o.store.ListOutbox(scope)
	if err != nil {
		return fmt.Errorf("failed to list queued events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	o.config.Logger.Printf("draining %d queued events for %s", len(events), scope)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		ok, err := handler(ctx, ev)
		if err != nil {
			return fmt.Errorf("drain handler failed for event %s: %w", ev.ID, err)
		}
		if !ok {
			o.config.Logger.Printf("drain stopped at event %s, %s still queued", ev.ID, scope)
			return nil
		}

		if err := o.store.RemoveOutbox(ev.Seq); err != nil {
			// The event was transmitted; its idempotency key protects
			// against the replay this leaves behind.
			o.config.Logger.Printf("WARNING: failed to remove drained event %s: %v", ev.ID, err)
		}
	}

	return nil
}

// Close stops the writer after persisting any buffered appends. The
// channel is closed under the mutex, after which no sender can reach it.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.writes)
	o.mu.Unlock()

	o.wg.Wait()
}
