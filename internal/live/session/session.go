// Package session implements the local-first synchronization engine shared
// by the chat, Q&A, poll, and agenda features.
//
// A Session owns the real-time connection for one (feature, sessionId)
// scope: the join handshake, the live item collection, the reconciliation
// of optimistic and authoritative copies, and the draining of the offline
// outbox. Mutations always apply optimistically first so the UI never
// blocks on connectivity; the server's direct acknowledgment then
// confirms, rolls back, or (on timeout) presumes success.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/cache"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/ident"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/netmon"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/outbox"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/store"
	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/transport"
)

// Phase is the session's position in the join state machine.
type Phase int

const (
	// PhaseIdle means the session has not started or has been left.
	PhaseIdle Phase = iota
	// PhaseConnecting means the transport connection is being established
	// or re-established.
	PhaseConnecting
	// PhaseConnected means the transport is up but the server has not yet
	// admitted the session.
	PhaseConnected
	// PhaseJoining means the join request is in flight.
	PhaseJoining
	// PhaseJoined means the server admitted the session; mutations are
	// transmitted live.
	PhaseJoined
	// PhaseAccessDenied means the server rejected the join with a
	// permission error. Terminal for the attempt; Rejoin retries.
	PhaseAccessDenied
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	case PhaseAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// ErrFeatureClosed is returned by mutations while the server has toggled
// the feature closed for new activity.
var ErrFeatureClosed = fmt.Errorf("feature is closed for new activity")

// ErrSessionClosed is returned by operations on a left session.
var ErrSessionClosed = fmt.Errorf("session has been left")

// ErrItemNotFound is returned by mutations referencing an unknown item.
var ErrItemNotFound = fmt.Errorf("item not found")

// Config holds everything a Session depends on.
type Config struct {
	// Feature is the domain feature sharing this engine: "chat", "qa",
	// "polls", or "agenda".
	Feature string

	// SessionID and EventID scope the join request.
	SessionID string
	EventID   string

	// AuthorID stamps locally originated items.
	AuthorID string

	// Transport carries requests and broadcasts. Required.
	Transport transport.Transport

	// Outbox queues mutations while disconnected or unjoined. Required.
	Outbox *outbox.Outbox

	// Cache persists item snapshots for instant next-load display.
	// Optional.
	Cache *cache.Cache

	// Monitor receives online/offline reports derived from transport
	// connect/disconnect hooks. Optional.
	Monitor *netmon.Monitor

	// Registry enforces one live session per scope. Optional.
	Registry *Registry

	// IDs generates optimistic ids and idempotency keys.
	IDs *ident.Generator

	// PersistDebounce is how long item changes are batched before a cache
	// write (default: 1s).
	PersistDebounce time.Duration

	// DedupWindow is the fuzzy-duplicate timestamp window for
	// reconciliation (default: 5s).
	DedupWindow time.Duration

	// Logger for session activity (default: stderr logger).
	Logger *log.Logger

	// Now returns the current time. Overridable for tests.
	Now func() time.Time
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId"`
}

type leavePayload struct {
	SessionID string `json:"sessionId"`
}

type mutationPayload struct {
	SessionID      string          `json:"sessionId"`
	ItemID         string          `json:"itemId,omitempty"`
	Content        string          `json:"content,omitempty"`
	Reaction       string          `json:"reaction,omitempty"`
	OptimisticID   string          `json:"optimisticId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// Session is the synchronization engine for one (feature, sessionId)
// scope.
type Session struct {
	config *Config
	scope  string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	phase        Phase
	items        []Item
	open         bool
	lastErr      error
	persistTimer *time.Timer
	rollbacks    map[string]Item // idempotency key -> pre-mutation snapshot
	started      bool
	closed       bool

	inflight sync.WaitGroup
}

// New creates a Session and wires its transport handlers. Call Start to
// connect. Fails with ErrScopeInUse when the registry already holds a
// live session for the scope.
func New(config *Config) (*Session, error) {
	if config.Feature == "" {
		return nil, fmt.Errorf("feature cannot be empty")
	}
	if config.SessionID == "" {
		return nil, fmt.Errorf("sessionID cannot be empty")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if config.Outbox == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	if config.IDs == nil {
		config.IDs = &ident.Generator{}
	}
	if config.PersistDebounce == 0 {
		config.PersistDebounce = time.Second
	}
	if config.DedupWindow == 0 {
		config.DedupWindow = DefaultDedupWindow
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	scope := config.Feature + ":" + config.SessionID
	if config.Registry != nil && !config.Registry.acquire(scope) {
		return nil, ErrScopeInUse
	}

	s := &Session{
		config:    config,
		scope:     scope,
		phase:     PhaseIdle,
		open:      true,
		rollbacks: make(map[string]Item),
	}

	t := config.Transport
	t.OnConnect(s.handleConnect)
	t.OnDisconnect(s.handleDisconnect)
	t.Handle(transport.EventConnectionAcknowledged, s.handleConnectionAck)
	t.Handle(transport.HistoryEvent(config.Feature), s.handleHistory)
	t.Handle(transport.NewItemEvent(config.Feature), s.handleNewItem)
	t.Handle(transport.UpdatedItemEvent(config.Feature), s.handleUpdatedItem)
	t.Handle(transport.DeletedItemEvent(config.Feature), s.handleDeletedItem)
	t.Handle(transport.StatusChangedEvent(config.Feature), s.handleStatusChanged)
	t.Handle(transport.EventSystemError, s.handleSystemError)
	t.Handle(transport.EventConnectError, s.handleSystemError)

	return s, nil
}

// Scope returns the session's (feature, sessionId) scope key.
func (s *Session) Scope() string {
	return s.scope
}

// Start primes the item collection from the persistent cache and
// establishes the transport connection. The join handshake proceeds
// asynchronously once the server acknowledges the connection.
//
// A failed initial dial returns the session to idle; the transport only
// redials on its own after one successful connection, so callers retry
// by invoking Start again. Cached items stay primed either way.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Cached items give the UI immediate, possibly stale, data before any
	// connection exists. The post-join history snapshot replaces them.
	if s.config.Cache != nil {
		if entry, err := s.config.Cache.Get(s.config.Feature, s.config.SessionID); err != nil {
			s.config.Logger.Printf("WARNING: failed to read cached items: %v", err)
		} else if entry != nil {
			var cached []Item
			if err := entry.Decode(&cached); err != nil {
				s.config.Logger.Printf("WARNING: failed to decode cached items: %v", err)
			} else {
				s.items = cached
			}
		}
	}

	s.phase = PhaseConnecting
	s.mu.Unlock()

	if err := s.config.Transport.Connect(s.ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.phase = PhaseIdle
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
		s.setErr(err)
		return err
	}
	return nil
}

// handleConnect reacts to a (re)established transport connection.
func (s *Session) handleConnect() {
	if s.config.Monitor != nil {
		s.config.Monitor.ReportOnline()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase == PhaseAccessDenied {
		return
	}
	s.phase = PhaseConnected
}

// handleDisconnect reacts to a dropped connection. The transport redials
// on its own; the session only reflects the state.
func (s *Session) handleDisconnect() {
	if s.config.Monitor != nil {
		s.config.Monitor.ReportOffline()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase == PhaseAccessDenied || s.phase == PhaseIdle {
		return
	}
	s.phase = PhaseConnecting
}

// handleConnectionAck gates the join handshake: the server is not ready
// for domain requests until this arrives.
func (s *Session) handleConnectionAck(json.RawMessage) {
	s.mu.Lock()
	if s.closed || s.phase == PhaseAccessDenied || s.phase == PhaseJoining || s.phase == PhaseJoined {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.join()
	}()
}

// join sends the scoped join request and transitions on its direct
// response.
func (s *Session) join() {
	s.mu.Lock()
	if s.closed || s.phase == PhaseJoining || s.phase == PhaseJoined {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseJoining
	ctx := s.ctx
	s.mu.Unlock()

	ack := s.config.Transport.Request(ctx, transport.EventSessionJoin,
		joinPayload{SessionID: s.config.SessionID, EventID: s.config.EventID})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch ack.Outcome {
	case transport.OutcomeSuccess:
		var resp transport.Response
		if err := ack.Decode(&resp); err == nil {
			if isOpen, ok := resp.Session[s.config.Feature+"Open"]; ok {
				s.open = isOpen
			}
		}
		s.phase = PhaseJoined
		s.config.Logger.Printf("joined %s (open=%v)", s.scope, s.open)
		s.mu.Unlock()

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.drainOutbox()
		}()

	case transport.OutcomeFailure:
		var resp transport.Response
		_ = ack.Decode(&resp)
		if resp.Error != nil && isPermissionCode(resp.Error.StatusCode) {
			s.phase = PhaseAccessDenied
			s.lastErr = fmt.Errorf("access denied: %s", resp.Error.Message)
			s.config.Logger.Printf("join rejected for %s: %v", s.scope, s.lastErr)
		} else {
			// Retryable: stay connected so the caller can rejoin.
			s.phase = PhaseConnected
			s.lastErr = fmt.Errorf("join failed: %w", ack.Err)
		}
		s.mu.Unlock()

	case transport.OutcomeTimeout:
		s.phase = PhaseConnected
		s.lastErr = fmt.Errorf("join timed out: %w", ack.Err)
		s.mu.Unlock()
	}
}

func isPermissionCode(code int) bool {
	return code == 401 || code == 403
}

// Rejoin retries the join handshake after a retryable failure or an
// access denial (e.g. once the user's permissions changed).
func (s *Session) Rejoin() {
	s.mu.Lock()
	if s.closed || (s.phase != PhaseConnected && s.phase != PhaseAccessDenied) {
		s.mu.Unlock()
		return
	}
	if s.phase == PhaseAccessDenied {
		s.phase = PhaseConnected
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.join()
	}()
}

// handleHistory replaces the collection wholesale with the one-time
// post-join snapshot. Authoritative initial state always wins over
// cached items displayed before the join.
func (s *Session) handleHistory(data json.RawMessage) {
	var snapshot []Item
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.config.Logger.Printf("WARNING: failed to decode history snapshot: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.items = snapshot
	s.schedulePersistLocked()
}

// handleNewItem reconciles an authoritative new-item broadcast into the
// collection.
func (s *Session) handleNewItem(data json.RawMessage) {
	var incoming Item
	if err := json.Unmarshal(data, &incoming); err != nil {
		s.config.Logger.Printf("WARNING: failed to decode item broadcast: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.items = Reconcile(s.items, incoming, s.config.DedupWindow)
	s.schedulePersistLocked()
}

// handleUpdatedItem applies a non-self-originated update directly by id.
func (s *Session) handleUpdatedItem(data json.RawMessage) {
	var incoming Item
	if err := json.Unmarshal(data, &incoming); err != nil {
		s.config.Logger.Printf("WARNING: failed to decode update broadcast: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.items {
		if s.items[i].ID == incoming.ID {
			s.items[i] = incoming
			s.schedulePersistLocked()
			return
		}
	}
}

// handleDeletedItem removes an item by id on the server's say-so.
func (s *Session) handleDeletedItem(data json.RawMessage) {
	var payload struct {
		ID     string `json:"id"`
		ItemID string `json:"itemId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		s.config.Logger.Printf("WARNING: failed to decode delete broadcast: %v", err)
		return
	}
	id := payload.ID
	if id == "" {
		id = payload.ItemID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			s.schedulePersistLocked()
			return
		}
	}
}

// handleStatusChanged toggles whether new mutations are accepted.
func (s *Session) handleStatusChanged(data json.RawMessage) {
	var change transport.StatusChange
	if err := json.Unmarshal(data, &change); err != nil {
		s.config.Logger.Printf("WARNING: failed to decode status broadcast: %v", err)
		return
	}
	if change.SessionID != s.config.SessionID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.open = change.IsOpen
	s.config.Logger.Printf("%s open=%v", s.scope, s.open)
}

// handleSystemError surfaces a generic transport failure as the sticky
// session error.
func (s *Session) handleSystemError(data json.RawMessage) {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &payload)
	if payload.Message == "" {
		payload.Message = "connection error"
	}
	s.setErr(fmt.Errorf("%s", payload.Message))
}

// Send issues a new item. The optimistic placeholder is appended and
// returned immediately; transmission (or queueing while unjoined)
// proceeds in the background.
func (s *Session) Send(content string, extra json.RawMessage) (Item, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Item{}, ErrSessionClosed
	}
	if !s.open {
		s.mu.Unlock()
		return Item{}, ErrFeatureClosed
	}

	optID := s.config.IDs.NewOptimisticID()
	idem := s.config.IDs.NewIdempotencyKey()
	joined := s.phase == PhaseJoined

	item := Item{
		ID:           optID,
		OptimisticID: optID,
		Optimistic:   true,
		Pending:      true,
		AuthorID:     s.config.AuthorID,
		Content:      content,
		Timestamp:    s.config.Now(),
		Extra:        extra,
	}
	s.items = append(s.items, item)
	s.schedulePersistLocked()

	payload := mutationPayload{
		SessionID:      s.config.SessionID,
		Content:        content,
		OptimisticID:   optID,
		IdempotencyKey: idem,
		Extra:          extra,
	}
	event := transport.SendEvent(s.config.Feature)

	if !joined {
		s.enqueueLocked(event, payload, idem, optID)
		s.mu.Unlock()
		return item, nil
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if s.transmit(event, payload, optID, nil) == transport.OutcomeTransportError {
			s.mu.Lock()
			if !s.closed {
				s.enqueueLocked(event, payload, idem, optID)
			}
			s.mu.Unlock()
		}
	}()
	return item, nil
}

// Edit replaces an item's content optimistically. A failed transmission
// restores the exact prior snapshot.
func (s *Session) Edit(id, content string) error {
	return s.mutate(transport.EditEvent(s.config.Feature), id, func(it *Item) {
		it.Content = content
		it.Edited = true
	}, func(p *mutationPayload) {
		p.Content = content
	})
}

// Delete tombstones an item optimistically. The authoritative delete
// broadcast removes it outright.
func (s *Session) Delete(id string) error {
	return s.mutate(transport.DeleteEvent(s.config.Feature), id, func(it *Item) {
		it.Deleted = true
	}, nil)
}

// React adds a reaction to an item optimistically.
func (s *Session) React(id, reaction string) error {
	return s.mutate(transport.ReactEvent(s.config.Feature), id, func(it *Item) {
		if it.Reactions == nil {
			it.Reactions = make(map[string]int)
		}
		it.Reactions[reaction]++
	}, func(p *mutationPayload) {
		p.Reaction = reaction
	})
}

// mutate runs the shared optimistic-apply-then-transmit-or-enqueue path
// for in-place transforms (edit, delete, react).
func (s *Session) mutate(event, id string, apply func(*Item), fill func(*mutationPayload)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.open {
		s.mu.Unlock()
		return ErrFeatureClosed
	}

	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrItemNotFound
	}

	// Rollback is a full value restore, not a diff.
	snapshot := s.items[idx].Clone()
	apply(&s.items[idx])

	idem := s.config.IDs.NewIdempotencyKey()
	joined := s.phase == PhaseJoined
	optID := s.items[idx].OptimisticID
	s.items[idx].Pending = true
	s.schedulePersistLocked()

	payload := mutationPayload{
		SessionID:      s.config.SessionID,
		ItemID:         id,
		IdempotencyKey: idem,
	}
	if fill != nil {
		fill(&payload)
	}

	if !joined {
		s.rollbacks[idem] = snapshot
		s.enqueueLocked(event, payload, idem, optID)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if s.transmit(event, payload, id, &snapshot) == transport.OutcomeTransportError {
			s.mu.Lock()
			if !s.closed {
				s.rollbacks[idem] = snapshot
				s.enqueueLocked(event, payload, idem, optID)
			}
			s.mu.Unlock()
		}
	}()
	return nil
}

// enqueueLocked writes a queued event to the outbox. Callers hold mu.
func (s *Session) enqueueLocked(event string, payload mutationPayload, idem, optimisticID string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.config.Logger.Printf("WARNING: failed to marshal queued mutation: %v", err)
		return
	}
	s.config.Outbox.Enqueue(store.QueuedEvent{
		ID:             s.config.IDs.NewQueueID(),
		ScopeKey:       s.scope,
		EventName:      event,
		Payload:        raw,
		IdempotencyKey: idem,
		OptimisticID:   optimisticID,
		CreatedAt:      s.config.Now(),
	})
}

// transmit runs the transmission discipline for one mutation. targetID
// correlates the affected item; a nil rollback means send semantics
// (remove the placeholder on explicit failure), otherwise the snapshot
// is restored wholesale. A transport error leaves the item untouched:
// the request never reached the server, and the caller requeues it.
func (s *Session) transmit(event string, payload any, targetID string, rollback *Item) transport.Outcome {
	ack := s.config.Transport.Request(s.ctx, event, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ack.Outcome
	}

	idx := s.indexOfLocked(targetID)

	switch ack.Outcome {
	case transport.OutcomeSuccess:
		if idx < 0 {
			return ack.Outcome
		}
		var resp transport.Response
		_ = ack.Decode(&resp)
		if resp.ItemID != "" {
			s.items[idx].ID = resp.ItemID
		}
		s.items[idx].Optimistic = false
		s.items[idx].Pending = false

	case transport.OutcomeFailure:
		s.lastErr = ack.Err
		if idx < 0 {
			return ack.Outcome
		}
		if rollback == nil {
			s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
		} else {
			s.items[idx] = rollback.Clone()
		}

	case transport.OutcomeTimeout:
		// Presumed success: keep the locally constructed value rather
		// than blocking the UI or rolling back a send that may have
		// landed.
		if idx < 0 {
			return ack.Outcome
		}
		s.items[idx].Optimistic = false
		s.items[idx].Pending = false

	case transport.OutcomeTransportError:
		s.config.Logger.Printf("transmission of %s never left the client, will retry: %v", event, ack.Err)
		return ack.Outcome
	}

	s.schedulePersistLocked()
	return ack.Outcome
}

// isSendEvent reports whether event creates a new item (as opposed to
// transforming an existing one).
func isSendEvent(event string) bool {
	return strings.HasSuffix(event, ".item.send")
}

// drainOutbox replays queued mutations in FIFO order through the
// transmission discipline. The outbox's per-scope guard makes a
// concurrent second drain a no-op.
func (s *Session) drainOutbox() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	err := s.config.Outbox.Drain(ctx, s.scope, func(ctx context.Context, ev store.QueuedEvent) (bool, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false, nil
		}

		// The placeholder leaves "pending" and becomes in-flight.
		if idx := s.indexOfLocked(ev.OptimisticID); idx >= 0 {
			s.items[idx].Pending = false
		}

		var rollback *Item
		targetID := ev.OptimisticID
		if !isSendEvent(ev.EventName) {
			var payload mutationPayload
			if err := json.Unmarshal(ev.Payload, &payload); err == nil && payload.ItemID != "" {
				targetID = payload.ItemID
			}
			if snapshot, ok := s.rollbacks[ev.IdempotencyKey]; ok {
				rollback = &snapshot
			}
		}
		s.mu.Unlock()

		outcome := s.transmit(ev.EventName, json.RawMessage(ev.Payload), targetID, rollback)

		s.mu.Lock()
		if outcome == transport.OutcomeTransportError {
			// Never reached the server. Re-mark the placeholder, keep
			// the rollback snapshot, and stop with the event (and
			// everything behind it) still queued.
			if idx := s.indexOfLocked(ev.OptimisticID); idx >= 0 {
				s.items[idx].Pending = true
			}
			s.mu.Unlock()
			return false, nil
		}
		delete(s.rollbacks, ev.IdempotencyKey)
		s.mu.Unlock()

		// A cancelled context means the transmission never really
		// resolved; keep the event queued for the next drain.
		if ctx.Err() != nil {
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		s.config.Logger.Printf("WARNING: outbox drain for %s stopped: %v", s.scope, err)
	}
}

// indexOfLocked finds an item by server id or optimistic id. Callers
// hold mu.
func (s *Session) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == id || (s.items[i].OptimisticID != "" && s.items[i].OptimisticID == id) {
			return i
		}
	}
	return -1
}

// schedulePersistLocked arms the debounced cache write. Callers hold mu.
func (s *Session) schedulePersistLocked() {
	if s.config.Cache == nil || s.closed {
		return
	}
	if s.persistTimer != nil {
		s.persistTimer.Reset(s.config.PersistDebounce)
		return
	}
	s.persistTimer = time.AfterFunc(s.config.PersistDebounce, s.persistNow)
}

// persistNow writes the current collection snapshot to the cache.
func (s *Session) persistNow() {
	s.mu.Lock()
	if s.closed || s.config.Cache == nil {
		s.mu.Unlock()
		return
	}
	s.persistTimer = nil
	snapshot := append([]Item(nil), s.items...)
	s.mu.Unlock()

	s.config.Cache.Put(s.config.Feature, s.config.SessionID, snapshot)
}

// Items returns a copy of the current collection.
func (s *Session) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	for i := range s.items {
		out[i] = s.items[i].Clone()
	}
	return out
}

// Phase returns the current state-machine phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Open reports whether the feature currently accepts new mutations.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Err returns the sticky user-facing error, if any. It is cleared only
// by ClearErr (user dismissal), never automatically.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearErr dismisses the sticky error.
func (s *Session) ClearErr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastErr = err
}

// Leave tears the session down: a best-effort leave notification, a final
// cache write, cancelled timers and transmissions, and release of the
// scope guard. The session cannot be restarted.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.phase = PhaseIdle
	if s.persistTimer != nil {
		s.persistTimer.Stop()
		s.persistTimer = nil
	}
	started := s.started
	snapshot := append([]Item(nil), s.items...)
	s.mu.Unlock()

	if started {
		_ = s.config.Transport.Send(transport.EventSessionLeave, leavePayload{SessionID: s.config.SessionID})
	}
	if s.config.Cache != nil && started {
		s.config.Cache.Put(s.config.Feature, s.config.SessionID, snapshot)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.inflight.Wait()

	if s.config.Registry != nil {
		s.config.Registry.release(s.scope)
	}
	s.config.Logger.Printf("left %s", s.scope)
}
