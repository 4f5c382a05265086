package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Transport is the request/response and broadcast surface the sync engine
// programs against. The WebSocket Client implements it; tests substitute
// in-memory fakes.
type Transport interface {
	// Connect establishes the transport connection and starts delivering
	// inbound events. Reconnection after a drop is the transport's job.
	Connect(ctx context.Context) error

	// Request emits event with payload and awaits the direct response.
	// The result is a server acknowledgment (success or explicit failure),
	// a timeout, or a local transport error when the request never left
	// this client.
	Request(ctx context.Context, event string, payload any) Ack

	// Send emits event fire-and-forget, with no acknowledgment.
	Send(event string, payload any) error

	// Handle registers a handler for inbound broadcast frames named event.
	Handle(event string, fn func(json.RawMessage))

	// OnConnect registers a hook fired after every successful (re)connect.
	OnConnect(fn func())

	// OnDisconnect registers a hook fired when the connection drops.
	OnDisconnect(fn func())

	// Close tears the connection down permanently.
	Close() error
}

// Config holds WebSocket client configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string

	// AckTimeout is how long Request waits for a direct response before
	// resolving OutcomeTimeout (default: 5s).
	AckTimeout time.Duration

	// ReconnectMin/ReconnectMax bound the redial backoff
	// (defaults: 500ms / 15s).
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for transport activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		AckTimeout:   5 * time.Second,
		ReconnectMin: 500 * time.Millisecond,
		ReconnectMax: 15 * time.Second,
		Logger:       log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// Client is the WebSocket implementation of Transport.
type Client struct {
	config *Config

	seq uint64

	mu            sync.Mutex
	conn          *websocket.Conn
	pending       map[uint64]chan json.RawMessage
	handlers      map[string][]func(json.RawMessage)
	onConnect     []func()
	onDisconnect  []func()
	closed        bool
	cancelRunLoop context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient creates a WebSocket transport client. Call Connect to dial.
func NewClient(config *Config) *Client {
	if config.AckTimeout == 0 {
		config.AckTimeout = 5 * time.Second
	}
	if config.ReconnectMin == 0 {
		config.ReconnectMin = 500 * time.Millisecond
	}
	if config.ReconnectMax == 0 {
		config.ReconnectMax = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &Client{
		config:   config,
		pending:  make(map[uint64]chan json.RawMessage),
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// Connect dials the endpoint and starts the read loop. Subsequent drops
// are redialed automatically with capped backoff until Close.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "client closed")
		return fmt.Errorf("transport is closed")
	}
	c.conn = conn
	c.cancelRunLoop = cancel
	c.mu.Unlock()

	c.fireHooks(c.snapshotHooks(true))

	c.wg.Add(1)
	go c.runLoop(runCtx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.config.URL, err)
	}
	return conn, nil
}

// runLoop reads frames until the connection drops, then redials forever
// with capped backoff.
func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.readFrames(ctx)

		if ctx.Err() != nil || c.isClosed() {
			return
		}

		c.fireHooks(c.snapshotHooks(false))

		backoff := c.config.ReconnectMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			conn, err := c.dial(ctx)
			if err == nil {
				c.mu.Lock()
				c.conn = conn
				c.mu.Unlock()
				c.fireHooks(c.snapshotHooks(true))
				break
			}

			c.config.Logger.Printf("redial failed: %v (next attempt in %v)", err, backoff)
			backoff *= 2
			if backoff > c.config.ReconnectMax {
				backoff = c.config.ReconnectMax
			}
		}
	}
}

// readFrames consumes inbound frames until a read error.
func (c *Client) readFrames(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.config.Logger.Printf("WARNING: dropping malformed frame: %v", err)
			continue
		}

		if frame.AckSeq != 0 {
			c.resolvePending(frame.AckSeq, frame.Data)
			continue
		}

		for _, fn := range c.snapshotHandlers(frame.Event) {
			fn(frame.Data)
		}
	}
}

func (c *Client) resolvePending(seq uint64, data json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	if ok {
		ch <- data
	}
}

// Request implements Transport.Request. A payload that cannot be
// marshalled is an OutcomeFailure; a request that never made it onto the
// wire is an OutcomeTransportError, never a failure, since the server
// saw nothing to reject.
func (c *Client) Request(ctx context.Context, event string, payload any) Ack {
	data, err := marshalPayload(payload)
	if err != nil {
		return Ack{Outcome: OutcomeFailure, Err: err}
	}

	seq := atomic.AddUint64(&c.seq, 1)
	respCh := make(chan json.RawMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Ack{Outcome: OutcomeTransportError, Err: fmt.Errorf("transport is closed")}
	}
	c.pending[seq] = respCh
	c.mu.Unlock()

	unregister := func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}

	if err := c.write(ctx, Frame{Event: event, Seq: seq, Data: data}); err != nil {
		unregister()
		return Ack{Outcome: OutcomeTransportError, Err: err}
	}

	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return classify(resp)
	case <-timer.C:
		unregister()
		return Ack{Outcome: OutcomeTimeout, Err: fmt.Errorf("no acknowledgment for %s within %v", event, c.config.AckTimeout)}
	case <-ctx.Done():
		unregister()
		return Ack{Outcome: OutcomeTimeout, Err: ctx.Err()}
	}
}

// Send implements Transport.Send.
func (c *Client) Send(event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.write(ctx, Frame{Event: event, Data: data})
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func (c *Client) write(ctx context.Context, frame Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Handle implements Transport.Handle.
func (c *Client) Handle(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnConnect implements Transport.OnConnect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect implements Transport.OnDisconnect.
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

func (c *Client) snapshotHandlers(event string) []func(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(([]func(json.RawMessage))(nil), c.handlers[event]...)
}

func (c *Client) snapshotHooks(connect bool) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connect {
		return append(([]func())(nil), c.onConnect...)
	}
	return append(([]func())(nil), c.onDisconnect...)
}

func (c *Client) fireHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements Transport.Close. Pending requests resolve as timeouts.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancelRunLoop
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	c.wg.Wait()
	return nil
}
