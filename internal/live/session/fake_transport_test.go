package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mansaraysaheedalpha/globalconnect-sub002/internal/live/transport"
)

// fakeTransport is an in-memory Transport for session tests. Responses
// are scripted through respond; broadcasts are injected with fire.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string][]func(json.RawMessage)
	onConnect []func()
	onDisc    []func()
	requests  []fakeRequest
	sent      []fakeRequest
	respond    func(event string, payload json.RawMessage) transport.Ack
	connected  bool
	connectErr error
}

type fakeRequest struct {
	Event   string
	Payload json.RawMessage
}

func newFakeTransport(respond func(event string, payload json.RawMessage) transport.Ack) *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string][]func(json.RawMessage)),
		respond:  respond,
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	if err := f.connectErr; err != nil {
		f.connectErr = nil
		f.mu.Unlock()
		return err
	}
	f.connected = true
	hooks := append(([]func())(nil), f.onConnect...)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (f *fakeTransport) Request(ctx context.Context, event string, payload any) transport.Ack {
	data, err := json.Marshal(payload)
	if err != nil {
		return transport.Ack{Outcome: transport.OutcomeFailure, Err: err}
	}

	f.mu.Lock()
	f.requests = append(f.requests, fakeRequest{Event: event, Payload: data})
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return transport.Ack{Outcome: transport.OutcomeSuccess, Data: json.RawMessage(`{"success":true}`)}
	}
	return respond(event, data)
}

func (f *fakeTransport) Send(event string, payload any) error {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fakeRequest{Event: event, Payload: data})
	return nil
}

func (f *fakeTransport) Handle(event string, fn func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *fakeTransport) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

func (f *fakeTransport) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisc = append(f.onDisc, fn)
}

func (f *fakeTransport) Close() error { return nil }

// fire injects an inbound broadcast.
func (f *fakeTransport) fire(event, data string) {
	f.mu.Lock()
	fns := append(([]func(json.RawMessage))(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(json.RawMessage(data))
	}
}

// failNextConnect makes the next Connect attempt fail with err.
func (f *fakeTransport) failNextConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// dropConnection simulates a transport-level disconnect.
func (f *fakeTransport) dropConnection() {
	f.mu.Lock()
	f.connected = false
	hooks := append(([]func())(nil), f.onDisc...)
	f.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// requestsFor returns recorded requests for one event name.
func (f *fakeTransport) requestsFor(event string) []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeRequest
	for _, r := range f.requests {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// sentFor returns recorded fire-and-forget sends for one event name.
func (f *fakeTransport) sentFor(event string) []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeRequest
	for _, r := range f.sent {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}
