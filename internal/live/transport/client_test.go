package transport

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startTestServer runs a websocket endpoint whose frame handling is
// scripted by respond: a nil return means no direct response.
func startTestServer(t *testing.T, respond func(f Frame) *Frame) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		// Connection acknowledgment gate, sent before anything else.
		ackFrame, _ := json.Marshal(Frame{Event: EventConnectionAcknowledged})
		if err := conn.Write(ctx, websocket.MessageText, ackFrame); err != nil {
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if resp := respond(frame); resp != nil {
				resp.AckSeq = frame.Seq
				out, _ := json.Marshal(resp)
				if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string, ackTimeout time.Duration) *Client {
	t.Helper()

	config := DefaultConfig(url)
	config.AckTimeout = ackTimeout
	config.Logger = log.New(io.Discard, "", 0)
	c := NewClient(config)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRequestSuccess(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame {
		if f.Event != "chat.item.send" {
			return nil
		}
		data, _ := json.Marshal(Response{Success: true, ItemID: "srv-42"})
		return &Frame{Event: f.Event, Data: data}
	})

	c := newTestClient(t, url, 5*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ack := c.Request(context.Background(), "chat.item.send", map[string]string{"content": "hello"})
	if ack.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v (err=%v), want success", ack.Outcome, ack.Err)
	}

	var resp Response
	if err := ack.Decode(&resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.ItemID != "srv-42" {
		t.Errorf("itemId = %q, want srv-42", resp.ItemID)
	}
}

func TestRequestExplicitFailure(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame {
		data, _ := json.Marshal(Response{Success: false, Error: &ErrorInfo{Message: "session closed", StatusCode: 409}})
		return &Frame{Event: f.Event, Data: data}
	})

	c := newTestClient(t, url, 5*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ack := c.Request(context.Background(), "chat.item.send", nil)
	if ack.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %v, want failure", ack.Outcome)
	}
	if ack.Err == nil || !strings.Contains(ack.Err.Error(), "session closed") {
		t.Errorf("err = %v, want rejection message", ack.Err)
	}
}

func TestRequestTimeout(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame {
		return nil // never acknowledge
	})

	c := newTestClient(t, url, 100*time.Millisecond)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	start := time.Now()
	ack := c.Request(context.Background(), "chat.item.send", nil)
	if ack.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %v, want timeout", ack.Outcome)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("timeout resolved too early: %v", elapsed)
	}
}

func TestBroadcastDispatch(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame {
		// Answer any request by echoing a broadcast first, then the ack.
		return &Frame{Event: f.Event, Data: json.RawMessage(`{"success":true}`)}
	})

	c := newTestClient(t, url, 5*time.Second)

	gotAck := make(chan struct{}, 1)
	c.Handle(EventConnectionAcknowledged, func(data json.RawMessage) {
		gotAck <- struct{}{}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-gotAck:
	case <-time.After(2 * time.Second):
		t.Fatal("connectionAcknowledged broadcast never dispatched")
	}
}

func TestConnectHookFires(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame { return nil })

	c := newTestClient(t, url, time.Second)

	connected := make(chan struct{}, 1)
	c.OnConnect(func() { connected <- struct{}{} })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect hook never fired")
	}
}

func TestRequestAfterCloseIsTransportError(t *testing.T) {
	url := startTestServer(t, func(f Frame) *Frame { return nil })

	c := newTestClient(t, url, time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ack := c.Request(context.Background(), "chat.item.send", nil)
	if ack.Outcome != OutcomeTransportError {
		t.Errorf("outcome = %v after close, want transport_error", ack.Outcome)
	}
}

func TestRequestWithoutConnectionIsTransportError(t *testing.T) {
	// Never dialed: the frame cannot be written. That is not a server
	// rejection, so it must not surface as OutcomeFailure.
	c := newTestClient(t, "ws://127.0.0.1:0", time.Second)

	ack := c.Request(context.Background(), "chat.item.send", nil)
	if ack.Outcome != OutcomeTransportError {
		t.Fatalf("outcome = %v, want transport_error", ack.Outcome)
	}
	if ack.Err == nil {
		t.Error("transport error carries no detail")
	}
}
