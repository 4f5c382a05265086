// Package transport defines the real-time wire protocol for live sessions
// and provides a WebSocket client implementation.
//
// Every message on the wire is a Frame. Outbound requests carry a Seq; the
// server's direct response echoes it back in AckSeq. Broadcasts carry
// neither. Domain event names are fixed per feature (chat.item.send,
// qa.history, ...) and must match the server exactly.
package transport

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope for every wire message.
type Frame struct {
	// Event is the protocol event name.
	Event string `json:"event"`

	// Seq identifies an outbound request expecting a direct response.
	Seq uint64 `json:"seq,omitempty"`

	// AckSeq marks an inbound frame as the direct response to the
	// outbound request carrying the same Seq.
	AckSeq uint64 `json:"ackSeq,omitempty"`

	// Data is the event payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// Fixed protocol event names.
const (
	// EventConnectionAcknowledged gates domain requests: the server is not
	// ready to accept them until this arrives after transport connect.
	EventConnectionAcknowledged = "connectionAcknowledged"

	// EventSessionJoin is the join request for a (sessionId, eventId) scope.
	EventSessionJoin = "session.join"

	// EventSessionLeave is the fire-and-forget leave notification.
	EventSessionLeave = "session.leave"

	// EventSystemError is a generic inbound failure notification.
	EventSystemError = "systemError"

	// EventConnectError is the transport-level connect failure notification.
	EventConnectError = "connect_error"
)

// Per-feature event name builders.

// HistoryEvent is the one-time snapshot pushed after a successful join.
func HistoryEvent(feature string) string { return feature + ".history" }

// SendEvent is the new-item mutation request.
func SendEvent(feature string) string { return feature + ".item.send" }

// EditEvent is the edit mutation request.
func EditEvent(feature string) string { return feature + ".item.edit" }

// DeleteEvent is the delete mutation request.
func DeleteEvent(feature string) string { return feature + ".item.delete" }

// ReactEvent is the reaction mutation request.
func ReactEvent(feature string) string { return feature + ".item.react" }

// NewItemEvent is the authoritative new-item broadcast.
func NewItemEvent(feature string) string { return feature + ".item.new" }

// UpdatedItemEvent is the authoritative update broadcast.
func UpdatedItemEvent(feature string) string { return feature + ".item.updated" }

// DeletedItemEvent is the authoritative delete broadcast.
func DeletedItemEvent(feature string) string { return feature + ".item.deleted" }

// StatusChangedEvent toggles whether new mutations are accepted.
func StatusChangedEvent(feature string) string { return feature + ".status.changed" }

// ErrorInfo is the error shape carried in direct responses.
type ErrorInfo struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// Response is the generic direct-response envelope for requests.
type Response struct {
	Success bool       `json:"success"`
	ItemID  string     `json:"itemId,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`

	// Session carries authoritative runtime flags from a join response,
	// e.g. {"chatOpen": true}.
	Session map[string]bool `json:"session,omitempty"`
}

// StatusChange is the payload of a <feature>.status.changed broadcast.
type StatusChange struct {
	SessionID string `json:"sessionId"`
	IsOpen    bool   `json:"isOpen"`
}

// Outcome is the result class of a request round-trip.
type Outcome int

const (
	// OutcomeSuccess means the server acknowledged the request as
	// successful.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the server acknowledged the request and
	// rejected it.
	OutcomeFailure

	// OutcomeTimeout means the request was written but no acknowledgment
	// arrived within the ack timeout. Callers decide the presumed-success
	// policy.
	OutcomeTimeout

	// OutcomeTransportError means the request never left this client: the
	// local write failed or the transport is closed. The server saw
	// nothing, so the operation is safe to retry as-is.
	OutcomeTransportError
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Ack is the tagged result of a request round-trip. Data is the raw
// response payload (valid for success and failure); Err carries the
// rejection or transport detail otherwise.
type Ack struct {
	Outcome Outcome
	Data    json.RawMessage
	Err     error
}

// Decode unmarshals the response payload into v.
func (a Ack) Decode(v any) error {
	if len(a.Data) == 0 {
		return fmt.Errorf("ack has no payload")
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return fmt.Errorf("failed to decode ack payload: %w", err)
	}
	return nil
}

// classify turns a direct-response frame into an Ack by peeking at the
// success flag. Responses without a success field (e.g. the connection
// acknowledgment) count as success.
func classify(data json.RawMessage) Ack {
	var probe struct {
		Success *bool      `json:"success"`
		Error   *ErrorInfo `json:"error"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &probe)
	}
	if probe.Success != nil && !*probe.Success {
		msg := "request rejected"
		if probe.Error != nil {
			msg = probe.Error.Message
		}
		return Ack{Outcome: OutcomeFailure, Data: data, Err: fmt.Errorf("%s", msg)}
	}
	return Ack{Outcome: OutcomeSuccess, Data: data}
}
