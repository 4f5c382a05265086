package transport

import (
	"encoding/json"
	"testing"
)

func TestFeatureEventNames(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{HistoryEvent("chat"), "chat.history"},
		{SendEvent("chat"), "chat.item.send"},
		{EditEvent("qa"), "qa.item.edit"},
		{DeleteEvent("polls"), "polls.item.delete"},
		{ReactEvent("chat"), "chat.item.react"},
		{NewItemEvent("agenda"), "agenda.item.new"},
		{UpdatedItemEvent("chat"), "chat.item.updated"},
		{DeletedItemEvent("chat"), "chat.item.deleted"},
		{StatusChangedEvent("qa"), "qa.status.changed"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("event name = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestClassifySuccess(t *testing.T) {
	ack := classify(json.RawMessage(`{"success":true,"itemId":"srv-1"}`))
	if ack.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %v, want success", ack.Outcome)
	}
}

func TestClassifyFailureCarriesMessage(t *testing.T) {
	ack := classify(json.RawMessage(`{"success":false,"error":{"message":"not allowed","statusCode":403}}`))
	if ack.Outcome != OutcomeFailure {
		t.Fatalf("outcome = %v, want failure", ack.Outcome)
	}
	if ack.Err == nil || ack.Err.Error() != "not allowed" {
		t.Errorf("err = %v, want not allowed", ack.Err)
	}
}

func TestClassifyNoSuccessFieldIsSuccess(t *testing.T) {
	// The connection acknowledgment has no payload at all.
	if ack := classify(nil); ack.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %v for empty payload, want success", ack.Outcome)
	}
	if ack := classify(json.RawMessage(`{}`)); ack.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %v for {} payload, want success", ack.Outcome)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{Event: "chat.item.send", Seq: 7, Data: json.RawMessage(`{"content":"hi"}`)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out Frame
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Event != in.Event || out.Seq != in.Seq || string(out.Data) != string(in.Data) {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestBroadcastFrameOmitsSeq(t *testing.T) {
	data, err := json.Marshal(Frame{Event: "chat.item.new", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := m["seq"]; ok {
		t.Error("broadcast frame serialized a seq field")
	}
	if _, ok := m["ackSeq"]; ok {
		t.Error("broadcast frame serialized an ackSeq field")
	}
}
