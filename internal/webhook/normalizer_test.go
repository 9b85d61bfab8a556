package webhook

import (
	"testing"
	"time"

	"github.com/talkincode/walink/internal/domain"
)

func TestParseSingleMessage(t *testing.T) {
	body := []byte(`{
		"event": "message",
		"data": {
			"id": "msg-001",
			"from": "628123456789@c.us",
			"to": "628100000001@c.us",
			"body": "hello there",
			"type": "text",
			"notify_name": "Budi",
			"timestamp": 1700000000
		}
	}`)
	events, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != EventMessage || ev.Message == nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Message.Id != "msg-001" || ev.Message.Body != "hello there" {
		t.Fatalf("unexpected message %+v", ev.Message)
	}
	if got := ev.Message.Time(); !got.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", got)
	}
}

func TestParseBatchSkipsMalformed(t *testing.T) {
	body := []byte(`{
		"events": [
			{"event": "message", "data": {"id": "msg-1", "from": "1@c.us", "body": "a"}},
			{"event": "message", "data": {"from": "2@c.us", "body": "no id"}},
			{"event": "message_ack", "data": {"message_id": "msg-1", "ack": 2}}
		]
	}`)
	events, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected malformed event skipped, got %d events", len(events))
	}
	if events[1].Ack == nil || events[1].Ack.Status() != domain.MessageDelivered {
		t.Fatalf("unexpected ack event %+v", events[1])
	}
}

func TestParseStateEvents(t *testing.T) {
	body := []byte(`{"event": "qr", "data": {"qr": "2@abcDEF123", "status": "qr"}}`)
	events, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].State == nil || events[0].State.QrCode != "2@abcDEF123" {
		t.Fatalf("unexpected state event %+v", events[0])
	}
}

func TestParseGroupEvents(t *testing.T) {
	body := []byte(`{
		"event": "group_join",
		"data": {
			"id": "1203630@g.us",
			"name": "Ops",
			"desc": "ops chatter",
			"participants": [{"id": "1@c.us"}, {"id": "2@c.us"}]
		}
	}`)
	events, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventGroupJoin {
		t.Fatalf("unexpected events %+v", events)
	}
	g := events[0].Group
	if g == nil {
		t.Fatal("group payload not decoded")
	}
	if g.Id != "1203630@g.us" || g.Name != "Ops" || g.MemberCount() != 2 {
		t.Fatalf("unexpected group event %+v", g)
	}

	events, err = Parse([]byte(`{"event": "group_leave", "data": {"id": "1203630@g.us"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Group == nil || events[0].Type != EventGroupLeave {
		t.Fatalf("unexpected leave event %+v", events[0])
	}

	// A group event without an id is dropped, not dispatched raw.
	events, err = Parse([]byte(`{"event": "group_join", "data": {"name": "nameless"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected id-less group event skipped, got %+v", events)
	}
}

func TestParseInvalidBody(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Parse([]byte(`{"foo": 1}`)); err == nil {
		t.Fatal("expected missing event error")
	}
}

func TestAckStatusLevels(t *testing.T) {
	cases := map[int]string{
		1: domain.MessageSent,
		2: domain.MessageDelivered,
		3: domain.MessageRead,
		9: "",
	}
	for ack, want := range cases {
		a := AckEvent{MessageId: "m", Ack: ack}
		if got := a.Status(); got != want {
			t.Fatalf("ack %d: got %q want %q", ack, got, want)
		}
	}
}

func TestMapAgentStatus(t *testing.T) {
	cases := map[string]string{
		"disconnected":  domain.AccountDisconnected,
		"connecting":    domain.AccountConnecting,
		"qr":            domain.AccountQRCode,
		"authenticated": domain.AccountAuthenticated,
		"ready":         domain.AccountReady,
		"borked":        domain.AccountError,
	}
	for in, want := range cases {
		if got := MapAgentStatus(in); got != want {
			t.Fatalf("status %q: got %q want %q", in, got, want)
		}
	}
}

func TestParseStringTimestamp(t *testing.T) {
	m := MessageEvent{Timestamp: "2024-01-15T10:30:00Z"}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if got := m.Time(); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
