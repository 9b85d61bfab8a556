// Package webhook decodes raw agent callback payloads into canonical
// events for the session manager and message pipeline.
package webhook

import (
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/talkincode/walink/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event type values emitted by the agent.
const (
	EventMessage       = "message"
	EventMessageCreate = "message_create"
	EventMessageAck    = "message_ack"
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventDisconnected  = "disconnected"
	EventStateChange   = "change_state"
	EventGroupJoin     = "group_join"
	EventGroupLeave    = "group_leave"
)

// MessageEvent is the canonical inbound message payload.
type MessageEvent struct {
	Id         string  `mapstructure:"id"`
	From       string  `mapstructure:"from"`
	To         string  `mapstructure:"to"`
	Author     string  `mapstructure:"author"`
	Body       string  `mapstructure:"body"`
	Type       string  `mapstructure:"type"`
	NotifyName string  `mapstructure:"notify_name"`
	FromMe     bool    `mapstructure:"from_me"`
	IsGroup    bool    `mapstructure:"is_group"`
	MediaUrl   string  `mapstructure:"media_url"`
	MediaType  string  `mapstructure:"media_type"`
	MediaSize  int64   `mapstructure:"media_size"`
	Latitude   float64 `mapstructure:"latitude"`
	Longitude  float64 `mapstructure:"longitude"`
	Location   string  `mapstructure:"location_name"`
	QuotedId   string  `mapstructure:"quoted_message_id"`
	ForwardId  string  `mapstructure:"forwarded_message_id"`
	ReactionId string  `mapstructure:"reaction_message_id"`
	Emoji      string  `mapstructure:"reaction"`
	SystemType string  `mapstructure:"system_type"`
	Timestamp  any     `mapstructure:"timestamp"`
}

// Time resolves the event timestamp: unix seconds, RFC strings and other
// common formats are accepted. Unparseable values fall back to now.
func (m *MessageEvent) Time() time.Time {
	return parseTimestamp(m.Timestamp)
}

// AckEvent is a delivery state advance for a previously sent message.
// Ack levels: 1 sent, 2 delivered, 3 read.
type AckEvent struct {
	MessageId string `mapstructure:"message_id"`
	Ack       int    `mapstructure:"ack"`
}

// Status maps the ack level onto a message status. Unknown levels return
// empty, meaning no transition.
func (a *AckEvent) Status() string {
	switch a.Ack {
	case 1:
		return domain.MessageSent
	case 2:
		return domain.MessageDelivered
	case 3:
		return domain.MessageRead
	}
	return ""
}

// GroupEvent reports the session being added to or removed from a group
// chat. Participant detail beyond the count arrives through roster sync.
type GroupEvent struct {
	Id           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"desc"`
	Participants []any  `mapstructure:"participants"`
}

// MemberCount returns the participant count reported with the event.
func (g *GroupEvent) MemberCount() int {
	return len(g.Participants)
}

// StateEvent reports a session status change, including fresh QR payloads.
type StateEvent struct {
	Status string `mapstructure:"status"`
	QrCode string `mapstructure:"qr"`
	Phone  string `mapstructure:"phone"`
	Reason string `mapstructure:"reason"`
}

// Event is one normalized agent callback unit. Exactly one of the typed
// payloads is set, matching Type.
type Event struct {
	Type    string
	Message *MessageEvent
	Ack     *AckEvent
	State   *StateEvent
	Group   *GroupEvent
	Raw     string
}

type rawEvent struct {
	Event string         `json:"event"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data"`
}

type envelope struct {
	Event  string         `json:"event"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
	Events []rawEvent     `json:"events"`
}

// Parse decodes a webhook body into normalized events. The body is either
// a single event object or a batch under "events". A malformed unit inside
// a batch is skipped so one bad event never drops its siblings.
func Parse(body []byte) ([]*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decode webhook body")
	}
	if len(env.Events) == 0 {
		if env.Event == "" && env.Type == "" {
			return nil, errors.New("webhook body has no event")
		}
		env.Events = []rawEvent{{Event: env.Event, Type: env.Type, Data: env.Data}}
	}

	events := make([]*Event, 0, len(env.Events))
	for _, re := range env.Events {
		ev, err := normalize(re)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func normalize(re rawEvent) (*Event, error) {
	name := re.Event
	if name == "" {
		name = re.Type
	}
	if name == "" {
		return nil, errors.New("event without name")
	}
	raw, _ := json.MarshalToString(re.Data)
	ev := &Event{Type: name, Raw: raw}

	switch name {
	case EventMessage, EventMessageCreate:
		var m MessageEvent
		if err := decode(re.Data, &m); err != nil {
			return nil, err
		}
		if m.Id == "" {
			return nil, errors.New("message event without id")
		}
		ev.Message = &m
	case EventMessageAck:
		var a AckEvent
		if err := decode(re.Data, &a); err != nil {
			return nil, err
		}
		if a.MessageId == "" {
			return nil, errors.New("ack event without message id")
		}
		ev.Ack = &a
	case EventQR, EventAuthenticated, EventReady, EventDisconnected, EventStateChange:
		var s StateEvent
		if err := decode(re.Data, &s); err != nil {
			return nil, err
		}
		ev.State = &s
	case EventGroupJoin, EventGroupLeave:
		var g GroupEvent
		if err := decode(re.Data, &g); err != nil {
			return nil, err
		}
		if g.Id == "" {
			return nil, errors.New("group event without id")
		}
		ev.Group = &g
	default:
		// Unknown types pass through with raw data only; the caller
		// decides whether to log or drop them.
	}
	return ev, nil
}

func decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// MapAgentStatus translates an agent-side session state onto the account
// status vocabulary. Unknown states map to error.
func MapAgentStatus(agentStatus string) string {
	switch agentStatus {
	case "disconnected":
		return domain.AccountDisconnected
	case "connecting", "opening", "pairing":
		return domain.AccountConnecting
	case "qr":
		return domain.AccountQRCode
	case "authenticated":
		return domain.AccountAuthenticated
	case "ready", "connected":
		return domain.AccountReady
	default:
		return domain.AccountError
	}
}

func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case nil:
	case float64:
		if t > 0 {
			return time.Unix(int64(t), 0)
		}
	case int64:
		if t > 0 {
			return time.Unix(t, 0)
		}
	case string:
		if t == "" {
			break
		}
		if sec, err := strconv.ParseInt(t, 10, 64); err == nil && sec > 0 {
			return time.Unix(sec, 0)
		}
		if ts, err := dateparse.ParseAny(t); err == nil {
			return ts
		}
	}
	return time.Now()
}
