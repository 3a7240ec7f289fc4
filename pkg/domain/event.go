package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventSent    EventType = "sent"
	EventView    EventType = "view"
	EventAccept  EventType = "accept"
	EventReject  EventType = "reject"
	EventExpired EventType = "expired"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventSent, EventView, EventAccept, EventReject, EventExpired:
		return true
	}
	return false
}

// Event is one immutable audit row. Details holds the encoded per-type
// payload; use DecodeDetails to recover the typed variant.
type Event struct {
	ID         int64
	ProposalID int64
	Type       EventType
	ActorEmail string
	IPAddress  string
	UserAgent  string
	Details    json.RawMessage
	CreatedAt  time.Time
}

// EventDetails is the tagged union of per-event payloads. The event type is
// the tag; each variant is a plain struct so the audit content stays typed.
type EventDetails interface {
	EventType() EventType
}

type CreatedDetails struct {
	Title string `json:"title"`
}

type SentDetails struct {
	RecipientCount int        `json:"recipient_count"`
	ContentHash    string     `json:"content_hash"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type ViewDetails struct {
	RecipientEmail string `json:"recipient_email"`
	FirstView      bool   `json:"first_view"`
}

type AcceptDetails struct {
	RecipientEmail string `json:"recipient_email"`
}

type RejectDetails struct {
	RecipientEmail string `json:"recipient_email"`
	Reason         string `json:"reason,omitempty"`
}

type ExpiredDetails struct {
	ExpiresAt time.Time `json:"expires_at"`
	SweptAt   time.Time `json:"swept_at"`
}

func (CreatedDetails) EventType() EventType { return EventCreated }
func (SentDetails) EventType() EventType    { return EventSent }
func (ViewDetails) EventType() EventType    { return EventView }
func (AcceptDetails) EventType() EventType  { return EventAccept }
func (RejectDetails) EventType() EventType  { return EventReject }
func (ExpiredDetails) EventType() EventType { return EventExpired }

// EncodeDetails marshals a payload for the details jsonb column.
func EncodeDetails(d EventDetails) (json.RawMessage, error) {
	if d == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// DecodeDetails recovers the typed payload for an event row.
func DecodeDetails(t EventType, raw json.RawMessage) (EventDetails, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	switch t {
	case EventCreated:
		var d CreatedDetails
		return d, json.Unmarshal(raw, &d)
	case EventSent:
		var d SentDetails
		return d, json.Unmarshal(raw, &d)
	case EventView:
		var d ViewDetails
		return d, json.Unmarshal(raw, &d)
	case EventAccept:
		var d AcceptDetails
		return d, json.Unmarshal(raw, &d)
	case EventReject:
		var d RejectDetails
		return d, json.Unmarshal(raw, &d)
	case EventExpired:
		var d ExpiredDetails
		return d, json.Unmarshal(raw, &d)
	}
	return nil, fmt.Errorf("unknown event type: %s", t)
}
