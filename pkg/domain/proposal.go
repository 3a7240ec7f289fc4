package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a proposal. Terminal statuses accept no
// further state-changing actions.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusViewed, StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status admits no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusExpired:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusDraft:  {StatusSent, StatusAccepted, StatusRejected},
	StatusSent:   {StatusViewed, StatusAccepted, StatusRejected, StatusExpired},
	StatusViewed: {StatusAccepted, StatusRejected, StatusExpired},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is a request made by a link holder against a proposal.
type Action string

const (
	ActionView   Action = "view"
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
)

func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionAccept, ActionReject:
		return true
	}
	return false
}

// Mutating reports whether the action writes a terminal state.
func (a Action) Mutating() bool { return a == ActionAccept || a == ActionReject }

type Proposal struct {
	ID              int64
	PublicID        string
	Title           string
	Subject         string
	Content         string
	ContentHash     string
	Currency        string
	TotalAmount     string
	Status          Status
	SentAt          *time.Time
	ExpiresAt       *time.Time
	AcceptedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExpiredAt reports whether the proposal's deadline has passed at now.
// A nil ExpiresAt never expires.
func (p *Proposal) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

type Recipient struct {
	ID         int64
	ProposalID int64
	Email      string
	Name       string
	Role       string
	TokenHash  string
	ViewedAt   *time.Time
	CreatedAt  time.Time
}

// ActorContext carries the caller-supplied request context recorded on
// audit events. All fields are optional.
type ActorContext struct {
	Email     string
	IPAddress string
	UserAgent string
}

// NormalizeEmail canonicalizes an address for storage and comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
