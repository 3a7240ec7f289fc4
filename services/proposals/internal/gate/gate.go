// Package gate makes every trust decision for anonymous link holders. A
// caller presents (proposal public id, token, action); the gate resolves the
// token to exactly one recipient, evaluates expiry at access time, guards
// the terminal state, and hands the mutation to the store's conditional
// write path. Nothing else in the service authorizes anything.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
	"github.com/devmartsuriname/agenko-proposals/pkg/token"
)

// Registry resolves a presented token, scoped to a proposal. Misses are
// domain.ErrNotFound whichever half failed.
type Registry interface {
	ResolveRecipient(ctx context.Context, publicID, tokenHash string) (domain.Recipient, error)
}

// Proposals loads proposal records by public id.
type Proposals interface {
	GetProposal(ctx context.Context, publicID string) (domain.Proposal, error)
}

// Recorder applies state changes. Each call persists the change and its
// event atomically; RecordDecision returns domain.ErrAlreadyResolved or
// domain.ErrExpired when its compare-and-set loses.
type Recorder interface {
	RecordView(ctx context.Context, p domain.Proposal, rec domain.Recipient, at time.Time, actor domain.ActorContext) (firstView bool, err error)
	RecordDecision(ctx context.Context, p domain.Proposal, rec domain.Recipient, action domain.Action, at time.Time, reason string, actor domain.ActorContext) error
}

type Gate struct {
	registry  Registry
	proposals Proposals
	recorder  Recorder
	now       func() time.Time
}

func New(registry Registry, proposals Proposals, recorder Recorder) *Gate {
	return &Gate{registry: registry, proposals: proposals, recorder: recorder, now: time.Now}
}

// Request is one action presented by an anonymous link holder.
type Request struct {
	ProposalID string
	Token      token.Token
	Action     domain.Action
	Reason     string
	Actor      domain.ActorContext
}

type Result struct {
	Proposal  domain.Proposal
	Recipient domain.Recipient
	FirstView bool
}

// Authorize validates, authorizes and applies req. The error is one of the
// client-facing taxonomy (ErrAccessDenied, ErrExpired, ErrAlreadyResolved,
// *ValidationError) or an opaque storage fault.
func (g *Gate) Authorize(ctx context.Context, req Request) (Result, error) {
	res, err := g.authorize(ctx, req)
	observeDecision(req.Action, err)
	return res, err
}

func (g *Gate) authorize(ctx context.Context, req Request) (Result, error) {
	if req.ProposalID == "" {
		return Result{}, domain.NewValidationError("proposal_id", "must not be empty")
	}
	if req.Token == "" {
		return Result{}, domain.NewValidationError("token", "must not be empty")
	}
	if !req.Action.Valid() {
		return Result{}, domain.NewValidationError("action", "unknown action")
	}

	// Hash unconditionally before the lookup so the work done on an invalid
	// token matches the work done on a valid one.
	tokenHash := token.Hash(req.Token)

	rec, err := g.registry.ResolveRecipient(ctx, req.ProposalID, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, domain.ErrAccessDenied
		}
		return Result{}, err
	}

	p, err := g.proposals.GetProposal(ctx, req.ProposalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, domain.ErrAccessDenied
		}
		return Result{}, err
	}

	now := g.now().UTC()

	switch req.Action {
	case domain.ActionView:
		// Views are always permitted once the token resolves, terminal or
		// expired states included. Every view is audit-worthy.
		firstView, err := g.recorder.RecordView(ctx, p, rec, now, req.Actor)
		if err != nil {
			return Result{}, err
		}
		if firstView && rec.ViewedAt == nil {
			rec.ViewedAt = &now
		}
		if firstView && p.Status == domain.StatusSent {
			p.Status = domain.StatusViewed
		}
		return Result{Proposal: p, Recipient: rec, FirstView: firstView}, nil

	case domain.ActionAccept, domain.ActionReject:
		// Expiry is evaluated here, at the moment of the request; nothing
		// pre-transitions the row on a schedule.
		if p.ExpiredAt(now) || p.Status == domain.StatusExpired {
			return Result{}, domain.ErrExpired
		}
		if p.Status.Terminal() {
			return Result{}, domain.ErrAlreadyResolved
		}
		reason := req.Reason
		if req.Action != domain.ActionReject {
			reason = ""
		}
		// The recorder's compare-and-set is the real guard; the checks
		// above only shortcut the obvious cases.
		if err := g.recorder.RecordDecision(ctx, p, rec, req.Action, now, reason, req.Actor); err != nil {
			return Result{}, err
		}
		p.Status = domain.StatusAccepted
		if req.Action == domain.ActionReject {
			p.Status = domain.StatusRejected
			p.RejectedAt = &now
			p.RejectionReason = reason
		} else {
			p.AcceptedAt = &now
		}
		return Result{Proposal: p, Recipient: rec}, nil
	}

	return Result{}, domain.NewValidationError("action", "unknown action")
}
