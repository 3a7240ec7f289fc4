package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
	"github.com/devmartsuriname/agenko-proposals/pkg/httpx"
	"github.com/devmartsuriname/agenko-proposals/pkg/token"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/gate"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/render"
)

type accessGate interface {
	Authorize(ctx context.Context, req gate.Request) (gate.Result, error)
}

// registerPublicRoutes mounts the anonymous link-holder surface. Everything
// under /p is authorized by token possession alone and rate limited per IP.
func registerPublicRoutes(r chi.Router, g accessGate, logger *slog.Logger) {
	r.Get("/p/{public_id}", func(w http.ResponseWriter, req *http.Request) {
		tok := token.Token(req.URL.Query().Get("token"))
		servePublicAction(w, req, g, logger, gate.Request{
			ProposalID: chi.URLParam(req, "public_id"),
			Token:      tok,
			Action:     domain.ActionView,
			Actor:      actorFromRequest(req),
		})
	})

	r.Post("/p/{public_id}/accept", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if err := httpx.ReadJSON(req, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
			return
		}
		servePublicAction(w, req, g, logger, gate.Request{
			ProposalID: chi.URLParam(req, "public_id"),
			Token:      token.Token(body.Token),
			Action:     domain.ActionAccept,
			Actor:      actorFromRequest(req),
		})
	})

	r.Post("/p/{public_id}/reject", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Token  string `json:"token"`
			Reason string `json:"reason"`
		}
		if err := httpx.ReadJSON(req, &body); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
			return
		}
		servePublicAction(w, req, g, logger, gate.Request{
			ProposalID: chi.URLParam(req, "public_id"),
			Token:      token.Token(body.Token),
			Action:     domain.ActionReject,
			Reason:     body.Reason,
			Actor:      actorFromRequest(req),
		})
	})
}

func servePublicAction(w http.ResponseWriter, req *http.Request, g accessGate, logger *slog.Logger, greq gate.Request) {
	res, err := g.Authorize(req.Context(), greq)

	tokenRef := ""
	if greq.Token != "" {
		tokenRef = token.HashPrefix(token.Hash(greq.Token))
	}
	if err != nil {
		logger.Info("gate refused",
			"action", string(greq.Action),
			"proposal_id", greq.ProposalID,
			"token_ref", tokenRef,
			"outcome", err.Error())
		httpx.WriteDomainError(w, err)
		return
	}
	logger.Info("gate allowed",
		"action", string(greq.Action),
		"proposal_id", greq.ProposalID,
		"token_ref", tokenRef)

	resp := map[string]any{
		"request_id": httpx.NewRequestID(),
		"action":     string(greq.Action),
		"proposal":   publicProposalView(res.Proposal),
	}
	if greq.Action == domain.ActionView {
		resp["first_view"] = res.FirstView
		resp["recipient"] = map[string]any{
			"email":     res.Recipient.Email,
			"name":      res.Recipient.Name,
			"viewed_at": res.Recipient.ViewedAt,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// publicProposalView is what a link holder may see: the snapshot and the
// lifecycle fields. Tokens and other recipients never appear here.
func publicProposalView(p domain.Proposal) map[string]any {
	return map[string]any{
		"public_id":        p.PublicID,
		"title":            p.Title,
		"subject":          p.Subject,
		"content":          p.Content,
		"content_html":     render.ToSafeHTML(p.Content),
		"content_hash":     p.ContentHash,
		"currency":         p.Currency,
		"total_amount":     p.TotalAmount,
		"status":           string(p.Status),
		"sent_at":          p.SentAt,
		"expires_at":       p.ExpiresAt,
		"accepted_at":      p.AcceptedAt,
		"rejected_at":      p.RejectedAt,
		"rejection_reason": p.RejectionReason,
	}
}

func actorFromRequest(req *http.Request) domain.ActorContext {
	return domain.ActorContext{
		IPAddress: req.RemoteAddr,
		UserAgent: req.UserAgent(),
	}
}
