package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
	"github.com/devmartsuriname/agenko-proposals/pkg/httpx"
	"github.com/devmartsuriname/agenko-proposals/pkg/token"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/idempotency"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/render"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/store"
)

// adminStore is the slice of the store the internal surface needs.
type adminStore interface {
	idempotency.Store
	CreateProposal(ctx context.Context, p domain.Proposal) (domain.Proposal, error)
	GetProposal(ctx context.Context, publicID string) (domain.Proposal, error)
	AddRecipient(ctx context.Context, proposalID int64, email, name, role, tokenHash string) (domain.Recipient, error)
	ListRecipients(ctx context.Context, proposalID int64) ([]domain.Recipient, error)
	MarkSent(ctx context.Context, publicID, content, contentHash string, sentAt time.Time, expiresAt *time.Time, recipientCount int) (domain.Proposal, error)
	ListEvents(ctx context.Context, proposalID int64) ([]domain.Event, error)
}

// registerAdminRoutes mounts the proposal authoring surface behind a static
// bearer token. Admin identity management itself lives with the CMS, not
// here.
func registerAdminRoutes(r chi.Router, st adminStore, adminToken string, logger *slog.Logger) {
	r.Route("/admin", func(api chi.Router) {
		api.Use(requireAdmin(adminToken))

		api.Post("/proposals", func(w http.ResponseWriter, req *http.Request) {
			handleCreateProposal(w, req, st)
		})
		api.Post("/proposals/{public_id}/recipients", func(w http.ResponseWriter, req *http.Request) {
			handleAddRecipient(w, req, st, logger)
		})
		api.Post("/proposals/{public_id}/send", func(w http.ResponseWriter, req *http.Request) {
			handleSendProposal(w, req, st)
		})
		api.Get("/proposals/{public_id}", func(w http.ResponseWriter, req *http.Request) {
			handleGetProposal(w, req, st)
		})
		api.Get("/proposals/{public_id}/events", func(w http.ResponseWriter, req *http.Request) {
			handleListEvents(w, req, st)
		})
	})
}

func requireAdmin(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			presented, ok := token.ParseBearer(req.Header.Get("Authorization"))
			if !ok || !token.Equal(presented, adminToken) {
				httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required", nil)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

type createProposalRequest struct {
	Title        string     `json:"title"`
	Subject      string     `json:"subject"`
	TemplateBody string     `json:"template_body"`
	Currency     string     `json:"currency"`
	TotalAmount  string     `json:"total_amount"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ActorEmail   string     `json:"actor_email"`
}

func handleCreateProposal(w http.ResponseWriter, req *http.Request, st adminStore) {
	var body createProposalRequest
	if err := httpx.ReadJSON(req, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if body.Title == "" {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", "title is required", nil)
		return
	}
	if body.Currency == "" {
		body.Currency = "USD"
	}

	caller := idempotency.Caller{ActorID: body.ActorEmail, Key: req.Header.Get("Idempotency-Key")}
	const endpoint = "POST /admin/proposals"
	if status, cached, found, err := idempotency.Replay(req.Context(), st, caller, endpoint); err == nil && found {
		httpx.WriteJSON(w, status, cached)
		return
	} else if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	p := domain.Proposal{
		PublicID:    token.NewProposalID(),
		Title:       body.Title,
		Subject:     body.Subject,
		Content:     body.TemplateBody,
		Currency:    body.Currency,
		TotalAmount: body.TotalAmount,
		ExpiresAt:   body.ExpiresAt,
	}
	created, err := st.CreateProposal(req.Context(), p)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	resp := map[string]any{
		"request_id": httpx.NewRequestID(),
		"proposal":   adminProposalView(created),
	}
	_ = idempotency.Save(req.Context(), st, caller, endpoint, http.StatusCreated, resp)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

type addRecipientRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// handleAddRecipient issues the recipient's token. The plaintext token
// appears in this response and nowhere else; retries on a hash collision
// generate a fresh token rather than reusing one.
func handleAddRecipient(w http.ResponseWriter, req *http.Request, st adminStore, logger *slog.Logger) {
	publicID := chi.URLParam(req, "public_id")
	var body addRecipientRequest
	if err := httpx.ReadJSON(req, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if body.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", "email is required", nil)
		return
	}

	p, err := st.GetProposal(req.Context(), publicID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if p.Status.Terminal() {
		httpx.WriteDomainError(w, domain.ErrAlreadyResolved)
		return
	}

	var rec domain.Recipient
	var plaintext token.Token
	for attempt := 0; attempt < 3; attempt++ {
		plaintext, err = token.NewRecipientToken()
		if err != nil {
			httpx.WriteDomainError(w, err)
			return
		}
		rec, err = st.AddRecipient(req.Context(), p.ID, body.Email, body.Name, body.Role, token.Hash(plaintext))
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateToken) {
			httpx.WriteDomainError(w, err)
			return
		}
		logger.Warn("token hash collision, regenerating", "proposal_id", publicID, "attempt", attempt+1)
	}
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"request_id": httpx.NewRequestID(),
		"recipient":  adminRecipientView(rec),
		// Delivered to the caller once; only the hash is retained.
		"token": string(plaintext),
	})
}

type sendProposalRequest struct {
	Variables map[string]string `json:"variables"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

// handleSendProposal renders the snapshot from the draft template body and
// freezes it. Sends with unresolved placeholders are refused.
func handleSendProposal(w http.ResponseWriter, req *http.Request, st adminStore) {
	publicID := chi.URLParam(req, "public_id")
	var body sendProposalRequest
	if err := httpx.ReadJSON(req, &body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	p, err := st.GetProposal(req.Context(), publicID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if p.Status != domain.StatusDraft {
		httpx.WriteDomainError(w, domain.ErrAlreadyResolved)
		return
	}

	recipients, err := st.ListRecipients(req.Context(), p.ID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if len(recipients) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", "proposal has no recipients", nil)
		return
	}

	snapshot, missing := render.Render(p.Content, body.Variables)
	if len(missing) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION", "unresolved template variables", map[string]any{"missing": missing})
		return
	}

	expiresAt := p.ExpiresAt
	if body.ExpiresAt != nil {
		expiresAt = body.ExpiresAt
	}
	sent, err := st.MarkSent(req.Context(), publicID, snapshot.Content, snapshot.ContentHash, time.Now().UTC(), expiresAt, len(recipients))
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"proposal":   adminProposalView(sent),
	})
}

func handleGetProposal(w http.ResponseWriter, req *http.Request, st adminStore) {
	publicID := chi.URLParam(req, "public_id")
	p, err := st.GetProposal(req.Context(), publicID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	recipients, err := st.ListRecipients(req.Context(), p.ID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(recipients))
	for _, rec := range recipients {
		views = append(views, adminRecipientView(rec))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id": httpx.NewRequestID(),
		"proposal":   adminProposalView(p),
		"recipients": views,
	})
}

func handleListEvents(w http.ResponseWriter, req *http.Request, st adminStore) {
	publicID := chi.URLParam(req, "public_id")
	p, err := st.GetProposal(req.Context(), publicID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	events, err := st.ListEvents(req.Context(), p.ID)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":          ev.ID,
			"event_type":  string(ev.Type),
			"actor_email": ev.ActorEmail,
			"ip_address":  ev.IPAddress,
			"user_agent":  ev.UserAgent,
			"details":     ev.Details,
			"created_at":  ev.CreatedAt.Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"request_id":  httpx.NewRequestID(),
		"proposal_id": publicID,
		"events":      out,
	})
}

func adminProposalView(p domain.Proposal) map[string]any {
	v := publicProposalView(p)
	v["created_at"] = p.CreatedAt
	v["updated_at"] = p.UpdatedAt
	return v
}

// adminRecipientView exposes a hash prefix as the token reference; the
// plaintext token is not recoverable from the store.
func adminRecipientView(rec domain.Recipient) map[string]any {
	return map[string]any{
		"id":        rec.ID,
		"email":     rec.Email,
		"name":      rec.Name,
		"role":      rec.Role,
		"token_ref": token.HashPrefix(rec.TokenHash),
		"viewed_at": rec.ViewedAt,
	}
}
