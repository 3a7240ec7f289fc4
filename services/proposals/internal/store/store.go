// Package store is the pgx persistence layer for proposals, recipients and
// the append-only event log. The accept/reject race is settled here: the
// terminal transition is a conditional UPDATE, and the event recording it
// commits in the same transaction or not at all.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
)

// ErrDuplicateToken reports a token_hash uniqueness conflict. Issuance
// retries generation instead of reusing the colliding token.
var ErrDuplicateToken = errors.New("duplicate token hash")

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const proposalColumns = `id,public_id,title,subject,content,content_hash,currency,total_amount::text,status,
sent_at,expires_at,accepted_at,rejected_at,rejection_reason,created_at,updated_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var status string
	err := row.Scan(&p.ID, &p.PublicID, &p.Title, &p.Subject, &p.Content, &p.ContentHash,
		&p.Currency, &p.TotalAmount, &status,
		&p.SentAt, &p.ExpiresAt, &p.AcceptedAt, &p.RejectedAt, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, err
	}
	p.Status = domain.Status(status)
	return p, nil
}

// CreateProposal inserts a draft and its created event in one transaction.
func (s *Store) CreateProposal(ctx context.Context, p domain.Proposal) (domain.Proposal, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
INSERT INTO proposals(public_id,title,subject,content,currency,total_amount,status,expires_at)
VALUES($1,$2,$3,$4,$5,COALESCE(NULLIF($6,''),'0')::numeric,'draft',$7)
RETURNING `+proposalColumns,
		p.PublicID, p.Title, p.Subject, p.Content, p.Currency, p.TotalAmount, p.ExpiresAt)
	created, err := scanProposal(row)
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := insertEvent(ctx, tx, created.ID, domain.EventCreated, domain.ActorContext{}, domain.CreatedDetails{Title: created.Title}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Proposal{}, err
	}
	return created, nil
}

func (s *Store) GetProposal(ctx context.Context, publicID string) (domain.Proposal, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE public_id=$1`, publicID)
	return scanProposal(row)
}

// AddRecipient stores a recipient with the hash of an already-issued token.
// The plaintext token never reaches this package.
func (s *Store) AddRecipient(ctx context.Context, proposalID int64, email, name, role, tokenHash string) (domain.Recipient, error) {
	var rec domain.Recipient
	err := s.DB.QueryRow(ctx, `
INSERT INTO recipients(proposal_id,email,name,role,token_hash)
VALUES($1,$2,$3,$4,$5)
RETURNING id,proposal_id,email,name,role,token_hash,viewed_at,created_at`,
		proposalID, domain.NormalizeEmail(email), name, role, tokenHash).
		Scan(&rec.ID, &rec.ProposalID, &rec.Email, &rec.Name, &rec.Role, &rec.TokenHash, &rec.ViewedAt, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Recipient{}, ErrDuplicateToken
		}
		return domain.Recipient{}, err
	}
	return rec, nil
}

func (s *Store) ListRecipients(ctx context.Context, proposalID int64) ([]domain.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
SELECT id,proposal_id,email,name,role,token_hash,viewed_at,created_at
FROM recipients WHERE proposal_id=$1 ORDER BY id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(&rec.ID, &rec.ProposalID, &rec.Email, &rec.Name, &rec.Role, &rec.TokenHash, &rec.ViewedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResolveRecipient looks a token hash up scoped to the proposal's public id.
// A miss is domain.ErrNotFound regardless of which half failed; the gate
// collapses it to ErrAccessDenied.
func (s *Store) ResolveRecipient(ctx context.Context, publicID, tokenHash string) (domain.Recipient, error) {
	var rec domain.Recipient
	err := s.DB.QueryRow(ctx, `
SELECT r.id,r.proposal_id,r.email,r.name,r.role,r.token_hash,r.viewed_at,r.created_at
FROM recipients r
JOIN proposals p ON p.id=r.proposal_id
WHERE p.public_id=$1 AND r.token_hash=$2`, publicID, tokenHash).
		Scan(&rec.ID, &rec.ProposalID, &rec.Email, &rec.Name, &rec.Role, &rec.TokenHash, &rec.ViewedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Recipient{}, domain.ErrNotFound
		}
		return domain.Recipient{}, err
	}
	return rec, nil
}

// MarkSent freezes the content snapshot and moves draft -> sent. The
// conditional UPDATE makes a double send a no-op conflict rather than a
// second snapshot.
func (s *Store) MarkSent(ctx context.Context, publicID, content, contentHash string, sentAt time.Time, expiresAt *time.Time, recipientCount int) (domain.Proposal, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
UPDATE proposals
SET status='sent', content=$2, content_hash=$3, sent_at=$4, expires_at=$5, updated_at=now()
WHERE public_id=$1 AND status='draft'
RETURNING `+proposalColumns, publicID, content, contentHash, sentAt, expiresAt)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Distinguish a missing proposal from a non-draft one.
			if _, getErr := s.GetProposal(ctx, publicID); getErr != nil {
				return domain.Proposal{}, getErr
			}
			return domain.Proposal{}, domain.ErrAlreadyResolved
		}
		return domain.Proposal{}, err
	}
	details := domain.SentDetails{RecipientCount: recipientCount, ContentHash: contentHash, ExpiresAt: expiresAt}
	if err := insertEvent(ctx, tx, p.ID, domain.EventSent, domain.ActorContext{}, details); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// RecordView sets viewed_at if this is the recipient's first view, bumps
// sent -> viewed on the proposal, and appends a view event. Repeated views
// append events without touching viewed_at; concurrent first views are safe
// because only the NULL row takes the write.
func (s *Store) RecordView(ctx context.Context, p domain.Proposal, rec domain.Recipient, at time.Time, actor domain.ActorContext) (bool, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var firstView bool
	err = tx.QueryRow(ctx, `
WITH upd AS (
	UPDATE recipients SET viewed_at=$2 WHERE id=$1 AND viewed_at IS NULL RETURNING id
)
SELECT EXISTS(SELECT 1 FROM upd)`, rec.ID, at).Scan(&firstView)
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `UPDATE proposals SET status='viewed', updated_at=now() WHERE id=$1 AND status='sent'`, p.ID); err != nil {
		return false, err
	}

	actor.Email = rec.Email
	details := domain.ViewDetails{RecipientEmail: rec.Email, FirstView: firstView}
	if err := insertEvent(ctx, tx, p.ID, domain.EventView, actor, details); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return firstView, nil
}

// RecordDecision commits the terminal transition. The WHERE clause is the
// compare-and-set: the row must still be non-terminal and inside its
// deadline, so exactly one of any number of racing writers applies. The
// loser's zero-row result is classified against a re-read of the row.
func (s *Store) RecordDecision(ctx context.Context, p domain.Proposal, rec domain.Recipient, action domain.Action, at time.Time, reason string, actor domain.ActorContext) error {
	var newStatus domain.Status
	switch action {
	case domain.ActionAccept:
		newStatus = domain.StatusAccepted
	case domain.ActionReject:
		newStatus = domain.StatusRejected
	default:
		return domain.NewValidationError("action", "not a terminal action")
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE proposals SET status=$2,
	accepted_at      = CASE WHEN $2='accepted' THEN $3 ELSE accepted_at END,
	rejected_at      = CASE WHEN $2='rejected' THEN $3 ELSE rejected_at END,
	rejection_reason = CASE WHEN $2='rejected' THEN $4 ELSE rejection_reason END,
	updated_at       = now()
WHERE id=$1
	AND status IN ('draft','sent','viewed')
	AND (expires_at IS NULL OR expires_at > $3)`,
		p.ID, string(newStatus), at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyDecisionConflict(ctx, p.ID, at)
	}

	actor.Email = rec.Email
	var details domain.EventDetails
	typ := domain.EventAccept
	if action == domain.ActionReject {
		typ = domain.EventReject
		details = domain.RejectDetails{RecipientEmail: rec.Email, Reason: reason}
	} else {
		details = domain.AcceptDetails{RecipientEmail: rec.Email}
	}
	if err := insertEvent(ctx, tx, p.ID, typ, actor, details); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) classifyDecisionConflict(ctx context.Context, proposalID int64, at time.Time) error {
	var status string
	var expiresAt *time.Time
	err := s.DB.QueryRow(ctx, `SELECT status,expires_at FROM proposals WHERE id=$1`, proposalID).Scan(&status, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if domain.Status(status) == domain.StatusExpired || (expiresAt != nil && at.After(*expiresAt)) {
		return domain.ErrExpired
	}
	return domain.ErrAlreadyResolved
}

// SweepExpired is the administrative pass that writes the stored expired
// status. The gate never depends on it; expiry is enforced at access time.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
UPDATE proposals SET status='expired', updated_at=now()
WHERE status IN ('sent','viewed') AND expires_at IS NOT NULL AND expires_at < $1
RETURNING id, expires_at`, now)
	if err != nil {
		return 0, err
	}
	type swept struct {
		id        int64
		expiresAt time.Time
	}
	var all []swept
	for rows.Next() {
		var sw swept
		if err := rows.Scan(&sw.id, &sw.expiresAt); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, sw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, sw := range all {
		details := domain.ExpiredDetails{ExpiresAt: sw.expiresAt, SweptAt: now}
		if err := insertEvent(ctx, tx, sw.id, domain.EventExpired, domain.ActorContext{}, details); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(all), nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, proposalID int64, typ domain.EventType, actor domain.ActorContext, details domain.EventDetails) error {
	raw, err := domain.EncodeDetails(details)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO proposal_events(proposal_id,event_type,actor_email,ip_address,user_agent,details)
VALUES($1,$2,$3,$4,$5,$6::jsonb)`,
		proposalID, string(typ), nullable(actor.Email), nullable(actor.IPAddress), nullable(actor.UserAgent), string(raw))
	return err
}

func (s *Store) ListEvents(ctx context.Context, proposalID int64) ([]domain.Event, error) {
	rows, err := s.DB.Query(ctx, `
SELECT id,proposal_id,event_type,actor_email,ip_address,user_agent,details,created_at
FROM proposal_events WHERE proposal_id=$1 ORDER BY created_at, id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var typ string
		var actorEmail, ip, ua *string
		if err := rows.Scan(&ev.ID, &ev.ProposalID, &typ, &actorEmail, &ip, &ua, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)
		ev.ActorEmail = deref(actorEmail)
		ev.IPAddress = deref(ip)
		ev.UserAgent = deref(ua)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, actorID, key, endpoint string) (int, map[string]any, bool, error) {
	var status int
	var body map[string]any
	err := s.DB.QueryRow(ctx, `
SELECT response_status, response_body
FROM idempotency_records
WHERE actor_id=$1 AND idempotency_key=$2 AND endpoint=$3`, actorID, key, endpoint).Scan(&status, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return status, body, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, actorID, key, endpoint string, responseStatus int, responseBody map[string]any) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO idempotency_records(actor_id,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (actor_id,idempotency_key,endpoint) DO NOTHING`,
		actorID, key, endpoint, responseStatus, responseBody)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
