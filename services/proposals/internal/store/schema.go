package store

import "context"

// Proposals are never hard-deleted; terminal rows are retained for audit.
// proposal_events has no UPDATE or DELETE path anywhere in this package.
const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id               bigserial PRIMARY KEY,
	public_id        text NOT NULL UNIQUE,
	title            text NOT NULL,
	subject          text NOT NULL DEFAULT '',
	content          text NOT NULL DEFAULT '',
	content_hash     text NOT NULL DEFAULT '',
	currency         text NOT NULL DEFAULT 'USD',
	total_amount     numeric(14,2) NOT NULL DEFAULT 0,
	status           text NOT NULL DEFAULT 'draft',
	sent_at          timestamptz,
	expires_at       timestamptz,
	accepted_at      timestamptz,
	rejected_at      timestamptz,
	rejection_reason text NOT NULL DEFAULT '',
	created_at       timestamptz NOT NULL DEFAULT now(),
	updated_at       timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recipients (
	id          bigserial PRIMARY KEY,
	proposal_id bigint NOT NULL REFERENCES proposals(id),
	email       text NOT NULL,
	name        text NOT NULL DEFAULT '',
	role        text NOT NULL DEFAULT '',
	token_hash  text NOT NULL UNIQUE,
	viewed_at   timestamptz,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS recipients_proposal_idx ON recipients(proposal_id);

CREATE TABLE IF NOT EXISTS proposal_events (
	id          bigserial PRIMARY KEY,
	proposal_id bigint NOT NULL REFERENCES proposals(id),
	event_type  text NOT NULL,
	actor_email text,
	ip_address  text,
	user_agent  text,
	details     jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS proposal_events_proposal_idx ON proposal_events(proposal_id, created_at);

CREATE TABLE IF NOT EXISTS idempotency_records (
	actor_id        text NOT NULL,
	idempotency_key text NOT NULL,
	endpoint        text NOT NULL,
	response_status int NOT NULL,
	response_body   jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at      timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (actor_id, idempotency_key, endpoint)
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}
