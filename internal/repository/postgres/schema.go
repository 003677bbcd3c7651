package postgres

// Schema is applied in order by cmd/migrate. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS workshop_users (
		address          TEXT PRIMARY KEY,
		is_confirmed     BOOLEAN NOT NULL DEFAULT FALSE,
		confirmation_key TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		profile          JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_deliveries (
		seq          BIGSERIAL,
		address      TEXT NOT NULL REFERENCES workshop_users(address),
		email_id     TEXT NOT NULL,
		delivered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (address, email_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workshops (
		workshop_id  TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		email_secret TEXT NOT NULL UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS workshop_members (
		seq         BIGSERIAL,
		workshop_id TEXT NOT NULL REFERENCES workshops(workshop_id) ON DELETE CASCADE,
		address     TEXT NOT NULL,
		PRIMARY KEY (workshop_id, address)
	)`,
	`CREATE TABLE IF NOT EXISTS workshop_emails (
		seq         BIGSERIAL PRIMARY KEY,
		workshop_id TEXT NOT NULL REFERENCES workshops(workshop_id) ON DELETE CASCADE,
		email_id    TEXT NOT NULL UNIQUE,
		subject     TEXT NOT NULL DEFAULT '',
		body        TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMPTZ NOT NULL,
		attachments JSONB NOT NULL DEFAULT '[]'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workshop_emails_workshop ON workshop_emails (workshop_id, seq)`,
}
