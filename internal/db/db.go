// Package db opens the Postgres pool and owns the tables this service writes.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)

	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}

	cfg.MaxConns = maxConns

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)

	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)

	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)

	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// Schema creates the checkpoint and audit tables. Events and registrations
// belong to the event service; EntitySchema creates them for local runs and
// integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS checkpoint_scans (
	id              UUID PRIMARY KEY,
	rsvp_id         UUID NOT NULL,
	event_id        UUID NOT NULL,
	checkpoint_type TEXT NOT NULL CHECK (checkpoint_type IN ('entry', 'refreshment', 'swag')),
	scanned_at      TIMESTAMPTZ NOT NULL,
	scanned_by      TEXT,
	scan_method     TEXT,
	notes           TEXT,
	CONSTRAINT checkpoint_scans_key UNIQUE (rsvp_id, event_id, checkpoint_type)
);

CREATE INDEX IF NOT EXISTS checkpoint_scans_event_idx ON checkpoint_scans (event_id, checkpoint_type);

CREATE TABLE IF NOT EXISTS audit_log (
	id         UUID PRIMARY KEY,
	actor_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	target_id  TEXT,
	before     JSONB,
	after      JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_log_action_idx ON audit_log (action, created_at DESC);
`

const EntitySchema = `
CREATE TABLE IF NOT EXISTS events (
	id         UUID PRIMARY KEY,
	title      TEXT NOT NULL,
	city       TEXT,
	start_at   TIMESTAMPTZ NOT NULL,
	capacity   INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS registrations (
	id            UUID PRIMARY KEY,
	event_id      UUID NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	user_id       UUID,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	affiliation   TEXT,
	ticket_number TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	checked_in_at TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS registrations_event_email_uniq ON registrations (event_id, lower(email));
`

func Migrate(ctx context.Context, pool *pgxpool.Pool, schemas ...string) error {
	for _, s := range schemas {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
