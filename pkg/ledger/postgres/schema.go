// Package postgres provides the PostgreSQL-backed implementation of the
// tonearm recall ledger: request rows, job rows, ranked candidates, source
// citations, and the append-only audit log.
//
// All tables share a single [pgxpool.Pool]. [Migrate] is idempotent
// (CREATE TABLE IF NOT EXISTS) and safe to run on every application start.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecallRequests = `
CREATE TABLE IF NOT EXISTS recall_requests (
    id                TEXT         PRIMARY KEY,
    request_id        TEXT         NOT NULL UNIQUE,
    user_id           TEXT         NOT NULL,
    client_addr       TEXT         NOT NULL DEFAULT '',
    input_type        TEXT         NOT NULL,
    query_text        TEXT         NOT NULL DEFAULT '',
    audio_path        TEXT         NOT NULL DEFAULT '',
    image_path        TEXT         NOT NULL DEFAULT '',
    thread_id         TEXT         NOT NULL DEFAULT '',
    status            TEXT         NOT NULL DEFAULT 'new',
    result_title      TEXT         NOT NULL DEFAULT '',
    result_artist     TEXT         NOT NULL DEFAULT '',
    result_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    result_url        TEXT         NOT NULL DEFAULT '',
    result_note       TEXT         NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recall_requests_user_created
    ON recall_requests (user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_recall_requests_addr_created
    ON recall_requests (client_addr, created_at);

CREATE INDEX IF NOT EXISTS idx_recall_requests_status
    ON recall_requests (status);
`

const ddlRecallJobs = `
CREATE TABLE IF NOT EXISTS recall_jobs (
    id            TEXT         PRIMARY KEY,
    request_id    TEXT         NOT NULL REFERENCES recall_requests (id) ON DELETE CASCADE,
    job_type      TEXT         NOT NULL,
    status        TEXT         NOT NULL DEFAULT 'queued',
    scheduled_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at  TIMESTAMPTZ,
    error_message TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_recall_jobs_status_scheduled
    ON recall_jobs (status, scheduled_at);

CREATE INDEX IF NOT EXISTS idx_recall_jobs_request
    ON recall_jobs (request_id);
`

const ddlCandidates = `
CREATE TABLE IF NOT EXISTS candidates (
    request_id   TEXT             NOT NULL REFERENCES recall_requests (id) ON DELETE CASCADE,
    rank         INT              NOT NULL,
    title        TEXT             NOT NULL,
    artist       TEXT             NOT NULL,
    album        TEXT             NOT NULL DEFAULT '',
    confidence   DOUBLE PRECISION NOT NULL,
    url          TEXT             NOT NULL DEFAULT '',
    evidence     TEXT             NOT NULL DEFAULT '',
    release_date TEXT             NOT NULL DEFAULT '',
    PRIMARY KEY (request_id, rank)
);

CREATE TABLE IF NOT EXISTS sources (
    id         BIGSERIAL    PRIMARY KEY,
    request_id TEXT         NOT NULL REFERENCES recall_requests (id) ON DELETE CASCADE,
    title      TEXT         NOT NULL,
    url        TEXT         NOT NULL,
    publisher  TEXT         NOT NULL DEFAULT '',
    verified   BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_sources_request
    ON sources (request_id);
`

const ddlAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id         BIGSERIAL    PRIMARY KEY,
    request_id TEXT         NOT NULL,
    stage      TEXT         NOT NULL,
    message    TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_request
    ON audit_log (request_id, created_at);
`

// Migrate creates or ensures all ledger tables and indexes exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlRecallRequests,
		ddlRecallJobs,
		ddlCandidates,
		ddlAuditLog,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ledger migrate: %w", err)
		}
	}
	return nil
}
