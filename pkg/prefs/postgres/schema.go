package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id         BIGSERIAL    PRIMARY KEY,
    user_id    TEXT         NOT NULL,
    request_id TEXT         NOT NULL DEFAULT '',
    title      TEXT         NOT NULL DEFAULT '',
    artist     TEXT         NOT NULL DEFAULT '',
    genre      TEXT         NOT NULL DEFAULT '',
    verdict    TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_user_created
    ON feedback (user_id, created_at);
`

// ddlSearchPatterns returns the search pattern DDL with the embedding
// dimension substituted. The dimension is baked into the column type at
// schema creation time.
func ddlSearchPatterns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS search_patterns (
    id         TEXT         PRIMARY KEY,
    user_id    TEXT         NOT NULL,
    query      TEXT         NOT NULL,
    embedding  vector(%d),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_patterns_user
    ON search_patterns (user_id);

CREATE INDEX IF NOT EXISTS idx_search_patterns_embedding
    ON search_patterns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the feedback and search pattern tables exist.
// It is idempotent and safe to run on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlFeedback,
		ddlSearchPatterns(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("prefs migrate: %w", err)
		}
	}
	return nil
}
