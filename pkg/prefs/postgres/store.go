// Package postgres provides the PostgreSQL-backed implementation of the
// preference store. Feedback rows live in a plain table; search patterns are
// indexed with pgvector for cosine-distance lookup.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tonearm/tonearm/pkg/prefs"
)

// Compile-time interface check.
var _ prefs.Store = (*Store)(nil)

// Store implements prefs.Store on a pgx connection pool.
// All methods are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	ownPool bool
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [prefs.SearchPattern.Embedding] values. Changing it after
// the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prefs postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prefs postgres: migrate: %w", err)
	}
	return &Store{pool: pool, ownPool: true}, nil
}

// Close releases the connection pool if this store created it.
func (s *Store) Close() {
	if s.ownPool {
		s.pool.Close()
	}
}

// RecordFeedback implements [prefs.Store].
func (s *Store) RecordFeedback(ctx context.Context, fb prefs.Feedback) error {
	createdAt := fb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO feedback (user_id, request_id, title, artist, genre, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q,
		fb.UserID, fb.RequestID, fb.Title, fb.Artist, fb.Genre, string(fb.Verdict), createdAt)
	if err != nil {
		return fmt.Errorf("prefs postgres: record feedback: %w", err)
	}
	return nil
}

// Preferences implements [prefs.Store]. The bundle is derived on read from
// the user's feedback rows; there is no materialised preference table.
func (s *Store) Preferences(ctx context.Context, userID string) (*prefs.UserPreferences, error) {
	const q = `
		SELECT user_id, request_id, title, artist, genre, verdict, created_at
		FROM   feedback
		WHERE  user_id = $1
		ORDER  BY created_at`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: load feedback: %w", err)
	}

	fbs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (prefs.Feedback, error) {
		var (
			fb      prefs.Feedback
			verdict string
		)
		if err := row.Scan(&fb.UserID, &fb.RequestID, &fb.Title, &fb.Artist, &fb.Genre, &verdict, &fb.CreatedAt); err != nil {
			return prefs.Feedback{}, err
		}
		fb.Verdict = prefs.Verdict(verdict)
		return fb, nil
	})
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: scan feedback: %w", err)
	}
	return prefs.Derive(userID, fbs), nil
}

// IndexSearchPattern implements [prefs.Store].
func (s *Store) IndexSearchPattern(ctx context.Context, pattern prefs.SearchPattern) error {
	createdAt := pattern.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO search_patterns (id, user_id, query, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    user_id   = EXCLUDED.user_id,
		    query     = EXCLUDED.query,
		    embedding = EXCLUDED.embedding`
	_, err := s.pool.Exec(ctx, q,
		pattern.ID, pattern.UserID, pattern.Query, pgvector.NewVector(pattern.Embedding), createdAt)
	if err != nil {
		return fmt.Errorf("prefs postgres: index pattern: %w", err)
	}
	return nil
}

// SimilarPatterns implements [prefs.Store]. Results are ordered by ascending
// cosine distance (most similar first).
func (s *Store) SimilarPatterns(ctx context.Context, userID string, embedding []float32, topK int) ([]prefs.PatternMatch, error) {
	const q = `
		SELECT id, user_id, query, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   search_patterns
		WHERE  user_id = $2
		ORDER  BY distance
		LIMIT  $3`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), userID, topK)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: similar patterns: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (prefs.PatternMatch, error) {
		var (
			pm  prefs.PatternMatch
			vec pgvector.Vector
		)
		if err := row.Scan(&pm.Pattern.ID, &pm.Pattern.UserID, &pm.Pattern.Query, &vec, &pm.Pattern.CreatedAt, &pm.Distance); err != nil {
			return prefs.PatternMatch{}, err
		}
		pm.Pattern.Embedding = vec.Slice()
		return pm, nil
	})
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: scan patterns: %w", err)
	}
	return matches, nil
}
