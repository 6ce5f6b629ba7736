package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tonearm/tonearm/pkg/ledger"
)

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// Store is the PostgreSQL-backed recall ledger.
// Obtain one via [NewStore]. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, pings it, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool for health checks and for
// stores that share the same database (e.g. the preference store).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the pool.
func (s *Store) Close() { s.pool.Close() }

// CreateRequest implements [ledger.Store].
func (s *Store) CreateRequest(ctx context.Context, req *ledger.RecallRequest) error {
	const q = `
		INSERT INTO recall_requests
		    (id, request_id, user_id, client_addr, input_type, query_text,
		     audio_path, image_path, thread_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		req.ID, req.RequestID, req.UserID, req.ClientAddr,
		string(req.InputType), req.QueryText,
		req.AudioPath, req.ImagePath, req.ThreadID, string(req.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ledger.ErrDuplicateRequest
		}
		return fmt.Errorf("ledger store: create request: %w", err)
	}
	return nil
}

const requestColumns = `
	id, request_id, user_id, client_addr, input_type, query_text,
	audio_path, image_path, thread_id, status,
	result_title, result_artist, result_confidence, result_url, result_note,
	created_at, updated_at`

// GetRequest implements [ledger.Store].
func (s *Store) GetRequest(ctx context.Context, id string) (*ledger.RecallRequest, error) {
	q := "SELECT" + requestColumns + " FROM recall_requests WHERE id = $1"
	return s.queryRequest(ctx, q, id)
}

// GetRequestByRequestID implements [ledger.Store].
func (s *Store) GetRequestByRequestID(ctx context.Context, requestID string) (*ledger.RecallRequest, error) {
	q := "SELECT" + requestColumns + " FROM recall_requests WHERE request_id = $1"
	return s.queryRequest(ctx, q, requestID)
}

func (s *Store) queryRequest(ctx context.Context, q string, arg any) (*ledger.RecallRequest, error) {
	var (
		req                   ledger.RecallRequest
		inputType, status     string
	)
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&req.ID, &req.RequestID, &req.UserID, &req.ClientAddr,
		&inputType, &req.QueryText,
		&req.AudioPath, &req.ImagePath, &req.ThreadID, &status,
		&req.ResultTitle, &req.ResultArtist, &req.ResultConfidence,
		&req.ResultURL, &req.ResultNote,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger store: get request: %w", err)
	}
	req.InputType = ledger.InputType(inputType)
	req.Status = ledger.RequestStatus(status)
	return &req, nil
}

// AdvanceRequest implements [ledger.Store]. The monotonic-status invariant is
// enforced in SQL so concurrent writers cannot race a backward move past the
// read-modify-write check.
func (s *Store) AdvanceRequest(ctx context.Context, id string, status ledger.RequestStatus) error {
	const q = `
		UPDATE recall_requests
		SET    status = $2, updated_at = now()
		WHERE  id = $1
		  AND  CASE status
		         WHEN 'new'        THEN 0
		         WHEN 'queued'     THEN 1
		         WHEN 'processing' THEN 2
		         ELSE 3
		       END <
		       CASE $2
		         WHEN 'new'        THEN 0
		         WHEN 'queued'     THEN 1
		         WHEN 'processing' THEN 2
		         ELSE 3
		       END`

	tag, err := s.pool.Exec(ctx, q, id, string(status))
	if err != nil {
		return fmt.Errorf("ledger store: advance request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return getErr
		}
		return ledger.ErrBackwardTransition
	}
	return nil
}

// RetryRequest implements [ledger.Store].
func (s *Store) RetryRequest(ctx context.Context, id string) error {
	const q = `
		UPDATE recall_requests
		SET    status = 'queued', updated_at = now()
		WHERE  id = $1 AND status = 'failed'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("ledger store: retry request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return getErr
		}
		return ledger.ErrBackwardTransition
	}
	return nil
}

// SetRequestResult implements [ledger.Store].
func (s *Store) SetRequestResult(ctx context.Context, id string, result *ledger.RecallRequest) error {
	const q = `
		UPDATE recall_requests
		SET    result_title = $2, result_artist = $3, result_confidence = $4,
		       result_url = $5, result_note = $6, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id,
		result.ResultTitle, result.ResultArtist, result.ResultConfidence,
		result.ResultURL, result.ResultNote,
	)
	if err != nil {
		return fmt.Errorf("ledger store: set result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// CreateJob implements [ledger.Store].
func (s *Store) CreateJob(ctx context.Context, job *ledger.RecallJob) error {
	const q = `
		INSERT INTO recall_jobs (id, request_id, job_type, status)
		VALUES ($1, $2, $3, $4)`

	status := job.Status
	if status == "" {
		status = ledger.JobQueued
	}
	_, err := s.pool.Exec(ctx, q, job.ID, job.RequestID, string(job.Type), string(status))
	if err != nil {
		return fmt.Errorf("ledger store: create job: %w", err)
	}
	return nil
}

const jobColumns = `id, request_id, job_type, status, scheduled_at, completed_at, error_message`

// GetActiveJob implements [ledger.Store].
func (s *Store) GetActiveJob(ctx context.Context, requestID string) (*ledger.RecallJob, error) {
	q := "SELECT " + jobColumns + `
		FROM recall_jobs
		WHERE request_id = $1 AND status IN ('queued', 'processing')
		ORDER BY scheduled_at
		LIMIT 1`

	return s.queryJob(ctx, q, requestID)
}

// ClaimNextJob implements [ledger.Store]. FOR UPDATE SKIP LOCKED lets multiple
// workers poll the same queue without double-claiming a job.
func (s *Store) ClaimNextJob(ctx context.Context) (*ledger.RecallJob, error) {
	q := `
		UPDATE recall_jobs
		SET    status = 'processing'
		WHERE  id = (
		    SELECT id FROM recall_jobs
		    WHERE  status = 'queued'
		    ORDER  BY scheduled_at
		    FOR UPDATE SKIP LOCKED
		    LIMIT 1
		)
		RETURNING ` + jobColumns

	return s.queryJob(ctx, q)
}

func (s *Store) queryJob(ctx context.Context, q string, args ...any) (*ledger.RecallJob, error) {
	var (
		job              ledger.RecallJob
		jobType, status  string
		completedAt      *time.Time
	)
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&job.ID, &job.RequestID, &jobType, &status,
		&job.ScheduledAt, &completedAt, &job.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger store: get job: %w", err)
	}
	job.Type = ledger.JobType(jobType)
	job.Status = ledger.JobStatus(status)
	if completedAt != nil {
		job.CompletedAt = *completedAt
	}
	return &job, nil
}

// CompleteJob implements [ledger.Store].
func (s *Store) CompleteJob(ctx context.Context, jobID string, status ledger.JobStatus, errMsg string) error {
	const q = `
		UPDATE recall_jobs
		SET    status = $2, completed_at = now(), error_message = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, jobID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("ledger store: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// CountAcceptedByUser implements [ledger.Store].
func (s *Store) CountAcceptedByUser(ctx context.Context, userID string, since time.Time) (int, error) {
	const q = `SELECT count(*) FROM recall_requests WHERE user_id = $1 AND created_at >= $2`

	var n int
	if err := s.pool.QueryRow(ctx, q, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger store: count by user: %w", err)
	}
	return n, nil
}

// CountAcceptedByAddr implements [ledger.Store].
func (s *Store) CountAcceptedByAddr(ctx context.Context, addr string, since time.Time) (int, error) {
	const q = `SELECT count(*) FROM recall_requests WHERE client_addr = $1 AND created_at >= $2`

	var n int
	if err := s.pool.QueryRow(ctx, q, addr, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger store: count by addr: %w", err)
	}
	return n, nil
}

// PutCandidates implements [ledger.Store]. The replace is transactional so a
// reader never observes a partially written ranking.
func (s *Store) PutCandidates(ctx context.Context, requestID string, candidates []ledger.Candidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM candidates WHERE request_id = $1`, requestID); err != nil {
		return fmt.Errorf("ledger store: clear candidates: %w", err)
	}

	const q = `
		INSERT INTO candidates
		    (request_id, rank, title, artist, album, confidence, url, evidence, release_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, c := range candidates {
		if _, err := tx.Exec(ctx, q,
			requestID, c.Rank, c.Title, c.Artist, c.Album,
			c.Confidence, c.URL, c.Evidence, c.ReleaseDate,
		); err != nil {
			return fmt.Errorf("ledger store: insert candidate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger store: commit candidates: %w", err)
	}
	return nil
}

// GetCandidates implements [ledger.Store].
func (s *Store) GetCandidates(ctx context.Context, requestID string) ([]ledger.Candidate, error) {
	const q = `
		SELECT request_id, rank, title, artist, album, confidence, url, evidence, release_date
		FROM   candidates
		WHERE  request_id = $1
		ORDER  BY rank`

	rows, err := s.pool.Query(ctx, q, requestID)
	if err != nil {
		return nil, fmt.Errorf("ledger store: get candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Candidate, error) {
		var c ledger.Candidate
		err := row.Scan(&c.RequestID, &c.Rank, &c.Title, &c.Artist, &c.Album,
			&c.Confidence, &c.URL, &c.Evidence, &c.ReleaseDate)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger store: scan candidates: %w", err)
	}
	return candidates, nil
}

// PutSources implements [ledger.Store].
func (s *Store) PutSources(ctx context.Context, requestID string, sources []ledger.Source) error {
	const q = `
		INSERT INTO sources (request_id, title, url, publisher, verified)
		VALUES ($1, $2, $3, $4, $5)`

	for _, src := range sources {
		if _, err := s.pool.Exec(ctx, q,
			requestID, src.Title, src.URL, src.Publisher, src.Verified,
		); err != nil {
			return fmt.Errorf("ledger store: insert source: %w", err)
		}
	}
	return nil
}

// AppendAudit implements [ledger.Store]. Audit rows are written outside any
// caller transaction so failure paths still leave a trail.
func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	const q = `INSERT INTO audit_log (request_id, stage, message) VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, entry.RequestID, entry.Stage, entry.Message); err != nil {
		return fmt.Errorf("ledger store: append audit: %w", err)
	}
	return nil
}
