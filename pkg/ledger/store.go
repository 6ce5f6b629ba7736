package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a request, job, or candidate row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// ErrDuplicateRequest is returned by CreateRequest when a request with the
// same idempotency key already exists. Callers should re-read the existing
// row and answer "already queued" instead of enqueueing again.
var ErrDuplicateRequest = errors.New("ledger: duplicate request id")

// ErrBackwardTransition is returned when a status update would move a request
// backwards outside the explicit retry path.
var ErrBackwardTransition = errors.New("ledger: backward status transition")

// Store is the durable record of recall requests, their jobs, and their
// ranked candidates. Implementations must be safe for concurrent use.
//
// Status updates are read-modify-write per request row; the idempotency check
// (GetRequestByRequestID before CreateRequest, plus the unique key on
// RequestID) guarantees that two concurrent submissions with the same
// idempotency key converge to a single job.
type Store interface {
	// CreateRequest inserts a new RecallRequest. Returns ErrDuplicateRequest
	// if a row with the same RequestID (idempotency key) already exists.
	CreateRequest(ctx context.Context, req *RecallRequest) error

	// GetRequest returns the request with the given server-assigned ID.
	GetRequest(ctx context.Context, id string) (*RecallRequest, error)

	// GetRequestByRequestID returns the request with the given idempotency key.
	GetRequestByRequestID(ctx context.Context, requestID string) (*RecallRequest, error)

	// AdvanceRequest moves the request to status. Returns ErrBackwardTransition
	// if the move is backwards; retry is the explicit exception and resets a
	// failed request to queued.
	AdvanceRequest(ctx context.Context, id string, status RequestStatus) error

	// RetryRequest resets a terminal failed request back to queued.
	RetryRequest(ctx context.Context, id string) error

	// SetRequestResult writes the top candidate summary (or the explicit
	// "no candidates" note) back onto the request row.
	SetRequestResult(ctx context.Context, id string, req *RecallRequest) error

	// CreateJob inserts a new RecallJob in the queued state.
	CreateJob(ctx context.Context, job *RecallJob) error

	// GetActiveJob returns the queued or processing job for the given request,
	// or ErrNotFound when none is active.
	GetActiveJob(ctx context.Context, requestID string) (*RecallJob, error)

	// ClaimNextJob atomically moves the oldest queued job to processing and
	// returns it, or ErrNotFound when the queue is empty.
	ClaimNextJob(ctx context.Context) (*RecallJob, error)

	// CompleteJob marks the job done or failed, recording errMsg when failed.
	CompleteJob(ctx context.Context, jobID string, status JobStatus, errMsg string) error

	// CountAcceptedByUser returns the number of requests accepted for userID
	// since the given instant. Used for rate limiting; marginal overshoot
	// under concurrent load is accepted.
	CountAcceptedByUser(ctx context.Context, userID string, since time.Time) (int, error)

	// CountAcceptedByAddr returns the number of requests accepted from addr
	// since the given instant.
	CountAcceptedByAddr(ctx context.Context, addr string, since time.Time) (int, error)

	// PutCandidates replaces the candidate rows for a request. Ranks must be
	// unique and contiguous starting at 1.
	PutCandidates(ctx context.Context, requestID string, candidates []Candidate) error

	// GetCandidates returns the candidates for a request ordered by rank.
	GetCandidates(ctx context.Context, requestID string) ([]Candidate, error)

	// PutSources appends citation rows for a request.
	PutSources(ctx context.Context, requestID string, sources []Source) error

	// AppendAudit appends one audit log row. Audit writes must succeed on
	// failure paths too; implementations should not wrap them in the same
	// transaction as the failing work.
	AppendAudit(ctx context.Context, entry AuditEntry) error
}
