package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store implementation. It backs unit tests and
// single-process development runs; data does not survive a restart.
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu         sync.Mutex
	requests   map[string]*RecallRequest // by server ID
	byReqID    map[string]string         // idempotency key → server ID
	jobs       map[string]*RecallJob     // by job ID
	jobOrder   []string                  // queued job IDs in FIFO order
	candidates map[string][]Candidate    // by request ID
	sources    map[string][]Source
	audit      []AuditEntry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		requests:   make(map[string]*RecallRequest),
		byReqID:    make(map[string]string),
		jobs:       make(map[string]*RecallJob),
		candidates: make(map[string][]Candidate),
		sources:    make(map[string][]Source),
	}
}

// CreateRequest implements [Store].
func (m *MemStore) CreateRequest(_ context.Context, req *RecallRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byReqID[req.RequestID]; ok {
		return ErrDuplicateRequest
	}
	cp := *req
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.requests[cp.ID] = &cp
	m.byReqID[cp.RequestID] = cp.ID
	return nil
}

// GetRequest implements [Store].
func (m *MemStore) GetRequest(_ context.Context, id string) (*RecallRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

// GetRequestByRequestID implements [Store].
func (m *MemStore) GetRequestByRequestID(_ context.Context, requestID string) (*RecallRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byReqID[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.requests[id]
	return &cp, nil
}

// AdvanceRequest implements [Store].
func (m *MemStore) AdvanceRequest(_ context.Context, id string, status RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if !req.Status.CanAdvanceTo(status) {
		return ErrBackwardTransition
	}
	req.Status = status
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// RetryRequest implements [Store].
func (m *MemStore) RetryRequest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != RequestFailed {
		return ErrBackwardTransition
	}
	req.Status = RequestQueued
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRequestResult implements [Store].
func (m *MemStore) SetRequestResult(_ context.Context, id string, result *RecallRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	req.ResultTitle = result.ResultTitle
	req.ResultArtist = result.ResultArtist
	req.ResultConfidence = result.ResultConfidence
	req.ResultURL = result.ResultURL
	req.ResultNote = result.ResultNote
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateJob implements [Store].
func (m *MemStore) CreateJob(_ context.Context, job *RecallJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *job
	if cp.Status == "" {
		cp.Status = JobQueued
	}
	if cp.ScheduledAt.IsZero() {
		cp.ScheduledAt = time.Now().UTC()
	}
	m.jobs[cp.ID] = &cp
	m.jobOrder = append(m.jobOrder, cp.ID)
	return nil
}

// GetActiveJob implements [Store].
func (m *MemStore) GetActiveJob(_ context.Context, requestID string) (*RecallJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.RequestID == requestID && (job.Status == JobQueued || job.Status == JobProcessing) {
			cp := *job
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ClaimNextJob implements [Store].
func (m *MemStore) ClaimNextJob(_ context.Context) (*RecallJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range m.jobOrder {
		job := m.jobs[id]
		if job.Status != JobQueued {
			continue
		}
		job.Status = JobProcessing
		m.jobOrder = m.jobOrder[i+1:]
		cp := *job
		return &cp, nil
	}
	m.jobOrder = nil
	return nil, ErrNotFound
}

// CompleteJob implements [Store].
func (m *MemStore) CompleteJob(_ context.Context, jobID string, status JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Status = status
	job.CompletedAt = time.Now().UTC()
	job.ErrorMessage = errMsg
	return nil
}

// CountAcceptedByUser implements [Store].
func (m *MemStore) CountAcceptedByUser(_ context.Context, userID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, req := range m.requests {
		if req.UserID == userID && !req.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountAcceptedByAddr implements [Store].
func (m *MemStore) CountAcceptedByAddr(_ context.Context, addr string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, req := range m.requests {
		if req.ClientAddr == addr && !req.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// PutCandidates implements [Store].
func (m *MemStore) PutCandidates(_ context.Context, requestID string, candidates []Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]Candidate, len(candidates))
	copy(cp, candidates)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Rank < cp[j].Rank })
	m.candidates[requestID] = cp
	return nil
}

// GetCandidates implements [Store].
func (m *MemStore) GetCandidates(_ context.Context, requestID string) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.candidates[requestID]
	cp := make([]Candidate, len(cs))
	copy(cp, cs)
	return cp, nil
}

// PutSources implements [Store].
func (m *MemStore) PutSources(_ context.Context, requestID string, sources []Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[requestID] = append(m.sources[requestID], sources...)
	return nil
}

// AppendAudit implements [Store].
func (m *MemStore) AppendAudit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a snapshot of the audit log for the given request.
// Test helper; production code reads audit rows through the postgres store.
func (m *MemStore) AuditEntries(requestID string) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AuditEntry
	for _, e := range m.audit {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}
