// Package router exposes the recall submission API. A submission passes
// through bearer auth, ledger-backed rate limiting, an idempotency check on
// the caller-supplied request id, and intent detection before exactly one job
// is enqueued for the worker.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonearm/tonearm/internal/auth"
	"github.com/tonearm/tonearm/internal/intent"
	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
)

// Router handles the /v1/recalls routes.
type Router struct {
	store    ledger.Store
	verifier auth.Verifier
	detector *intent.Detector
	prefs    prefs.Store
	metrics  *observe.Metrics
	logger   *slog.Logger
	now      func() time.Time

	limitsMu sync.RWMutex
	limits   Limits
}

// Option configures a [Router].
type Option func(*Router)

// WithLimits overrides the default rate limits.
func WithLimits(l Limits) Option {
	return func(rt *Router) { rt.limits = l.withDefaults() }
}

// WithFeedback enables the feedback route, recording accept/reject verdicts
// into the given preference store.
func WithFeedback(store prefs.Store) Option {
	return func(rt *Router) { rt.prefs = store }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(rt *Router) {
		if m != nil {
			rt.metrics = m
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rt *Router) {
		if l != nil {
			rt.logger = l
		}
	}
}

// New creates a Router over the given store, credential verifier, and intent
// detector.
func New(store ledger.Store, verifier auth.Verifier, detector *intent.Detector, opts ...Option) *Router {
	rt := &Router{
		store:    store,
		verifier: verifier,
		detector: detector,
		limits:   Limits{}.withDefaults(),
		metrics:  observe.DefaultMetrics(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// SetLimits replaces the rate limits at runtime. Used by the config
// hot-reload path; in-flight requests keep the limits they started with.
func (rt *Router) SetLimits(l Limits) {
	rt.limitsMu.Lock()
	rt.limits = l.withDefaults()
	rt.limitsMu.Unlock()
}

func (rt *Router) currentLimits() Limits {
	rt.limitsMu.RLock()
	defer rt.limitsMu.RUnlock()
	return rt.limits
}

// Register attaches the recall routes to mux.
func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recalls", rt.handleSubmit)
	mux.HandleFunc("GET /v1/recalls/{id}", rt.handleGet)
	mux.HandleFunc("POST /v1/recalls/{id}/retry", rt.handleRetry)
	if rt.prefs != nil {
		mux.HandleFunc("POST /v1/recalls/{id}/feedback", rt.handleFeedback)
	}
}

type submitRequest struct {
	RequestID string `json:"request_id"`
	InputType string `json:"input_type"`
	QueryText string `json:"query_text,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

type submitResponse struct {
	Status     string  `json:"status"`
	ID         string  `json:"id"`
	RequestID  string  `json:"request_id"`
	JobID      string  `json:"job_id,omitempty"`
	JobType    string  `json:"job_type,omitempty"`
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := rt.verifier.Verify(ctx, auth.FromRequest(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if msg := validateSubmit(body); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	}

	addr := clientAddr(r)
	limits := rt.currentLimits()
	scope, err := rt.checkRate(ctx, limits, userID, addr)
	if err != nil {
		rt.internalError(w, "rate limit check", err)
		return
	}
	if scope != "" {
		rt.metrics.RecordRateLimited(ctx, scope)
		retryAfter := int(limits.Window / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "rate limit exceeded",
			RetryAfter: retryAfter,
		})
		return
	}

	// Fast idempotency path before the insert; the unique key on the
	// request id catches the race with a concurrent replay.
	if existing, err := rt.store.GetRequestByRequestID(ctx, body.RequestID); err == nil {
		rt.replay(ctx, w, existing)
		return
	} else if !errors.Is(err, ledger.ErrNotFound) {
		rt.internalError(w, "idempotency lookup", err)
		return
	}

	inputType := ledger.InputType(body.InputType)
	verdict := rt.detector.Detect(ctx, detectionInput(inputType, body.AudioPath), body.QueryText)

	req := &ledger.RecallRequest{
		ID:         uuid.NewString(),
		RequestID:  body.RequestID,
		UserID:     userID,
		ClientAddr: addr,
		InputType:  inputType,
		QueryText:  body.QueryText,
		AudioPath:  body.AudioPath,
		ImagePath:  body.ImagePath,
		ThreadID:   body.ThreadID,
		Status:     ledger.RequestNew,
	}
	if err := rt.store.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, ledger.ErrDuplicateRequest) {
			existing, getErr := rt.store.GetRequestByRequestID(ctx, body.RequestID)
			if getErr != nil {
				rt.internalError(w, "replay lookup", getErr)
				return
			}
			rt.replay(ctx, w, existing)
			return
		}
		rt.internalError(w, "create request", err)
		return
	}

	job := &ledger.RecallJob{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Type:      verdict.Intent.JobType(),
		Status:    ledger.JobQueued,
	}
	if err := rt.store.CreateJob(ctx, job); err != nil {
		rt.internalError(w, "create job", err)
		return
	}
	if err := rt.store.AdvanceRequest(ctx, req.ID, ledger.RequestQueued); err != nil {
		rt.internalError(w, "advance request", err)
		return
	}
	if err := rt.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: req.ID,
		Stage:     "intent",
		Message: fmt.Sprintf("intent=%s confidence=%.2f source=%s reasoning=%s",
			verdict.Intent, verdict.Confidence, verdict.Source, verdict.Reasoning),
	}); err != nil {
		rt.logger.Warn("router: audit append failed", "request", req.ID, "err", err)
	}

	rt.metrics.RecordRecallSubmitted(ctx, string(inputType), string(verdict.Intent))
	rt.logger.Info("router: recall accepted",
		"request", req.ID, "user", userID, "input", inputType,
		"intent", verdict.Intent, "job", job.ID)

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:     "queued",
		ID:         req.ID,
		RequestID:  req.RequestID,
		JobID:      job.ID,
		JobType:    string(job.Type),
		Intent:     string(verdict.Intent),
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
	})
}

// replay answers a duplicate submission without enqueueing a second job. A
// request still in flight reports "already_queued" with the original ids; a
// terminal request reports its final status.
func (rt *Router) replay(ctx context.Context, w http.ResponseWriter, existing *ledger.RecallRequest) {
	resp := submitResponse{
		Status:    string(existing.Status),
		ID:        existing.ID,
		RequestID: existing.RequestID,
	}
	if existing.Status.InFlight() {
		resp.Status = "already_queued"
		if job, err := rt.store.GetActiveJob(ctx, existing.ID); err == nil {
			resp.JobID = job.ID
			resp.JobType = string(job.Type)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type candidatePayload struct {
	Rank        int     `json:"rank"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	Confidence  float64 `json:"confidence"`
	URL         string  `json:"url,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
}

type recallResponse struct {
	ID         string             `json:"id"`
	RequestID  string             `json:"request_id"`
	Status     string             `json:"status"`
	InputType  string             `json:"input_type"`
	QueryText  string             `json:"query_text,omitempty"`
	Result     *resultPayload     `json:"result,omitempty"`
	Candidates []candidatePayload `json:"candidates"`
}

type resultPayload struct {
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	URL        string  `json:"url,omitempty"`
	Note       string  `json:"note,omitempty"`
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := rt.verifier.Verify(ctx, auth.FromRequest(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	req, err := rt.store.GetRequest(ctx, r.PathValue("id"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "recall not found"})
		return
	}
	if err != nil {
		rt.internalError(w, "get request", err)
		return
	}

	candidates, err := rt.store.GetCandidates(ctx, req.ID)
	if err != nil {
		rt.internalError(w, "get candidates", err)
		return
	}

	resp := recallResponse{
		ID:         req.ID,
		RequestID:  req.RequestID,
		Status:     string(req.Status),
		InputType:  string(req.InputType),
		QueryText:  req.QueryText,
		Candidates: make([]candidatePayload, 0, len(candidates)),
	}
	if req.Status == ledger.RequestDone {
		resp.Result = &resultPayload{
			Title:      req.ResultTitle,
			Artist:     req.ResultArtist,
			Confidence: req.ResultConfidence,
			URL:        req.ResultURL,
			Note:       req.ResultNote,
		}
	}
	for _, c := range candidates {
		resp.Candidates = append(resp.Candidates, candidatePayload{
			Rank:        c.Rank,
			Title:       c.Title,
			Artist:      c.Artist,
			Album:       c.Album,
			Confidence:  c.Confidence,
			URL:         c.URL,
			Evidence:    c.Evidence,
			ReleaseDate: c.ReleaseDate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRetry resets a failed recall back to queued and schedules a fresh
// job. The job type is recomputed from the stored query; intent detection is
// deterministic for a given input, so a retry reproduces the original
// routing.
func (rt *Router) handleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := rt.verifier.Verify(ctx, auth.FromRequest(r)); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
		return
	}

	id := r.PathValue("id")
	req, err := rt.store.GetRequest(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "recall not found"})
		return
	}
	if err != nil {
		rt.internalError(w, "get request", err)
		return
	}

	if err := rt.store.RetryRequest(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrBackwardTransition) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "only failed recalls can be retried"})
			return
		}
		rt.internalError(w, "retry request", err)
		return
	}

	verdict := rt.detector.Detect(ctx, detectionInput(req.InputType, req.AudioPath), req.QueryText)
	job := &ledger.RecallJob{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Type:      verdict.Intent.JobType(),
		Status:    ledger.JobQueued,
	}
	if err := rt.store.CreateJob(ctx, job); err != nil {
		rt.internalError(w, "create retry job", err)
		return
	}
	if err := rt.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: req.ID,
		Stage:     "retry",
		Message:   fmt.Sprintf("requeued as job %s", job.ID),
	}); err != nil {
		rt.logger.Warn("router: audit append failed", "request", req.ID, "err", err)
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:    "queued",
		ID:        req.ID,
		RequestID: req.RequestID,
		JobID:     job.ID,
		JobType:   string(job.Type),
	})
}

// detectionInput maps a submission onto the input type intent detection
// should see. A dictated voice query without a recorded clip has nothing to
// fingerprint, so it is routed by its text rather than force-classified as
// identify.
func detectionInput(inputType ledger.InputType, audioPath string) ledger.InputType {
	if inputType == ledger.InputVoice && audioPath == "" {
		return ledger.InputText
	}
	return inputType
}

// validateSubmit returns a user-facing message for a malformed submission, or
// the empty string when the payload is acceptable.
func validateSubmit(body submitRequest) string {
	if body.RequestID == "" {
		return "request_id is required"
	}
	inputType := ledger.InputType(body.InputType)
	if !inputType.IsValid() {
		return fmt.Sprintf("unknown input_type %q", body.InputType)
	}
	switch inputType {
	case ledger.InputText:
		if body.QueryText == "" {
			return "query_text is required for text input"
		}
	case ledger.InputBackground, ledger.InputHum:
		if body.AudioPath == "" {
			return fmt.Sprintf("audio_path is required for %s input", inputType)
		}
	case ledger.InputImage:
		if body.ImagePath == "" {
			return "image_path is required for image input"
		}
	case ledger.InputVoice:
		if body.QueryText == "" && body.AudioPath == "" {
			return "voice input needs query_text or audio_path"
		}
	}
	return ""
}

func (rt *Router) internalError(w http.ResponseWriter, op string, err error) {
	rt.logger.Error("router: "+op, "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // headers already sent
}

// clientAddr strips the port from the remote address so rate limiting keys on
// the host alone.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
