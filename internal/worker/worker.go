// Package worker drains the recall job queue: it claims queued jobs from the
// ledger, dispatches identify jobs to the identification cascade and
// knowledge/recommend jobs to the LLM answerer, and guarantees that every
// claimed job terminates in done or failed — a panic in a handler is
// recovered into a failed job, never a row stuck in processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonearm/tonearm/internal/cascade"
	"github.com/tonearm/tonearm/internal/observe"
	"github.com/tonearm/tonearm/pkg/ledger"
)

const (
	defaultConcurrency  = 2
	defaultPollInterval = 500 * time.Millisecond
)

// Worker polls the ledger and processes jobs until its context is cancelled.
type Worker struct {
	store    ledger.Store
	cascade  *cascade.Cascade
	answerer *Answerer

	concurrency  int
	pollInterval time.Duration
	metrics      *observe.Metrics
	logger       *slog.Logger
}

// Option configures a [Worker].
type Option func(*Worker)

// WithAnswerer sets the handler for knowledge and recommend jobs. Without it
// those jobs fail with a configuration error.
func WithAnswerer(a *Answerer) Option {
	return func(w *Worker) { w.answerer = a }
}

// WithConcurrency sets the number of polling goroutines. Default 2.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the idle poll interval. Default 500ms.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Worker over the given store and identification cascade.
func New(store ledger.Store, c *cascade.Cascade, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		cascade:      c,
		concurrency:  defaultConcurrency,
		pollInterval: defaultPollInterval,
		metrics:      observe.DefaultMetrics(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled, polling with w.concurrency goroutines.
// It returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error { return w.poll(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) poll(ctx context.Context) error {
	for {
		job, err := w.store.ClaimNextJob(ctx)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		case err != nil:
			w.logger.Error("worker: claim job", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, job)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// process runs one claimed job to a terminal state.
func (w *Worker) process(ctx context.Context, job *ledger.RecallJob) {
	w.metrics.ActiveJobs.Add(ctx, 1)
	start := time.Now()
	defer func() {
		w.metrics.ActiveJobs.Add(ctx, -1)
		w.metrics.JobDuration.Record(ctx, time.Since(start).Seconds())
	}()

	req, err := w.store.GetRequest(ctx, job.RequestID)
	if err != nil {
		w.fail(ctx, job, nil, fmt.Errorf("load request: %w", err))
		return
	}
	if req.Status == ledger.RequestQueued {
		if err := w.store.AdvanceRequest(ctx, req.ID, ledger.RequestProcessing); err != nil {
			w.fail(ctx, job, req, fmt.Errorf("advance to processing: %w", err))
			return
		}
	}

	if err := w.dispatch(ctx, job, req); err != nil {
		w.fail(ctx, job, req, err)
		return
	}
	if err := w.store.CompleteJob(ctx, job.ID, ledger.JobDone, ""); err != nil {
		w.logger.Error("worker: complete job", "job", job.ID, "err", err)
	}
	w.logger.Info("worker: job done", "job", job.ID, "type", job.Type,
		"request", req.ID, "elapsed", time.Since(start))
}

// dispatch routes the job to its handler. The deferred recover turns a panic
// into an ordinary error so the caller's failure path runs.
func (w *Worker) dispatch(ctx context.Context, job *ledger.RecallJob, req *ledger.RecallRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker: handler panicked",
				"job", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch job.Type {
	case ledger.JobIdentify:
		return w.cascade.Identify(ctx, req)
	case ledger.JobKnowledge, ledger.JobRecommend:
		if w.answerer == nil {
			return fmt.Errorf("no answerer configured for %s jobs", job.Type)
		}
		answer, err := w.answerer.Answer(ctx, req, job.Type)
		if err != nil {
			return err
		}
		return w.finishAnswer(ctx, req, answer)
	}
	return fmt.Errorf("unknown job type %q", job.Type)
}

// finishAnswer persists a drafted answer as the request's result note and
// resolves the request.
func (w *Worker) finishAnswer(ctx context.Context, req *ledger.RecallRequest, answer string) error {
	if err := w.store.SetRequestResult(ctx, req.ID, &ledger.RecallRequest{ResultNote: answer}); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}
	if err := w.store.AdvanceRequest(ctx, req.ID, ledger.RequestDone); err != nil {
		return fmt.Errorf("advance to done: %w", err)
	}
	if err := w.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: req.ID,
		Stage:     "answer",
		Message:   fmt.Sprintf("answer drafted (%d chars)", len(answer)),
	}); err != nil {
		w.logger.Warn("worker: audit append failed", "request", req.ID, "err", err)
	}
	return nil
}

// fail marks the job and request failed and writes the audit row. Every
// branch is best-effort: a ledger hiccup here must not mask the original
// failure, so persistence errors are logged and swallowed.
func (w *Worker) fail(ctx context.Context, job *ledger.RecallJob, req *ledger.RecallRequest, cause error) {
	w.logger.Error("worker: job failed", "job", job.ID, "type", job.Type, "err", cause)

	if err := w.store.CompleteJob(ctx, job.ID, ledger.JobFailed, cause.Error()); err != nil {
		w.logger.Error("worker: mark job failed", "job", job.ID, "err", err)
	}
	requestID := job.RequestID
	if req != nil {
		requestID = req.ID
	}
	if err := w.store.AdvanceRequest(ctx, requestID, ledger.RequestFailed); err != nil &&
		!errors.Is(err, ledger.ErrNotFound) && !errors.Is(err, ledger.ErrBackwardTransition) {
		w.logger.Error("worker: mark request failed", "request", requestID, "err", err)
	}
	if err := w.store.AppendAudit(ctx, ledger.AuditEntry{
		RequestID: requestID,
		Stage:     "failure",
		Message:   cause.Error(),
	}); err != nil {
		w.logger.Error("worker: audit append failed", "request", requestID, "err", err)
	}
}
