package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tonearm/tonearm/internal/cascade"
	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/prefs"
	embmock "github.com/tonearm/tonearm/pkg/provider/embeddings/mock"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
	fpmock "github.com/tonearm/tonearm/pkg/provider/fingerprint/mock"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	llmmock "github.com/tonearm/tonearm/pkg/provider/llm/mock"
)

// enqueue seeds one queued request+job pair and returns both.
func enqueue(t *testing.T, store ledger.Store, jobType ledger.JobType, mutate func(*ledger.RecallRequest)) (*ledger.RecallRequest, *ledger.RecallJob) {
	t.Helper()
	req := &ledger.RecallRequest{
		ID:        "req-" + string(jobType),
		RequestID: "idem-" + string(jobType),
		UserID:    "alice",
		InputType: ledger.InputText,
		QueryText: "who produced Random Access Memories",
		Status:    ledger.RequestNew,
	}
	if mutate != nil {
		mutate(req)
	}
	if err := store.CreateRequest(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	if err := store.AdvanceRequest(t.Context(), req.ID, ledger.RequestQueued); err != nil {
		t.Fatal(err)
	}
	job := &ledger.RecallJob{ID: "job-" + string(jobType), RequestID: req.ID, Type: jobType, Status: ledger.JobQueued}
	if err := store.CreateJob(t.Context(), job); err != nil {
		t.Fatal(err)
	}
	return req, job
}

// runOnce claims and processes a single job.
func runOnce(t *testing.T, w *Worker) {
	t.Helper()
	job, err := w.store.ClaimNextJob(t.Context())
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	w.process(t.Context(), job)
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, make([]byte, 6400), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessIdentifyJob(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	clip := writeClip(t)
	req, job := enqueue(t, store, ledger.JobIdentify, func(r *ledger.RecallRequest) {
		r.InputType = ledger.InputBackground
		r.AudioPath = clip
	})

	primary := &fpmock.Provider{ProviderName: "audd", Matches: []fingerprint.Match{
		{Title: "One More Time", Artist: "Daft Punk", Confidence: 0.93},
	}}
	w := New(store, cascade.New(primary, store))

	runOnce(t, w)

	got, err := store.GetRequest(t.Context(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.RequestDone || got.ResultTitle != "One More Time" {
		t.Errorf("request = %q/%q, want done with the identified title", got.Status, got.ResultTitle)
	}
	if _, err := store.GetActiveJob(t.Context(), req.ID); err == nil {
		t.Errorf("job %s should be terminal", job.ID)
	}
}

func TestProcessKnowledgeJob(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	req, _ := enqueue(t, store, ledger.JobKnowledge, nil)

	prefStore := prefs.NewMemStore()
	embed := &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
	answerer := NewAnswerer(
		&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: "Random Access Memories was produced by Daft Punk with Thomas Bangalter and Guy-Manuel de Homem-Christo.",
		}},
		WithSearchPatterns(prefStore, embed),
	)
	w := New(store, nil, WithAnswerer(answerer))

	runOnce(t, w)

	got, err := store.GetRequest(t.Context(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.RequestDone {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if !strings.Contains(got.ResultNote, "Random Access Memories") {
		t.Errorf("result note = %q, want the drafted answer", got.ResultNote)
	}

	if len(embed.EmbedCalls) != 1 {
		t.Fatalf("embed calls = %d, want the query indexed once", len(embed.EmbedCalls))
	}
	patterns, err := prefStore.SimilarPatterns(t.Context(), "alice", []float32{0.1, 0.2, 0.3}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 || patterns[0].Pattern.Query != req.QueryText {
		t.Errorf("patterns = %+v, want the answered query stored", patterns)
	}
}

func TestProcessRecommendJobUsesRecommendPrompt(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	enqueue(t, store, ledger.JobRecommend, func(r *ledger.RecallRequest) {
		r.QueryText = "something like early Aphex Twin"
	})

	llmProvider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Try Autechre."}}
	w := New(store, nil, WithAnswerer(NewAnswerer(llmProvider)))

	runOnce(t, w)

	if len(llmProvider.CompleteCalls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(llmProvider.CompleteCalls))
	}
	if !strings.Contains(llmProvider.CompleteCalls[0].Req.SystemPrompt, "recommendation") {
		t.Errorf("system prompt = %q, want the recommendation prompt", llmProvider.CompleteCalls[0].Req.SystemPrompt)
	}
}

func TestProcessRecoversPanicIntoFailed(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	clip := writeClip(t)
	req, job := enqueue(t, store, ledger.JobIdentify, func(r *ledger.RecallRequest) {
		r.AudioPath = clip
	})

	// nil cascade makes the identify dispatch panic.
	w := New(store, nil)

	runOnce(t, w)

	got, err := store.GetRequest(t.Context(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.RequestFailed {
		t.Errorf("request status = %q, want failed after panic", got.Status)
	}
	if _, err := store.GetActiveJob(t.Context(), req.ID); err == nil {
		t.Errorf("job %s must not be left active after a panic", job.ID)
	}
	entries := store.AuditEntries(req.ID)
	if len(entries) == 0 || entries[len(entries)-1].Stage != "failure" {
		t.Errorf("audit = %+v, want a failure entry", entries)
	}
}

func TestProcessAnswerFailureMarksFailed(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	req, _ := enqueue(t, store, ledger.JobKnowledge, nil)

	w := New(store, nil, WithAnswerer(NewAnswerer(&llmmock.Provider{
		CompleteErr: context.DeadlineExceeded,
	})))

	runOnce(t, w)

	got, err := store.GetRequest(t.Context(), req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ledger.RequestFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	req, _ := enqueue(t, store, ledger.JobKnowledge, nil)

	w := New(store,
		nil,
		WithAnswerer(NewAnswerer(&llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "It was Daft Punk."},
		})),
		WithConcurrency(2),
		WithPollInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.GetRequest(t.Context(), req.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == ledger.RequestDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status %q", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on clean shutdown, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
