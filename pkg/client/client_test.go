package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tonearm/tonearm/pkg/client"
)

// fakeServer mimics the recall API surface the client talks to.
func fakeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/recalls" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-alice" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		var in client.SubmitInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatal(err)
		}
		if in.RequestID != "idem-1" || in.InputType != "background" {
			t.Errorf("payload = %+v", in)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued", "id": "rec-1", "request_id": in.RequestID,
			"job_id": "job-1", "job_type": "identify",
		})
	})

	c := client.New(srv.URL, "tok-alice")
	res, err := c.Submit(context.Background(), client.SubmitInput{
		RequestID: "idem-1",
		InputType: "background",
		AudioPath: "/tmp/clip.wav",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ID != "rec-1" || res.JobType != "identify" {
		t.Errorf("result = %+v", res)
	}
	if res.AlreadyQueued() {
		t.Error("fresh submission must not report already_queued")
	}
}

func TestSubmitReplayReportsAlreadyQueued(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "already_queued", "id": "rec-1", "request_id": "idem-1", "job_id": "job-1",
		})
	})

	c := client.New(srv.URL, "tok-alice")
	res, err := c.Submit(context.Background(), client.SubmitInput{RequestID: "idem-1", InputType: "text", QueryText: "what song"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.AlreadyQueued() {
		t.Errorf("status = %q, want already_queued to be reported", res.Status)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "rate limit exceeded", "retry_after": 60,
		})
	})

	c := client.New(srv.URL, "tok-alice")
	_, err := c.Submit(context.Background(), client.SubmitInput{RequestID: "idem-1", InputType: "text", QueryText: "x"})

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.RateLimited() {
		t.Error("RateLimited() = false, want true")
	}
	if apiErr.RetryAfter != 60 {
		t.Errorf("RetryAfter = %d, want 60", apiErr.RetryAfter)
	}
}

func TestUnauthenticated(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthenticated"})
	})

	c := client.New(srv.URL, "bad-token")
	_, err := c.Get(context.Background(), "rec-1")

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if apiErr.Message != "unauthenticated" {
		t.Errorf("Message = %q, want the server's error text", apiErr.Message)
	}
}

func TestGetResolvedRecall(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recalls/rec-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "rec-1", "request_id": "idem-1", "status": "done", "input_type": "background",
			"result": map[string]any{"title": "Teardrop", "artist": "Massive Attack", "confidence": 0.91},
			"candidates": []map[string]any{
				{"rank": 1, "title": "Teardrop", "artist": "Massive Attack", "confidence": 0.91},
			},
		})
	})

	c := client.New(srv.URL, "tok-alice")
	recall, err := c.Get(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !recall.Terminal() {
		t.Error("done recall must be terminal")
	}
	if recall.Result == nil || recall.Result.Title != "Teardrop" {
		t.Errorf("result = %+v", recall.Result)
	}
	if len(recall.Candidates) != 1 || recall.Candidates[0].Rank != 1 {
		t.Errorf("candidates = %+v", recall.Candidates)
	}
}

func TestRetry(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/recalls/rec-1/retry" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued", "id": "rec-1", "request_id": "idem-1", "job_id": "job-2",
		})
	})

	c := client.New(srv.URL, "tok-alice")
	res, err := c.Retry(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.JobID != "job-2" {
		t.Errorf("JobID = %q, want the fresh job", res.JobID)
	}
}

func TestRetryConflict(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "only failed recalls can be retried"})
	})

	c := client.New(srv.URL, "tok-alice")
	_, err := c.Retry(context.Background(), "rec-1")

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", apiErr.StatusCode)
	}
}

func TestFeedback(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recalls/rec-1/feedback" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var in client.FeedbackInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatal(err)
		}
		if in.Verdict != "accepted" || in.Genre != "trip-hop" {
			t.Errorf("payload = %+v", in)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "recorded"})
	})

	c := client.New(srv.URL, "tok-alice")
	err := c.Feedback(context.Background(), "rec-1", client.FeedbackInput{Verdict: "accepted", Genre: "trip-hop"})
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
}

func TestWaitForResult(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		status := "processing"
		if calls.Add(1) >= 3 {
			status = "done"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "rec-1", "request_id": "idem-1", "status": status,
			"input_type": "background", "candidates": []any{},
		})
	})

	c := client.New(srv.URL, "tok-alice")
	recall, err := c.WaitForResult(context.Background(), "rec-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResult: %v", err)
	}
	if recall.Status != "done" {
		t.Errorf("status = %q, want done", recall.Status)
	}
	if calls.Load() < 3 {
		t.Errorf("polled %d times, want at least 3", calls.Load())
	}
}

func TestWaitForResultTimeout(t *testing.T) {
	t.Parallel()

	srv := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "rec-1", "request_id": "idem-1", "status": "processing",
			"input_type": "background", "candidates": []any{},
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := client.New(srv.URL, "tok-alice")
	_, err := c.WaitForResult(ctx, "rec-1", 5*time.Millisecond)
	if !errors.Is(err, client.ErrWaitTimeout) {
		t.Errorf("err = %v, want ErrWaitTimeout", err)
	}
}
