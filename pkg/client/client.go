// Package client is the Go client for the tonearm recall API. It wraps the
// /v1/recalls routes: submitting a recall, polling its status, retrying a
// failed one, and recording feedback on a resolved result.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx answer from the server, decoded from the error body.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Message is the server's error text.
	Message string

	// RetryAfter is the suggested wait in seconds before resubmitting.
	// Only set on rate-limit rejections.
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("client: %s (status %d, retry after %ds)", e.Message, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("client: %s (status %d)", e.Message, e.StatusCode)
}

// RateLimited reports whether the error is a 429 rejection.
func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// ErrWaitTimeout is returned by [Client.WaitForResult] when the context ends
// before the recall reaches a terminal status.
var ErrWaitTimeout = errors.New("client: recall did not resolve in time")

// SubmitInput is one recall submission.
type SubmitInput struct {
	// RequestID is the caller-supplied idempotency key. Resubmitting the
	// same id never enqueues a second job.
	RequestID string `json:"request_id"`

	// InputType names the capture kind: "background", "hum", "voice",
	// "text", or "image".
	InputType string `json:"input_type"`

	QueryText string `json:"query_text,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// SubmitResult is the server's answer to a submission or retry.
type SubmitResult struct {
	Status     string  `json:"status"`
	ID         string  `json:"id"`
	RequestID  string  `json:"request_id"`
	JobID      string  `json:"job_id,omitempty"`
	JobType    string  `json:"job_type,omitempty"`
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// AlreadyQueued reports whether the submission replayed an in-flight recall
// instead of enqueueing a new job.
func (r *SubmitResult) AlreadyQueued() bool { return r.Status == "already_queued" }

// Candidate is one ranked identification candidate.
type Candidate struct {
	Rank        int     `json:"rank"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	Confidence  float64 `json:"confidence"`
	URL         string  `json:"url,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
}

// Result is the final verdict of a resolved recall.
type Result struct {
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	URL        string  `json:"url,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Recall is the full state of one recall request.
type Recall struct {
	ID         string      `json:"id"`
	RequestID  string      `json:"request_id"`
	Status     string      `json:"status"`
	InputType  string      `json:"input_type"`
	QueryText  string      `json:"query_text,omitempty"`
	Result     *Result     `json:"result,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// Terminal reports whether the recall has reached a final status.
func (r *Recall) Terminal() bool { return r.Status == "done" || r.Status == "failed" }

// FeedbackInput records the user's verdict on a resolved recall.
type FeedbackInput struct {
	// Verdict is "accepted" or "rejected".
	Verdict string `json:"verdict"`

	// Rank selects a specific candidate; 0 targets the final result.
	Rank int `json:"rank,omitempty"`

	// Genre optionally tags the verdict with a genre for preference learning.
	Genre string `json:"genre,omitempty"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client. The default uses a
// 30 second timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client talks to a tonearm server. It is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for the server at baseURL authenticating with the
// given bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit sends a recall. A duplicate RequestID replays the original recall;
// check [SubmitResult.AlreadyQueued] to tell the two apart.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/recalls", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches the current state of a recall, including any candidates.
func (c *Client) Get(ctx context.Context, id string) (*Recall, error) {
	var out Recall
	if err := c.do(ctx, http.MethodGet, "/v1/recalls/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Retry requeues a failed recall. The server rejects retries of recalls that
// are not failed with a 409.
func (c *Client) Retry(ctx context.Context, id string) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/v1/recalls/"+id+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback records an accept/reject verdict on a resolved recall.
func (c *Client) Feedback(ctx context.Context, id string, in FeedbackInput) error {
	return c.do(ctx, http.MethodPost, "/v1/recalls/"+id+"/feedback", in, nil)
}

// WaitForResult polls the recall until it reaches a terminal status or ctx
// ends. interval bounds the poll cadence; zero selects one second.
func (c *Client) WaitForResult(ctx context.Context, id string, interval time.Duration) (*Recall, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		recall, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if recall.Terminal() {
			return recall, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrWaitTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// do runs one request against the API. body and out may be nil; non-2xx
// statuses decode into an [*APIError].
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error      string `json:"error"`
			RetryAfter int    `json:"retry_after"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&e); decodeErr == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.RetryAfter = e.RetryAfter
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
