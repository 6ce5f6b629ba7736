// Package audd provides a fingerprint provider backed by the AudD music
// recognition API (https://docs.audd.io). It implements the
// fingerprint.Provider interface.
package audd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
)

// DefaultEndpoint is the AudD recognition endpoint.
const DefaultEndpoint = "https://api.audd.io/"

// Ensure Provider implements the fingerprint.Provider interface.
var _ fingerprint.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements fingerprint.Provider backed by AudD.
type Provider struct {
	apiToken string
	endpoint string
	client   *http.Client
}

// New creates a new AudD Provider. apiToken must be non-empty.
func New(apiToken string, opts ...Option) (*Provider, error) {
	if apiToken == "" {
		return nil, errors.New("audd: apiToken must not be empty")
	}
	p := &Provider{
		apiToken: apiToken,
		endpoint: DefaultEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [fingerprint.Provider].
func (p *Provider) Name() string { return "audd" }

// auddResponse is the JSON envelope AudD returns.
type auddResponse struct {
	Status string `json:"status"`
	Error  *struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"error"`
	Result *struct {
		Title       string `json:"title"`
		Artist      string `json:"artist"`
		Album       string `json:"album"`
		ReleaseDate string `json:"release_date"`
		SongLink    string `json:"song_link"`
		Score       int    `json:"score"`
	} `json:"result"`
}

// Identify implements [fingerprint.Provider]. AudD returns at most one
// result; a null result means no match.
func (p *Provider) Identify(ctx context.Context, sample fingerprint.Sample) ([]fingerprint.Match, error) {
	body, contentType, err := buildForm(p.apiToken, sample)
	if err != nil {
		return nil, fmt.Errorf("audd: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("audd: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audd: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("audd: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audd: unexpected status %d", resp.StatusCode)
	}

	var parsed auddResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("audd: decode response: %w", err)
	}
	if parsed.Status != "success" {
		if parsed.Error != nil {
			return nil, fmt.Errorf("audd: api error %d: %s", parsed.Error.ErrorCode, parsed.Error.ErrorMessage)
		}
		return nil, fmt.Errorf("audd: status %q", parsed.Status)
	}
	if parsed.Result == nil {
		return nil, nil
	}

	m := fingerprint.Match{
		Title:       parsed.Result.Title,
		Artist:      parsed.Result.Artist,
		Album:       parsed.Result.Album,
		URL:         parsed.Result.SongLink,
		ReleaseDate: parsed.Result.ReleaseDate,
		Confidence:  normaliseScore(parsed.Result.Score),
	}
	m.Evidence = fmt.Sprintf("audd fingerprint match, %.2f", m.Confidence)
	return []fingerprint.Match{m}, nil
}

// normaliseScore maps AudD's 0–100 score onto [0,1]. AudD omits the score on
// some plans; treat a missing score as a confident exact match, which is how
// the service documents a non-null result.
func normaliseScore(score int) float64 {
	if score <= 0 {
		return 0.9
	}
	if score >= 100 {
		return 1
	}
	return float64(score) / 100
}

// buildForm assembles the multipart request body.
func buildForm(apiToken string, sample fingerprint.Sample) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("api_token", apiToken); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("return", "spotify"); err != nil {
		return nil, "", err
	}

	name := "sample." + sample.Format
	fw, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(sample.Audio); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
