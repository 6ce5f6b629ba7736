// Package acrcloud provides a fingerprint provider backed by the ACRCloud
// identification API (https://docs.acrcloud.com). It implements the
// fingerprint.Provider interface.
//
// ACRCloud authenticates each request with an HMAC-SHA1 signature over a
// newline-joined string of the request method, URI, access key, data type,
// signature version, and timestamp.
package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
)

const (
	identifyPath     = "/v1/identify"
	dataType         = "audio"
	signatureVersion = "1"
)

// Ensure Provider implements the fingerprint.Provider interface.
var _ fingerprint.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// WithBaseURL overrides the scheme and host of the identify endpoint.
// Used in tests; production hosts look like https://identify-eu-west-1.acrcloud.com.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// now is stubbed in tests for deterministic signatures.
var now = time.Now

// Provider implements fingerprint.Provider backed by ACRCloud.
type Provider struct {
	accessKey    string
	accessSecret string
	baseURL      string
	client       *http.Client
}

// New creates a new ACRCloud Provider. host is the project's region host
// (e.g. "identify-eu-west-1.acrcloud.com"); accessKey and accessSecret come
// from the ACRCloud console.
func New(host, accessKey, accessSecret string, opts ...Option) (*Provider, error) {
	if host == "" {
		return nil, errors.New("acrcloud: host must not be empty")
	}
	if accessKey == "" || accessSecret == "" {
		return nil, errors.New("acrcloud: accessKey and accessSecret must not be empty")
	}
	p := &Provider{
		accessKey:    accessKey,
		accessSecret: accessSecret,
		baseURL:      "https://" + host,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [fingerprint.Provider].
func (p *Provider) Name() string { return "acrcloud" }

// acrResponse is the JSON structure ACRCloud returns for an identify call.
type acrResponse struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Metadata struct {
		Music []struct {
			Title   string `json:"title"`
			Album   struct {
				Name string `json:"name"`
			} `json:"album"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Score           float64 `json:"score"`
			ReleaseDate     string  `json:"release_date"`
			ExternalMetadata struct {
				Spotify struct {
					Track struct {
						ID string `json:"id"`
					} `json:"track"`
				} `json:"spotify"`
			} `json:"external_metadata"`
		} `json:"music"`
	} `json:"metadata"`
}

// ACRCloud status codes: 0 = success, 1001 = no result.
const (
	codeSuccess  = 0
	codeNoResult = 1001
)

// Identify implements [fingerprint.Provider].
func (p *Provider) Identify(ctx context.Context, sample fingerprint.Sample) ([]fingerprint.Match, error) {
	timestamp := strconv.FormatInt(now().Unix(), 10)
	signature := p.sign(timestamp)

	body, contentType, err := buildForm(p.accessKey, signature, timestamp, sample)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+identifyPath, body)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("acrcloud: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("acrcloud: unexpected status %d", resp.StatusCode)
	}

	var parsed acrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("acrcloud: decode response: %w", err)
	}
	switch parsed.Status.Code {
	case codeSuccess:
	case codeNoResult:
		return nil, nil
	default:
		return nil, fmt.Errorf("acrcloud: api error %d: %s", parsed.Status.Code, parsed.Status.Msg)
	}

	matches := make([]fingerprint.Match, 0, len(parsed.Metadata.Music))
	for _, music := range parsed.Metadata.Music {
		m := fingerprint.Match{
			Title:       music.Title,
			Album:       music.Album.Name,
			Confidence:  music.Score / 100,
			ReleaseDate: music.ReleaseDate,
		}
		if len(music.Artists) > 0 {
			m.Artist = music.Artists[0].Name
		}
		if id := music.ExternalMetadata.Spotify.Track.ID; id != "" {
			m.URL = "https://open.spotify.com/track/" + id
		}
		m.Evidence = fmt.Sprintf("acrcloud fingerprint match, %.2f", m.Confidence)
		matches = append(matches, m)
	}
	return matches, nil
}

// sign computes the base64 HMAC-SHA1 request signature.
func (p *Provider) sign(timestamp string) string {
	toSign := "POST" + "\n" + identifyPath + "\n" + p.accessKey + "\n" +
		dataType + "\n" + signatureVersion + "\n" + timestamp
	mac := hmac.New(sha1.New, []byte(p.accessSecret))
	mac.Write([]byte(toSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// buildForm assembles the multipart request body.
func buildForm(accessKey, signature, timestamp string, sample fingerprint.Sample) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"access_key":        accessKey,
		"data_type":         dataType,
		"signature_version": signatureVersion,
		"signature":         signature,
		"timestamp":         timestamp,
		"sample_bytes":      strconv.Itoa(len(sample.Audio)),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	fw, err := w.CreateFormFile("sample", "sample."+sample.Format)
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
