// Package tracks talks to the remote track catalog: searching licensed music
// and fetching stream payloads, each result carrying a pre-computed BPM so
// slides can lock to the beat without local analysis.
package tracks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Track is one searchable result from the catalog.
type Track struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	StreamURL string  `json:"stream_url"`
	BPM       float64 `json:"bpm"`
	DurationS float64 `json:"duration_s,omitempty"`
}

// Client is the track catalog contract the API layer consumes.
type Client interface {
	Search(ctx context.Context, query string) ([]Track, error)
	Fetch(ctx context.Context, streamURL string) (io.ReadCloser, error)
}

// SearchError represents a non-2xx response from the catalog.
type SearchError struct {
	StatusCode int
	Body       string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("track search failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *SearchError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient is the real catalog client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPClient) Search(ctx context.Context, query string) ([]Track, error) {
	u := fmt.Sprintf("%s/api/tracks/search?q=%s", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Groove-Request-Id", uuid.NewString())

	c.logger.Info("searching track catalog", "query", query)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &SearchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Tracks []Track `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	return payload.Tracks, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, streamURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &SearchError{StatusCode: resp.StatusCode, Body: "stream fetch failed"}
	}

	return resp.Body, nil
}

// StubClient is used when no catalog is configured. It answers every search
// with a small canned list so the UI stays usable offline.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

var stubTracks = []Track{
	{ID: "stub-1", Title: "Midnight Drive", Artist: "Demo Artist", BPM: 120, DurationS: 184},
	{ID: "stub-2", Title: "Golden Hour", Artist: "Demo Artist", BPM: 90, DurationS: 201},
	{ID: "stub-3", Title: "Four on the Floor", Artist: "Demo Artist", BPM: 128, DurationS: 166},
}

func (c *StubClient) Search(ctx context.Context, query string) ([]Track, error) {
	c.logger.Info("tracks stub: search requested", "query", query)
	out := make([]Track, len(stubTracks))
	copy(out, stubTracks)
	return out, nil
}

func (c *StubClient) Fetch(ctx context.Context, streamURL string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("track catalog not configured")
}
