package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Listing is one entry of the provider's ordered local-search results.
type Listing struct {
	Position   int     `json:"position"`
	Name       string  `json:"name"`
	PlaceID    string  `json:"place_id,omitempty"`
	DistanceKm float64 `json:"distance_km,omitempty"`
}

type searchResponse struct {
	Results []Listing `json:"results"`
	Error   string    `json:"error,omitempty"`
}

// Error is a classified provider failure. Transient errors (timeouts, rate
// limits, 5xx) are retryable per point; everything else poisons the whole
// run since every remaining call would fail the same way.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// Client calls the external local-search ranking provider. Results are
// freshness-sensitive, so nothing is cached across points or keywords.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new ranking provider client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Search issues a local-search query anchored at (lat, lng) and returns the
// provider's ordered listings for the keyword.
func (c *Client) Search(ctx context.Context, lat, lng float64, keyword string) ([]Listing, error) {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lng", fmt.Sprintf("%.6f", lng))

	reqURL := fmt.Sprintf("%s/v1/local-search?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network failures and client timeouts are retryable.
		return nil, &Error{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to read response body: %v", err), Transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Message: fmt.Sprintf("failed to parse response: %v", err), Transient: false}
	}
	if parsed.Error != "" {
		return nil, &Error{Message: parsed.Error, Transient: false}
	}

	return parsed.Results, nil
}

func classifyStatus(status int, body []byte) *Error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{StatusCode: status, Message: msg, Transient: true}
	case status >= 500:
		return &Error{StatusCode: status, Message: msg, Transient: true}
	default:
		// 401/403 auth failures, 402 quota exhausted, 400 bad keyword: every
		// remaining call in the run would fail identically.
		return &Error{StatusCode: status, Message: msg, Transient: false}
	}
}
