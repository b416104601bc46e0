package scryfall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.scryfall.com"
	rateLimitDelay = 100 * time.Millisecond // Scryfall asks for 50-100ms between requests
	requestTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 16 * time.Second
)

// RateLimitDelay is the courtesy delay callers should insert between
// sequential page fetches for the same set.
const RateLimitDelay = rateLimitDelay

// Client represents a Scryfall API client with rate limiting.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	userAgent   string

	// collectionEndpoint is overridable in tests.
	collectionEndpoint string
}

// NewClient creates a new Scryfall API client.
func NewClient(userAgent string) *Client {
	if userAgent == "" {
		userAgent = "mtg-binder/1.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		// Rate limiter: 1 request per 100ms = 10 req/sec
		rateLimiter:        rate.NewLimiter(rate.Every(rateLimitDelay), 1),
		userAgent:          userAgent,
		collectionEndpoint: collectionURL,
	}
}

// SearchSetPage fetches one page of cards for a set. An empty pageURL starts
// the search from the beginning; otherwise pageURL must be the opaque
// next_page cursor from a previous result.
//
// A 404 means the set has no cards (or does not exist) and is returned as a
// confirmed-empty page, not an error.
func (c *Client) SearchSetPage(ctx context.Context, setCode, pageURL string) (*SearchResult, error) {
	reqURL := pageURL
	if reqURL == "" {
		query := url.QueryEscape(fmt.Sprintf("set:%s", setCode))
		reqURL = fmt.Sprintf("%s/cards/search?q=%s&order=set&unique=prints", baseURL, query)
	}

	var result SearchResult
	if err := c.doRequest(ctx, reqURL, &result); err != nil {
		if IsNotFound(err) {
			return &SearchResult{Object: "list", HasMore: false}, nil
		}
		return nil, fmt.Errorf("failed to search set %s: %w", setCode, err)
	}

	// Defensive: a has_more page without a cursor cannot be continued.
	if result.NextPage == "" {
		result.HasMore = false
	}
	return &result, nil
}

// GetSet retrieves set information by set code. Returns a NotFoundError for
// unknown sets; callers treat that as "confirmed absent".
func (c *Client) GetSet(ctx context.Context, code string) (*Set, error) {
	reqURL := fmt.Sprintf("%s/sets/%s", baseURL, url.PathEscape(code))

	var set Set
	if err := c.doRequest(ctx, reqURL, &set); err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get set %s: %w", code, err)
	}

	return &set, nil
}

// doRequest performs a GET request with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, reqURL string, result interface{}) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait for rate limiter
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)

			// Retry on network errors
			if attempt < maxRetries {
				time.Sleep(backoff)
				backoff = minDuration(backoff*2, maxBackoff)
				continue
			}
			return lastErr
		}

		retry, err := c.handleResponse(resp, reqURL, result)
		if err == nil && !retry {
			return nil
		}
		if !retry {
			return err
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff = minDuration(backoff*2, maxBackoff)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// handleResponse consumes one HTTP response. The bool return requests a retry.
func (c *Client) handleResponse(resp *http.Response, reqURL string, result interface{}) (bool, error) {
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, fmt.Errorf("failed to read response body: %w", err)
		}
		if err := json.Unmarshal(body, result); err != nil {
			return false, fmt.Errorf("failed to parse JSON response: %w", err)
		}
		return false, nil

	case http.StatusTooManyRequests:
		// Honor Retry-After when present, then fall back to backoff.
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if duration, err := time.ParseDuration(retryAfter + "s"); err == nil {
				time.Sleep(duration)
			}
		}
		return true, fmt.Errorf("rate limited (HTTP 429)")

	case http.StatusNotFound:
		return false, &NotFoundError{URL: reqURL}

	default:
		body, _ := io.ReadAll(resp.Body)

		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Details != "" {
			return false, &apiErr
		}
		return false, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
}

// minDuration returns the minimum of two time.Duration values.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
