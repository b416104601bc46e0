package scryfall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// collectionURL is the URL for batch card lookups.
	collectionURL = baseURL + "/cards/collection"

	// MaxBatchSize is the maximum number of identifiers per batch request
	// (Scryfall limit is 75).
	MaxBatchSize = 75
)

// CardIdentifier represents a card identifier for the /cards/collection endpoint.
type CardIdentifier struct {
	ID              string `json:"id,omitempty"`               // Scryfall ID
	Set             string `json:"set,omitempty"`              // Set code (requires collector_number)
	CollectorNumber string `json:"collector_number,omitempty"` // Collector number (requires set)
}

// CollectionRequest is the request body for /cards/collection.
type CollectionRequest struct {
	Identifiers []CardIdentifier `json:"identifiers"`
}

// CollectionResponse is the response from /cards/collection.
type CollectionResponse struct {
	Object   string           `json:"object"`
	NotFound []CardIdentifier `json:"not_found"`
	Data     []Card           `json:"data"`
}

// GetCardsByIDs fetches multiple cards by Scryfall ID using the batch
// /cards/collection endpoint. Identifiers missing from Scryfall are returned
// in the second value; a missing card is a confirmed absence, not an error.
// Automatically handles batching if more than 75 cards are requested.
func (c *Client) GetCardsByIDs(ctx context.Context, ids []string) ([]Card, []string, error) {
	if len(ids) == 0 {
		return []Card{}, nil, nil
	}

	var allCards []Card
	var allNotFound []string

	for i := 0; i < len(ids); i += MaxBatchSize {
		end := i + MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		identifiers := make([]CardIdentifier, len(batch))
		for j, id := range batch {
			identifiers[j] = CardIdentifier{ID: id}
		}

		cards, notFound, err := c.doCollectionRequest(ctx, identifiers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch batch %d-%d: %w", i, end, err)
		}
		allCards = append(allCards, cards...)
		for _, nf := range notFound {
			if nf.ID != "" {
				allNotFound = append(allNotFound, nf.ID)
			}
		}
	}

	return allCards, allNotFound, nil
}

// GetCardsByCollectorNumbers fetches cards by (set code, collector number)
// pairs. This is the most reliable batch lookup method. Automatically handles
// batching if more than 75 identifiers are given.
func (c *Client) GetCardsByCollectorNumbers(ctx context.Context, identifiers []CardIdentifier) ([]Card, error) {
	if len(identifiers) == 0 {
		return []Card{}, nil
	}

	var allCards []Card

	for i := 0; i < len(identifiers); i += MaxBatchSize {
		end := i + MaxBatchSize
		if end > len(identifiers) {
			end = len(identifiers)
		}

		cards, _, err := c.doCollectionRequest(ctx, identifiers[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch %d-%d: %w", i, end, err)
		}
		allCards = append(allCards, cards...)
	}

	return allCards, nil
}

// doCollectionRequest performs a single batch request to /cards/collection.
func (c *Client) doCollectionRequest(ctx context.Context, identifiers []CardIdentifier) ([]Card, []CardIdentifier, error) {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter error: %w", err)
	}

	reqBody := CollectionRequest{Identifiers: identifiers}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectionEndpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch cards from Scryfall: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("scryfall API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var collectionResp CollectionResponse
	if err := json.Unmarshal(body, &collectionResp); err != nil {
		return nil, nil, fmt.Errorf("failed to parse Scryfall response: %w", err)
	}

	return collectionResp.Data, collectionResp.NotFound, nil
}
