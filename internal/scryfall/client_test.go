package scryfall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("")

	if client == nil {
		t.Fatal("NewClient() returned nil")
	}

	if client.httpClient == nil {
		t.Error("httpClient is nil")
	}

	if client.rateLimiter == nil {
		t.Error("rateLimiter is nil")
	}

	if client.userAgent == "" {
		t.Error("userAgent is empty")
	}
}

func TestClient_RateLimiting(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"object":"list","has_more":false,"data":[]}`))
	}))
	defer server.Close()

	client := NewClient("")
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		var result SearchResult
		err := client.doRequest(ctx, server.URL, &result)
		if err != nil {
			t.Fatalf("Request %d failed: %v", i+1, err)
		}
	}
	elapsed := time.Since(start)

	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}

	// Should take at least 200ms (2 delays of 100ms each between 3 requests)
	want := 200 * time.Millisecond
	if elapsed < want {
		t.Errorf("Rate limiting not working: completed 3 requests in %v (expected >= %v)", elapsed, want)
	}
}

func TestClient_SearchSetPage_Cursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"object": "list",
			"total_cards": 2,
			"has_more": false,
			"data": [
				{"id": "a", "name": "Amazing Spider-Man", "set": "spm", "collector_number": "1", "finishes": ["nonfoil","foil"], "prices": {"eur": "1.50"}},
				{"id": "b", "name": "Green Goblin", "set": "spm", "collector_number": "2", "finishes": ["foil"], "prices": {"eur_foil": "3.00"}}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient("")

	// SearchSetPage builds its own URL for page one; use the cursor form to
	// point it at the test server.
	result, err := client.SearchSetPage(context.Background(), "spm", server.URL)
	if err != nil {
		t.Fatalf("SearchSetPage failed: %v", err)
	}

	if len(result.Data) != 2 {
		t.Fatalf("Expected 2 cards, got %d", len(result.Data))
	}
	if result.HasMore {
		t.Error("Expected hasMore=false")
	}
	if !result.Data[0].HasFinish(FinishNonfoil) {
		t.Error("Expected card a to have nonfoil finish")
	}
	if result.Data[1].HasFinish(FinishNonfoil) {
		t.Error("Expected card b to not have nonfoil finish")
	}
}

func TestClient_SearchSetPage_NotFoundIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","code":"not_found","status":404,"details":"No cards found"}`))
	}))
	defer server.Close()

	client := NewClient("")

	result, err := client.SearchSetPage(context.Background(), "zzz", server.URL)
	if err != nil {
		t.Fatalf("Expected confirmed-empty result for 404, got error: %v", err)
	}
	if len(result.Data) != 0 {
		t.Errorf("Expected 0 cards, got %d", len(result.Data))
	}
	if result.HasMore {
		t.Error("Expected hasMore=false for empty set")
	}
}

func TestClient_SearchSetPage_MissingCursorClearsHasMore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"object":"list","has_more":true,"data":[]}`))
	}))
	defer server.Close()

	client := NewClient("")

	result, err := client.SearchSetPage(context.Background(), "spm", server.URL)
	if err != nil {
		t.Fatalf("SearchSetPage failed: %v", err)
	}
	if result.HasMore {
		t.Error("has_more without next_page should be normalized to false")
	}
}

func TestClient_NotFoundError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"object":"error","code":"not_found","status":404,"details":"No set found"}`))
	}))
	defer server.Close()

	client := NewClient("")

	var set Set
	err := client.doRequest(context.Background(), server.URL, &set)

	if err == nil {
		t.Fatal("Expected error for 404, got nil")
	}
	if !IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got %T: %v", err, err)
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"object":"error","code":"bad_request","status":400,"details":"Invalid query"}`))
	}))
	defer server.Close()

	client := NewClient("")

	var result SearchResult
	err := client.doRequest(context.Background(), server.URL, &result)

	if err == nil {
		t.Fatal("Expected error for 400, got nil")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Details != "Invalid query" {
		t.Errorf("Expected details 'Invalid query', got %q", apiErr.Details)
	}
}

func TestCardImageURL_DoubleFacedFallback(t *testing.T) {
	card := &Card{
		CardFaces: []CardFace{
			{ImageURIs: &ImageURIs{Large: "https://example.com/front.jpg"}},
			{ImageURIs: &ImageURIs{Large: "https://example.com/back.jpg"}},
		},
	}

	if got := CardImageURL(card, "large"); got != "https://example.com/front.jpg" {
		t.Errorf("Expected front face image, got %q", got)
	}

	if got := CardImageURL(&Card{}, "large"); got != "" {
		t.Errorf("Expected empty URL for imageless card, got %q", got)
	}
}
