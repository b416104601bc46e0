package scryfall

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_GetCardsByIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req CollectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		for _, id := range req.Identifiers {
			if id.ID == "" {
				t.Error("Expected id-based identifiers")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(CollectionResponse{
			Object: "list",
			Data: []Card{
				{ID: "id1", Name: "Daredevil"},
				{ID: "id2", Name: "Elektra"},
			},
			NotFound: []CardIdentifier{{ID: "id3"}},
		})
	}))
	defer server.Close()

	client := NewClient("")
	client.collectionEndpoint = server.URL

	cards, notFound, err := client.GetCardsByIDs(context.Background(), []string{"id1", "id2", "id3"})
	if err != nil {
		t.Fatalf("GetCardsByIDs failed: %v", err)
	}

	if len(cards) != 2 {
		t.Errorf("Expected 2 cards, got %d", len(cards))
	}
	if len(notFound) != 1 || notFound[0] != "id3" {
		t.Errorf("Expected not_found [id3], got %v", notFound)
	}
}

func TestClient_GetCardsByIDs_Batching(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CollectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		batchSizes = append(batchSizes, len(req.Identifiers))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(CollectionResponse{Object: "list"})
	}))
	defer server.Close()

	client := NewClient("")
	client.collectionEndpoint = server.URL

	// 100 ids must be split into 75 + 25
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = "card-id"
	}

	if _, _, err := client.GetCardsByIDs(context.Background(), ids); err != nil {
		t.Fatalf("GetCardsByIDs failed: %v", err)
	}

	if len(batchSizes) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batchSizes))
	}
	if batchSizes[0] != MaxBatchSize || batchSizes[1] != 25 {
		t.Errorf("Expected batch sizes [75 25], got %v", batchSizes)
	}
}

func TestClient_GetCardsByIDs_Empty(t *testing.T) {
	client := NewClient("")

	cards, notFound, err := client.GetCardsByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetCardsByIDs failed: %v", err)
	}
	if len(cards) != 0 || len(notFound) != 0 {
		t.Errorf("Expected empty result for empty input, got %d cards, %d not found", len(cards), len(notFound))
	}
}

func TestClient_GetCardsByCollectorNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CollectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request body: %v", err)
		}
		for _, id := range req.Identifiers {
			if id.Set == "" || id.CollectorNumber == "" {
				t.Error("Expected set+collector_number identifiers")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(CollectionResponse{
			Object: "list",
			Data:   []Card{{ID: "id1", Name: "Venom", SetCode: "spm", CollectorNumber: "12"}},
		})
	}))
	defer server.Close()

	client := NewClient("")
	client.collectionEndpoint = server.URL

	cards, err := client.GetCardsByCollectorNumbers(context.Background(), []CardIdentifier{
		{Set: "spm", CollectorNumber: "12"},
	})
	if err != nil {
		t.Fatalf("GetCardsByCollectorNumbers failed: %v", err)
	}
	if len(cards) != 1 || cards[0].Name != "Venom" {
		t.Errorf("Unexpected cards: %+v", cards)
	}
}
