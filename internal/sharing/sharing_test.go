package sharing

import (
	"context"
	"testing"

	"github.com/ramonehamilton/mtg-binder/internal/ledger"
)

func TestNewShareToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		token := newShareToken()
		if len(token) != 32 {
			t.Fatalf("Expected 32-char token, got %q", token)
		}
		for _, r := range token {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				t.Fatalf("Unexpected character %q in token %q", r, token)
			}
		}
		if _, dup := seen[token]; dup {
			t.Fatalf("Duplicate token %q", token)
		}
		seen[token] = struct{}{}
	}
}

func TestService_MirrorWithoutTokenIsNoOp(t *testing.T) {
	// No active token means no Firestore access at all, so a nil client is
	// safe here.
	s := NewService(nil)

	s.MirrorRecord(context.Background(), ledger.Record{CardID: "cardA"})
	s.MirrorDelete(context.Background(), "cardA")

	if s.ActiveToken() != "" {
		t.Errorf("Expected no active token, got %q", s.ActiveToken())
	}
}

func TestService_ActiveTokenRoundTrip(t *testing.T) {
	s := NewService(nil)
	s.SetActiveToken("abc123")
	if s.ActiveToken() != "abc123" {
		t.Errorf("Unexpected active token %q", s.ActiveToken())
	}
	s.SetActiveToken("")
	if s.ActiveToken() != "" {
		t.Error("Expected mirroring disabled after clearing token")
	}
}
