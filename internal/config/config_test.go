package config

import (
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/ramonehamilton/mtg-binder/internal/collection"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestSettingsFromPersistedCollections(t *testing.T) {
	raw := `
[collections.spider-man]
enabled = true

[collections.spider-man.set_visibility]
spm = true
bogus = true

[collections.ghost-franchise]
enabled = true
`
	var c Config
	if err := toml.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	settings := c.Settings()
	visible := collection.VisibleSets(settings, collection.Sets)
	if len(visible) != 1 || visible[0].ID != "spm" {
		t.Errorf("Expected only spm visible, got %v", visible)
	}
	if _, ok := settings.Collections["ghost-franchise"]; ok {
		t.Error("Expected unknown franchise dropped")
	}
	if _, ok := settings.Collections["spider-man"].SetVisibility["bogus"]; ok {
		t.Error("Expected unknown set id dropped")
	}
	// Franchises absent from the file still normalize to defaults.
	if len(settings.Collections) != len(collection.Franchises) {
		t.Errorf("Expected %d franchise configs, got %d", len(collection.Franchises), len(settings.Collections))
	}
}

func TestSettingsDefaultsWhenUnconfigured(t *testing.T) {
	var c Config
	if got := collection.VisibleSets(c.Settings(), collection.Sets); len(got) != 0 {
		t.Errorf("Expected no visible sets without config, got %v", got)
	}
}

func TestLedgerPassphraseFromEnv(t *testing.T) {
	c := DefaultConfig()
	if got := c.LedgerPassphrase(); got != "" {
		t.Errorf("Expected empty passphrase by default, got %q", got)
	}

	t.Setenv("MTG_BINDER_TEST_PASSPHRASE", "hunter2")
	c.Ledger.PassphraseEnv = "MTG_BINDER_TEST_PASSPHRASE"
	if got := c.LedgerPassphrase(); got != "hunter2" {
		t.Errorf("Expected passphrase from env, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"firestore with project", func(c *Config) {
			c.Ledger.Backend = "firestore"
			c.Firebase.ProjectID = "demo"
		}, false},
		{"firestore without project", func(c *Config) {
			c.Ledger.Backend = "firestore"
		}, true},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "redis" }, true},
		{"negative render batch", func(c *Config) { c.View.RenderBatch = -1 }, true},
		{"empty user agent", func(c *Config) { c.Scryfall.UserAgent = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
