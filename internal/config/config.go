// Package config loads the application configuration from
// ~/.mtg-binder/config.toml, with sensible defaults when the file is absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/ramonehamilton/mtg-binder/internal/collection"
)

// Config represents the application configuration.
type Config struct {
	// Scryfall API settings
	Scryfall ScryfallConfig `toml:"scryfall"`

	// Local cache settings
	Cache CacheConfig `toml:"cache"`

	// Ownership ledger settings
	Ledger LedgerConfig `toml:"ledger"`

	// Firebase project settings (remote ledger, sharing)
	Firebase FirebaseConfig `toml:"firebase"`

	// View defaults
	View ViewConfig `toml:"view"`

	// Per-franchise enablement and set visibility
	Collections map[string]collection.FranchiseConfig `toml:"collections"`
}

// ScryfallConfig contains card catalog API settings.
type ScryfallConfig struct {
	UserAgent string `toml:"user_agent"` // User-Agent header for API requests
}

// CacheConfig contains local cache settings.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"` // Enable the persistent cache
	Path    string `toml:"path"`    // Cache database path ("" = default)
}

// LedgerConfig contains ownership ledger settings.
type LedgerConfig struct {
	Backend       string `toml:"backend"`        // "file" or "firestore"
	Path          string `toml:"path"`           // Ledger file path ("" = default, file backend)
	PassphraseEnv string `toml:"passphrase_env"` // Env var holding the encryption passphrase ("" = plaintext)
}

// FirebaseConfig contains remote backend settings. An empty ProjectID means
// offline mode: the ledger degrades to the file backend and sharing is
// disabled.
type FirebaseConfig struct {
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// ViewConfig contains aggregation view defaults.
type ViewConfig struct {
	RenderBatch int    `toml:"render_batch"` // Render window growth step
	MasterSet   string `toml:"master_set"`   // MTGJSON set carrying sealed product definitions
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scryfall: ScryfallConfig{
			UserAgent: "mtg-binder/1.0",
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "",
		},
		Ledger: LedgerConfig{
			Backend:       "file",
			Path:          "",
			PassphraseEnv: "",
		},
		Firebase: FirebaseConfig{},
		View: ViewConfig{
			RenderBatch: 30,
			MasterSet:   "spm",
		},
		Collections: collection.DefaultSettings(collection.Franchises, collection.Sets).Collections,
	}
}

// Settings returns the normalized collection preference state. Unknown
// franchises and sets in the persisted config are dropped, missing ones get
// their defaults.
func (c *Config) Settings() collection.Settings {
	raw := collection.Settings{Collections: c.Collections}
	return collection.NormalizeSettings(&raw, collection.Franchises, collection.Sets)
}

// LedgerPassphrase resolves the ledger encryption passphrase from the
// configured environment variable. Empty means the ledger is stored
// plaintext.
func (c *Config) LedgerPassphrase() string {
	if c.Ledger.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Ledger.PassphraseEnv)
}

// configPath returns the path to the configuration file.
func configPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".mtg-binder")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}

	return filepath.Join(configDir, "config.toml"), nil
}

// DataPath resolves a path under the application data directory.
func DataPath(name string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".mtg-binder")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(dataDir, name), nil
}

// Load loads the configuration from disk. Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &config, nil
}

// Save saves the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "file", "firestore":
	default:
		return fmt.Errorf("invalid ledger backend %q (want \"file\" or \"firestore\")", c.Ledger.Backend)
	}

	if c.Ledger.Backend == "firestore" && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firestore ledger backend requires firebase.project_id")
	}

	if c.View.RenderBatch < 0 {
		return fmt.Errorf("render batch cannot be negative: %d", c.View.RenderBatch)
	}

	if c.Scryfall.UserAgent == "" {
		return fmt.Errorf("scryfall user agent cannot be empty")
	}

	return nil
}
