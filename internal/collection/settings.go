package collection

// Franchise is a top-level Universes Beyond product line.
type Franchise struct {
	ID   string `json:"id" toml:"id"`
	Name string `json:"name" toml:"name"`
}

// Set is one trackable card set belonging to a franchise. Order controls the
// display position within "all" scope and the set tabs.
type Set struct {
	ID          string `json:"id" toml:"id"`
	FranchiseID string `json:"franchiseId" toml:"franchise_id"`
	Code        string `json:"code" toml:"code"`
	Name        string `json:"name" toml:"name"`
	Order       int    `json:"order" toml:"order"`
}

// Franchises is the built-in franchise registry.
var Franchises = []Franchise{
	{ID: "warhammer-40k", Name: "Warhammer 40,000"},
	{ID: "transformers", Name: "Transformers"},
	{ID: "lord-of-the-rings", Name: "The Lord of the Rings: Tales of Middle-earth"},
	{ID: "doctor-who", Name: "Doctor Who"},
	{ID: "fallout", Name: "Fallout"},
	{ID: "assassins-creed", Name: "Assassin's Creed"},
	{ID: "spider-man", Name: "Spider-Man"},
	{ID: "marvel-universe", Name: "Marvel Universe"},
	{ID: "final-fantasy", Name: "Final Fantasy"},
	{ID: "avatar-last-airbender", Name: "Avatar: The Last Airbender"},
	{ID: "tmnt", Name: "Teenage Mutant Ninja Turtles"},
	{ID: "edge-of-eternities", Name: "Edge of Eternities"},
}

// Sets is the built-in set registry.
var Sets = []Set{
	{ID: "40k", FranchiseID: "warhammer-40k", Code: "40K", Name: "Warhammer 40,000", Order: 1},
	{ID: "bot", FranchiseID: "transformers", Code: "BOT", Name: "Transformers", Order: 1},
	{ID: "ltr", FranchiseID: "lord-of-the-rings", Code: "LTR", Name: "The Lord of the Rings: Tales of Middle-earth", Order: 1},
	{ID: "who", FranchiseID: "doctor-who", Code: "WHO", Name: "Doctor Who", Order: 1},
	{ID: "pip", FranchiseID: "fallout", Code: "PIP", Name: "Fallout", Order: 1},
	{ID: "acr", FranchiseID: "assassins-creed", Code: "ACR", Name: "Assassin's Creed", Order: 1},
	{ID: "spm", FranchiseID: "spider-man", Code: "SPM", Name: "Marvel's Spider-Man", Order: 1},
	{ID: "spe", FranchiseID: "spider-man", Code: "SPE", Name: "Marvel's Spider-Man Eternal", Order: 2},
	{ID: "mar", FranchiseID: "marvel-universe", Code: "MAR", Name: "Marvel Universe", Order: 1},
	{ID: "fin", FranchiseID: "final-fantasy", Code: "FIN", Name: "Final Fantasy", Order: 1},
	{ID: "fic", FranchiseID: "final-fantasy", Code: "FIC", Name: "Final Fantasy Commander", Order: 2},
	{ID: "tla", FranchiseID: "avatar-last-airbender", Code: "TLA", Name: "Avatar: The Last Airbender", Order: 1},
	{ID: "tle", FranchiseID: "avatar-last-airbender", Code: "TLE", Name: "Avatar: The Last Airbender Eternal", Order: 2},
	{ID: "tmt", FranchiseID: "tmnt", Code: "TMT", Name: "Teenage Mutant Ninja Turtles", Order: 1},
	{ID: "tmc", FranchiseID: "tmnt", Code: "TMC", Name: "Teenage Mutant Ninja Turtles Eternal", Order: 2},
	{ID: "eoe", FranchiseID: "edge-of-eternities", Code: "EOE", Name: "Edge of Eternities", Order: 1},
}

// FranchiseConfig is the per-franchise preference state.
type FranchiseConfig struct {
	Enabled       bool            `json:"enabled" toml:"enabled"`
	SetVisibility map[string]bool `json:"setVisibility" toml:"set_visibility"`
}

// Settings is the user's collection preference state. A set is visible only
// when its franchise is enabled and its own visibility flag is true.
type Settings struct {
	Collections map[string]FranchiseConfig `json:"collections" toml:"collections"`
}

// DefaultSettings returns settings with every franchise disabled and every
// set hidden.
func DefaultSettings(franchises []Franchise, sets []Set) Settings {
	collections := make(map[string]FranchiseConfig, len(franchises))
	for _, franchise := range franchises {
		visibility := make(map[string]bool)
		for _, set := range sets {
			if set.FranchiseID == franchise.ID {
				visibility[set.ID] = false
			}
		}
		collections[franchise.ID] = FranchiseConfig{SetVisibility: visibility}
	}
	return Settings{Collections: collections}
}

// NormalizeSettings produces fully-defaulted settings from any
// partially-valid persisted shape. Unknown franchises and sets are dropped,
// missing ones get their defaults; the raw shape is never trusted.
func NormalizeSettings(raw *Settings, franchises []Franchise, sets []Set) Settings {
	defaults := DefaultSettings(franchises, sets)
	if raw == nil || raw.Collections == nil {
		return defaults
	}

	for _, franchise := range franchises {
		source, ok := raw.Collections[franchise.ID]
		if !ok {
			continue
		}
		target := defaults.Collections[franchise.ID]
		target.Enabled = source.Enabled
		for setID := range target.SetVisibility {
			if visible, ok := source.SetVisibility[setID]; ok {
				target.SetVisibility[setID] = visible
			}
		}
		defaults.Collections[franchise.ID] = target
	}
	return defaults
}

// VisibleSets returns the sets participating in "all" scope, in registry
// order.
func VisibleSets(settings Settings, sets []Set) []Set {
	var visible []Set
	for _, set := range sets {
		config, ok := settings.Collections[set.FranchiseID]
		if ok && config.Enabled && config.SetVisibility[set.ID] {
			visible = append(visible, set)
		}
	}
	return visible
}

// IsValidScope reports whether a scope id refers to "all" or a currently
// visible set.
func IsValidScope(scope string, visible []Set) bool {
	if scope == ScopeAll {
		return true
	}
	for _, set := range visible {
		if set.ID == scope {
			return true
		}
	}
	return false
}
