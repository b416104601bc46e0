// Package products joins cards against MTGJSON sealed-product metadata:
// which physical products (boosters, bundles, decks) a given printing can be
// pulled from, split by finish.
package products

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ramonehamilton/mtg-binder/internal/scryfall"
)

const (
	baseURL        = "https://mtgjson.com/api/v5"
	requestTimeout = 30 * time.Second
)

// Only these product categories are relevant for the finish-per-product-type
// classification; "case" and "subset" products are boxes of boxes.
var relevantCategories = map[string]struct{}{
	"booster_pack":     {},
	"booster_box":      {},
	"bundle":           {},
	"box_set":          {},
	"deck":             {},
	"limited_aid_tool": {},
	"unknown":          {},
}

var productNamePrefixes = regexp.MustCompile(`(?i)^(Marvels Spider-?Man|Marvel Universe)\s*`)

// FinishSet is the set of finishes obtainable from some product bucket.
type FinishSet map[scryfall.Finish]bool

// BoosterEntry records which finishes of a card appear in play boosters and
// collector boosters.
type BoosterEntry struct {
	Play      FinishSet
	Collector FinishSet
}

// BoosterMap maps "set:collectorNumber" keys to booster availability.
type BoosterMap map[string]BoosterEntry

// Key builds the lookup key for a printing.
func Key(setCode, collectorNumber string) string {
	return strings.ToLower(setCode) + ":" + collectorNumber
}

// Entry looks up booster availability for a printing.
func (m BoosterMap) Entry(setCode, collectorNumber string) (BoosterEntry, bool) {
	entry, ok := m[Key(setCode, collectorNumber)]
	return entry, ok
}

// CardProduct is one sealed product a card can be pulled from.
type CardProduct struct {
	UUID             string
	Name             string
	Category         string
	Subtype          string
	AvailableNonfoil bool
	AvailableFoil    bool
}

type mtgjsonCard struct {
	Number         string `json:"number"`
	SourceProducts *struct {
		Foil    []string `json:"foil"`
		Nonfoil []string `json:"nonfoil"`
	} `json:"sourceProducts"`
}

type mtgjsonSealedProduct struct {
	UUID     string  `json:"uuid"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Subtype  *string `json:"subtype"`
}

type mtgjsonSet struct {
	Cards         []mtgjsonCard          `json:"cards"`
	SealedProduct []mtgjsonSealedProduct `json:"sealedProduct"`
}

// Client fetches MTGJSON set files, caching each parsed set for the session.
// masterSet names the set file carrying the sealed-product definitions for
// the whole product family.
type Client struct {
	httpClient *http.Client
	baseURL    string
	masterSet  string

	mu   sync.Mutex
	sets map[string]*mtgjsonSet
}

// NewClient creates an MTGJSON client. masterSet is the set code whose file
// holds the sealedProduct definitions (e.g. "spm" for the Spider-Man family).
func NewClient(masterSet string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		masterSet:  strings.ToLower(masterSet),
		sets:       make(map[string]*mtgjsonSet),
	}
}

func (c *Client) fetchSet(ctx context.Context, setCode string) (*mtgjsonSet, error) {
	key := strings.ToUpper(setCode)

	c.mu.Lock()
	if set, ok := c.sets[key]; ok {
		c.mu.Unlock()
		return set, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/%s.json", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MTGJSON set %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MTGJSON fetch failed for %s: status %d", key, resp.StatusCode)
	}

	var payload struct {
		Data mtgjsonSet `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode MTGJSON set %s: %w", key, err)
	}

	c.mu.Lock()
	c.sets[key] = &payload.Data
	c.mu.Unlock()

	log.Printf("[products] Fetched MTGJSON set %s: %d cards, %d sealed products", key, len(payload.Data.Cards), len(payload.Data.SealedProduct))
	return &payload.Data, nil
}

// BoosterMap builds the booster availability map for the given sets. Only
// booster_pack products with a play or collector subtype contribute.
func (c *Client) BoosterMap(ctx context.Context, setCodes []string) (BoosterMap, error) {
	master, err := c.fetchSet(ctx, c.masterSet)
	if err != nil {
		return nil, err
	}

	productsByUUID := make(map[string]mtgjsonSealedProduct, len(master.SealedProduct))
	for _, product := range master.SealedProduct {
		productsByUUID[product.UUID] = product
	}

	boosterMap := make(BoosterMap)
	for _, setCode := range setCodes {
		set, err := c.fetchSet(ctx, setCode)
		if err != nil {
			return nil, err
		}

		for _, card := range set.Cards {
			if card.SourceProducts == nil {
				continue
			}
			entry := BoosterEntry{Play: FinishSet{}, Collector: FinishSet{}}
			addBoosterFinishes(entry, productsByUUID, card.SourceProducts.Foil, scryfall.FinishFoil)
			addBoosterFinishes(entry, productsByUUID, card.SourceProducts.Nonfoil, scryfall.FinishNonfoil)

			if len(entry.Play) > 0 || len(entry.Collector) > 0 {
				boosterMap[Key(setCode, card.Number)] = entry
			}
		}
	}
	return boosterMap, nil
}

func addBoosterFinishes(entry BoosterEntry, productsByUUID map[string]mtgjsonSealedProduct, uuids []string, finish scryfall.Finish) {
	for _, uuid := range uuids {
		product, ok := productsByUUID[uuid]
		if !ok || product.Category != "booster_pack" || product.Subtype == nil {
			continue
		}
		switch *product.Subtype {
		case "play":
			entry.Play[finish] = true
		case "collector":
			entry.Collector[finish] = true
		}
	}
}

// CardProducts lists every relevant sealed product one printing appears in.
// The master set file supplies product definitions; the card's own set file
// supplies the per-card product references.
func (c *Client) CardProducts(ctx context.Context, setCode, collectorNumber string) ([]CardProduct, error) {
	master, err := c.fetchSet(ctx, c.masterSet)
	if err != nil {
		return nil, err
	}
	set := master
	if strings.ToLower(setCode) != c.masterSet {
		if set, err = c.fetchSet(ctx, setCode); err != nil {
			return nil, err
		}
	}

	var card *mtgjsonCard
	for i := range set.Cards {
		if set.Cards[i].Number == collectorNumber {
			card = &set.Cards[i]
			break
		}
	}
	if card == nil || card.SourceProducts == nil {
		return nil, nil
	}

	productsByUUID := make(map[string]mtgjsonSealedProduct, len(master.SealedProduct))
	for _, product := range master.SealedProduct {
		productsByUUID[product.UUID] = product
	}

	foil := make(map[string]struct{}, len(card.SourceProducts.Foil))
	for _, uuid := range card.SourceProducts.Foil {
		foil[uuid] = struct{}{}
	}

	results := make(map[string]*CardProduct)
	var order []string
	appendProducts := func(uuids []string, isFoil bool) {
		for _, uuid := range uuids {
			product, ok := productsByUUID[uuid]
			if !ok {
				continue
			}
			category := product.Category
			if category == "" {
				category = "unknown"
			}
			if _, relevant := relevantCategories[category]; !relevant {
				continue
			}

			entry, ok := results[uuid]
			if !ok {
				subtype := ""
				if product.Subtype != nil {
					subtype = *product.Subtype
				}
				entry = &CardProduct{
					UUID:     uuid,
					Name:     formatProductName(product.Name),
					Category: category,
					Subtype:  subtype,
				}
				results[uuid] = entry
				order = append(order, uuid)
			}
			if isFoil {
				entry.AvailableFoil = true
			} else {
				entry.AvailableNonfoil = true
			}
		}
	}
	appendProducts(card.SourceProducts.Nonfoil, false)
	appendProducts(card.SourceProducts.Foil, true)

	out := make([]CardProduct, 0, len(order))
	for _, uuid := range order {
		out = append(out, *results[uuid])
	}
	return out, nil
}

// formatProductName strips the repeated family prefix so product names stay
// short in display contexts.
func formatProductName(raw string) string {
	return strings.TrimSpace(productNamePrefixes.ReplaceAllString(raw, ""))
}
