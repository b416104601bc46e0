package scryfall

import "fmt"

// Finish is a physical print style of a card.
type Finish string

const (
	FinishNonfoil Finish = "nonfoil"
	FinishFoil    Finish = "foil"
	FinishEtched  Finish = "etched"
)

// Card represents a single printing of a Magic card from Scryfall.
// Cards are immutable once fetched; prices are snapshots from fetch time.
type Card struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SetCode         string `json:"set"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	Rarity          string `json:"rarity"`

	// Finishes lists the physical print styles this card exists in
	// (subset of nonfoil/foil/etched).
	Finishes []Finish `json:"finishes"`

	ImageURIs *ImageURIs `json:"image_uris,omitempty"`

	// Card faces (for DFCs, MDFCs, split cards)
	CardFaces []CardFace `json:"card_faces,omitempty"`

	Prices Prices `json:"prices"`

	PurchaseURIs map[string]string `json:"purchase_uris,omitempty"`
	CardmarketID *int              `json:"cardmarket_id,omitempty"`
}

// HasFinish reports whether the card exists in the given finish.
func (c *Card) HasFinish(f Finish) bool {
	for _, have := range c.Finishes {
		if have == f {
			return true
		}
	}
	return false
}

// CardFace represents one face of a multi-faced card.
type CardFace struct {
	Name      string     `json:"name"`
	ImageURIs *ImageURIs `json:"image_uris,omitempty"`
}

// ImageURIs contains URLs for card images in various sizes.
type ImageURIs struct {
	Small      string `json:"small"`
	Normal     string `json:"normal"`
	Large      string `json:"large"`
	PNG        string `json:"png"`
	ArtCrop    string `json:"art_crop"`
	BorderCrop string `json:"border_crop"`
}

// Prices holds reference-currency prices per finish. Values are nullable
// decimal strings exactly as Scryfall returns them.
type Prices struct {
	EUR     *string `json:"eur,omitempty"`
	EURFoil *string `json:"eur_foil,omitempty"`
}

// Set represents a Magic set from Scryfall.
type Set struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	ReleasedAt string `json:"released_at,omitempty"`
	SetType    string `json:"set_type"`
	CardCount  int    `json:"card_count"`
	IconSVGURI string `json:"icon_svg_uri"`
}

// SearchResult represents one page of card search results from Scryfall.
type SearchResult struct {
	Object     string `json:"object"`
	TotalCards int    `json:"total_cards"`
	HasMore    bool   `json:"has_more"`
	NextPage   string `json:"next_page,omitempty"`
	Data       []Card `json:"data"`
}

// APIError represents an error response from the Scryfall API.
type APIError struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Scryfall API error (HTTP %d): %s", e.Status, e.Details)
	}
	return fmt.Sprintf("Scryfall API error (HTTP %d): %s", e.Status, e.Code)
}

// NotFoundError represents a 404 error from the API.
type NotFoundError struct {
	URL string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.URL)
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// CardImageURL returns the card image URL for the given size, falling back
// to the front face for double-faced cards. Returns "" when no image exists.
func CardImageURL(card *Card, size string) string {
	pick := func(uris *ImageURIs) string {
		switch size {
		case "small":
			return uris.Small
		case "normal":
			return uris.Normal
		case "png":
			return uris.PNG
		default:
			return uris.Large
		}
	}
	if card.ImageURIs != nil {
		return pick(card.ImageURIs)
	}
	if len(card.CardFaces) > 0 && card.CardFaces[0].ImageURIs != nil {
		return pick(card.CardFaces[0].ImageURIs)
	}
	return ""
}
