package models

// ItemData is the marketplace item detail shape served to drivers.
// Price is in points after the sponsor's conversion rate is applied
// upstream; the cache and handler treat it as opaque.
type ItemData struct {
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	PricePoints int    `json:"price_points"`
	Currency    string `json:"currency"`
	ImageURL    string `json:"image_url,omitempty"`
	ItemURL     string `json:"item_url,omitempty"`
	Description string `json:"description,omitempty"`
}
