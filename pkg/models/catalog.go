// Package models defines the kiosk's domain entities and their enums.
package models

import "time"

// LocalizedText maps a locale code to a string.
type LocalizedText map[string]string

// LocalizedProps maps a locale code to a named set of properties.
type LocalizedProps map[string]map[string]string

// Product is a catalog entry grouping one or more purchasable variants.
type Product struct {
	ID          int64          `json:"id"`
	LastUpdate  int64          `json:"last_update"` // cloud-side modification stamp
	Type        string         `json:"type"`
	Tags        []string       `json:"tags,omitempty"`
	Name        LocalizedText  `json:"name,omitempty"`
	Description LocalizedText  `json:"description,omitempty"`
	Properties  LocalizedProps `json:"properties,omitempty"`
	VariantIDs  []int64        `json:"variant_ids,omitempty"`
}

// VariantOption is a selectable option on a variant.
type VariantOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Variant is a purchasable SKU.
type Variant struct {
	ID                    int64           `json:"id"`
	ProductID             int64           `json:"product_id"`
	Price                 int64           `json:"price"`         // minor currency units
	ComparePrice          int64           `json:"compare_price"` // 0 when absent
	PriceFormatted        string          `json:"price_formatted,omitempty"`
	ComparePriceFormatted string          `json:"compare_price_formatted,omitempty"`
	Deleted               bool            `json:"deleted"`
	MediaID               int64           `json:"media_id,omitempty"`
	Name                  LocalizedText   `json:"name,omitempty"`
	Properties            LocalizedProps  `json:"properties,omitempty"`
	Options               []VariantOption `json:"options,omitempty"`
}

// Collection groups products for presentation.
type Collection struct {
	ID          int64         `json:"id"`
	LastUpdate  int64         `json:"last_update"`
	MediaID     int64         `json:"media_id,omitempty"`
	Name        LocalizedText `json:"name,omitempty"`
	Description LocalizedText `json:"description,omitempty"`
	ProductIDs  []int64       `json:"product_ids,omitempty"`
}

// Media is a downloaded image reference. Bytes live on disk under the
// configured image directory, keyed by Filename.
type Media struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	LastUpdate int64  `json:"last_update"`
}

// User is a local maintenance account.
type User struct {
	Name         string      `json:"name"`
	Password     string      `json:"-"`
	AccessLevel  AccessLevel `json:"access_level"`
	LastLoggedIn time.Time   `json:"last_logged_in"`
}

// AccessLevel is a user privilege tier.
type AccessLevel string

const (
	AccessAdmin AccessLevel = "ADMIN"
)
