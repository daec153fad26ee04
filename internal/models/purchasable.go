package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseKind tags which variant a PurchasableItem is
type PurchaseKind string

const (
	PurchaseSingle PurchaseKind = "single"
	PurchaseBundle PurchaseKind = "bundle"
	PurchaseSeries PurchaseKind = "series"
)

// PurchasableItem is the subject of one purchase: a movie, a bundle or a series
type PurchasableItem struct {
	Kind PurchaseKind `json:"kind" binding:"required,oneof=single bundle series"`
	ID   int64        `json:"id" binding:"required"`
}

// SingleItem is a rental of one movie
func SingleItem(movieID int64) PurchasableItem {
	return PurchasableItem{Kind: PurchaseSingle, ID: movieID}
}

// BundleItem is a purchase of every title in a bundle
func BundleItem(bundleID int64) PurchasableItem {
	return PurchasableItem{Kind: PurchaseBundle, ID: bundleID}
}

// SeriesItem is a season pass covering every title of a series
func SeriesItem(seriesID int64) PurchasableItem {
	return PurchasableItem{Kind: PurchaseSeries, ID: seriesID}
}

// String renders the item as kind:id, the form sent to the gateway as the item number
func (p PurchasableItem) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// Resolution is what the catalog knows about a purchasable item
type Resolution struct {
	Item         PurchasableItem `json:"item"`
	TitleIDs     []int64         `json:"title_ids"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	RentalLength time.Duration   `json:"rental_length"`
	BundleID     *int64          `json:"bundle_id,omitempty"`
	SeriesID     *int64          `json:"series_id,omitempty"`
	StudioID     int64           `json:"studio_id"`
	Title        string          `json:"title"`
}
