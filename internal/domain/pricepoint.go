package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DetailedPricePoint one vendor's quote for one product at one observation timestamp.
// Keyed by (Timestamp, ProductID, VendorID); re-inserting the same key replaces the value.
type DetailedPricePoint struct {
	Timestamp   time.Time       `json:"timestamp"`
	ProductID   string          `json:"product_id"`
	VendorID    string          `json:"vendor_id"`
	ProductName string          `json:"product_name"`
	VendorName  string          `json:"vendor_name"`
	Price       decimal.Decimal `json:"price"`
}

// Key returns the upsert key.
func (p DetailedPricePoint) Key() string {
	return FormatTimestamp(p.Timestamp) + "|" + p.ProductID + "|" + p.VendorID
}

// PricePointFilter optional, conjunctive filters for detailed price point queries.
// Start and End are inclusive.
type PricePointFilter struct {
	ProductID string
	VendorID  string
	Start     *time.Time
	End       *time.Time
}

// Match reports whether p satisfies every filter that is set.
func (f PricePointFilter) Match(p DetailedPricePoint) bool {
	if f.ProductID != "" && p.ProductID != f.ProductID {
		return false
	}
	if f.VendorID != "" && p.VendorID != f.VendorID {
		return false
	}
	ts := NormalizeTimestamp(p.Timestamp)
	if f.Start != nil && ts.Before(NormalizeTimestamp(*f.Start)) {
		return false
	}
	if f.End != nil && ts.After(NormalizeTimestamp(*f.End)) {
		return false
	}
	return true
}
