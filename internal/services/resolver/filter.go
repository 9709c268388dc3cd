// Package resolver reduces a raw multi-vendor listing into per-product cheapest-vendor facts.
package resolver

import (
	"sort"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

// FilteredQuote allow-listed quote annotated with the vendor display name.
type FilteredQuote struct {
	VendorID   string
	VendorName string
	RawPrice   string
}

// Filter keeps the quotes of allow-listed vendors, sorted by vendor id so that
// every scan over the result visits vendors in the same order.
// Vendors outside the allow-list are dropped silently; an empty result is valid.
func Filter(quotes map[string]domain.VendorQuote, vendors domain.VendorSet) []FilteredQuote {
	filtered := make([]FilteredQuote, 0, len(quotes))
	for vendorID, quote := range quotes {
		name, ok := vendors.Lookup(vendorID)
		if !ok {
			continue
		}
		filtered = append(filtered, FilteredQuote{
			VendorID:   vendorID,
			VendorName: name,
			RawPrice:   quote.RawPrice,
		})
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].VendorID < filtered[j].VendorID
	})

	return filtered
}
