package domain

// VendorQuote one vendor's offer for one product.
type VendorQuote struct {
	// VendorID upstream vendor identifier.
	VendorID string
	// RawPrice price in minor currency units exactly as received.
	// Empty when the upstream record carried no price.
	RawPrice string
}

// Product raw upstream product with its vendor quotes.
type Product struct {
	ID      string
	Name    string
	Variant string
	// Quotes vendor id -> quote.
	Quotes map[string]VendorQuote
}

// Valid reports whether the product carries the required identity fields.
func (p Product) Valid() bool {
	return p.ID != "" && p.Name != ""
}
