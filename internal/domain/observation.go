package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TimestampLayout second-granularity layout used for observation timestamps on the wire and in storage.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrCorruptObservation reports a persisted observation that is missing required fields.
var ErrCorruptObservation = errors.New("corrupt observation")

// ResolvedProduct cheapest-vendor and cheapest-competitor facts for one product.
type ResolvedProduct struct {
	ProductID           string              `json:"product_id"`
	Name                string              `json:"name"`
	Variant             string              `json:"variant"`
	CheapestPrice       decimal.NullDecimal `json:"cheapest_price"`
	CheapestVendorName  string              `json:"cheapest_vendor_name,omitempty"`
	BestCompetitorPrice decimal.NullDecimal `json:"best_competitor_price"`
	BestCompetitorName  string              `json:"best_competitor_name,omitempty"`
}

// Validate checks the fields every persisted row must carry.
func (p ResolvedProduct) Validate() error {
	if p.ProductID == "" {
		return fmt.Errorf("product_id is missing")
	}
	if p.Name == "" {
		return fmt.Errorf("name is missing for product %s", p.ProductID)
	}
	if !p.CheapestPrice.Valid {
		return fmt.Errorf("cheapest_price is missing for product %s", p.ProductID)
	}
	if p.CheapestVendorName == "" {
		return fmt.Errorf("cheapest_vendor_name is missing for product %s", p.ProductID)
	}
	if p.BestCompetitorPrice.Valid && p.BestCompetitorName == "" {
		return fmt.Errorf("best_competitor_name is missing for product %s", p.ProductID)
	}
	return nil
}

// Observation immutable result of one resolution pass.
type Observation struct {
	// ID unique observation identifier.
	ID string `json:"id"`
	// Seq store-assigned sequence number, the true primary key. Zero until persisted.
	Seq uint64 `json:"seq"`
	// Timestamp second-granularity observation time (UTC).
	Timestamp time.Time         `json:"timestamp"`
	Products  []ResolvedProduct `json:"products"`
}

// NewObservation creates an observation with the timestamp truncated to whole seconds.
func NewObservation(id string, ts time.Time, products []ResolvedProduct) Observation {
	if products == nil {
		products = []ResolvedProduct{}
	}
	return Observation{
		ID:        id,
		Timestamp: NormalizeTimestamp(ts),
		Products:  products,
	}
}

// IsEmpty reports whether the observation has no products.
func (o Observation) IsEmpty() bool {
	return len(o.Products) == 0
}

// TimestampString returns the timestamp in TimestampLayout.
func (o Observation) TimestampString() string {
	return FormatTimestamp(o.Timestamp)
}

// Validate checks that every row carries its required fields.
// The returned error wraps ErrCorruptObservation.
func (o Observation) Validate() error {
	if o.Timestamp.IsZero() {
		return errors.Wrap(ErrCorruptObservation, "timestamp is missing")
	}
	for i, p := range o.Products {
		if err := p.Validate(); err != nil {
			return errors.Wrapf(ErrCorruptObservation, "observation %s row %d: %v", o.TimestampString(), i, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored rows.
func (o Observation) Clone() Observation {
	c := o
	c.Products = make([]ResolvedProduct, len(o.Products))
	copy(c.Products, o.Products)
	return c
}

// NormalizeTimestamp converts ts to UTC with second granularity.
func NormalizeTimestamp(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Second)
}

// FormatTimestamp formats ts in TimestampLayout (UTC).
func FormatTimestamp(ts time.Time) string {
	return NormalizeTimestamp(ts).Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q, expected format %s", s, TimestampLayout)
	}
	return ts, nil
}
