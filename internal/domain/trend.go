package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Classification outcome of comparing one price field across two observations.
type Classification int

const (
	ClassificationFirstDataPoint Classification = iota
	ClassificationNewProduct
	ClassificationBecameUnavailable
	ClassificationNewlyAvailable
	ClassificationNoData
	ClassificationUnchanged
	ClassificationIncreased
	ClassificationDecreased
)

// classification string constants to avoid magic strings
const (
	classificationStringFirstDataPoint    = "FIRST_DATA_POINT"
	classificationStringNewProduct        = "NEW_PRODUCT"
	classificationStringBecameUnavailable = "BECAME_UNAVAILABLE"
	classificationStringNewlyAvailable    = "NEWLY_AVAILABLE"
	classificationStringNoData            = "NO_DATA"
	classificationStringUnchanged         = "UNCHANGED"
	classificationStringIncreased         = "INCREASED"
	classificationStringDecreased         = "DECREASED"
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case ClassificationFirstDataPoint:
		return classificationStringFirstDataPoint
	case ClassificationNewProduct:
		return classificationStringNewProduct
	case ClassificationBecameUnavailable:
		return classificationStringBecameUnavailable
	case ClassificationNewlyAvailable:
		return classificationStringNewlyAvailable
	case ClassificationNoData:
		return classificationStringNoData
	case ClassificationUnchanged:
		return classificationStringUnchanged
	case ClassificationIncreased:
		return classificationStringIncreased
	case ClassificationDecreased:
		return classificationStringDecreased
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Classification) UnmarshalText(text []byte) error {
	switch string(text) {
	case classificationStringFirstDataPoint:
		*c = ClassificationFirstDataPoint
	case classificationStringNewProduct:
		*c = ClassificationNewProduct
	case classificationStringBecameUnavailable:
		*c = ClassificationBecameUnavailable
	case classificationStringNewlyAvailable:
		*c = ClassificationNewlyAvailable
	case classificationStringNoData:
		*c = ClassificationNoData
	case classificationStringUnchanged:
		*c = ClassificationUnchanged
	case classificationStringIncreased:
		*c = ClassificationIncreased
	case classificationStringDecreased:
		*c = ClassificationDecreased
	default:
		return fmt.Errorf("unknown classification %q", string(text))
	}
	return nil
}

// IsChange reports whether the classification is a price movement or a new product.
func (c Classification) IsChange() bool {
	switch c {
	case ClassificationIncreased, ClassificationDecreased, ClassificationNewProduct:
		return true
	}
	return false
}

// TrendResult classification of one price field, with the delta when both sides had a price.
type TrendResult struct {
	Classification     Classification      `json:"classification"`
	Delta              decimal.NullDecimal `json:"delta"`
	ReferenceTimestamp *time.Time          `json:"reference_timestamp,omitempty"`
}

// Label returns the human-readable trend label shown on the dashboard.
func (t TrendResult) Label() string {
	switch t.Classification {
	case ClassificationFirstDataPoint:
		return "First data point"
	case ClassificationNewProduct:
		return "New product"
	case ClassificationBecameUnavailable:
		return "No competitors now"
	case ClassificationNewlyAvailable:
		return "New competitor"
	case ClassificationNoData:
		return "No competitors"
	case ClassificationUnchanged:
		return "→ Unchanged"
	case ClassificationIncreased:
		return fmt.Sprintf("↑ +%s€", t.Delta.Decimal.StringFixed(2))
	case ClassificationDecreased:
		return fmt.Sprintf("↓ %s€", t.Delta.Decimal.StringFixed(2))
	default:
		return ""
	}
}

// ProductTrend a resolved product with the trend of both tracked price fields.
type ProductTrend struct {
	Product    ResolvedProduct `json:"product"`
	Cheapest   TrendResult     `json:"cheapest"`
	Competitor TrendResult     `json:"competitor"`
}

// DiffResult output of one diff pass.
type DiffResult struct {
	// ReferenceTimestamp timestamp of the observation compared against; nil when none existed.
	ReferenceTimestamp *time.Time     `json:"reference_timestamp,omitempty"`
	Trends             []ProductTrend `json:"trends"`
}
