package resolver

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

// minor units are cents: major = minor / 10^2
const minorUnitExponent = -2

// accepted exponent window for raw quotes; checked before any arithmetic
// so exponent notation like "1e100000000" is never expanded.
const (
	minRawExponent = -8
	maxRawExponent = 12
)

// maxMinorUnits upper bound for a raw quote (10^12 cents).
var maxMinorUnits = decimal.New(1, maxRawExponent)

// Stats counters of one resolution pass.
type Stats struct {
	Products       int
	Resolved       int
	DroppedInvalid int
	DroppedNoPrice int
	SkippedQuotes  int
	EmittedPoints  int
}

// Result output of one resolution pass.
type Result struct {
	Observation domain.Observation
	PricePoints []domain.DetailedPricePoint
	Stats       Stats
}

// Resolve derives the cheapest and best-competitor prices of one product.
// ok is false when no allow-listed vendor quoted a usable price; such a product carries no signal.
// Every eligible quote produces a detailed price point, whether or not it won a minimum.
func Resolve(p domain.Product, vendors domain.VendorSet, ts time.Time) (resolved domain.ResolvedProduct, points []domain.DetailedPricePoint, skipped int, ok bool) {
	ts = domain.NormalizeTimestamp(ts)
	resolved = domain.ResolvedProduct{
		ProductID: p.ID,
		Name:      p.Name,
		Variant:   p.Variant,
	}

	for _, q := range Filter(p.Quotes, vendors) {
		price, valid := parseMinorUnits(q.RawPrice)
		if !valid {
			skipped++
			continue
		}

		points = append(points, domain.DetailedPricePoint{
			Timestamp:   ts,
			ProductID:   p.ID,
			VendorID:    q.VendorID,
			ProductName: p.Name,
			VendorName:  q.VendorName,
			Price:       price,
		})

		// strict comparison: the first vendor in id order wins a tie
		if !resolved.CheapestPrice.Valid || price.LessThan(resolved.CheapestPrice.Decimal) {
			resolved.CheapestPrice = decimal.NewNullDecimal(price)
			resolved.CheapestVendorName = q.VendorName
		}

		if vendors.IsSelf(q.VendorID) {
			continue
		}
		if !resolved.BestCompetitorPrice.Valid || price.LessThan(resolved.BestCompetitorPrice.Decimal) {
			resolved.BestCompetitorPrice = decimal.NewNullDecimal(price)
			resolved.BestCompetitorName = q.VendorName
		}
	}

	return resolved, points, skipped, resolved.CheapestPrice.Valid
}

// ResolveListing runs one resolution pass over a raw listing.
// A nil or empty listing yields an empty observation.
func ResolveListing(listing []domain.Product, vendors domain.VendorSet, ts time.Time) Result {
	stats := Stats{Products: len(listing)}
	products := make([]domain.ResolvedProduct, 0, len(listing))
	points := make([]domain.DetailedPricePoint, 0)

	for _, p := range listing {
		if !p.Valid() {
			stats.DroppedInvalid++
			continue
		}

		resolved, productPoints, skipped, ok := Resolve(p, vendors, ts)
		stats.SkippedQuotes += skipped
		if !ok {
			stats.DroppedNoPrice++
			continue
		}

		products = append(products, resolved)
		points = append(points, productPoints...)
	}

	stats.Resolved = len(products)
	stats.EmittedPoints = len(points)

	return Result{
		Observation: domain.NewObservation(uuid.New().String(), ts, products),
		PricePoints: points,
		Stats:       stats,
	}
}

// parseMinorUnits converts a raw minor-unit price into a major-unit amount.
// Absent, malformed, negative and out-of-range prices are not eligible.
func parseMinorUnits(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, false
	}

	minor, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if exp := minor.Exponent(); exp < minRawExponent || exp > maxRawExponent {
		return decimal.Decimal{}, false
	}
	if minor.IsNegative() || minor.GreaterThan(maxMinorUnits) {
		return decimal.Decimal{}, false
	}

	return minor.Shift(minorUnitExponent), true
}
