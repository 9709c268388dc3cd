package domain

import (
	"github.com/shopspring/decimal"
)

var undercutStep = decimal.New(1, -2)

// PriceRecord flat, wire-friendly row combining a resolved product with its trends.
type PriceRecord struct {
	ProductID            string              `json:"id"`
	Name                 string              `json:"name"`
	Variant              string              `json:"variant"`
	CheapestPrice        decimal.NullDecimal `json:"cheapest_price"`
	CheapestVendor       string              `json:"cheapest_vendor"`
	RecommendedPrice     decimal.NullDecimal `json:"recommended_price"`
	BestCompetitorPrice  decimal.NullDecimal `json:"best_competitor_price"`
	BestCompetitor       string              `json:"best_competitor"`
	Trend                Classification      `json:"trend"`
	TrendDelta           decimal.NullDecimal `json:"trend_delta"`
	TrendLabel           string              `json:"trend_label"`
	CompetitorTrend      Classification      `json:"competitor_trend"`
	CompetitorTrendDelta decimal.NullDecimal `json:"competitor_trend_delta"`
	CompetitorTrendLabel string              `json:"competitor_trend_label"`
	ReferenceTimestamp   string              `json:"reference_timestamp,omitempty"`
}

// NewPriceRecord flattens a product trend.
func NewPriceRecord(t ProductTrend) PriceRecord {
	r := PriceRecord{
		ProductID:            t.Product.ProductID,
		Name:                 t.Product.Name,
		Variant:              t.Product.Variant,
		CheapestPrice:        t.Product.CheapestPrice,
		CheapestVendor:       t.Product.CheapestVendorName,
		RecommendedPrice:     RecommendedPrice(t.Product.CheapestPrice),
		BestCompetitorPrice:  t.Product.BestCompetitorPrice,
		BestCompetitor:       t.Product.BestCompetitorName,
		Trend:                t.Cheapest.Classification,
		TrendDelta:           t.Cheapest.Delta,
		TrendLabel:           t.Cheapest.Label(),
		CompetitorTrend:      t.Competitor.Classification,
		CompetitorTrendDelta: t.Competitor.Delta,
		CompetitorTrendLabel: t.Competitor.Label(),
	}
	if t.Cheapest.ReferenceTimestamp != nil {
		r.ReferenceTimestamp = FormatTimestamp(*t.Cheapest.ReferenceTimestamp)
	}
	return r
}

// RecommendedPrice undercuts the cheapest price by one cent, never going below zero.
func RecommendedPrice(cheapest decimal.NullDecimal) decimal.NullDecimal {
	if !cheapest.Valid {
		return decimal.NullDecimal{}
	}
	recommended := cheapest.Decimal.Sub(undercutStep)
	if recommended.IsNegative() {
		recommended = decimal.Zero
	}
	return decimal.NewNullDecimal(recommended.Round(2))
}
