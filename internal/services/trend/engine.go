// Package trend classifies how resolved prices moved between two observations.
package trend

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

// deltas below one cent after rounding are treated as representation noise
var unchangedThreshold = decimal.New(1, -2)

const deltaPlaces = 2

// MatchMode how current products are paired with reference products.
type MatchMode int

const (
	// MatchByIDThenName pairs by product id and falls back to the display name.
	MatchByIDThenName MatchMode = iota
	// MatchByName pairs by exact display name only.
	MatchByName
)

type observationReader interface {
	Latest(ctx context.Context) (domain.Observation, bool, error)
	GetMostRecentBefore(ctx context.Context, ts time.Time) (domain.Observation, bool, error)
}

// Engine selects a reference observation and diffs the current one against it.
type Engine struct {
	store     observationReader
	l         *zap.Logger
	matchMode MatchMode
}

// Option configures the Engine.
type Option func(*Engine)

// WithMatchMode overrides the product matching mode.
func WithMatchMode(mode MatchMode) Option {
	return func(e *Engine) {
		e.matchMode = mode
	}
}

// NewEngine creates a diff engine reading reference observations from store.
func NewEngine(l *zap.Logger, store observationReader, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		l:         l,
		matchMode: MatchByIDThenName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diff compares current against the reference observation.
// With referenceTS set the reference is the most recent observation strictly before it,
// otherwise it is the most recent observation overall.
// A missing reference is not an error; a structurally invalid one is.
func (e *Engine) Diff(ctx context.Context, current domain.Observation, referenceTS *time.Time) (domain.DiffResult, error) {
	reference, found, err := e.reference(ctx, referenceTS)
	if err != nil {
		return domain.DiffResult{}, err
	}

	if !found {
		e.l.Info("no previous observation, marking all products as first data point",
			zap.Int("products", len(current.Products)))
		return FirstDataPoint(current), nil
	}

	result, err := Compare(current, reference, e.matchMode)
	if err != nil {
		return domain.DiffResult{}, err
	}

	e.logSummary(result)

	return result, nil
}

func (e *Engine) reference(ctx context.Context, referenceTS *time.Time) (domain.Observation, bool, error) {
	if referenceTS != nil {
		obs, found, err := e.store.GetMostRecentBefore(ctx, *referenceTS)
		if err != nil {
			return domain.Observation{}, false, errors.Wrapf(err, "read observation before %s", domain.FormatTimestamp(*referenceTS))
		}
		if found {
			e.l.Debug("using previous observation",
				zap.String("reference", obs.TimestampString()),
				zap.String("compared_with", domain.FormatTimestamp(*referenceTS)))
		}
		return obs, found, nil
	}

	obs, found, err := e.store.Latest(ctx)
	if err != nil {
		return domain.Observation{}, false, errors.Wrap(err, "read latest observation")
	}
	if found {
		e.l.Debug("using most recent observation", zap.String("reference", obs.TimestampString()))
	}
	return obs, found, nil
}

func (e *Engine) logSummary(result domain.DiffResult) {
	counts := make(map[domain.Classification]int)
	for _, t := range result.Trends {
		counts[t.Cheapest.Classification]++
	}
	e.l.Info("trend analysis complete",
		zap.Int("unchanged", counts[domain.ClassificationUnchanged]),
		zap.Int("increased", counts[domain.ClassificationIncreased]),
		zap.Int("decreased", counts[domain.ClassificationDecreased]),
		zap.Int("new", counts[domain.ClassificationNewProduct]))
}

// FirstDataPoint classifies every product of current as a first data point.
func FirstDataPoint(current domain.Observation) domain.DiffResult {
	trends := make([]domain.ProductTrend, 0, len(current.Products))
	for _, p := range current.Products {
		trends = append(trends, domain.ProductTrend{
			Product:    p,
			Cheapest:   domain.TrendResult{Classification: domain.ClassificationFirstDataPoint},
			Competitor: domain.TrendResult{Classification: domain.ClassificationFirstDataPoint},
		})
	}
	return domain.DiffResult{Trends: trends}
}

// Compare diffs current against reference. It has no side effects: the same inputs
// always produce the same result. reference must be structurally valid.
func Compare(current, reference domain.Observation, mode MatchMode) (domain.DiffResult, error) {
	if err := reference.Validate(); err != nil {
		return domain.DiffResult{}, err
	}

	refTS := reference.Timestamp
	index := newReferenceIndex(reference, mode)

	trends := make([]domain.ProductTrend, 0, len(current.Products))
	for _, p := range current.Products {
		ref, matched := index.match(p)
		if !matched {
			trends = append(trends, domain.ProductTrend{
				Product:    p,
				Cheapest:   domain.TrendResult{Classification: domain.ClassificationNewProduct, ReferenceTimestamp: &refTS},
				Competitor: domain.TrendResult{Classification: domain.ClassificationNewProduct, ReferenceTimestamp: &refTS},
			})
			continue
		}

		trends = append(trends, domain.ProductTrend{
			Product:    p,
			Cheapest:   classify(p.CheapestPrice, ref.CheapestPrice, &refTS),
			Competitor: classify(p.BestCompetitorPrice, ref.BestCompetitorPrice, &refTS),
		})
	}

	return domain.DiffResult{ReferenceTimestamp: &refTS, Trends: trends}, nil
}

// classify compares one matched price field.
func classify(current, reference decimal.NullDecimal, refTS *time.Time) domain.TrendResult {
	result := domain.TrendResult{ReferenceTimestamp: refTS}

	switch {
	case !current.Valid && !reference.Valid:
		result.Classification = domain.ClassificationNoData
	case !current.Valid:
		result.Classification = domain.ClassificationBecameUnavailable
	case !reference.Valid:
		result.Classification = domain.ClassificationNewlyAvailable
	default:
		delta := current.Decimal.Sub(reference.Decimal).Round(deltaPlaces)
		result.Delta = decimal.NewNullDecimal(delta)
		switch {
		case delta.Abs().LessThan(unchangedThreshold):
			result.Classification = domain.ClassificationUnchanged
		case delta.IsPositive():
			result.Classification = domain.ClassificationIncreased
		default:
			result.Classification = domain.ClassificationDecreased
		}
	}

	return result
}

type referenceIndex struct {
	byID   map[string]domain.ResolvedProduct
	byName map[string]domain.ResolvedProduct
	mode   MatchMode
}

// newReferenceIndex indexes reference rows; on duplicates the first row wins.
func newReferenceIndex(reference domain.Observation, mode MatchMode) referenceIndex {
	idx := referenceIndex{
		byID:   make(map[string]domain.ResolvedProduct, len(reference.Products)),
		byName: make(map[string]domain.ResolvedProduct, len(reference.Products)),
		mode:   mode,
	}
	for _, p := range reference.Products {
		if _, ok := idx.byID[p.ProductID]; !ok {
			idx.byID[p.ProductID] = p
		}
		if _, ok := idx.byName[p.Name]; !ok {
			idx.byName[p.Name] = p
		}
	}
	return idx
}

func (idx referenceIndex) match(p domain.ResolvedProduct) (domain.ResolvedProduct, bool) {
	if idx.mode == MatchByIDThenName {
		if ref, ok := idx.byID[p.ProductID]; ok {
			return ref, true
		}
	}
	ref, ok := idx.byName[p.Name]
	return ref, ok
}
