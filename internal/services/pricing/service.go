// Package pricing runs the fetch, resolve, diff and persist cycle and builds
// the price views served over HTTP and the CLI.
package pricing

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/pricewatch/internal/cache"
	"github.com/vadiminshakov/pricewatch/internal/domain"
	"github.com/vadiminshakov/pricewatch/internal/metrics"
	"github.com/vadiminshakov/pricewatch/internal/services/resolver"
	"github.com/vadiminshakov/pricewatch/internal/services/trend"
)

// ErrNotFound no observation stored for the requested timestamp.
var ErrNotFound = errors.New("data not found for the specified timestamp")

// FetchError the upstream listing could not be retrieved.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return "failed to fetch prices: " + e.Err.Error() }

func (e *FetchError) Unwrap() error { return e.Err }

const (
	defaultCacheTTL  = 10 * time.Minute
	historicalPrefix = "historical:"
)

// Fetcher provides the current upstream product listing.
type Fetcher interface {
	FetchProducts(ctx context.Context) ([]domain.Product, error)
}

type snapshotStore interface {
	Save(ctx context.Context, obs domain.Observation, points []domain.DetailedPricePoint) (domain.Observation, error)
	ListTimestamps(ctx context.Context) ([]time.Time, error)
	Get(ctx context.Context, ts time.Time) (domain.Observation, bool, error)
	QueryDetailed(ctx context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error)
	ObservationsAfter(ctx context.Context, seq uint64) ([]domain.Observation, error)
	Latest(ctx context.Context) (domain.Observation, bool, error)
	GetMostRecentBefore(ctx context.Context, ts time.Time) (domain.Observation, bool, error)
}

// RecordFilter optional row filters applied to a view.
type RecordFilter struct {
	// ChangesOnly keeps rows whose cheapest price increased, decreased or is new.
	ChangesOnly bool
	// HideSelfBest drops rows where the self vendor is already cheapest.
	HideSelfBest bool
}

// View price rows for one observation.
type View struct {
	Timestamp          string               `json:"timestamp"`
	ReferenceTimestamp string               `json:"reference_timestamp,omitempty"`
	Seq                uint64               `json:"seq"`
	SaveSuccess        bool                 `json:"save_success"`
	Records            []domain.PriceRecord `json:"data"`
}

// Service price resolution and trend pipeline.
type Service struct {
	l        *zap.Logger
	fetcher  Fetcher
	vendors  domain.VendorSet
	store    snapshotStore
	engine   *trend.Engine
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches historical views.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithClock overrides the observation clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMatchMode sets how products are matched against the reference observation.
func WithMatchMode(mode trend.MatchMode) Option {
	return func(s *Service) {
		s.engine = trend.NewEngine(s.l, s.store, trend.WithMatchMode(mode))
	}
}

// NewService creates a pricing service.
func NewService(l *zap.Logger, fetcher Fetcher, vendors domain.VendorSet, store snapshotStore, opts ...Option) *Service {
	s := &Service{
		l:        l,
		fetcher:  fetcher,
		vendors:  vendors,
		store:    store,
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
	}
	s.engine = trend.NewEngine(l, store)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Current fetches the upstream listing, diffs it against the latest stored
// observation and persists it. Empty observations are not persisted.
// A failed save is logged and reported through View.SaveSuccess.
func (s *Service) Current(ctx context.Context, filter RecordFilter) (View, error) {
	start := time.Now()

	listing, err := s.fetcher.FetchProducts(ctx)
	if err != nil {
		metrics.RecordFetch(metrics.OutcomeFailed, 0, time.Since(start))
		return View{}, &FetchError{Err: err}
	}

	res := resolver.ResolveListing(listing, s.vendors, s.now())
	s.l.Debug("resolved listing",
		zap.Int("products", res.Stats.Products),
		zap.Int("resolved", res.Stats.Resolved),
		zap.Int("dropped_invalid", res.Stats.DroppedInvalid),
		zap.Int("dropped_no_price", res.Stats.DroppedNoPrice),
		zap.Int("skipped_quotes", res.Stats.SkippedQuotes))

	diff, err := s.engine.Diff(ctx, res.Observation, nil)
	if err != nil {
		metrics.RecordFetch(metrics.OutcomeFailed, 0, time.Since(start))
		return View{}, errors.Wrap(err, "failed to compute trends")
	}
	metrics.RecordTrends(diff)

	view := newView(res.Observation, diff)
	outcome := metrics.OutcomeEmpty

	if !res.Observation.IsEmpty() {
		saved, err := s.store.Save(ctx, res.Observation, res.PricePoints)
		if err != nil {
			s.l.Error("failed to save observation",
				zap.String("timestamp", res.Observation.TimestampString()),
				zap.Error(err))
			outcome = metrics.OutcomeSaveFailed
		} else {
			view.Seq = saved.Seq
			view.SaveSuccess = true
			outcome = metrics.OutcomeSaved
			s.invalidate(ctx, saved.Timestamp)
		}
	} else {
		s.l.Warn("upstream listing resolved to an empty observation, not saving")
	}

	metrics.RecordFetch(outcome, len(res.Observation.Products), time.Since(start))

	view.Records = s.apply(view.Records, filter)
	return view, nil
}

// Historical returns the observation stored under ts diffed against the most
// recent observation strictly before it.
func (s *Service) Historical(ctx context.Context, ts time.Time, filter RecordFilter) (View, error) {
	var (
		view View
		err  error
	)
	if s.cache != nil {
		view, err = s.cachedHistorical(ctx, ts)
	} else {
		view, err = s.historical(ctx, ts)
	}
	if err != nil {
		return View{}, err
	}

	view.Records = s.apply(view.Records, filter)
	return view, nil
}

func (s *Service) historical(ctx context.Context, ts time.Time) (View, error) {
	obs, ok, err := s.store.Get(ctx, ts)
	if err != nil {
		return View{}, errors.Wrapf(err, "load observation %s", domain.FormatTimestamp(ts))
	}
	if !ok {
		return View{}, ErrNotFound
	}

	view, err := s.viewOf(ctx, obs)
	if err != nil {
		return View{}, err
	}
	view.SaveSuccess = true
	return view, nil
}

func (s *Service) cachedHistorical(ctx context.Context, ts time.Time) (View, error) {
	key := historicalPrefix + domain.FormatTimestamp(ts)

	payload, err := s.cache.GetOrSet(ctx, key, s.cacheTTL, func() ([]byte, error) {
		view, err := s.historical(ctx, ts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	})
	if payload == nil {
		return View{}, err
	}
	if err != nil {
		s.l.Warn("failed to cache historical view", zap.String("key", key), zap.Error(err))
	}

	var view View
	if err := json.Unmarshal(payload, &view); err != nil {
		s.l.Warn("dropping unreadable cached view", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(ctx, key)
		return s.historical(ctx, ts)
	}
	return view, nil
}

// Since returns views for observations appended after seq, oldest first, and
// the highest sequence number seen. An observation whose view cannot be built
// is skipped and its sequence number still advances the cursor; the first such
// error is returned alongside the views that were built.
func (s *Service) Since(ctx context.Context, seq uint64) ([]View, uint64, error) {
	observations, err := s.store.ObservationsAfter(ctx, seq)
	if err != nil {
		return nil, seq, errors.Wrap(err, "load new observations")
	}

	var firstErr error
	views := make([]View, 0, len(observations))
	for _, obs := range observations {
		if obs.Seq > seq {
			seq = obs.Seq
		}

		view, err := s.viewOf(ctx, obs)
		if err != nil {
			s.l.Warn("skipping observation in stream",
				zap.Uint64("seq", obs.Seq),
				zap.String("timestamp", obs.TimestampString()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		view.SaveSuccess = true
		views = append(views, view)
	}
	return views, seq, firstErr
}

// LatestSeq returns the sequence number of the most recent observation, or zero.
func (s *Service) LatestSeq(ctx context.Context) (uint64, error) {
	obs, ok, err := s.store.Latest(ctx)
	if err != nil || !ok {
		return 0, err
	}
	return obs.Seq, nil
}

// Timestamps lists stored observation timestamps, most recent first.
func (s *Service) Timestamps(ctx context.Context) ([]string, error) {
	timestamps, err := s.store.ListTimestamps(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list timestamps")
	}

	out := make([]string, len(timestamps))
	for i, ts := range timestamps {
		out[i] = domain.FormatTimestamp(ts)
	}
	return out, nil
}

// Detailed returns per-vendor price points.
func (s *Service) Detailed(ctx context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error) {
	points, err := s.store.QueryDetailed(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "query price points")
	}
	return points, nil
}

// Vendors returns the configured vendor set.
func (s *Service) Vendors() domain.VendorSet {
	return s.vendors
}

func (s *Service) viewOf(ctx context.Context, obs domain.Observation) (View, error) {
	diff, err := s.engine.Diff(ctx, obs, &obs.Timestamp)
	if err != nil {
		return View{}, errors.Wrapf(err, "compute trends for %s", obs.TimestampString())
	}

	view := newView(obs, diff)
	view.Seq = obs.Seq
	return view, nil
}

func (s *Service) invalidate(ctx context.Context, ts time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, historicalPrefix+domain.FormatTimestamp(ts)); err != nil {
		s.l.Warn("failed to invalidate historical view", zap.Error(err))
	}
}

func (s *Service) apply(records []domain.PriceRecord, filter RecordFilter) []domain.PriceRecord {
	selfName := s.vendors.SelfName()

	out := make([]domain.PriceRecord, 0, len(records))
	for _, r := range records {
		if filter.ChangesOnly && !r.Trend.IsChange() {
			continue
		}
		if filter.HideSelfBest && selfName != "" && r.CheapestVendor == selfName {
			continue
		}
		out = append(out, r)
	}
	return out
}

func newView(obs domain.Observation, diff domain.DiffResult) View {
	view := View{
		Timestamp: obs.TimestampString(),
		Records:   make([]domain.PriceRecord, 0, len(diff.Trends)),
	}
	if diff.ReferenceTimestamp != nil {
		view.ReferenceTimestamp = domain.FormatTimestamp(*diff.ReferenceTimestamp)
	}

	for _, t := range diff.Trends {
		view.Records = append(view.Records, domain.NewPriceRecord(t))
	}
	SortRecords(view.Records)
	return view
}

// SortRecords orders rows by cheapest price ascending with missing prices last,
// then by name and product id.
func SortRecords(records []domain.PriceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.CheapestPrice.Valid != b.CheapestPrice.Valid {
			return a.CheapestPrice.Valid
		}
		if a.CheapestPrice.Valid {
			if c := a.CheapestPrice.Decimal.Cmp(b.CheapestPrice.Decimal); c != 0 {
				return c < 0
			}
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ProductID < b.ProductID
	})
}
