package snapshots

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

const (
	defaultWALDir     = "./wal/prices"
	walSegmentLimit   = 1000
	walMaxSegments    = 100
	observationKey    = "observation"
	pricePointsKey    = "price_points"
	walRecordKeyDelim = "_"
)

// walRecord is a single WAL entry: an observation, price points or both.
type walRecord struct {
	Seq         uint64                      `json:"seq"`
	Timestamp   string                      `json:"timestamp"`
	Observation *observationPayload         `json:"observation,omitempty"`
	Points      []domain.DetailedPricePoint `json:"points,omitempty"`
}

// WALStore Store kept in a gowal log and indexed in memory.
// The index is rebuilt from the log on open.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex

	observations []domain.Observation
	points       map[string]domain.DetailedPricePoint
}

// NewWALStore opens a WAL-backed store under dir and replays existing records.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "prices_",
		SegmentThreshold: walSegmentLimit,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init price WAL")
	}

	s := &WALStore{
		wal:    wal,
		points: make(map[string]domain.DetailedPricePoint),
	}
	if err := s.replay(); err != nil {
		wal.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStore) replay() error {
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, observationKey) && !strings.HasPrefix(msg.Key, pricePointsKey) {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return errors.Wrapf(domain.ErrCorruptObservation, "decode WAL record %s: %v", msg.Key, err)
		}
		if err := s.apply(rec); err != nil {
			return err
		}
	}

	sort.SliceStable(s.observations, func(i, j int) bool {
		return s.observations[i].Seq < s.observations[j].Seq
	})
	return nil
}

func (s *WALStore) apply(rec walRecord) error {
	ts, err := domain.ParseTimestamp(rec.Timestamp)
	if err != nil {
		return errors.Wrapf(domain.ErrCorruptObservation, "WAL record %d: %v", rec.Seq, err)
	}

	if rec.Observation != nil {
		products := rec.Observation.Products
		if products == nil {
			products = []domain.ResolvedProduct{}
		}
		s.observations = append(s.observations, domain.Observation{
			ID:        rec.Observation.ID,
			Seq:       rec.Seq,
			Timestamp: ts,
			Products:  products,
		})
	}
	for _, p := range stampPoints(ts, rec.Points) {
		s.points[p.Key()] = p
	}
	return nil
}

// Append persists an observation.
func (s *WALStore) Append(ctx context.Context, obs domain.Observation) (domain.Observation, error) {
	return s.Save(ctx, obs, nil)
}

// AppendDetailed upserts price points.
func (s *WALStore) AppendDetailed(_ context.Context, ts time.Time, points []domain.DetailedPricePoint) error {
	if s == nil || s.wal == nil {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.write(pricePointsKey, walRecord{
		Timestamp: domain.FormatTimestamp(ts),
		Points:    points,
	})
	return err
}

// Save writes the observation and its price points as one WAL record.
func (s *WALStore) Save(_ context.Context, obs domain.Observation, points []domain.DetailedPricePoint) (domain.Observation, error) {
	if s == nil || s.wal == nil {
		return domain.Observation{}, ErrClosed
	}
	if err := validateForAppend(obs); err != nil {
		return domain.Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.observations {
		if existing.ID == obs.ID {
			return domain.Observation{}, errors.Errorf("observation %s already stored", obs.ID)
		}
	}

	if _, err := s.write(observationKey, walRecord{
		Timestamp:   domain.FormatTimestamp(obs.Timestamp),
		Observation: &observationPayload{ID: obs.ID, Products: obs.Clone().Products},
		Points:      points,
	}); err != nil {
		return domain.Observation{}, err
	}

	return s.observations[len(s.observations)-1].Clone(), nil
}

// write appends rec under the next WAL index and applies it to the index. Caller holds mu.
func (s *WALStore) write(prefix string, rec walRecord) (uint64, error) {
	rec.Seq = s.wal.CurrentIndex() + 1

	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, errors.Wrap(err, "marshal WAL record")
	}

	key := prefix + walRecordKeyDelim + rec.Timestamp
	if err := s.wal.Write(rec.Seq, key, payload); err != nil {
		return 0, errors.Wrap(err, "write WAL record")
	}

	if err := s.apply(rec); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

// ListTimestamps returns distinct observation timestamps, most recent first.
func (s *WALStore) ListTimestamps(_ context.Context) ([]time.Time, error) {
	if s == nil || s.wal == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[time.Time]struct{}, len(s.observations))
	timestamps := make([]time.Time, 0, len(s.observations))
	for _, obs := range s.observations {
		if _, ok := seen[obs.Timestamp]; ok {
			continue
		}
		seen[obs.Timestamp] = struct{}{}
		timestamps = append(timestamps, obs.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].After(timestamps[j]) })
	return timestamps, nil
}

// Get returns the latest observation written under ts.
func (s *WALStore) Get(_ context.Context, ts time.Time) (domain.Observation, bool, error) {
	ts = domain.NormalizeTimestamp(ts)
	return s.pick(func(obs domain.Observation) bool { return obs.Timestamp.Equal(ts) })
}

// GetMostRecentBefore returns the most recent observation strictly before ts.
func (s *WALStore) GetMostRecentBefore(_ context.Context, ts time.Time) (domain.Observation, bool, error) {
	ts = domain.NormalizeTimestamp(ts)
	return s.pick(func(obs domain.Observation) bool { return obs.Timestamp.Before(ts) })
}

// Latest returns the most recent observation.
func (s *WALStore) Latest(_ context.Context) (domain.Observation, bool, error) {
	return s.pick(func(domain.Observation) bool { return true })
}

// pick returns the matching observation with the greatest (timestamp, seq).
func (s *WALStore) pick(match func(domain.Observation) bool) (domain.Observation, bool, error) {
	if s == nil || s.wal == nil {
		return domain.Observation{}, false, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	for i, obs := range s.observations {
		if !match(obs) {
			continue
		}
		if best < 0 || !obs.Timestamp.Before(s.observations[best].Timestamp) {
			best = i
		}
	}
	if best < 0 {
		return domain.Observation{}, false, nil
	}
	return s.observations[best].Clone(), true, nil
}

// ObservationsAfter returns observations with seq greater than the given one.
func (s *WALStore) ObservationsAfter(_ context.Context, seq uint64) ([]domain.Observation, error) {
	if s == nil || s.wal == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Observation, 0)
	for _, obs := range s.observations {
		if obs.Seq > seq {
			out = append(out, obs.Clone())
		}
	}
	return out, nil
}

// QueryDetailed returns price points matching the filter, ordered by time, product and vendor.
func (s *WALStore) QueryDetailed(_ context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error) {
	if s == nil || s.wal == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	points := make([]domain.DetailedPricePoint, 0)
	for _, p := range s.points {
		if filter.Match(p) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.VendorID < b.VendorID
	})
	return points, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
