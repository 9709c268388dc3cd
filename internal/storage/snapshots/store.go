// Package snapshots persists observations and detailed price points and serves
// point-in-time lookups over them.
package snapshots

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

// Store append-only observation history plus the detailed price point table.
//
// Observations are keyed by a store-assigned sequence number; the second-granularity
// timestamp is a query field, so two observations written within the same second are
// both kept and the later one wins timestamp lookups.
type Store interface {
	// Append persists an observation and returns it with its sequence number set.
	Append(ctx context.Context, obs domain.Observation) (domain.Observation, error)
	// AppendDetailed upserts price points on (ts, product id, vendor id).
	AppendDetailed(ctx context.Context, ts time.Time, points []domain.DetailedPricePoint) error
	// Save appends the observation and upserts its price points in one write.
	Save(ctx context.Context, obs domain.Observation, points []domain.DetailedPricePoint) (domain.Observation, error)
	// ListTimestamps returns distinct observation timestamps, most recent first.
	ListTimestamps(ctx context.Context) ([]time.Time, error)
	// Get returns the observation stored under ts.
	Get(ctx context.Context, ts time.Time) (domain.Observation, bool, error)
	// GetMostRecentBefore returns the most recent observation strictly before ts.
	GetMostRecentBefore(ctx context.Context, ts time.Time) (domain.Observation, bool, error)
	// Latest returns the most recent observation.
	Latest(ctx context.Context) (domain.Observation, bool, error)
	// QueryDetailed returns price points matching every filter that is set.
	QueryDetailed(ctx context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error)
	// ObservationsAfter returns observations with a sequence number greater than seq, oldest first.
	ObservationsAfter(ctx context.Context, seq uint64) ([]domain.Observation, error)
	Close() error
}

// ErrClosed store used after Close.
var ErrClosed = errors.New("snapshot store is not initialized")

// observationPayload is the persisted body of an observation.
type observationPayload struct {
	ID       string                   `json:"id"`
	Products []domain.ResolvedProduct `json:"products"`
}

func encodeObservation(obs domain.Observation) ([]byte, error) {
	payload, err := json.Marshal(observationPayload{ID: obs.ID, Products: obs.Products})
	if err != nil {
		return nil, errors.Wrap(err, "marshal observation")
	}
	return payload, nil
}

// decodeObservation rebuilds an observation from its persisted form.
// Undecodable payloads are reported as corrupt observations.
func decodeObservation(seq uint64, ts time.Time, data []byte) (domain.Observation, error) {
	var payload observationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Observation{}, errors.Wrapf(domain.ErrCorruptObservation, "decode observation %d: %v", seq, err)
	}
	if payload.Products == nil {
		payload.Products = []domain.ResolvedProduct{}
	}
	return domain.Observation{
		ID:        payload.ID,
		Seq:       seq,
		Timestamp: domain.NormalizeTimestamp(ts),
		Products:  payload.Products,
	}, nil
}

func validateForAppend(obs domain.Observation) error {
	if obs.ID == "" {
		return errors.New("observation id is required")
	}
	if obs.Timestamp.IsZero() {
		return errors.New("observation timestamp is required")
	}
	return nil
}

// stampPoints assigns the observation timestamp to every point.
func stampPoints(ts time.Time, points []domain.DetailedPricePoint) []domain.DetailedPricePoint {
	ts = domain.NormalizeTimestamp(ts)
	out := make([]domain.DetailedPricePoint, len(points))
	for i, p := range points {
		p.Timestamp = ts
		out[i] = p
	}
	return out
}
