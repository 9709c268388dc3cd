package snapshots

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

// dialect isolates the few statements that differ between SQL engines.
type dialect interface {
	name() string
	schema() []string
	// rebind rewrites '?' placeholders into the engine's syntax.
	rebind(query string) string
}

// SQLStore Store backed by a database/sql engine.
// Timestamps are stored as fixed-layout UTC text so ordering is lexicographic in every engine.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrapf(err, "create %s schema", d.name())
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append persists an observation.
func (s *SQLStore) Append(ctx context.Context, obs domain.Observation) (domain.Observation, error) {
	return s.Save(ctx, obs, nil)
}

// AppendDetailed upserts price points.
func (s *SQLStore) AppendDetailed(ctx context.Context, ts time.Time, points []domain.DetailedPricePoint) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := s.upsertPoints(ctx, tx, ts, points); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit price points")
}

// Save appends the observation and upserts its price points in one transaction.
func (s *SQLStore) Save(ctx context.Context, obs domain.Observation, points []domain.DetailedPricePoint) (domain.Observation, error) {
	if s == nil || s.db == nil {
		return domain.Observation{}, ErrClosed
	}
	if err := validateForAppend(obs); err != nil {
		return domain.Observation{}, err
	}

	data, err := encodeObservation(obs)
	if err != nil {
		return domain.Observation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Observation{}, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		s.dialect.rebind(`INSERT INTO observations (id, observed_at, data) VALUES (?, ?, ?) RETURNING seq`),
		obs.ID, domain.FormatTimestamp(obs.Timestamp), string(data),
	).Scan(&seq)
	if err != nil {
		return domain.Observation{}, errors.Wrap(err, "insert observation")
	}

	if err := s.upsertPoints(ctx, tx, obs.Timestamp, points); err != nil {
		return domain.Observation{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Observation{}, errors.Wrap(err, "commit observation")
	}

	saved := obs.Clone()
	saved.Seq = uint64(seq)
	saved.Timestamp = domain.NormalizeTimestamp(obs.Timestamp)
	return saved, nil
}

func (s *SQLStore) upsertPoints(ctx context.Context, tx *sql.Tx, ts time.Time, points []domain.DetailedPricePoint) error {
	if len(points) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO price_points (observed_at, product_id, vendor_id, product_name, vendor_name, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (observed_at, product_id, vendor_id) DO UPDATE SET
			product_name = excluded.product_name,
			vendor_name = excluded.vendor_name,
			price = excluded.price`))
	if err != nil {
		return errors.Wrap(err, "prepare price point upsert")
	}
	defer stmt.Close()

	for _, p := range stampPoints(ts, points) {
		_, err := stmt.ExecContext(ctx,
			domain.FormatTimestamp(p.Timestamp), p.ProductID, p.VendorID, p.ProductName, p.VendorName, p.Price.String())
		if err != nil {
			return errors.Wrapf(err, "upsert price point %s", p.Key())
		}
	}
	return nil
}

// ListTimestamps returns distinct observation timestamps, most recent first.
func (s *SQLStore) ListTimestamps(ctx context.Context) ([]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT observed_at FROM observations ORDER BY observed_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list timestamps")
	}
	defer rows.Close()

	timestamps := make([]time.Time, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan timestamp")
		}
		ts, err := domain.ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, rows.Err()
}

// Get returns the latest observation written under ts.
func (s *SQLStore) Get(ctx context.Context, ts time.Time) (domain.Observation, bool, error) {
	return s.queryOne(ctx, `
		SELECT seq, observed_at, data FROM observations
		WHERE observed_at = ?
		ORDER BY seq DESC LIMIT 1`, domain.FormatTimestamp(ts))
}

// GetMostRecentBefore returns the most recent observation strictly before ts.
func (s *SQLStore) GetMostRecentBefore(ctx context.Context, ts time.Time) (domain.Observation, bool, error) {
	return s.queryOne(ctx, `
		SELECT seq, observed_at, data FROM observations
		WHERE observed_at < ?
		ORDER BY observed_at DESC, seq DESC LIMIT 1`, domain.FormatTimestamp(ts))
}

// Latest returns the most recent observation.
func (s *SQLStore) Latest(ctx context.Context) (domain.Observation, bool, error) {
	return s.queryOne(ctx, `
		SELECT seq, observed_at, data FROM observations
		ORDER BY observed_at DESC, seq DESC LIMIT 1`)
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (domain.Observation, bool, error) {
	if s == nil || s.db == nil {
		return domain.Observation{}, false, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		seq  int64
		raw  string
		data string
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...).Scan(&seq, &raw, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Observation{}, false, nil
		}
		return domain.Observation{}, false, errors.Wrap(err, "query observation")
	}

	obs, err := scanObservation(seq, raw, data)
	if err != nil {
		return domain.Observation{}, false, err
	}
	return obs, true, nil
}

// ObservationsAfter returns observations with seq greater than the given one.
func (s *SQLStore) ObservationsAfter(ctx context.Context, seq uint64) ([]domain.Observation, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT seq, observed_at, data FROM observations
		WHERE seq > ?
		ORDER BY seq`), int64(seq))
	if err != nil {
		return nil, errors.Wrap(err, "query observations")
	}
	defer rows.Close()

	observations := make([]domain.Observation, 0)
	for rows.Next() {
		var (
			rowSeq int64
			raw    string
			data   string
		)
		if err := rows.Scan(&rowSeq, &raw, &data); err != nil {
			return nil, errors.Wrap(err, "scan observation")
		}
		obs, err := scanObservation(rowSeq, raw, data)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func scanObservation(seq int64, rawTS, data string) (domain.Observation, error) {
	ts, err := domain.ParseTimestamp(rawTS)
	if err != nil {
		return domain.Observation{}, errors.Wrapf(domain.ErrCorruptObservation, "observation %d: %v", seq, err)
	}
	return decodeObservation(uint64(seq), ts, []byte(data))
}

// QueryDetailed returns price points matching the filter, ordered by time, product and vendor.
func (s *SQLStore) QueryDetailed(ctx context.Context, filter domain.PricePointFilter) ([]domain.DetailedPricePoint, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	var (
		conditions []string
		args       []any
	)
	if filter.ProductID != "" {
		conditions = append(conditions, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.VendorID != "" {
		conditions = append(conditions, "vendor_id = ?")
		args = append(args, filter.VendorID)
	}
	if filter.Start != nil {
		conditions = append(conditions, "observed_at >= ?")
		args = append(args, domain.FormatTimestamp(*filter.Start))
	}
	if filter.End != nil {
		conditions = append(conditions, "observed_at <= ?")
		args = append(args, domain.FormatTimestamp(*filter.End))
	}

	query := `SELECT observed_at, product_id, vendor_id, product_name, vendor_name, price FROM price_points`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY observed_at, product_id, vendor_id"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query price points")
	}
	defer rows.Close()

	points := make([]domain.DetailedPricePoint, 0)
	for rows.Next() {
		var (
			p        domain.DetailedPricePoint
			rawTS    string
			rawPrice string
		)
		if err := rows.Scan(&rawTS, &p.ProductID, &p.VendorID, &p.ProductName, &p.VendorName, &rawPrice); err != nil {
			return nil, errors.Wrap(err, "scan price point")
		}
		if p.Timestamp, err = domain.ParseTimestamp(rawTS); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(rawPrice); err != nil {
			return nil, errors.Wrapf(err, "decode price of %s/%s", p.ProductID, p.VendorID)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// questionRebind keeps '?' placeholders as they are.
func questionRebind(query string) string { return query }

// dollarRebind rewrites '?' placeholders into $1, $2, ...
func dollarRebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
