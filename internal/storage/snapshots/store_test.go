package snapshots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

type storeFactory struct {
	name string
	open func(t *testing.T, dir string) Store
}

func factories() []storeFactory {
	list := []storeFactory{
		{
			name: "sqlite",
			open: func(t *testing.T, dir string) Store {
				s, err := NewSQLiteStore(filepath.Join(dir, "prices.db"))
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "wal",
			open: func(t *testing.T, dir string) Store {
				s, err := NewWALStore(filepath.Join(dir, "wal"))
				require.NoError(t, err)
				return s
			},
		},
	}
	if dsn := os.Getenv("PRICEWATCH_TEST_POSTGRES_DSN"); dsn != "" {
		list = append(list, storeFactory{
			name: "postgres",
			open: func(t *testing.T, _ string) Store {
				s, err := NewPostgresStore(dsn)
				require.NoError(t, err)
				_, err = s.db.Exec(`TRUNCATE observations, price_points RESTART IDENTITY`)
				require.NoError(t, err)
				return s
			},
		})
	}
	return list
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func observationAt(ts time.Time, cheapest string) domain.Observation {
	return domain.NewObservation(uuid.NewString(), ts, []domain.ResolvedProduct{
		{
			ProductID:          "P1",
			Name:               "Alpha",
			Variant:            "Indica",
			CheapestPrice:      price(cheapest),
			CheapestVendorName: "V2",
		},
	})
}

var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func TestStore_AppendAndLookup(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			_, ok, err := s.Latest(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			first, err := s.Append(ctx, observationAt(t0, "4.50"))
			require.NoError(t, err)
			assert.NotZero(t, first.Seq)

			second, err := s.Append(ctx, observationAt(t0.Add(time.Hour), "4.70"))
			require.NoError(t, err)
			assert.Greater(t, second.Seq, first.Seq)

			latest, ok, err := s.Latest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.ID, latest.ID)
			assert.True(t, latest.Timestamp.Equal(t0.Add(time.Hour)))
			require.Len(t, latest.Products, 1)
			assert.True(t, latest.Products[0].CheapestPrice.Decimal.Equal(decimal.RequireFromString("4.70")))
			assert.False(t, latest.Products[0].BestCompetitorPrice.Valid)

			got, ok, err := s.Get(ctx, t0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first.ID, got.ID)

			_, ok, err = s.Get(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_GetMostRecentBeforeIsStrict(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			t1 := t0.Add(time.Hour)
			t2 := t0.Add(2 * time.Hour)
			for _, ts := range []time.Time{t0, t1, t2} {
				_, err := s.Append(ctx, observationAt(ts, "4.50"))
				require.NoError(t, err)
			}

			got, ok, err := s.GetMostRecentBefore(ctx, t2)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Timestamp.Equal(t1))

			got, ok, err = s.GetMostRecentBefore(ctx, t1.Add(30*time.Minute))
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Timestamp.Equal(t1))

			_, ok, err = s.GetMostRecentBefore(ctx, t0)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_SameSecondObservationsAreKept(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			_, err := s.Append(ctx, observationAt(t0, "4.50"))
			require.NoError(t, err)
			second, err := s.Append(ctx, observationAt(t0.Add(400*time.Millisecond), "4.60"))
			require.NoError(t, err)

			timestamps, err := s.ListTimestamps(ctx)
			require.NoError(t, err)
			require.Len(t, timestamps, 1)

			got, ok, err := s.Get(ctx, t0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second.ID, got.ID)

			all, err := s.ObservationsAfter(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestStore_ListTimestampsMostRecentFirst(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			empty, err := s.ListTimestamps(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			for _, ts := range []time.Time{t0.Add(time.Hour), t0, t0.Add(2 * time.Hour)} {
				_, err := s.Append(ctx, observationAt(ts, "4.50"))
				require.NoError(t, err)
			}

			timestamps, err := s.ListTimestamps(ctx)
			require.NoError(t, err)
			require.Len(t, timestamps, 3)
			assert.True(t, timestamps[0].Equal(t0.Add(2*time.Hour)))
			assert.True(t, timestamps[1].Equal(t0.Add(time.Hour)))
			assert.True(t, timestamps[2].Equal(t0))
		})
	}
}

func TestStore_EmptyObservationRoundTrip(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			_, err := s.Append(ctx, domain.NewObservation(uuid.NewString(), t0, nil))
			require.NoError(t, err)

			got, ok, err := s.Get(ctx, t0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.NotNil(t, got.Products)
			assert.True(t, got.IsEmpty())
		})
	}
}

func TestStore_AppendRejectsMissingFields(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, t.TempDir())
			defer s.Close()

			_, err := s.Append(context.Background(), domain.Observation{Timestamp: t0})
			assert.Error(t, err)

			_, err = s.Append(context.Background(), domain.Observation{ID: "x"})
			assert.Error(t, err)
		})
	}
}

func points(productID string, prices map[string]string) []domain.DetailedPricePoint {
	out := make([]domain.DetailedPricePoint, 0, len(prices))
	for vendorID, p := range prices {
		out = append(out, domain.DetailedPricePoint{
			ProductID:   productID,
			VendorID:    vendorID,
			ProductName: "Product " + productID,
			VendorName:  "Vendor " + vendorID,
			Price:       decimal.RequireFromString(p),
		})
	}
	return out
}

func TestStore_AppendDetailedUpserts(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			require.NoError(t, s.AppendDetailed(ctx, t0, points("P1", map[string]string{"V1": "5.00", "V2": "4.50"})))
			require.NoError(t, s.AppendDetailed(ctx, t0, points("P1", map[string]string{"V1": "5.25"})))

			got, err := s.QueryDetailed(ctx, domain.PricePointFilter{ProductID: "P1"})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "V1", got[0].VendorID)
			assert.True(t, got[0].Price.Equal(decimal.RequireFromString("5.25")))
			assert.Equal(t, "V2", got[1].VendorID)
			assert.True(t, got[1].Timestamp.Equal(t0))
		})
	}
}

func TestStore_QueryDetailedFilters(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			t1 := t0.Add(time.Hour)
			t2 := t0.Add(2 * time.Hour)
			for _, ts := range []time.Time{t0, t1, t2} {
				obs := observationAt(ts, "4.50")
				_, err := s.Save(ctx, obs, append(
					points("P1", map[string]string{"V1": "5.00", "V2": "4.50"}),
					points("P2", map[string]string{"V1": "7.00"})...,
				))
				require.NoError(t, err)
			}

			tests := []struct {
				name   string
				filter domain.PricePointFilter
				want   int
			}{
				{name: "no filter", filter: domain.PricePointFilter{}, want: 9},
				{name: "product", filter: domain.PricePointFilter{ProductID: "P1"}, want: 6},
				{name: "vendor", filter: domain.PricePointFilter{VendorID: "V1"}, want: 6},
				{name: "product and vendor", filter: domain.PricePointFilter{ProductID: "P1", VendorID: "V2"}, want: 3},
				{name: "inclusive start", filter: domain.PricePointFilter{Start: &t1}, want: 6},
				{name: "inclusive end", filter: domain.PricePointFilter{End: &t1}, want: 6},
				{name: "single instant", filter: domain.PricePointFilter{Start: &t1, End: &t1}, want: 3},
				{name: "no match", filter: domain.PricePointFilter{ProductID: "P9"}, want: 0},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.QueryDetailed(ctx, tt.filter)
					require.NoError(t, err)
					assert.Len(t, got, tt.want)
					for i := 1; i < len(got); i++ {
						assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
					}
				})
			}
		})
	}
}

func TestStore_ObservationsAfter(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, t.TempDir())
			defer s.Close()

			first, err := s.Append(ctx, observationAt(t0, "4.50"))
			require.NoError(t, err)
			second, err := s.Append(ctx, observationAt(t0.Add(time.Hour), "4.60"))
			require.NoError(t, err)

			after, err := s.ObservationsAfter(ctx, first.Seq)
			require.NoError(t, err)
			require.Len(t, after, 1)
			assert.Equal(t, second.ID, after[0].ID)

			none, err := s.ObservationsAfter(ctx, second.Seq)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_ReopenKeepsHistory(t *testing.T) {
	for _, f := range factories() {
		if f.name == "postgres" {
			continue
		}
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := f.open(t, dir)
			saved, err := s.Save(ctx, observationAt(t0, "4.50"), points("P1", map[string]string{"V1": "5.00"}))
			require.NoError(t, err)
			require.NoError(t, s.Close())

			reopened := f.open(t, dir)
			defer reopened.Close()

			got, ok, err := reopened.Latest(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, saved.ID, got.ID)
			assert.Equal(t, saved.Seq, got.Seq)

			pts, err := reopened.QueryDetailed(ctx, domain.PricePointFilter{})
			require.NoError(t, err)
			assert.Len(t, pts, 1)
		})
	}
}

func TestStore_ClosedStore(t *testing.T) {
	var s *SQLStore
	_, _, err := s.Latest(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	var w *WALStore
	_, err = w.ListTimestamps(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDollarRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", dollarRebind("a = ? AND b = ?"))
	assert.Equal(t, "no params", dollarRebind("no params"))
}

func TestDecodeObservationCorrupt(t *testing.T) {
	_, err := decodeObservation(1, t0, []byte("{not json"))
	assert.ErrorIs(t, err, domain.ErrCorruptObservation)
}
