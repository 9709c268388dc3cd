package snapshots

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) rebind(query string) string { return dollarRebind(query) }

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS observations (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			observed_at TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations(observed_at)`,
		`CREATE TABLE IF NOT EXISTS price_points (
			observed_at TEXT NOT NULL,
			product_id TEXT NOT NULL,
			vendor_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			vendor_name TEXT NOT NULL,
			price TEXT NOT NULL,
			PRIMARY KEY (observed_at, product_id, vendor_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_points_product ON price_points(product_id, observed_at)`,
	}
}

// NewPostgresStore connects to PostgreSQL using a lib/pq connection string.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	store, err := newSQLStore(db, postgresDialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
