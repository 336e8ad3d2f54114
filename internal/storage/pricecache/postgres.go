package pricecache

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

const createPricesTable = `CREATE TABLE IF NOT EXISTS price_cache (
	mint    TEXT    NOT NULL,
	bucket  BIGINT  NOT NULL,
	price   NUMERIC,
	missing BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (mint, bucket)
)`

// PostgresStore keeps entries in a price_cache table. Prices are stored as
// NUMERIC and read back as text to keep full precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreFromURL connects and creates the table when needed.
func NewPostgresStoreFromURL(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// EnsureSchema creates the price_cache table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createPricesTable); err != nil {
		return errors.Wrap(err, "create price_cache table")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key domain.PriceKey) (Entry, bool, error) {
	var (
		price   *string
		missing bool
	)

	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT, missing FROM price_cache WHERE mint = $1 AND bucket = $2`,
		key.Mint, key.Bucket).Scan(&price, &missing)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "get price %s", key)
	}

	if missing || price == nil {
		return NoData, true, nil
	}

	d, err := decimal.NewFromString(*price)
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "decode price %s", key)
	}
	return Found(d), true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key domain.PriceKey, entry Entry) error {
	var price *string
	if !entry.Missing {
		p := entry.Price.String()
		price = &p
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_cache (mint, bucket, price, missing)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (mint, bucket) DO NOTHING`,
		key.Mint, key.Bucket, price, entry.Missing)
	if err != nil {
		return errors.Wrapf(err, "set price %s", key)
	}
	return nil
}

func (s *PostgresStore) Has(ctx context.Context, key domain.PriceKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM price_cache WHERE mint = $1 AND bucket = $2)`,
		key.Mint, key.Bucket).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check price %s", key)
	}
	return exists, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
