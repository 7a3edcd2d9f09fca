package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

const backendPostgres = "postgres"

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresLedger is a Ledger shared by every replica through Postgres.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger connects to dsn and applies pending migrations.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres ledger: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres ledger: %w", err)
	}
	if err := migratePostgres(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresLedger{pool: pool}, nil
}

func migratePostgres(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: postgresMigrations, Root: "migrations/postgres"}
	if _, err := migrate.Exec(db, "postgres", src, migrate.Up); err != nil {
		return fmt.Errorf("migrate postgres ledger: %w", err)
	}
	return nil
}

// Claim implements Ledger.
func (s *PostgresLedger) Claim(ctx context.Context, rec offer.Record) (claimed bool, current offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendPostgres, "claim", start, err) }()

	doc, err := encode(rec)
	if err != nil {
		return false, offer.Record{}, err
	}
	const insertSQL = `
INSERT INTO offers (offer_id, state, document)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (offer_id) DO NOTHING;
`
	tag, err := s.pool.Exec(ctx, insertSQL, rec.OfferID, string(rec.State), string(doc))
	if err != nil {
		return false, offer.Record{}, storeError("ledger.claim", err)
	}
	if tag.RowsAffected() == 1 {
		return true, rec, nil
	}
	cur, err := s.get(ctx, rec.OfferID)
	return false, cur, err
}

// Get implements Ledger.
func (s *PostgresLedger) Get(ctx context.Context, offerID string) (rec offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendPostgres, "get", start, err) }()
	return s.get(ctx, offerID)
}

func (s *PostgresLedger) get(ctx context.Context, offerID string) (offer.Record, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM offers WHERE offer_id = $1`, offerID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return offer.Record{}, notFound("get", offerID)
	}
	if err != nil {
		return offer.Record{}, storeError("ledger.get", err)
	}
	return decode(doc)
}

// Advance implements Ledger.
func (s *PostgresLedger) Advance(ctx context.Context, rec offer.Record, from ...offer.State) (ok bool, err error) {
	start := time.Now()
	defer func() { observe(backendPostgres, "advance", start, err) }()
	if err := checkAdvance(rec, from); err != nil {
		return false, err
	}

	doc, err := encode(rec)
	if err != nil {
		return false, err
	}
	const updateSQL = `
UPDATE offers
SET state = $2, document = $3::jsonb, updated_at = now()
WHERE offer_id = $1 AND state = ANY($4);
`
	tag, err := s.pool.Exec(ctx, updateSQL, rec.OfferID, string(rec.State), string(doc), stateNames(from))
	if err != nil {
		return false, storeError("ledger.advance", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.get(ctx, rec.OfferID); err != nil {
		return false, err
	}
	return false, nil
}

// Release implements Ledger.
func (s *PostgresLedger) Release(ctx context.Context, offerID string, state offer.State) (err error) {
	start := time.Now()
	defer func() { observe(backendPostgres, "release", start, err) }()

	_, err = s.pool.Exec(ctx, `DELETE FROM offers WHERE offer_id = $1 AND state = $2`, offerID, string(state))
	return storeError("ledger.release", err)
}

// Stats implements Ledger.
func (s *PostgresLedger) Stats(ctx context.Context) (map[offer.State]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM offers GROUP BY state`)
	if err != nil {
		return nil, storeError("ledger.stats", err)
	}
	defer rows.Close()

	out := make(map[offer.State]int)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storeError("ledger.stats", err)
		}
		out[offer.State(state)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("ledger.stats", err)
	}
	publishStats(out)
	return out, nil
}

// Close closes the pool.
func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}
