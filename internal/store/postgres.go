// Package store is the relational persistence gateway. Its uniqueness
// constraint on identity_key is the sole arbiter of "already persisted"
// under concurrent pipeline runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/spendflow/spendflow/internal/categorize"
	"github.com/spendflow/spendflow/internal/domain"
)

// Record is one durable transaction row: the canonical transaction plus its
// category assignment and processing timestamp.
type Record struct {
	Transaction domain.Transaction
	Assignment  categorize.Assignment
	ProcessedAt time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transactions (
    id           SERIAL PRIMARY KEY,
    transaction_date DATE NOT NULL,
    description  TEXT NOT NULL,
    amount       NUMERIC(12,2) NOT NULL,
    source_bank  TEXT NOT NULL,
    category     TEXT NOT NULL,
    subcategory  TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    identity_key TEXT NOT NULL,
    CONSTRAINT transactions_identity_key UNIQUE (identity_key)
);
`

const insertSQL = `
INSERT INTO transactions
    (transaction_date, description, amount, source_bank, category, subcategory, processed_at, identity_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (identity_key) DO NOTHING;
`

// Postgres is the pgx-backed gateway.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres connects a pool and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the transactions table and its uniqueness constraint
// if absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure transactions schema: %w", err)
	}
	return nil
}

// ExistingKeys answers which of the given identity keys are already
// persisted, in a single query.
func (p *Postgres) ExistingKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT identity_key FROM transactions WHERE identity_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("query identity keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan identity key: %w", err)
		}
		existing[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity keys: %w", err)
	}
	return existing, nil
}

// InsertBatch upserts records keyed on identity_key and returns how many were
// actually inserted. Rows skipped by the conflict clause, or racing inserts
// surfacing as unique violations, count as duplicates, not failures.
func (p *Postgres) InsertBatch(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertSQL,
			rec.Transaction.Date.String(),
			rec.Transaction.Description,
			rec.Transaction.Amount,
			string(rec.Transaction.Bank),
			rec.Assignment.Category,
			rec.Assignment.Subcategory,
			rec.ProcessedAt,
			rec.Transaction.IdentityKey(),
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range recs {
		tag, err := results.Exec()
		if err != nil {
			if IsUniqueViolation(err) {
				continue
			}
			return inserted, fmt.Errorf("insert transaction: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	p.log.Info().
		Int("attempted", len(recs)).
		Int("inserted", inserted).
		Msg("Persisted transaction batch")
	return inserted, nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RecordOf builds a Record from a transaction and its assignment.
func RecordOf(txn domain.Transaction, a categorize.Assignment, processedAt time.Time) Record {
	return Record{Transaction: txn, Assignment: a, ProcessedAt: processedAt}
}
