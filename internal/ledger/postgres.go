package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the mastery_records table. Execute it via
// [PostgresLedger.Migrate] or apply it manually during deployment.
//
// ordinal records first-write order and is left untouched by updates.
const Schema = `
CREATE TABLE IF NOT EXISTS mastery_records (
    word_key    TEXT PRIMARY KEY,
    ordinal     BIGSERIAL NOT NULL,
    word        TEXT NOT NULL,
    accuracy    INTEGER NOT NULL,
    mastered    BOOLEAN NOT NULL,
    level       INTEGER NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mastery_records_ordinal ON mastery_records(ordinal);
`

// DB is the database interface used by [PostgresLedger]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger is a [Ledger] backed by PostgreSQL. Concurrent upserts of
// the same word are serialised by the primary key conflict.
type PostgresLedger struct {
	db DB
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger returns a ledger using db. Call [PostgresLedger.Migrate]
// before first use.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// OpenPostgres connects a pool to dsn, migrates the schema and returns the
// ledger together with the pool's Close function.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLedger, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ledger: ping postgres: %w", err)
	}
	l := NewPostgresLedger(pool)
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return l, pool.Close, nil
}

// Migrate executes [Schema].
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Upsert implements [Ledger].
func (l *PostgresLedger) Upsert(ctx context.Context, rec MasteryRecord) error {
	const query = `
		INSERT INTO mastery_records (word_key, word, accuracy, mastered, level, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (word_key) DO UPDATE SET
			word = EXCLUDED.word,
			accuracy = EXCLUDED.accuracy,
			mastered = EXCLUDED.mastered,
			level = EXCLUDED.level,
			recorded_at = EXCLUDED.recorded_at`

	_, err := l.db.Exec(ctx, query,
		Key(rec.Word), rec.Word, rec.Accuracy, rec.Mastered, rec.Level, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: ledger: upsert %q: %w", ErrWrite, rec.Word, err)
	}
	return nil
}

// ReadAll implements [Ledger].
func (l *PostgresLedger) ReadAll(ctx context.Context) ([]MasteryRecord, error) {
	const query = `
		SELECT word, accuracy, mastered, level, recorded_at
		FROM mastery_records
		ORDER BY ordinal`

	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger: read all: %w", err)
	}
	defer rows.Close()

	recs := []MasteryRecord{}
	for rows.Next() {
		var rec MasteryRecord
		if err := rows.Scan(&rec.Word, &rec.Accuracy, &rec.Mastered, &rec.Level, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ledger: read all scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read all: %w", err)
	}
	return recs, nil
}

// Clear implements [Ledger].
func (l *PostgresLedger) Clear(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM mastery_records`); err != nil {
		return fmt.Errorf("%w: ledger: clear: %w", ErrWrite, err)
	}
	return nil
}
