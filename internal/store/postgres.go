package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
)

// snapshotRowID pins the single snapshot row.
const snapshotRowID = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ledger_snapshot (
    id             SMALLINT PRIMARY KEY CHECK (id = 1),
    schema_version INTEGER     NOT NULL,
    cash_used_usd  NUMERIC     NOT NULL,
    body           JSONB       NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
)`

// pgxConn is the subset of *pgxpool.Pool the store uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the snapshot as a single JSONB row. CashUsedUSD is
// mirrored into a NUMERIC column for ad-hoc queries.
type PostgresStore struct {
	db pgxConn
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db pgxConn) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrPersistence, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.LedgerState, error) {
	var body []byte
	err := s.db.QueryRow(ctx,
		`SELECT body FROM ledger_snapshot WHERE id = $1`, snapshotRowID).
		Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", ErrPersistence, err)
	}
	return decode(body, "postgres"), nil
}

func (s *PostgresStore) Save(ctx context.Context, state *model.LedgerState) error {
	state.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrPersistence, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO ledger_snapshot (id, schema_version, cash_used_usd, body, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::JSONB, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET schema_version = EXCLUDED.schema_version,
		     cash_used_usd  = EXCLUDED.cash_used_usd,
		     body           = EXCLUDED.body,
		     updated_at     = EXCLUDED.updated_at`,
		snapshotRowID, state.SchemaVersion, state.CashUsedUSD.String(), string(body), state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save snapshot: %v", ErrPersistence, err)
	}
	return nil
}
