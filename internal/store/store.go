// Package store persists the ledger snapshot. Implementations include a
// flat JSON file (default), PostgreSQL, a Redis write-through cache in front
// of PostgreSQL, and in-memory (for testing).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
)

// ErrPersistence wraps every failure to write the snapshot, and failures to
// reach the backing medium on read.
var ErrPersistence = errors.New("store: persistence failed")

// Store loads and saves the whole ledger as one document.
type Store interface {
	// Load returns the persisted ledger. Absent, unreadable or
	// schema-mismatched content yields an empty ledger, never an error.
	Load(ctx context.Context) (*model.LedgerState, error)

	// Save overwrites the persisted ledger and refreshes state.UpdatedAt.
	Save(ctx context.Context, state *model.LedgerState) error
}

// decode parses a snapshot, degrading to an empty ledger on bad content.
func decode(data []byte, source string) *model.LedgerState {
	var st model.LedgerState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("discarding unreadable ledger snapshot", "source", source, "err", err)
		return ledger.New()
	}
	if st.SchemaVersion != model.SchemaVersion {
		slog.Warn("discarding ledger snapshot with unknown schema",
			"source", source, "schema_version", st.SchemaVersion, "want", model.SchemaVersion)
		return ledger.New()
	}
	return normalize(&st)
}

// normalize fills in nil collections so callers never nil-check.
func normalize(st *model.LedgerState) *model.LedgerState {
	if st.Positions == nil {
		st.Positions = make(map[string]model.Position)
	}
	if st.SeenKeys == nil {
		st.SeenKeys = make(map[string]bool)
	}
	if st.Trades == nil {
		st.Trades = []model.Trade{}
	}
	for key := range st.Positions {
		st.SeenKeys[key] = true
	}
	return st
}
