package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atmx/longshot/internal/ledger"
	"github.com/atmx/longshot/internal/model"
)

// MemoryStore implements Store in process memory. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a private copy of the last saved snapshot.
func (s *MemoryStore) Load(_ context.Context) (*model.LedgerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return ledger.New(), nil
	}
	return decode(s.data, "memory"), nil
}

// Save keeps a serialized copy so later mutations by the caller are not
// visible to subsequent loads.
func (s *MemoryStore) Save(_ context.Context, state *model.LedgerState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Saves reports how many snapshots have been written.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
