package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/longshot/internal/model"
)

const snapshotKey = "longshot:ledger"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis write-through
// cache. Saves go to the primary first and then refresh the cache; loads
// check Redis first then fall back to the primary. Redis failures are
// never fatal.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context) (*model.LedgerState, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var st model.LedgerState
		if json.Unmarshal(data, &st) == nil && st.SchemaVersion == model.SchemaVersion {
			return normalize(&st), nil
		}
		s.rdb.Del(ctx, snapshotKey)
	} else if err != redis.Nil {
		slog.Debug("ledger cache read failed", "err", err)
	}

	// Cache miss: read from primary.
	st, err := s.primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, st)
	return st, nil
}

func (s *CachedStore) Save(ctx context.Context, state *model.LedgerState) error {
	if err := s.primary.Save(ctx, state); err != nil {
		// Next load goes to the primary.
		s.rdb.Del(ctx, snapshotKey)
		return err
	}
	s.cache(ctx, state)
	return nil
}

func (s *CachedStore) cache(ctx context.Context, st *model.LedgerState) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, snapshotKey, data, s.ttl).Err(); err != nil {
		slog.Debug("ledger cache write failed", "err", err)
	}
}
