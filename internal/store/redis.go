package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/options-market/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
//
// Cache keys carry a per-run generation number. Every write commits to the
// primary first and then bumps the generation, so an entry filled by a
// read that raced a write is stored under a generation nobody asks for
// again and simply ages out after the TTL.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store. rdb is
// usually a *redis.Client.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary, then new generation) ---

func (s *CachedStore) AppendEvents(ctx context.Context, runID string, events []model.Event) error {
	if err := s.primary.AppendEvents(ctx, runID, events); err != nil {
		return err
	}
	s.bump(ctx, runID)
	return nil
}

func (s *CachedStore) SaveRoundSummary(ctx context.Context, rs *model.RoundSummary) error {
	if err := s.primary.SaveRoundSummary(ctx, rs); err != nil {
		return err
	}
	s.bump(ctx, rs.RunID)
	return nil
}

func (s *CachedStore) bump(ctx context.Context, runID string) {
	if err := s.rdb.Incr(ctx, genKey(runID)).Err(); err != nil {
		// Entries of the old generation stay visible until their TTL.
		slog.Warn("cache invalidation failed", "run_id", runID, "err", err)
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) EventsByContract(ctx context.Context, runID string, id model.ContractID) ([]model.Event, error) {
	return readThrough(ctx, s, runID, fmt.Sprintf("contract:%d", id), func() ([]model.Event, error) {
		return s.primary.EventsByContract(ctx, runID, id)
	})
}

func (s *CachedStore) EventsByUser(ctx context.Context, runID, userID string) ([]model.Event, error) {
	return readThrough(ctx, s, runID, "user:"+userID, func() ([]model.Event, error) {
		return s.primary.EventsByUser(ctx, runID, userID)
	})
}

func (s *CachedStore) ListRoundSummaries(ctx context.Context, runID string) ([]model.RoundSummary, error) {
	return readThrough(ctx, s, runID, "rounds", func() ([]model.RoundSummary, error) {
		return s.primary.ListRoundSummaries(ctx, runID)
	})
}

func readThrough[T any](ctx context.Context, s *CachedStore, runID, name string, load func() ([]T, error)) ([]T, error) {
	// The generation must be read before the primary is.
	gen, err := s.rdb.Get(ctx, genKey(runID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		gen = 0
	case err != nil:
		return load()
	}
	key := cacheKey(runID, gen, name)

	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached []T
		if json.Unmarshal(data, &cached) == nil {
			return cached, nil
		}
	}

	// Cache miss.
	result, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(result); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return result, nil
}

// --- Cache helpers ---

func genKey(runID string) string { return fmt.Sprintf("journal:%s:gen", runID) }

func cacheKey(runID string, gen int64, name string) string {
	return fmt.Sprintf("journal:%s:g%d:%s", runID, gen, name)
}
