package exercise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"codementor/pkg/interfaces"
	"codementor/pkg/types"
)

// DefaultCacheTTL is how long a cached exercise lives in Redis.
const DefaultCacheTTL = 10 * time.Minute

const (
	keyPrefix = "codementor:exercise:"
	listKey   = "codementor:exercises"
)

// CachedStore is a cache-aside layer in front of another store. Redis
// failures degrade to reading the underlying store. Concurrent misses for
// the same key share one load.
type CachedStore struct {
	next   interfaces.ExerciseStore
	rdb    redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedStore wraps next with a Redis cache.
func NewCachedStore(next interfaces.ExerciseStore, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// Get returns the exercise from Redis or loads and caches it.
func (s *CachedStore) Get(ctx context.Context, id string) (*types.Exercise, error) {
	key := keyPrefix + id

	var cached types.Exercise
	if hit, err := s.lookup(ctx, key, &cached); err != nil {
		s.logger.Warn("exercise cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	// The load is shared by every waiting caller, so one caller going away
	// must not cancel it.
	loadCtx := context.WithoutCancel(ctx)
	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		ex, err := s.next.Get(loadCtx, id)
		if err != nil {
			return nil, err
		}
		s.store(loadCtx, key, ex)
		return ex, nil
	})
	if err != nil {
		return nil, err
	}
	ex := *val.(*types.Exercise)
	return &ex, nil
}

// List returns the catalogue from Redis or loads and caches it.
func (s *CachedStore) List(ctx context.Context) ([]*types.Exercise, error) {
	var cached []*types.Exercise
	if hit, err := s.lookup(ctx, listKey, &cached); err != nil {
		s.logger.Warn("exercise cache read failed", zap.String("key", listKey), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	val, err, _ := s.group.Do(listKey, func() (interface{}, error) {
		list, err := s.next.List(loadCtx)
		if err != nil {
			return nil, err
		}
		s.store(loadCtx, listKey, list)
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	shared := val.([]*types.Exercise)
	out := make([]*types.Exercise, len(shared))
	for i, ex := range shared {
		cp := *ex
		out[i] = &cp
	}
	return out, nil
}

// Upsert writes through to the underlying store and drops the affected
// cache entries.
func (s *CachedStore) Upsert(ctx context.Context, ex *types.Exercise) error {
	writer, ok := s.next.(interfaces.ExerciseWriter)
	if !ok {
		return fmt.Errorf("underlying exercise store is read-only")
	}
	if err := writer.Upsert(ctx, ex); err != nil {
		return err
	}
	return s.Invalidate(ctx, ex.ID)
}

// Invalidate removes id and the catalogue listing from the cache.
func (s *CachedStore) Invalidate(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id, listKey).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (s *CachedStore) lookup(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	return true, nil
}

func (s *CachedStore) store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("exercise cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("exercise cache write failed", zap.String("key", key), zap.Error(err))
	}
}
