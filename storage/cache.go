package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/emna-belhajltaief/smart-task-manager/board"
)

type stateBackend interface {
	LoadBoard(ctx context.Context, boardID string) (board.State, error)
	ApplyPositions(ctx context.Context, boardID string, change board.Change) error
}

// BoardCache wraps a board state backend with Redis-backed caching. Reads go
// through the cache, position writes evict it.
type BoardCache struct {
	base  stateBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewBoardCache creates a caching wrapper using the provided Redis client and TTL.
func NewBoardCache(base stateBackend, client *redis.Client, ttl time.Duration) *BoardCache {
	if base == nil {
		panic("storage.NewBoardCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &BoardCache{base: base, redis: client, ttl: ttl}
}

func (c *BoardCache) LoadBoard(ctx context.Context, boardID string) (board.State, error) {
	if s, ok := c.load(ctx, boardID); ok {
		return s, nil
	}
	s, err := c.base.LoadBoard(ctx, boardID)
	if err != nil {
		return board.State{}, err
	}
	c.Store(ctx, s)
	return s, nil
}

func (c *BoardCache) ApplyPositions(ctx context.Context, boardID string, change board.Change) error {
	err := c.base.ApplyPositions(ctx, boardID, change)
	c.Evict(ctx, boardID)
	return err
}

// Store caches s. Failures are ignored; the next read falls back to the base.
func (c *BoardCache) Store(ctx context.Context, s board.State) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(s.BoardID), data, c.ttl).Err()
}

// Evict drops the cached state of a board.
func (c *BoardCache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
}

func (c *BoardCache) load(ctx context.Context, boardID string) (board.State, bool) {
	if c.redis == nil {
		return board.State{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return board.State{}, false
	}
	var s board.State
	if err := sonic.Unmarshal(data, &s); err != nil || s.BoardID != boardID {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return board.State{}, false
	}
	return s, true
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
