package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/types"
)

// DefaultTransferTTL is the freshness window of a cached transfer list
const DefaultTransferTTL = 5 * time.Minute

const transferKeyPrefix = "transfers"

// TransferCacheEntry is a cached first page of transfers for one (address, chain)
type TransferCacheEntry struct {
	Transfers []*types.NormalizedTransfer `json:"transfers"`
	PageKey   string                      `json:"pageKey,omitempty"`
	FetchedAt time.Time                   `json:"fetchedAt"`
}

// TransferKey returns the cache key for an address on a chain
// Format: transfers:<address>:<chainId>
func TransferKey(address string, chainID types.ChainID) string {
	return fmt.Sprintf("%s:%s:%s", transferKeyPrefix, strings.ToLower(address), chainID)
}

// MemoryTransferCache keeps transfer lists in process memory.
// Expiry is checked on read; there is no background janitor.
type MemoryTransferCache struct {
	items *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryTransferCache creates an in-process transfer cache
func NewMemoryTransferCache(ttl time.Duration) *MemoryTransferCache {
	if ttl <= 0 {
		ttl = DefaultTransferTTL
	}
	return &MemoryTransferCache{
		items: gocache.New(ttl, 0),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the clock used for freshness checks
func (c *MemoryTransferCache) WithClock(now func() time.Time) *MemoryTransferCache {
	c.now = now
	return c
}

// Get returns the entry when it is younger than the TTL
func (c *MemoryTransferCache) Get(ctx context.Context, address string, chainID types.ChainID) (*TransferCacheEntry, bool, error) {
	v, ok := c.items.Get(TransferKey(address, chainID))
	if !ok {
		return nil, false, nil
	}
	entry := v.(*TransferCacheEntry)
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		return nil, false, nil
	}
	return entry, true, nil
}

// Set overwrites the entry, stamping it with the current time
func (c *MemoryTransferCache) Set(ctx context.Context, address string, chainID types.ChainID, page *types.TransferPage) error {
	c.items.Set(TransferKey(address, chainID), &TransferCacheEntry{
		Transfers: page.Transfers,
		PageKey:   page.PageKey,
		FetchedAt: c.now(),
	}, gocache.DefaultExpiration)
	return nil
}

// Invalidate removes one entry
func (c *MemoryTransferCache) Invalidate(ctx context.Context, address string, chainID types.ChainID) error {
	c.items.Delete(TransferKey(address, chainID))
	return nil
}

// Clear removes every entry
func (c *MemoryTransferCache) Clear(ctx context.Context) error {
	c.items.Flush()
	return nil
}

// RedisTransferCache stores transfer lists as JSON in Redis so that replicas share them
type RedisTransferCache struct {
	redis *RedisCache
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisTransferCache creates a Redis-backed transfer cache
func NewRedisTransferCache(redis *RedisCache, ttl time.Duration) *RedisTransferCache {
	if ttl <= 0 {
		ttl = DefaultTransferTTL
	}
	return &RedisTransferCache{redis: redis, ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for freshness checks
func (c *RedisTransferCache) WithClock(now func() time.Time) *RedisTransferCache {
	c.now = now
	return c
}

// Get returns the entry when it is younger than the TTL
func (c *RedisTransferCache) Get(ctx context.Context, address string, chainID types.ChainID) (*TransferCacheEntry, bool, error) {
	data, err := c.redis.Get(ctx, TransferKey(address, chainID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewCacheError("get transfers", err)
	}

	var entry TransferCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	if c.now().Sub(entry.FetchedAt) >= c.ttl {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set overwrites the entry. The Redis key expires at twice the TTL so stale
// entries do not accumulate; freshness itself is decided on read.
func (c *RedisTransferCache) Set(ctx context.Context, address string, chainID types.ChainID, page *types.TransferPage) error {
	data, err := json.Marshal(&TransferCacheEntry{
		Transfers: page.Transfers,
		PageKey:   page.PageKey,
		FetchedAt: c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.redis.Set(ctx, TransferKey(address, chainID), data, 2*c.ttl); err != nil {
		return apperrors.NewCacheError("set transfers", err)
	}
	return nil
}

// Invalidate removes one entry
func (c *RedisTransferCache) Invalidate(ctx context.Context, address string, chainID types.ChainID) error {
	return c.redis.Del(ctx, TransferKey(address, chainID))
}

// Clear removes every transfer entry
func (c *RedisTransferCache) Clear(ctx context.Context) error {
	_, err := c.redis.DelPattern(ctx, transferKeyPrefix+":*")
	return err
}
