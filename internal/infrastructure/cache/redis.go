// Package cache holds the shared product lock and the stock total caches.
package cache

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lotledger/internal/config"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/stockstatus"
)

const stockKeyPrefix = "lotledger:stock:"

//go:embed set_stock.lua
var setStockLua string

var setStockScript = redis.NewScript(setStockLua)

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisStockCache keeps product stock totals in Redis with a TTL.
type RedisStockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStockCache creates a cache. A non-positive ttl keeps entries until invalidated.
func NewRedisStockCache(client *redis.Client, ttl time.Duration) *RedisStockCache {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStockCache{client: client, ttl: ttl}
}

// StockKey returns the Redis key holding a product's stock total.
// The hash tag keeps it in the same cluster slot as GenerationKey.
func StockKey(productID id.ID) string {
	return stockKeyPrefix + "{" + productID.String() + "}"
}

// GenerationKey returns the Redis key holding a product's cache generation.
func GenerationKey(productID id.ID) string {
	return StockKey(productID) + ":gen"
}

// Get returns the cached total and whether it was present.
func (c *RedisStockCache) Get(ctx context.Context, productID id.ID) (types.Quantity, bool, error) {
	val, err := c.client.Get(ctx, StockKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get stock total: %w", err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Unreadable entries are treated as misses and overwritten on the next Set.
		return 0, false, nil
	}
	return types.Quantity(n), true, nil
}

// Generation returns the product's current generation. A missing key is generation 0.
func (c *RedisStockCache) Generation(ctx context.Context, productID id.ID) (uint64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(productID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stock generation: %w", err)
	}
	return gen, nil
}

// Set stores a total unless the product was invalidated after generation was read.
// The check and the write run as one script.
func (c *RedisStockCache) Set(ctx context.Context, productID id.ID, qty types.Quantity, generation uint64) error {
	keys := []string{StockKey(productID), GenerationKey(productID)}
	err := setStockScript.Run(ctx, c.client, keys,
		int64(qty), strconv.FormatUint(generation, 10), c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("set stock total: %w", err)
	}
	return nil
}

// Invalidate drops a product's total and moves it to a new generation.
func (c *RedisStockCache) Invalidate(ctx context.Context, productID id.ID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, GenerationKey(productID))
		pipe.Del(ctx, StockKey(productID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate stock total: %w", err)
	}
	return nil
}

// NoopStockCache never holds anything.
type NoopStockCache struct{}

func (NoopStockCache) Get(context.Context, id.ID) (types.Quantity, bool, error) { return 0, false, nil }

func (NoopStockCache) Generation(context.Context, id.ID) (uint64, error) { return 0, nil }

func (NoopStockCache) Set(context.Context, id.ID, types.Quantity, uint64) error { return nil }

func (NoopStockCache) Invalidate(context.Context, id.ID) error { return nil }

var (
	_ stockstatus.StockCache = (*RedisStockCache)(nil)
	_ stockstatus.StockCache = NoopStockCache{}
)
