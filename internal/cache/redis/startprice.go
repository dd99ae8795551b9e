package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// startPriceTTL bounds how long a window strike is kept. Windows are at most
// 15 minutes, so an hour covers every settlement path with margin.
const startPriceTTL = time.Hour

// StartPriceCache implements domain.StartPriceCache on Redis strings with
// SETNX semantics, so the first resolved strike for a window always wins.
type StartPriceCache struct {
	rdb *redis.Client
}

func NewStartPriceCache(c *Client) *StartPriceCache {
	return &StartPriceCache{rdb: c.Underlying()}
}

func startPriceKey(symbol string, windowStart int64) string {
	return fmt.Sprintf("startprice:%s:%d", symbol, windowStart)
}

func (sc *StartPriceCache) Get(ctx context.Context, symbol string, windowStart int64) (float64, error) {
	val, err := sc.rdb.Get(ctx, startPriceKey(symbol, windowStart)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get start price: %w", err)
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse start price %q: %w", val, err)
	}
	return price, nil
}

func (sc *StartPriceCache) Put(ctx context.Context, symbol string, windowStart int64, value float64) error {
	key := startPriceKey(symbol, windowStart)
	val := strconv.FormatFloat(value, 'f', -1, 64)
	if err := sc.rdb.SetNX(ctx, key, val, startPriceTTL).Err(); err != nil {
		return fmt.Errorf("redis: put start price: %w", err)
	}
	return nil
}

var _ domain.StartPriceCache = (*StartPriceCache)(nil)
