package giftcard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const keyPrefixBalance = "giftcard:balance:"

// BalanceCache holds derived balances for display reads. It is never
// consulted inside a locked section.
type BalanceCache interface {
	Get(ctx context.Context, cardID uuid.UUID) (decimal.Decimal, bool, error)
	Set(ctx context.Context, cardID uuid.UUID, balance decimal.Decimal) error
	Invalidate(ctx context.Context, cardID uuid.UUID) error
}

// RedisBalanceCache stores balances as decimal strings with a TTL, which
// bounds staleness if an invalidation is lost.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBalanceCache creates a cache on client
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl}
}

func balanceKey(cardID uuid.UUID) string {
	return keyPrefixBalance + cardID.String()
}

func (c *RedisBalanceCache) Get(ctx context.Context, cardID uuid.UUID) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(cardID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	balance, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("corrupt cached balance for %s: %w", cardID, err)
	}
	return balance, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, cardID uuid.UUID, balance decimal.Decimal) error {
	return c.client.Set(ctx, balanceKey(cardID), balance.String(), c.ttl).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, cardID uuid.UUID) error {
	return c.client.Del(ctx, balanceKey(cardID)).Err()
}
