package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bms360/billing-core/internal/core/domain"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "sale:req:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// Returns {1, remaining} on success, {0, current} when short, {-1, 0} when the key is missing.
var reserveStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return {-1, 0}
end

current = tonumber(current)
if current >= quantity then
	local remaining = redis.call('DECRBY', key, quantity)
	return {1, remaining}
end

return {0, current}
`)

// Increments only existing keys so a release never resurrects a deleted item.
var releaseStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
return redis.call('INCRBY', key, tonumber(ARGV[1]))
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetQuantity(ctx context.Context, itemCode string) (int, error) {
	qty, err := r.client.Get(ctx, stockKeyPrefix+itemCode).Int()
	if errors.Is(err, redis.Nil) {
		return 0, &domain.NotFoundError{ItemCode: itemCode}
	}
	if err != nil {
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return qty, nil
}

func (r *RedisAdapter) Reserve(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := reserveStockScript.Run(ctx, r.client, []string{stockKeyPrefix + itemCode}, qty).Int64Slice()
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if len(result) != 2 {
		return fmt.Errorf("reserve stock: unexpected script reply %v", result)
	}

	switch result[0] {
	case 1:
		return nil
	case -1:
		return &domain.NotFoundError{ItemCode: itemCode}
	default:
		return &domain.InsufficientStockError{ItemCode: itemCode, Requested: qty, Available: int(result[1])}
	}
}

func (r *RedisAdapter) Release(ctx context.Context, itemCode string, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	result, err := releaseStockScript.Run(ctx, r.client, []string{stockKeyPrefix + itemCode}, qty).Int64()
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if result < 0 {
		return &domain.NotFoundError{ItemCode: itemCode}
	}
	return nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, itemCode string, quantity int) error {
	return r.client.Set(ctx, stockKeyPrefix+itemCode, quantity, 0).Err()
}

func (r *RedisAdapter) DeleteStock(ctx context.Context, itemCode string) error {
	return r.client.Del(ctx, stockKeyPrefix+itemCode).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
