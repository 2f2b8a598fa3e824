// Package cache 当前价格缓存与价格表写锁的 Redis 实现
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	pkgcache "github.com/wyfcoding/mineralchain/pkg/cache"
)

// Store PriceCache 依赖的缓存能力，*cache.RedisCache 满足该接口
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

var _ Store = (*pkgcache.RedisCache)(nil)

const (
	currentPricePrefix = "precio_actual:"
	bracketLockPrefix  = "tabla_precios:"
)

type PriceCache struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
}

func NewPriceCache(store Store, ttl, lockTTL time.Duration) *PriceCache {
	return &PriceCache{store: store, ttl: ttl, lockTTL: lockTTL}
}

var _ domain.PriceCache = (*PriceCache)(nil)

func currentPriceKey(mineral string) string {
	return currentPricePrefix + mineral
}

func bracketLockKey(cp domain.Counterparty, mineral string) string {
	return bracketLockPrefix + domain.CounterpartyKey(cp) + ":" + mineral
}

func (c *PriceCache) GetCurrentPrice(ctx context.Context, mineral string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	found, err := c.store.GetJSON(ctx, currentPriceKey(mineral), &price)
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (c *PriceCache) SetCurrentPrice(ctx context.Context, mineral string, price decimal.Decimal) error {
	return c.store.SetJSON(ctx, currentPriceKey(mineral), price, c.ttl)
}

func (c *PriceCache) Invalidate(ctx context.Context, mineral string) error {
	return c.store.Delete(ctx, currentPriceKey(mineral))
}

// LockScope 锁被占用时返回冲突错误
func (c *PriceCache) LockScope(ctx context.Context, cp domain.Counterparty, mineral string) (func(), error) {
	key := bracketLockKey(cp, mineral)
	unlock, err := c.store.Lock(ctx, key, c.lockTTL)
	if errors.Is(err, pkgcache.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: tabla de precios %s en edición", domain.ErrConflict, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	return unlock, nil
}
