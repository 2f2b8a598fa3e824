package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/mineralchain/internal/settlement/domain"
	"github.com/wyfcoding/mineralchain/internal/settlement/infrastructure/cache"
	pkgcache "github.com/wyfcoding/mineralchain/pkg/cache"
)

type memStore struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	locks  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{values: map[string][]byte{}, ttls: map[string]time.Duration{}, locks: map[string]bool{}}
}

var _ cache.Store = (*memStore)(nil)

func (m *memStore) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	raw, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memStore) Lock(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.locks[key] {
		return nil, pkgcache.ErrLockNotAcquired
	}
	m.locks[key] = true
	return func() { delete(m.locks, key) }, nil
}

func TestPriceCache_CurrentPrice(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := cache.NewPriceCache(store, 5*time.Minute, 10*time.Second)

	_, found, err := c.GetCurrentPrice(ctx, "Pb")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetCurrentPrice(ctx, "Pb", decimal.RequireFromString("2100.5")))
	assert.Equal(t, 5*time.Minute, store.ttls["precio_actual:Pb"])

	price, found, err := c.GetCurrentPrice(ctx, "Pb")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2100.5", price.String())

	require.NoError(t, c.Invalidate(ctx, "Pb"))
	_, found, err = c.GetCurrentPrice(ctx, "Pb")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPriceCache_LockScope(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := cache.NewPriceCache(store, time.Minute, 10*time.Second)
	trader := domain.TradingCompany{ID: "C1"}

	unlock, err := c.LockScope(ctx, trader, "Pb")
	require.NoError(t, err)
	assert.Len(t, store.locks, 1)

	_, err = c.LockScope(ctx, trader, "Pb")
	assert.True(t, domain.IsConflict(err))

	other, err := c.LockScope(ctx, trader, "Zn")
	require.NoError(t, err)
	other()

	unlock()
	again, err := c.LockScope(ctx, trader, "Pb")
	require.NoError(t, err)
	again()
	assert.Empty(t, store.locks)
}
