package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ order.MetadataStore = (*OrderMetaStore)(nil)
	_ order.CheckoutStore = (*CheckoutStore)(nil)
	_ order.DurableStore  = (*FileRepository)(nil)
	_ order.Auditor       = (*Auditor)(nil)
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "order:files:abc", filesKey("abc"))
	assert.Equal(t, "checkout:abc", checkoutKey("abc"))
}

func TestUnreachableRedisSurfacesErrors(t *testing.T) {
	r := NewRedisRepository(&config.RedisConfig{Addr: "127.0.0.1:1"})
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewOrderMetaStore(r, 0).LoadFiles(ctx, "s")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	err = NewCheckoutStore(r, time.Minute).PutCheckout(ctx, "s", nil)
	assert.Error(t, err)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedisRepository(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestOrderMetaStore(t *testing.T) {
	mr, r := newMiniRedis(t)
	store := NewOrderMetaStore(r, 0)
	ctx := context.Background()

	files, err := store.LoadFiles(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)

	saved := []models.FileMeta{
		{
			FileID:   7,
			Name:     "a.stl",
			Size:     684,
			Settings: models.PrintSettings{LayerHeight: 0.2, InfillDensity: 20, MaterialType: models.MaterialPLA},
			Price:    models.PriceBreakdown{FilamentCost: decimal.RequireFromString("4.80"), FinalPrice: 53},
			Quantity: 2,
		},
		{FileID: 9, Name: "b.stl", Quantity: 1},
	}
	require.NoError(t, store.SaveFiles(ctx, "s1", saved))
	assert.True(t, mr.Exists("order:files:s1"))
	assert.Zero(t, mr.TTL("order:files:s1"))

	files, err = store.LoadFiles(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, uint(7), files[0].FileID)
	assert.Equal(t, 2, files[0].Quantity)
	assert.Equal(t, saved[0].Settings, files[0].Settings)
	assert.True(t, files[0].Price.FilamentCost.Equal(decimal.RequireFromString("4.8")))
	assert.Equal(t, int64(53), files[0].Price.FinalPrice)

	other, err := store.LoadFiles(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.ClearFiles(ctx, "s1"))
	assert.False(t, mr.Exists("order:files:s1"))
	files, err = store.LoadFiles(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOrderMetaStoreExpires(t *testing.T) {
	mr, r := newMiniRedis(t)
	store := NewOrderMetaStore(r, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SaveFiles(ctx, "s", []models.FileMeta{{FileID: 1, Name: "a.stl"}}))
	assert.Equal(t, time.Hour, mr.TTL("order:files:s"))

	mr.FastForward(time.Hour + time.Second)
	files, err := store.LoadFiles(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCheckoutStoreTakeIsOnce(t *testing.T) {
	mr, r := newMiniRedis(t)
	store := NewCheckoutStore(r, 15*time.Minute)
	ctx := context.Background()

	_, err := store.GetCheckout(ctx, "s")
	assert.ErrorIs(t, err, ErrCacheMiss)

	in := &models.CheckoutPayload{
		FileIDs:        []uint{3, 4},
		FileCount:      2,
		Subtotal:       106,
		AppliedCoupon:  &models.CouponRef{ID: "c1", Name: "FLAT", Discount: 50},
		DiscountAmount: 53,
		TotalPrice:     53,
		OrderTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.PutCheckout(ctx, "s", in))
	assert.Equal(t, 15*time.Minute, mr.TTL("checkout:s"))

	got, err := store.GetCheckout(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got, err = store.TakeCheckout(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.False(t, mr.Exists("checkout:s"))

	_, err = store.TakeCheckout(ctx, "s")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCheckoutStoreExpires(t *testing.T) {
	mr, r := newMiniRedis(t)
	store := NewCheckoutStore(r, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.PutCheckout(ctx, "s", &models.CheckoutPayload{FileIDs: []uint{1}, FileCount: 1}))
	mr.FastForward(2 * time.Minute)

	_, err := store.TakeCheckout(ctx, "s")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
