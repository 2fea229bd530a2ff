package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/coupon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ coupon.Source = (*Client)(nil)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memCache) GetJSON(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(b, dest)
}

func newShop(t *testing.T, hits *int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/coupons", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte(`[{"id":"1","name":"SPRING","discount":15,"expiry":"2030-04-01"},
			{"id":"2","name":"STAFF","discount":50,"expiry":"2030-01-01","public":false}]`))
	})
	mux.HandleFunc("/user-by-phone", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Phone string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Phone != "5550100" {
			_, _ = w.Write([]byte(`{"success":false,"message":"no such user"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"name":"Ana","phone":"5550100",
			"cart":[{"id":"a"},{"id":"b"}],
			"orders":{"o1":{"appliedCoupon":{"name":"SPRING","discount":15}}}}}`))
	})
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListCouponsUsesCache(t *testing.T) {
	var hits int32
	srv := newShop(t, &hits)
	c := NewClient(&config.StorefrontConfig{BaseURL: srv.URL + "/"}, newMemCache(), zap.NewNop())

	coupons, err := c.ListCoupons(context.Background())
	require.NoError(t, err)
	require.Len(t, coupons, 2)
	assert.Equal(t, "SPRING", coupons[0].Name)
	assert.Equal(t, 2030, coupons[0].Expiry.Year())
	assert.False(t, coupons[1].IsPublic())

	_, err = c.ListCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUserByPhone(t *testing.T) {
	var hits int32
	srv := newShop(t, &hits)
	c := NewClient(&config.StorefrontConfig{BaseURL: srv.URL}, nil, zap.NewNop())

	user, err := c.UserByPhone(context.Background(), "5550100")
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.Name)
	assert.True(t, user.UsedCoupon("spring"))
	assert.Equal(t, 2, c.CartCount(context.Background(), "5550100"))

	_, err = c.UserByPhone(context.Background(), "000")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Zero(t, c.CartCount(context.Background(), "000"))
	assert.Zero(t, c.CartCount(context.Background(), ""))
}

func TestNotFoundIsPathNeutral(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/coupons", http.NotFound)
	mux.HandleFunc("/user-by-phone", http.NotFound)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewClient(&config.StorefrontConfig{BaseURL: srv.URL}, nil, zap.NewNop())

	_, err := c.ListCoupons(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, err.Error(), "/coupons")

	_, err = c.UserByPhone(context.Background(), "5550100")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestProductsDegradeToEmpty(t *testing.T) {
	var hits int32
	srv := newShop(t, &hits)
	c := NewClient(&config.StorefrontConfig{BaseURL: srv.URL}, nil, zap.NewNop())

	products := c.Products(context.Background())
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

func TestLedgerOverStorefront(t *testing.T) {
	var hits int32
	srv := newShop(t, &hits)
	c := NewClient(&config.StorefrontConfig{BaseURL: srv.URL}, nil, zap.NewNop())
	l := coupon.NewLedger(c, zap.NewNop())

	_, err := l.Redeem(context.Background(), "5550100", "spring")
	assert.ErrorIs(t, err, coupon.ErrAlreadyUsed)

	_, err = l.Redeem(context.Background(), "000", "spring")
	assert.ErrorIs(t, err, coupon.ErrRequiresLogin)

	assert.Empty(t, l.Eligible(context.Background(), "5550100"))
}
