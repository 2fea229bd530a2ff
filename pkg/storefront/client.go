// Package storefront talks to the shop's HTTP services for coupons, users and products.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for any endpoint answering 404.
	ErrNotFound     = errors.New("storefront resource not found")
	ErrUserNotFound = errors.New("user not found")
)

const (
	couponsCacheKey  = "storefront:coupons"
	productsCacheKey = "storefront:products"
)

// Cache is the JSON cache used for coupon and product lists.
type Cache interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewClient creates a client; cache may be nil.
func NewClient(cfg *config.StorefrontConfig, cache Cache, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger.Named("storefront"),
	}
}

func (c *Client) do(req *http.Request, dest interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, dest)
}

// cached serves key from the cache when possible and fills it from load otherwise.
func (c *Client) cached(ctx context.Context, key string, dest interface{}, load func() error) error {
	if c.cache != nil {
		if err := c.cache.GetJSON(ctx, key, dest); err == nil {
			return nil
		}
	}
	if err := load(); err != nil {
		return err
	}
	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, key, dest, c.cacheTTL); err != nil {
			c.logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// ListCoupons returns every coupon the shop knows, public or not, cached for the configured TTL.
func (c *Client) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := c.cached(ctx, couponsCacheKey, &coupons, func() error {
		return c.getJSON(ctx, "/coupons", &coupons)
	})
	if err != nil {
		return nil, err
	}
	return coupons, nil
}

type userEnvelope struct {
	Success bool                `json:"success"`
	Data    *models.UserProfile `json:"data"`
	Message string              `json:"message"`
}

// UserByPhone looks up a customer profile. An unknown phone, whether answered with 404 or with an
// unsuccessful envelope, yields ErrUserNotFound.
func (c *Client) UserByPhone(ctx context.Context, phone string) (*models.UserProfile, error) {
	body, err := json.Marshal(map[string]string{"phone": phone})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user-by-phone", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var env userEnvelope
	if err := c.do(req, &env); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		return nil, err
	}
	if !env.Success || env.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, env.Message)
	}
	return env.Data, nil
}

// Products returns the catalogue, or an empty list when the service is unavailable.
func (c *Client) Products(ctx context.Context) []models.Product {
	var products []models.Product
	err := c.cached(ctx, productsCacheKey, &products, func() error {
		return c.getJSON(ctx, "/products", &products)
	})
	if err != nil {
		c.logger.Warn("Failed to load products", zap.Error(err))
		return []models.Product{}
	}
	return products
}

// CartCount is the number of cart entries of the user, zero when unknown.
func (c *Client) CartCount(ctx context.Context, phone string) int {
	if phone == "" {
		return 0
	}
	user, err := c.UserByPhone(ctx, phone)
	if err != nil {
		c.logger.Debug("Cart count unavailable", zap.String("phone", phone), zap.Error(err))
		return 0
	}
	return len(user.Cart)
}
