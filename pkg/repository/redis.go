package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/models"
	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned by GetJSON when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

type RedisRepository struct {
	client *redis.Client
	config *config.RedisConfig
}

func NewRedisRepository(cfg *config.RedisConfig) *RedisRepository {
	return &RedisRepository{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		config: cfg,
	}
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisRepository) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisRepository) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// TakeJSON reads and deletes key in one step.
func (r *RedisRepository) TakeJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func filesKey(sessionID string) string {
	return fmt.Sprintf("order:files:%s", sessionID)
}

func checkoutKey(sessionID string) string {
	return fmt.Sprintf("checkout:%s", sessionID)
}

// OrderMetaStore keeps each session's saved file list, without payloads.
type OrderMetaStore struct {
	redis *RedisRepository
	ttl   time.Duration
}

// NewOrderMetaStore stores lists with the given TTL; zero keeps them until cleared.
func NewOrderMetaStore(r *RedisRepository, ttl time.Duration) *OrderMetaStore {
	return &OrderMetaStore{redis: r, ttl: ttl}
}

// LoadFiles returns an empty list for a session that never saved a file.
func (s *OrderMetaStore) LoadFiles(ctx context.Context, sessionID string) ([]models.FileMeta, error) {
	var files []models.FileMeta
	if err := s.redis.GetJSON(ctx, filesKey(sessionID), &files); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return []models.FileMeta{}, nil
		}
		return nil, fmt.Errorf("failed to load order files: %w", err)
	}
	return files, nil
}

func (s *OrderMetaStore) SaveFiles(ctx context.Context, sessionID string, files []models.FileMeta) error {
	if err := s.redis.SetJSON(ctx, filesKey(sessionID), files, s.ttl); err != nil {
		return fmt.Errorf("failed to save order files: %w", err)
	}
	return nil
}

func (s *OrderMetaStore) ClearFiles(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, filesKey(sessionID))
}

// CheckoutStore holds the payload handed to the checkout page.
type CheckoutStore struct {
	redis *RedisRepository
	ttl   time.Duration
}

func NewCheckoutStore(r *RedisRepository, ttl time.Duration) *CheckoutStore {
	return &CheckoutStore{redis: r, ttl: ttl}
}

func (s *CheckoutStore) PutCheckout(ctx context.Context, sessionID string, p *models.CheckoutPayload) error {
	return s.redis.SetJSON(ctx, checkoutKey(sessionID), p, s.ttl)
}

func (s *CheckoutStore) GetCheckout(ctx context.Context, sessionID string) (*models.CheckoutPayload, error) {
	var p models.CheckoutPayload
	if err := s.redis.GetJSON(ctx, checkoutKey(sessionID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TakeCheckout returns the payload and removes it, so the checkout page reads it once.
func (s *CheckoutStore) TakeCheckout(ctx context.Context, sessionID string) (*models.CheckoutPayload, error) {
	var p models.CheckoutPayload
	if err := s.redis.TakeJSON(ctx, checkoutKey(sessionID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
