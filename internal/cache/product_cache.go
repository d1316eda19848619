// Package cache содержит кэш карточек товаров поверх Redis. Кассовый
// прилавок читает каталог на каждую строку чека, поэтому горячие карточки
// держатся в кэше с небольшим TTL и инвалидируются при любой мутации.
package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// DefaultProductTTL ограничивает время жизни карточки в кэше.
const DefaultProductTTL = 5 * time.Minute

// ProductCache — кэш снимков товаров по идентификатору.
type ProductCache interface {
	Get(ctx context.Context, productID string) (domain.Product, bool, error)
	Set(ctx context.Context, product domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, productID string) error
}

// RedisProductCache хранит карточки товаров в Redis в виде JSON.
type RedisProductCache struct {
	client *redis.Client
}

// NewRedisProductCache создаёт кэш поверх Redis-подключения.
func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client}
}

// Ping проверяет доступность Redis.
func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close закрывает подключение.
func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func (c *RedisProductCache) Get(ctx context.Context, productID string) (domain.Product, bool, error) {
	val, err := c.client.Get(ctx, productKey(productID)).Result()
	if err == redis.Nil {
		return domain.Product{}, false, nil
	}
	if err != nil {
		return domain.Product{}, false, err
	}

	var product domain.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		return domain.Product{}, false, err
	}
	return product, true, nil
}

func (c *RedisProductCache) Set(ctx context.Context, product domain.Product, ttl time.Duration) error {
	if product.ID == "" {
		return nil
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKey(product.ID), payload, ttl).Err()
}

func (c *RedisProductCache) Invalidate(ctx context.Context, productID string) error {
	return c.client.Del(ctx, productKey(productID)).Err()
}

func productKey(productID string) string {
	return "pos:product:" + productID
}

// NoopProductCache используется, когда Redis не сконфигурирован.
type NoopProductCache struct{}

func (NoopProductCache) Get(ctx context.Context, productID string) (domain.Product, bool, error) {
	return domain.Product{}, false, nil
}

func (NoopProductCache) Set(ctx context.Context, product domain.Product, ttl time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(ctx context.Context, productID string) error {
	return nil
}

var (
	_ ProductCache = (*RedisProductCache)(nil)
	_ ProductCache = NoopProductCache{}
)
