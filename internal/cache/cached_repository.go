package cache

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// cachedProductRepository — декоратор над ProductRepository с кэшем чтения.
// Ошибки кэша не фатальны: чтение всегда может уйти в хранилище напрямую.
type cachedProductRepository struct {
	inner  domain.ProductRepository
	cache  ProductCache
	ttl    time.Duration
	logger *log.Entry
}

// NewCachedProductRepository оборачивает репозиторий товаров кэшем.
func NewCachedProductRepository(inner domain.ProductRepository, productCache ProductCache, ttl time.Duration, logger *log.Entry) domain.ProductRepository {
	if productCache == nil {
		productCache = NoopProductCache{}
	}
	if ttl <= 0 {
		ttl = DefaultProductTTL
	}
	if logger == nil {
		logger = log.NewEntry(log.New())
	}

	return &cachedProductRepository{
		inner:  inner,
		cache:  productCache,
		ttl:    ttl,
		logger: logger.WithField("component", "product_cache"),
	}
}

func (r *cachedProductRepository) Create(product domain.Product) error {
	return r.inner.Create(product)
}

func (r *cachedProductRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cached, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		r.logger.WithError(err).WithField("product_id", id).Warn("product cache read failed")
	}
	if ok {
		return cached, nil
	}

	product, err := r.inner.Get(id)
	if err != nil {
		return domain.Product{}, err
	}

	if err := r.cache.Set(ctx, product, r.ttl); err != nil {
		r.logger.WithError(err).WithField("product_id", id).Warn("product cache write failed")
	}
	return product, nil
}

func (r *cachedProductRepository) List(limit int) ([]domain.Product, error) {
	return r.inner.List(limit)
}

func (r *cachedProductRepository) Save(product domain.Product) error {
	if err := r.inner.Save(product); err != nil {
		return err
	}
	r.invalidate(product.ID)
	return nil
}

func (r *cachedProductRepository) AdjustStock(productID string, delta int32) (int32, error) {
	remaining, err := r.inner.AdjustStock(productID, delta)
	if err != nil {
		return remaining, err
	}
	r.invalidate(productID)
	return remaining, nil
}

func (r *cachedProductRepository) invalidate(productID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.cache.Invalidate(ctx, productID); err != nil {
		r.logger.WithError(err).WithField("product_id", productID).Warn("product cache invalidation failed")
	}
}

var _ domain.ProductRepository = (*cachedProductRepository)(nil)
