package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

type recordingCache struct {
	mu          sync.Mutex
	items       map[string]domain.Product
	getCalls    int
	setCalls    int
	invalidated []string
	failReads   bool
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: make(map[string]domain.Product)}
}

func (c *recordingCache) Get(ctx context.Context, productID string) (domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getCalls++
	if c.failReads {
		return domain.Product{}, false, errors.New("redis unavailable")
	}
	product, ok := c.items[productID]
	return product, ok, nil
}

func (c *recordingCache) Set(ctx context.Context, product domain.Product, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setCalls++
	c.items[product.ID] = product
	return nil
}

func (c *recordingCache) Invalidate(ctx context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, productID)
	delete(c.items, productID)
	return nil
}

func seedCachedRepo(t *testing.T) (domain.ProductRepository, *recordingCache) {
	t.Helper()

	inner := memory.NewProductRepository()
	product := domain.Product{
		ID:            "prod-1",
		Name:          "Wheat Flour 2kg",
		RetailMinor:   6000,
		StockQuantity: 10,
		TaxMode:       domain.TaxModeExclusive,
	}
	if err := inner.Create(product); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	productCache := newRecordingCache()
	repo := NewCachedProductRepository(inner, productCache, time.Minute, nil)
	return repo, productCache
}

func TestCachedProductRepository_GetPopulatesCache(t *testing.T) {
	repo, productCache := seedCachedRepo(t)

	first, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.Name != "Wheat Flour 2kg" {
		t.Fatalf("unexpected product: %+v", first)
	}
	if productCache.setCalls != 1 {
		t.Fatalf("expected cache write after miss, got %d", productCache.setCalls)
	}

	second, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("unexpected cached product: %+v", second)
	}
	if productCache.setCalls != 1 {
		t.Fatalf("cache hit must not rewrite cache, writes=%d", productCache.setCalls)
	}
	if productCache.getCalls != 2 {
		t.Fatalf("expected 2 cache reads, got %d", productCache.getCalls)
	}
}

func TestCachedProductRepository_MutationsInvalidate(t *testing.T) {
	repo, productCache := seedCachedRepo(t)

	product, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}

	product.Name = "Wheat Flour Premium 2kg"
	if err := repo.Save(product); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if len(productCache.invalidated) != 1 || productCache.invalidated[0] != "prod-1" {
		t.Fatalf("save must invalidate cache: %v", productCache.invalidated)
	}

	updated, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("get after save: %v", err)
	}
	if updated.Name != "Wheat Flour Premium 2kg" {
		t.Fatalf("stale product after invalidation: %+v", updated)
	}

	if _, err := repo.AdjustStock("prod-1", -3); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if len(productCache.invalidated) != 2 {
		t.Fatalf("adjust stock must invalidate cache: %v", productCache.invalidated)
	}

	fresh, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("get after adjust: %v", err)
	}
	if fresh.StockQuantity != 7 {
		t.Fatalf("stale stock after invalidation: %d", fresh.StockQuantity)
	}
}

func TestCachedProductRepository_CacheFailureFallsThrough(t *testing.T) {
	repo, productCache := seedCachedRepo(t)
	productCache.failReads = true

	product, err := repo.Get("prod-1")
	if err != nil {
		t.Fatalf("get with broken cache: %v", err)
	}
	if product.ID != "prod-1" {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestCachedProductRepository_MissPropagatesNotFound(t *testing.T) {
	repo, _ := seedCachedRepo(t)

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestNoopProductCache(t *testing.T) {
	var noop NoopProductCache
	ctx := context.Background()

	if err := noop.Set(ctx, domain.Product{ID: "prod-1"}, time.Minute); err != nil {
		t.Fatalf("noop set: %v", err)
	}
	if _, ok, err := noop.Get(ctx, "prod-1"); ok || err != nil {
		t.Fatalf("noop get must always miss: ok=%v err=%v", ok, err)
	}
	if err := noop.Invalidate(ctx, "prod-1"); err != nil {
		t.Fatalf("noop invalidate: %v", err)
	}
}
