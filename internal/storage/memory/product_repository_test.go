package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func newProduct() domain.Product {
	now := time.Now().UTC()
	return domain.Product{
		ID:            "product-1",
		SKU:           "SKU-001",
		Name:          "Maize Flour 2kg",
		CostMinor:     4000,
		RetailMinor:   6000,
		StockQuantity: 20,
		TaxMode:       domain.TaxModeExclusive,
		Tiers: []domain.WholesaleTier{
			{ID: "tier-1", ProductID: "product-1", MinQuantity: 5, PriceMinor: 5500, Active: true, CreatedAt: now},
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestProductRepository_CreateGet(t *testing.T) {
	repo := memory.NewProductRepository()
	product := newProduct()

	if err := repo.Create(product); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Name != product.Name {
		t.Fatalf("expected name %s, got %s", product.Name, stored.Name)
	}
	if len(stored.Tiers) != 1 {
		t.Fatalf("expected 1 tier, got %d", len(stored.Tiers))
	}
}

func TestProductRepository_GetNotFound(t *testing.T) {
	repo := memory.NewProductRepository()

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestProductRepository_SaveDoesNotTouchStock(t *testing.T) {
	repo := memory.NewProductRepository()
	product := newProduct()
	if err := repo.Create(product); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Остаток меняется конкурентно с правкой карточки.
	if _, err := repo.AdjustStock(product.ID, -5); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	stale := product
	stale.Name = "Maize Flour 2kg Premium"
	stale.StockQuantity = 99
	if err := repo.Save(stale); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Name != "Maize Flour 2kg Premium" {
		t.Fatalf("expected renamed product, got %s", updated.Name)
	}
	if updated.StockQuantity != 15 {
		t.Fatalf("expected stock 15 preserved, got %d", updated.StockQuantity)
	}
	if updated.Version != product.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestProductRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewProductRepository()
	product := newProduct()
	if err := repo.Create(product); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	product.Version = 42
	if err := repo.Save(product); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestProductRepository_AdjustStock(t *testing.T) {
	repo := memory.NewProductRepository()
	product := newProduct()
	if err := repo.Create(product); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newStock, err := repo.AdjustStock(product.ID, -8)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if newStock != 12 {
		t.Fatalf("expected stock 12, got %d", newStock)
	}

	newStock, err = repo.AdjustStock(product.ID, 3)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if newStock != 15 {
		t.Fatalf("expected stock 15, got %d", newStock)
	}
}

func TestProductRepository_AdjustStockInsufficient(t *testing.T) {
	repo := memory.NewProductRepository()
	product := newProduct()
	if err := repo.Create(product); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.AdjustStock(product.ID, -21); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	stored, err := repo.Get(product.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.StockQuantity != 20 {
		t.Fatalf("expected stock untouched at 20, got %d", stored.StockQuantity)
	}
}
