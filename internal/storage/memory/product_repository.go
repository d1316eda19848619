package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// productRepositoryInMemory — простая in-memory реализация ProductRepository.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Create сохраняет новый товар, если ID ещё не занят.
func (r *productRepositoryInMemory) Create(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		return domain.ErrProductIDRequired
	}
	if _, exists := r.items[product.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[product.ID] = cloneProduct(product)
	return nil
}

// Get возвращает товар или ErrProductNotFound, если его нет.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

// List возвращает товары, отсортированные по имени, ограничивая выборку limit (если >0).
func (r *productRepositoryInMemory) List(limit int) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		result = append(result, cloneProduct(product))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает карточку товара, проверяя версию (optimistic locking).
// Остаток не трогаем: текущее значение из хранилища имеет приоритет.
func (r *productRepositoryInMemory) Save(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}

	product = cloneProduct(product)
	product.StockQuantity = current.StockQuantity
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[product.ID] = product
	return nil
}

// AdjustStock атомарно меняет остаток на delta и возвращает новое значение.
func (r *productRepositoryInMemory) AdjustStock(productID string, delta int32) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}

	newStock := current.StockQuantity + delta
	if newStock < 0 {
		return 0, domain.ErrInsufficientStock
	}

	current.StockQuantity = newStock
	current.UpdatedAt = time.Now().UTC()
	r.items[productID] = current
	return newStock, nil
}

// cloneProduct копирует товар вместе со слайсом порогов, чтобы избежать
// непредсказуемых мутаций извне.
func cloneProduct(p domain.Product) domain.Product {
	clone := p
	if p.Tiers != nil {
		clone.Tiers = make([]domain.WholesaleTier, len(p.Tiers))
		copy(clone.Tiers, p.Tiers)
	}
	return clone
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
