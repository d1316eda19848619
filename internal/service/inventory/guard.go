// Package inventory содержит Inventory Consistency Guard — единственную точку
// изменения остатков товара. Любое списание или приход проходит через Guard,
// который сериализует операции в пределах товара и пишет структурированную
// запись аудита на каждое движение.
package inventory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const auditEntityProduct = "product"

// Guard реализует domain.InventoryGuard поверх ProductRepository.
// Репозиторий обязан выполнять AdjustStock атомарно; Guard дополнительно
// сериализует вызовы в пределах товара, чтобы проверка и запись аудита
// не перемежались с чужими движениями того же товара.
type Guard struct {
	products domain.ProductRepository
	audit    domain.AuditRepository
	logger   *log.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard создаёт Guard. Репозиторий аудита опционален.
func NewGuard(products domain.ProductRepository, audit domain.AuditRepository, logger *log.Entry) *Guard {
	if logger == nil {
		logger = log.WithField("component", "inventory-guard")
	}
	return &Guard{
		products: products,
		audit:    audit,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// ReserveAndDecrement списывает qty единиц товара. Возвращает новое значение
// остатка либо ErrInsufficientStock, если остатка не хватает; в этом случае
// остаток не меняется.
func (g *Guard) ReserveAndDecrement(productID string, qty int32, ref domain.MovementRef) (int32, error) {
	if productID == "" {
		return 0, domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}

	lock := g.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()

	newStock, err := g.products.AdjustStock(productID, -qty)
	if err != nil {
		return 0, err
	}

	g.appendAudit(productID, newStock+qty, newStock, ref)
	return newStock, nil
}

// Increment возвращает qty единиц на остаток товара. Используется для прихода
// и для компенсирующих движений при сбоях и аннулированиях.
func (g *Guard) Increment(productID string, qty int32, ref domain.MovementRef) (int32, error) {
	if productID == "" {
		return 0, domain.ErrProductIDRequired
	}
	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}

	lock := g.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()

	newStock, err := g.products.AdjustStock(productID, qty)
	if err != nil {
		return 0, err
	}

	g.appendAudit(productID, newStock-qty, newStock, ref)
	return newStock, nil
}

// lockFor возвращает мьютекс конкретного товара, создавая его при первом обращении.
func (g *Guard) lockFor(productID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.locks[productID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[productID] = lock
	}
	return lock
}

func (g *Guard) appendAudit(productID string, oldStock, newStock int32, ref domain.MovementRef) {
	if g.audit == nil {
		return
	}

	record := domain.AuditRecord{
		ID:         uuid.NewString(),
		EntityType: auditEntityProduct,
		EntityID:   productID,
		Actor:      ref.Actor,
		Action:     ref.Action,
		Field:      "stock_quantity",
		OldValue:   int64(oldStock),
		NewValue:   int64(newStock),
		Reference:  ref.Reference,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.audit.Append(record); err != nil {
		// Аудит не должен ронять складскую операцию.
		g.logger.WithError(err).WithFields(log.Fields{
			"product_id": productID,
			"action":     ref.Action,
		}).Warn("append stock audit record failed")
	}
}

var _ domain.InventoryGuard = (*Guard)(nil)
