// Package syncqueue реализует реплей офлайн-очереди: диспетчеризацию
// накопленных мутаций по типам, drain-воркер с бюджетом повторов и
// dead-letter, а также воркер очистки обработанных элементов.
package syncqueue

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

// SaleLine — строка корзины в payload офлайн-продажи.
type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	TierID    string `json:"tier_id,omitempty"`
}

// SalePayload — офлайн-продажа, ожидающая реплей через оркестратор.
type SalePayload struct {
	ActorID       string     `json:"actor_id"`
	Method        string     `json:"method"`
	Lines         []SaleLine `json:"lines"`
	DiscountMinor int64      `json:"discount_minor,omitempty"`
	PaidMinor     int64      `json:"paid_minor,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	PayerPhone    string     `json:"payer_phone,omitempty"`
}

// StockEntryPayload — офлайн-приход товара на склад.
type StockEntryPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	ActorID   string `json:"actor_id"`
	Reference string `json:"reference,omitempty"`
}

// RefundPayload — офлайн-возврат по ранее зафиксированной продаже.
type RefundPayload struct {
	SaleID      string `json:"sale_id"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
	ActorID     string `json:"actor_id"`
	Reason      string `json:"reason"`
}

// CatalogPatchPayload — офлайн-правка карточки товара. Указатели отличают
// "поле не меняется" от "поле выставляется в нулевое значение".
type CatalogPatchPayload struct {
	ProductID      string  `json:"product_id"`
	ActorID        string  `json:"actor_id"`
	Name           *string `json:"name,omitempty"`
	CostMinor      *int64  `json:"cost_minor,omitempty"`
	RetailMinor    *int64  `json:"retail_minor,omitempty"`
	WholesaleMinor *int64  `json:"wholesale_minor,omitempty"`
	TaxMode        *string `json:"tax_mode,omitempty"`
	MinStock       *int32  `json:"min_stock,omitempty"`
	MaxStock       *int32  `json:"max_stock,omitempty"`
}

// Handler применяет один элемент офлайн-очереди к серверному состоянию.
type Handler interface {
	Handle(item domain.SyncQueueItem) error
}

// Dispatcher маршрутизирует элементы очереди по обработчикам типов.
type Dispatcher struct {
	sales    sale.Orchestrator
	guard    domain.InventoryGuard
	products domain.ProductRepository
	audit    domain.AuditRepository
	logger   *log.Entry
}

// NewDispatcher создаёт диспетчер офлайн-очереди.
func NewDispatcher(
	sales sale.Orchestrator,
	guard domain.InventoryGuard,
	products domain.ProductRepository,
	audit domain.AuditRepository,
	logger *log.Entry,
) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "sync-dispatcher")
	}
	return &Dispatcher{
		sales:    sales,
		guard:    guard,
		products: products,
		audit:    audit,
		logger:   logger,
	}
}

// Handle применяет элемент очереди. Повторный вызов для одного элемента
// безопасен: продажи дедуплицируются по idempotency key, остальные типы
// обрабатываются через идемпотентные операции доменного слоя.
func (d *Dispatcher) Handle(item domain.SyncQueueItem) error {
	switch item.Type {
	case domain.SyncItemTypeSale:
		return d.replaySale(item)
	case domain.SyncItemTypeStockEntry:
		return d.replayStockEntry(item)
	case domain.SyncItemTypeRefund:
		return d.replayRefund(item)
	case domain.SyncItemTypeCatalogPatch:
		return d.replayCatalogPatch(item)
	default:
		return fmt.Errorf("%w: %q", domain.ErrSyncItemTypeUnknown, item.Type)
	}
}

func (d *Dispatcher) replaySale(item domain.SyncQueueItem) error {
	var payload SalePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode sale payload: %w", err)
	}

	lines := make([]sale.CartLine, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		lines = append(lines, sale.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			TierID:    line.TierID,
		})
	}

	result, err := d.sales.Submit(sale.SubmitRequest{
		ActorID:        payload.ActorID,
		Method:         domain.PaymentMethod(payload.Method),
		Lines:          lines,
		DiscountMinor:  payload.DiscountMinor,
		PaidMinor:      payload.PaidMinor,
		CustomerName:   payload.CustomerName,
		CustomerPhone:  payload.CustomerPhone,
		PayerPhone:     payload.PayerPhone,
		IdempotencyKey: item.IdempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("replay sale: %w", err)
	}

	if result.Duplicate {
		d.logger.WithFields(log.Fields{
			"item_id": item.ID,
			"sale_id": result.Sale.ID,
		}).Info("sale replay resolved by idempotency key")
	}
	return nil
}

func (d *Dispatcher) replayStockEntry(item domain.SyncQueueItem) error {
	var payload StockEntryPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode stock entry payload: %w", err)
	}

	ref := domain.MovementRef{
		Actor:     payload.ActorID,
		Action:    domain.AuditActionStockEntry,
		Reference: payload.Reference,
	}
	if ref.Reference == "" {
		ref.Reference = item.ID
	}

	if _, err := d.guard.Increment(payload.ProductID, payload.Quantity, ref); err != nil {
		return fmt.Errorf("replay stock entry: %w", err)
	}
	return nil
}

func (d *Dispatcher) replayRefund(item domain.SyncQueueItem) error {
	var payload RefundPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode refund payload: %w", err)
	}

	if _, err := d.sales.Refund(payload.SaleID, payload.AmountMinor, payload.ActorID, payload.Reason); err != nil {
		return fmt.Errorf("replay refund: %w", err)
	}
	return nil
}

// replayCatalogPatch применяет частичное обновление карточки через
// optimistic locking репозитория; конфликт версий перечитывается и
// повторяется — патч коммутативен по незатронутым полям.
func (d *Dispatcher) replayCatalogPatch(item domain.SyncQueueItem) error {
	var payload CatalogPatchPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode catalog patch payload: %w", err)
	}
	if payload.ProductID == "" {
		return domain.ErrProductIDRequired
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		product, err := d.products.Get(payload.ProductID)
		if err != nil {
			return fmt.Errorf("replay catalog patch: %w", err)
		}

		changes := d.applyPatch(&product, payload)
		if len(changes) == 0 {
			return nil
		}

		if err := d.products.Save(product); err != nil {
			if domain.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("replay catalog patch: %w", err)
		}

		d.appendPatchAudit(item, payload, changes)
		return nil
	}
	return fmt.Errorf("replay catalog patch: %w", lastErr)
}

// fieldChange — изменение одного числового поля карточки для аудита.
type fieldChange struct {
	field    string
	oldValue int64
	newValue int64
}

func (d *Dispatcher) applyPatch(product *domain.Product, payload CatalogPatchPayload) []fieldChange {
	var changes []fieldChange

	if payload.Name != nil && *payload.Name != product.Name {
		product.Name = *payload.Name
		changes = append(changes, fieldChange{field: "name"})
	}
	if payload.CostMinor != nil && *payload.CostMinor != product.CostMinor {
		changes = append(changes, fieldChange{"cost_minor", product.CostMinor, *payload.CostMinor})
		product.CostMinor = *payload.CostMinor
	}
	if payload.RetailMinor != nil && *payload.RetailMinor != product.RetailMinor {
		changes = append(changes, fieldChange{"retail_minor", product.RetailMinor, *payload.RetailMinor})
		product.RetailMinor = *payload.RetailMinor
	}
	if payload.WholesaleMinor != nil && *payload.WholesaleMinor != product.WholesaleMinor {
		changes = append(changes, fieldChange{"wholesale_minor", product.WholesaleMinor, *payload.WholesaleMinor})
		product.WholesaleMinor = *payload.WholesaleMinor
	}
	if payload.TaxMode != nil && domain.TaxMode(*payload.TaxMode) != product.TaxMode {
		product.TaxMode = domain.TaxMode(*payload.TaxMode)
		changes = append(changes, fieldChange{field: "tax_mode"})
	}
	if payload.MinStock != nil && *payload.MinStock != product.MinStock {
		changes = append(changes, fieldChange{"min_stock", int64(product.MinStock), int64(*payload.MinStock)})
		product.MinStock = *payload.MinStock
	}
	if payload.MaxStock != nil && *payload.MaxStock != product.MaxStock {
		changes = append(changes, fieldChange{"max_stock", int64(product.MaxStock), int64(*payload.MaxStock)})
		product.MaxStock = *payload.MaxStock
	}

	return changes
}

func (d *Dispatcher) appendPatchAudit(item domain.SyncQueueItem, payload CatalogPatchPayload, changes []fieldChange) {
	if d.audit == nil {
		return
	}
	for _, change := range changes {
		record := domain.AuditRecord{
			EntityType: "product",
			EntityID:   payload.ProductID,
			Actor:      payload.ActorID,
			Action:     domain.AuditActionCatalogPatch,
			Field:      change.field,
			OldValue:   change.oldValue,
			NewValue:   change.newValue,
			Reference:  item.ID,
		}
		if err := d.audit.Append(record); err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"product_id": payload.ProductID,
				"field":      change.field,
			}).Warn("append catalog patch audit record failed")
		}
	}
}

var _ Handler = (*Dispatcher)(nil)
