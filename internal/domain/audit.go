package domain

import "time"

// AuditAction — машинно-читаемая причина изменения сущности.
type AuditAction string

const (
	// AuditActionSale — списание остатка при продаже.
	AuditActionSale AuditAction = "sale"
	// AuditActionSaleRollback — компенсирующий возврат остатка при сбое продажи.
	AuditActionSaleRollback AuditAction = "sale_rollback"
	// AuditActionVoidRestock — возврат остатка при аннулировании продажи.
	AuditActionVoidRestock AuditAction = "void_restock"
	// AuditActionRefundRestock — возврат остатка при возврате товара.
	AuditActionRefundRestock AuditAction = "refund_restock"
	// AuditActionStockEntry — приход товара (закупка/инвентаризация).
	AuditActionStockEntry AuditAction = "stock_entry"
	// AuditActionCatalogPatch — офлайн-правка карточки товара.
	AuditActionCatalogPatch AuditAction = "catalog_patch"
)

// Valid проверяет, что действие относится к поддерживаемым значениям.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionSale, AuditActionSaleRollback, AuditActionVoidRestock,
		AuditActionRefundRestock, AuditActionStockEntry, AuditActionCatalogPatch:
		return true
	default:
		return false
	}
}

// AuditRecord — структурированная запись истории изменений: вместо произвольных
// JSON-диффов храним типизированные старое/новое значение конкретного поля,
// чтобы история оставалась машинно-инспектируемой.
type AuditRecord struct {
	ID         string
	EntityType string
	EntityID   string
	Actor      string
	Action     AuditAction
	// Field — имя изменённого поля (например "stock_quantity", "retail_minor").
	Field    string
	OldValue int64
	NewValue int64
	// Reference связывает запись с породившей её операцией (номер продажи,
	// id элемента очереди и т.п.).
	Reference string
	CreatedAt time.Time
}

// MovementRef — атрибуция складского движения для Inventory Guard.
type MovementRef struct {
	Actor     string
	Action    AuditAction
	Reference string
}
