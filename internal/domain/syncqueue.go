package domain

import "time"

// SyncItemType — тип локальной мутации, записанной офлайн.
type SyncItemType string

const (
	SyncItemTypeSale         SyncItemType = "sale"
	SyncItemTypeStockEntry   SyncItemType = "stock_entry"
	SyncItemTypeRefund       SyncItemType = "refund"
	SyncItemTypeCatalogPatch SyncItemType = "catalog_patch"
)

// Valid проверяет, что тип относится к поддерживаемым значениям.
func (t SyncItemType) Valid() bool {
	switch t {
	case SyncItemTypeSale, SyncItemTypeStockEntry, SyncItemTypeRefund, SyncItemTypeCatalogPatch:
		return true
	default:
		return false
	}
}

// SyncItemStatus описывает жизненный цикл элемента офлайн-очереди.
type SyncItemStatus string

const (
	// SyncItemStatusPending — элемент ждёт следующего прохода drain.
	SyncItemStatusPending SyncItemStatus = "pending"
	// SyncItemStatusProcessing — элемент захвачен текущим проходом.
	SyncItemStatusProcessing SyncItemStatus = "processing"
	// SyncItemStatusCompleted — обработчик отработал, элемент ждёт purge.
	SyncItemStatusCompleted SyncItemStatus = "completed"
	// SyncItemStatusFailed — бюджет повторов исчерпан, элемент в dead-letter.
	SyncItemStatusFailed SyncItemStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SyncItemStatus) Valid() bool {
	switch s {
	case SyncItemStatusPending, SyncItemStatusProcessing, SyncItemStatusCompleted, SyncItemStatusFailed:
		return true
	default:
		return false
	}
}

// SyncQueueItem — локально-порождённая мутация, ожидающая реплей на сервер.
// Payload непрозрачен для очереди; его разбирает обработчик соответствующего типа.
type SyncQueueItem struct {
	ID      string
	Type    SyncItemType
	Payload []byte
	// IdempotencyKey делает повторный реплей безопасным.
	IdempotencyKey string
	RetryCount     int
	MaxRetries     int
	Status         SyncItemStatus
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate проверяет, корректно ли заполнен элемент очереди.
func (i *SyncQueueItem) Validate() []error {
	var errs []error

	if !i.Type.Valid() {
		errs = append(errs, ErrSyncItemTypeUnknown)
	}
	if len(i.Payload) == 0 {
		errs = append(errs, ErrSyncPayloadRequired)
	}

	return errs
}

// SyncQueueStats описывает текущее состояние backlog офлайн-очереди.
// ProcessingCount учитывает элементы, захваченные drain-проходом: пока
// проход не завершился (или элемент не возвращён ReclaimStale), они
// остаются частью backlog.
type SyncQueueStats struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	OldestPendingAt time.Time
}
