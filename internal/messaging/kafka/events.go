package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События жизненного цикла продажи
	EventTypeSaleCompleted EventType = "sale.completed"
	EventTypeSalePending   EventType = "sale.pending"
	EventTypeSaleFailed    EventType = "sale.failed"
	EventTypeSaleVoided    EventType = "sale.voided"
	EventTypeSaleRefunded  EventType = "sale.refunded"

	// События платежей
	EventTypePaymentCompleted EventType = "payment.completed"
	EventTypePaymentFailed    EventType = "payment.failed"

	// События очереди синхронизации
	EventTypeSyncReplayed   EventType = "sync.replayed"
	EventTypeSyncDeadLetter EventType = "sync.dead_letter"
)

// Topics для Kafka
const (
	TopicSaleEvents      = "pos.sale.events"
	TopicDeadLetterQueue = "pos.dlq" // Dead Letter Queue для исчерпавших повторы элементов
)

// Kafka headers для dead-letter сообщений
const (
	HeaderRetryCount   = "x-retry-count"
	HeaderItemType     = "x-item-type"
	HeaderErrorMessage = "x-error-message"
	HeaderFailedAt     = "x-failed-at"
)

// SaleEvent представляет событие жизненного цикла продажи
type SaleEvent struct {
	EventType EventType              `json:"event_type"`
	SaleID    string                 `json:"sale_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// DeadLetterEvent представляет элемент очереди, исчерпавший бюджет повторов
type DeadLetterEvent struct {
	EventType  EventType `json:"event_type"`
	ItemID     string    `json:"item_id"`
	ItemType   string    `json:"item_type"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	Payload    []byte    `json:"payload"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSaleEvent создает новое событие продажи
func NewSaleEvent(eventType EventType, saleID string, metadata map[string]interface{}) *SaleEvent {
	return &SaleEvent{
		EventType: eventType,
		SaleID:    saleID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewDeadLetterEvent создает событие для элемента, ушедшего в dead-letter
func NewDeadLetterEvent(itemID, itemType string, retryCount int, lastError string, payload []byte) *DeadLetterEvent {
	return &DeadLetterEvent{
		EventType:  EventTypeSyncDeadLetter,
		ItemID:     itemID,
		ItemType:   itemType,
		RetryCount: retryCount,
		LastError:  lastError,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
}
