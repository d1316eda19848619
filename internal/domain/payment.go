package domain

import "time"

// PaymentStatus описывает состояние платежа: PENDING -> {COMPLETED, FAILED} терминальны.
type PaymentStatus string

const (
	// PaymentStatusPending — push инициирован, ждём callback шлюза.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted — оплата подтверждена.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз отклонил платёж либо инициация не удалась.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным для callback-обработки.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// Payment описывает платёж, связанный с продажей. Для push-платежей хранит
// пару correlation-идентификаторов шлюза, по которым callback сопоставляется
// с продажей.
type Payment struct {
	ID          string
	SaleID      string
	AmountMinor int64
	Method      PaymentMethod
	Status      PaymentStatus
	// MerchantRequestID / CheckoutRequestID выдаёт шлюз при инициации push.
	MerchantRequestID string
	CheckoutRequestID string
	// ReceiptNumber — номер квитанции шлюза, заполняется при успешном callback.
	ReceiptNumber string
	PayerPhone    string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.SaleID == "" {
		errs = append(errs, ErrSaleIDRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !p.Method.Valid() {
		errs = append(errs, ErrPaymentMethodUnknown)
	}

	return errs
}

// PaymentOutcome — нормализованный исход callback шлюза.
type PaymentOutcome struct {
	Success bool
	// AmountMinor и ReceiptNumber присутствуют только при успехе.
	AmountMinor   int64
	ReceiptNumber string
	PayerPhone    string
	FailureReason string
}

// PushAck — подтверждение приёма push-запроса шлюзом.
type PushAck struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}
