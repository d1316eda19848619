package domain

import "time"

// PaymentMethod описывает способ оплаты продажи.
type PaymentMethod string

const (
	// PaymentMethodCash — наличная оплата, фиксируется синхронно.
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodCard — оплата картой через терминал, фиксируется синхронно.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodSplit — комбинированная оплата (наличные + карта), синхронная.
	PaymentMethodSplit PaymentMethod = "split"
	// PaymentMethodMobileMoney — push-платёж мобильных денег; подтверждается
	// асинхронным callback от шлюза, до подтверждения остатки не трогаем.
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodSplit, PaymentMethodMobileMoney:
		return true
	default:
		return false
	}
}

// Async сообщает, подтверждается ли оплата асинхронным callback.
func (m PaymentMethod) Async() bool {
	return m == PaymentMethodMobileMoney
}

// SaleStatus описывает жизненный цикл продажи; ось независима от статуса платежа.
type SaleStatus string

const (
	// SaleStatusPending — продажа создана, ждём подтверждения асинхронного платежа.
	SaleStatusPending SaleStatus = "pending"
	// SaleStatusCompleted — продажа зафиксирована, остатки списаны.
	SaleStatusCompleted SaleStatus = "completed"
	// SaleStatusVoid — продажа аннулирована, остатки возвращены.
	SaleStatusVoid SaleStatus = "void"
	// SaleStatusRefunded — по продаже оформлен возврат.
	SaleStatusRefunded SaleStatus = "refunded"
	// SaleStatusFailed — платёж не состоялся, остатки не трогались.
	SaleStatusFailed SaleStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusVoid, SaleStatusRefunded, SaleStatusFailed:
		return true
	default:
		return false
	}
}

// SaleItem — одна строка продажи. Цена и порог снимаются в момент продажи
// и далее не пересчитываются.
type SaleItem struct {
	ID        string
	SaleID    string
	ProductID string
	// ProductName — скопированное имя товара для чека и поиска.
	ProductName string
	Quantity    int32
	// TierID — применённый оптовый порог; пустая строка для розничной цены.
	TierID string
	// UnitPriceMinor — цена за единицу на момент продажи.
	UnitPriceMinor int64
	// LineTotalMinor — UnitPriceMinor * Quantity.
	LineTotalMinor int64
	// LineTaxMinor — налог строки; 0 для inclusive и необлагаемых товаров.
	LineTaxMinor int64
	CreatedAt    time.Time
}

// Refund — единственная запись возврата по продаже: причина и сумма.
type Refund struct {
	AmountMinor int64
	Reason      string
	Actor       string
	CreatedAt   time.Time
}

// Sale агрегирует продажу, её строки и платёж.
type Sale struct {
	ID string
	// Number — человекочитаемый номер продажи для чека.
	Number  string
	ActorID string
	// Суммы в минимальных денежных единицах.
	SubtotalMinor int64
	DiscountMinor int64
	TaxMinor      int64
	TotalMinor    int64
	PaidMinor     int64
	ChangeMinor   int64
	Method        PaymentMethod
	PaymentStatus PaymentStatus
	Status        SaleStatus
	CustomerName  string
	CustomerPhone string
	// IdempotencyKey заполняется только для продаж офлайн-происхождения.
	IdempotencyKey string
	Items          []SaleItem
	Payment        Payment
	Refund         *Refund
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты продажи и возвращает список замечаний.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if s.ActorID == "" {
		errs = append(errs, ErrActorRequired)
	}
	if len(s.Items) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	if !s.Method.Valid() {
		errs = append(errs, ErrPaymentMethodUnknown)
	}
	if s.SubtotalMinor < 0 || s.TaxMinor < 0 || s.DiscountMinor < 0 || s.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	var subtotal, tax int64
	for _, item := range s.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if item.UnitPriceMinor < 0 || item.LineTotalMinor < 0 || item.LineTaxMinor < 0 {
			errs = append(errs, ErrAmountNegative)
		}
		subtotal += item.LineTotalMinor
		tax += item.LineTaxMinor
	}
	if subtotal != s.SubtotalMinor || tax != s.TaxMinor {
		errs = append(errs, ErrTotalMismatch)
	}
	if s.TotalMinor != s.SubtotalMinor+s.TaxMinor-s.DiscountMinor {
		errs = append(errs, ErrTotalMismatch)
	}
	// Продажа не должна быть видна завершённой, пока платёж не подтверждён.
	if s.Status == SaleStatusCompleted && s.PaymentStatus == PaymentStatusPending {
		errs = append(errs, ErrStatusIncoherent)
	}

	return errs
}
