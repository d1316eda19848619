package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// saleRepositoryInMemory хранит продажи вместе с индексами по idempotency key
// и checkout request ID. Все операции выполняются под одним мьютексом, что
// обеспечивает атомарность FinalizePayment и уникальность ключей.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Sale
	// byIdemKey и byCheckout — вторичные индексы: значение — ID продажи.
	byIdemKey  map[string]string
	byCheckout map[string]string
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{
		items:      make(map[string]domain.Sale),
		byIdemKey:  make(map[string]string),
		byCheckout: make(map[string]string),
	}
}

// Create сохраняет продажу целиком. Повторный idempotency key отклоняется
// с ErrDuplicateSubmission, сама продажа при этом не записывается.
func (r *saleRepositoryInMemory) Create(sale domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sale.ID == "" {
		return domain.ErrSaleIDRequired
	}
	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrVersionConflict
	}
	if sale.IdempotencyKey != "" {
		if _, taken := r.byIdemKey[sale.IdempotencyKey]; taken {
			return domain.ErrDuplicateSubmission
		}
	}

	r.items[sale.ID] = cloneSale(sale)
	if sale.IdempotencyKey != "" {
		r.byIdemKey[sale.IdempotencyKey] = sale.ID
	}
	if sale.Payment.CheckoutRequestID != "" {
		r.byCheckout[sale.Payment.CheckoutRequestID] = sale.ID
	}
	return nil
}

// Get возвращает продажу или ErrSaleNotFound, если её нет.
func (r *saleRepositoryInMemory) Get(id string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// GetByIdempotencyKey возвращает продажу офлайн-происхождения по её ключу.
func (r *saleRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdemKey[key]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(r.items[id]), nil
}

// GetByCheckoutRequestID сопоставляет callback шлюза с продажей.
func (r *saleRepositoryInMemory) GetByCheckoutRequestID(checkoutRequestID string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCheckout[checkoutRequestID]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(r.items[id]), nil
}

// Save перезаписывает продажу, проверяя версию (optimistic locking).
func (r *saleRepositoryInMemory) Save(sale domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[sale.ID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	if current.Version != sale.Version {
		return domain.ErrVersionConflict
	}

	sale = cloneSale(sale)
	sale.Version++
	sale.UpdatedAt = time.Now().UTC()
	r.items[sale.ID] = sale

	if sale.Payment.CheckoutRequestID != "" {
		r.byCheckout[sale.Payment.CheckoutRequestID] = sale.ID
	}
	return nil
}

// FinalizePayment атомарно переводит pending-платёж в терминальный статус.
// Проверка статуса и запись выполняются под одним мьютексом, поэтому из
// конкурирующих callback ровно один получает applied=true.
func (r *saleRepositoryInMemory) FinalizePayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCheckout[checkoutRequestID]
	if !ok {
		return domain.Sale{}, false, domain.ErrPaymentNotFound
	}
	sale := r.items[id]

	if sale.Payment.Status != domain.PaymentStatusPending {
		return cloneSale(sale), false, nil
	}

	now := time.Now().UTC()
	if outcome.Success {
		sale.Payment.Status = domain.PaymentStatusCompleted
		sale.Payment.ReceiptNumber = outcome.ReceiptNumber
		if outcome.PayerPhone != "" {
			sale.Payment.PayerPhone = outcome.PayerPhone
		}
		if outcome.AmountMinor > 0 {
			sale.PaidMinor = outcome.AmountMinor
		}
		sale.PaymentStatus = domain.PaymentStatusCompleted
	} else {
		sale.Payment.Status = domain.PaymentStatusFailed
		sale.Payment.FailureReason = outcome.FailureReason
		sale.PaymentStatus = domain.PaymentStatusFailed
	}
	sale.Payment.UpdatedAt = now
	sale.Version++
	sale.UpdatedAt = now
	r.items[id] = sale

	return cloneSale(sale), true, nil
}

// ListPendingPayments возвращает продажи с платежом pending, созданные раньше olderThan.
func (r *saleRepositoryInMemory) ListPendingPayments(olderThan time.Time, limit int) ([]domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Sale, 0)
	for _, sale := range r.items {
		if sale.Payment.Status != domain.PaymentStatusPending {
			continue
		}
		if !sale.Payment.CreatedAt.Before(olderThan) {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Payment.CreatedAt.Before(result[j].Payment.CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// List возвращает продажи по фильтру, новые первыми.
func (r *saleRepositoryInMemory) List(filter domain.SaleFilter) ([]domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Sale, 0, len(r.items))
	for _, sale := range r.items {
		if !matchesFilter(sale, filter) {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Sale{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchesFilter(sale domain.Sale, filter domain.SaleFilter) bool {
	if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && sale.CreatedAt.After(filter.To) {
		return false
	}
	if filter.ActorID != "" && sale.ActorID != filter.ActorID {
		return false
	}
	if filter.Method != "" && sale.Method != filter.Method {
		return false
	}
	if filter.Status != "" && sale.Status != filter.Status {
		return false
	}
	if filter.PaymentStatus != "" && sale.PaymentStatus != filter.PaymentStatus {
		return false
	}
	if filter.Search != "" && !matchesSearch(sale, filter.Search) {
		return false
	}
	return true
}

// matchesSearch ищет подстроку в номере продажи, имени покупателя и названиях товаров.
func matchesSearch(sale domain.Sale, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(sale.Number), term) {
		return true
	}
	if strings.Contains(strings.ToLower(sale.CustomerName), term) {
		return true
	}
	for _, item := range sale.Items {
		if strings.Contains(strings.ToLower(item.ProductName), term) {
			return true
		}
	}
	return false
}

// cloneSale копирует продажу вместе со строками и записью возврата.
func cloneSale(s domain.Sale) domain.Sale {
	clone := s
	if s.Items != nil {
		clone.Items = make([]domain.SaleItem, len(s.Items))
		copy(clone.Items, s.Items)
	}
	if s.Refund != nil {
		refund := *s.Refund
		clone.Refund = &refund
	}
	return clone
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
