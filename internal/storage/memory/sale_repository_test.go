package memory_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func newSale(id string) domain.Sale {
	now := time.Now().UTC()
	return domain.Sale{
		ID:            id,
		Number:        "S-20260829-0001",
		ActorID:       "cashier-1",
		SubtotalMinor: 6000,
		TaxMinor:      960,
		TotalMinor:    6960,
		PaidMinor:     7000,
		ChangeMinor:   40,
		Method:        domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusCompleted,
		Status:        domain.SaleStatusCompleted,
		Items: []domain.SaleItem{
			{ID: "item-1", SaleID: id, ProductID: "product-1", ProductName: "Maize Flour 2kg", Quantity: 1, UnitPriceMinor: 6000, LineTotalMinor: 6000, LineTaxMinor: 960, CreatedAt: now},
		},
		Payment: domain.Payment{
			ID:          "payment-1",
			SaleID:      id,
			AmountMinor: 6960,
			Method:      domain.PaymentMethodCash,
			Status:      domain.PaymentStatusCompleted,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newPendingMobileSale(id, checkoutID string) domain.Sale {
	sale := newSale(id)
	sale.Method = domain.PaymentMethodMobileMoney
	sale.Status = domain.SaleStatusPending
	sale.PaymentStatus = domain.PaymentStatusPending
	sale.PaidMinor = 0
	sale.ChangeMinor = 0
	sale.Payment.Method = domain.PaymentMethodMobileMoney
	sale.Payment.Status = domain.PaymentStatusPending
	sale.Payment.MerchantRequestID = "merchant-" + id
	sale.Payment.CheckoutRequestID = checkoutID
	sale.Payment.PayerPhone = "254700000001"
	return sale
}

func TestSaleRepository_CreateGet(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newSale("sale-1")

	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(sale.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != sale.Number {
		t.Fatalf("expected number %s, got %s", sale.Number, stored.Number)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(stored.Items))
	}
}

func TestSaleRepository_DuplicateIdempotencyKey(t *testing.T) {
	repo := memory.NewSaleRepository()

	first := newSale("sale-1")
	first.IdempotencyKey = "device-1:42"
	if err := repo.Create(first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	second := newSale("sale-2")
	second.IdempotencyKey = "device-1:42"
	if err := repo.Create(second); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected ErrDuplicateSubmission, got %v", err)
	}

	// Проигравшая продажа не должна была записаться.
	if _, err := repo.Get("sale-2"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound for loser, got %v", err)
	}

	winner, err := repo.GetByIdempotencyKey("device-1:42")
	if err != nil {
		t.Fatalf("get by key failed: %v", err)
	}
	if winner.ID != "sale-1" {
		t.Fatalf("expected winner sale-1, got %s", winner.ID)
	}
}

func TestSaleRepository_GetByCheckoutRequestID(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newPendingMobileSale("sale-1", "ws_CO_1001")
	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.GetByCheckoutRequestID("ws_CO_1001")
	if err != nil {
		t.Fatalf("get by checkout failed: %v", err)
	}
	if stored.ID != sale.ID {
		t.Fatalf("expected sale %s, got %s", sale.ID, stored.ID)
	}
}

func TestSaleRepository_FinalizePaymentSuccess(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newPendingMobileSale("sale-1", "ws_CO_1001")
	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	outcome := domain.PaymentOutcome{
		Success:       true,
		AmountMinor:   6960,
		ReceiptNumber: "RCP123",
		PayerPhone:    "254700000001",
	}
	updated, applied, err := repo.FinalizePayment("ws_CO_1001", outcome)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if !applied {
		t.Fatal("expected finalize to apply")
	}
	if updated.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment completed, got %s", updated.Payment.Status)
	}
	if updated.Payment.ReceiptNumber != "RCP123" {
		t.Fatalf("expected receipt RCP123, got %s", updated.Payment.ReceiptNumber)
	}
	if updated.PaidMinor != 6960 {
		t.Fatalf("expected paid 6960, got %d", updated.PaidMinor)
	}
}

func TestSaleRepository_FinalizePaymentIdempotent(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newPendingMobileSale("sale-1", "ws_CO_1001")
	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	success := domain.PaymentOutcome{Success: true, AmountMinor: 6960, ReceiptNumber: "RCP123"}
	if _, applied, err := repo.FinalizePayment("ws_CO_1001", success); err != nil || !applied {
		t.Fatalf("first finalize: applied=%v err=%v", applied, err)
	}

	// Повторный callback (в том числе с другим исходом) не меняет состояние.
	failure := domain.PaymentOutcome{Success: false, FailureReason: "cancelled by user"}
	stored, applied, err := repo.FinalizePayment("ws_CO_1001", failure)
	if err != nil {
		t.Fatalf("second finalize failed: %v", err)
	}
	if applied {
		t.Fatal("expected second finalize to be a no-op")
	}
	if stored.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment to stay completed, got %s", stored.Payment.Status)
	}
}

func TestSaleRepository_FinalizePaymentConcurrent(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newPendingMobileSale("sale-1", "ws_CO_1001")
	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const callbacks = 16
	var wg sync.WaitGroup
	appliedCount := make(chan bool, callbacks)
	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := repo.FinalizePayment("ws_CO_1001", domain.PaymentOutcome{Success: true, ReceiptNumber: "RCP123"})
			if err != nil {
				t.Errorf("finalize failed: %v", err)
				return
			}
			appliedCount <- applied
		}()
	}
	wg.Wait()
	close(appliedCount)

	total := 0
	for applied := range appliedCount {
		if applied {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly one applied finalize, got %d", total)
	}
}

func TestSaleRepository_FinalizePaymentUnknownCheckout(t *testing.T) {
	repo := memory.NewSaleRepository()

	if _, _, err := repo.FinalizePayment("missing", domain.PaymentOutcome{Success: true}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSaleRepository_ListPendingPayments(t *testing.T) {
	repo := memory.NewSaleRepository()

	old := newPendingMobileSale("sale-old", "ws_CO_1001")
	old.Payment.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	if err := repo.Create(old); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	fresh := newPendingMobileSale("sale-fresh", "ws_CO_1002")
	if err := repo.Create(fresh); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	pending, err := repo.ListPendingPayments(time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "sale-old" {
		t.Fatalf("expected only sale-old, got %d sales", len(pending))
	}
}

func TestSaleRepository_ListFilters(t *testing.T) {
	repo := memory.NewSaleRepository()

	cash := newSale("sale-cash")
	if err := repo.Create(cash); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	mobile := newPendingMobileSale("sale-mobile", "ws_CO_1001")
	mobile.CustomerName = "Jane Wanjiku"
	if err := repo.Create(mobile); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byMethod, err := repo.List(domain.SaleFilter{Method: domain.PaymentMethodCash})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byMethod) != 1 || byMethod[0].ID != "sale-cash" {
		t.Fatalf("expected only cash sale, got %d", len(byMethod))
	}

	bySearch, err := repo.List(domain.SaleFilter{Search: "wanjiku"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(bySearch) != 1 || bySearch[0].ID != "sale-mobile" {
		t.Fatalf("expected search to match customer name, got %d", len(bySearch))
	}

	byProduct, err := repo.List(domain.SaleFilter{Search: "maize"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byProduct) != 2 {
		t.Fatalf("expected search to match product name in both sales, got %d", len(byProduct))
	}
}

func TestSaleRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewSaleRepository()
	sale := newSale("sale-1")
	if err := repo.Create(sale); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sale.Version = 42
	if err := repo.Save(sale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}
