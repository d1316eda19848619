package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/gateway"
	"github.com/vladislavdragonenkov/pos/internal/service/inventory"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

type drainFixture struct {
	queue        domain.SyncQueueRepository
	products     domain.ProductRepository
	sales        domain.SaleRepository
	orchestrator sale.Orchestrator
	dispatcher   *Dispatcher
}

func newDrainFixture(t *testing.T) *drainFixture {
	t.Helper()

	products := memory.NewProductRepository()
	sales := memory.NewSaleRepository()
	audit := memory.NewAuditRepository()
	guard := inventory.NewGuard(products, audit, nil)
	orchestrator := sale.NewOrchestratorWithoutMetrics(sales, products, guard, gateway.NewMock(), nil)

	return &drainFixture{
		queue:        memory.NewSyncQueueRepository(),
		products:     products,
		sales:        sales,
		orchestrator: orchestrator,
		dispatcher:   NewDispatcher(orchestrator, guard, products, audit, nil),
	}
}

func (f *drainFixture) seedProduct(t *testing.T, id string, stock int32, retailMinor int64) {
	t.Helper()

	now := time.Now().UTC()
	product := domain.Product{
		ID:            id,
		SKU:           "SKU-" + id,
		Name:          "Product " + id,
		CostMinor:     retailMinor / 2,
		RetailMinor:   retailMinor,
		StockQuantity: stock,
		TaxMode:       domain.TaxModeNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.products.Create(product); err != nil {
		t.Fatalf("seed product %s: %v", id, err)
	}
}

func (f *drainFixture) stock(t *testing.T, id string) int32 {
	t.Helper()

	product, err := f.products.Get(id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product.StockQuantity
}

func (f *drainFixture) enqueue(t *testing.T, itemType domain.SyncItemType, idemKey string, payload interface{}) domain.SyncQueueItem {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	item, err := f.queue.Enqueue(domain.SyncQueueItem{
		Type:           itemType,
		Payload:        raw,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

func TestDrainer_ReplaysSale(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 10, 6000)

	f.enqueue(t, domain.SyncItemTypeSale, "device-1:sale-1", SalePayload{
		ActorID:   "cashier-1",
		Method:    "cash",
		Lines:     []SaleLine{{ProductID: "p1", Quantity: 3}},
		PaidMinor: 18000,
	})

	drainer := NewDrainer(f.queue, f.dispatcher)
	if processed := drainer.ProcessOnce(context.Background()); processed != 1 {
		t.Fatalf("expected 1 processed item, got %d", processed)
	}

	if got := f.stock(t, "p1"); got != 7 {
		t.Fatalf("expected stock 7, got %d", got)
	}
	sales, err := f.sales.List(domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected 1 replayed sale, got %d", len(sales))
	}
	if sales[0].IdempotencyKey != "device-1:sale-1" {
		t.Fatalf("expected idempotency key preserved, got %q", sales[0].IdempotencyKey)
	}

	stats, err := f.queue.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d pending", stats.PendingCount)
	}
}

// Два элемента с одним idempotency key порождают одну продажу: второй
// реплей разрешается дубликатом и тоже завершается успешно.
func TestDrainer_DuplicateSaleItems(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 10, 6000)

	payload := SalePayload{
		ActorID:   "cashier-1",
		Method:    "cash",
		Lines:     []SaleLine{{ProductID: "p1", Quantity: 2}},
		PaidMinor: 12000,
	}
	first := f.enqueue(t, domain.SyncItemTypeSale, "device-1:sale-1", payload)
	second := f.enqueue(t, domain.SyncItemTypeSale, "device-1:sale-1", payload)

	drainer := NewDrainer(f.queue, f.dispatcher)
	drainer.ProcessOnce(context.Background())

	if got := f.stock(t, "p1"); got != 8 {
		t.Fatalf("expected one decrement (10 -> 8), got %d", got)
	}
	sales, err := f.sales.List(domain.SaleFilter{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 {
		t.Fatalf("expected one sale, got %d", len(sales))
	}

	for _, id := range []string{first.ID, second.ID} {
		item, err := f.queue.Get(id)
		if err != nil {
			t.Fatalf("get item %s: %v", id, err)
		}
		if item.Status != domain.SyncItemStatusCompleted {
			t.Fatalf("item %s: expected completed, got %s", id, item.Status)
		}
	}
}

func TestDrainer_ReplaysStockEntry(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 3, 6000)

	f.enqueue(t, domain.SyncItemTypeStockEntry, "", StockEntryPayload{
		ProductID: "p1",
		Quantity:  20,
		ActorID:   "manager-1",
		Reference: "GRN-042",
	})

	drainer := NewDrainer(f.queue, f.dispatcher)
	drainer.ProcessOnce(context.Background())

	if got := f.stock(t, "p1"); got != 23 {
		t.Fatalf("expected stock 23, got %d", got)
	}
}

// Элемент, захваченный умершим проходом drain, должен вернуться в pending
// и доехать до сервера следующим проходом, а не зависнуть в processing.
func TestDrainer_ReplaysItemAbandonedInProcessing(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 3, 6000)

	item := f.enqueue(t, domain.SyncItemTypeStockEntry, "", StockEntryPayload{
		ProductID: "p1",
		Quantity:  20,
		ActorID:   "manager-1",
		Reference: "GRN-043",
	})
	// Проход умер между захватом элемента и финальным статусом.
	if err := f.queue.MarkProcessing(item.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	drainer := NewDrainer(f.queue, f.dispatcher, WithStaleAfter(10*time.Millisecond))
	if processed := drainer.ProcessOnce(context.Background()); processed != 1 {
		t.Fatalf("expected abandoned item replayed, processed %d", processed)
	}

	stored, err := f.queue.Get(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Status != domain.SyncItemStatusCompleted {
		t.Fatalf("expected completed item, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("expected reclaim to keep retry budget, got %d", stored.RetryCount)
	}
	if got := f.stock(t, "p1"); got != 23 {
		t.Fatalf("expected stock 23, got %d", got)
	}
}

// Свежезахваченные элементы текущего прохода возврату не подлежат.
func TestDrainer_KeepsFreshProcessingItems(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 3, 6000)

	item := f.enqueue(t, domain.SyncItemTypeStockEntry, "", StockEntryPayload{
		ProductID: "p1",
		Quantity:  20,
		ActorID:   "manager-1",
		Reference: "GRN-044",
	})
	if err := f.queue.MarkProcessing(item.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	drainer := NewDrainer(f.queue, f.dispatcher)
	if processed := drainer.ProcessOnce(context.Background()); processed != 0 {
		t.Fatalf("expected fresh processing item untouched, processed %d", processed)
	}

	stored, err := f.queue.Get(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Status != domain.SyncItemStatusProcessing {
		t.Fatalf("expected item still processing, got %s", stored.Status)
	}
}

func TestDrainer_ReplaysRefund(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 10, 6000)

	result, err := f.orchestrator.Submit(sale.SubmitRequest{
		ActorID:   "cashier-1",
		Method:    domain.PaymentMethodCash,
		Lines:     []sale.CartLine{{ProductID: "p1", Quantity: 2}},
		PaidMinor: 12000,
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}

	f.enqueue(t, domain.SyncItemTypeRefund, "", RefundPayload{
		SaleID:  result.Sale.ID,
		ActorID: "manager-1",
		Reason:  "damaged packaging",
	})

	drainer := NewDrainer(f.queue, f.dispatcher)
	drainer.ProcessOnce(context.Background())

	refunded, err := f.sales.Get(result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if refunded.Status != domain.SaleStatusRefunded {
		t.Fatalf("expected refunded sale, got %s", refunded.Status)
	}
	if got := f.stock(t, "p1"); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
}

func TestDrainer_ReplaysCatalogPatch(t *testing.T) {
	f := newDrainFixture(t)
	f.seedProduct(t, "p1", 10, 6000)

	newRetail := int64(6500)
	newName := "Sugar 1kg premium"
	f.enqueue(t, domain.SyncItemTypeCatalogPatch, "", CatalogPatchPayload{
		ProductID:   "p1",
		ActorID:     "manager-1",
		Name:        &newName,
		RetailMinor: &newRetail,
	})

	drainer := NewDrainer(f.queue, f.dispatcher)
	drainer.ProcessOnce(context.Background())

	product, err := f.products.Get("p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Name != newName {
		t.Fatalf("expected name %q, got %q", newName, product.Name)
	}
	if product.RetailMinor != 6500 {
		t.Fatalf("expected retail 6500, got %d", product.RetailMinor)
	}
	// Патч карточки не трогает остаток.
	if product.StockQuantity != 10 {
		t.Fatalf("expected stock untouched, got %d", product.StockQuantity)
	}
}

// failingHandler всегда отказывает, имитируя недоступный сервер.
type failingHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *failingHandler) Handle(item domain.SyncQueueItem) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return fmt.Errorf("server unreachable")
}

type capturingDLQ struct {
	events []*kafka.DeadLetterEvent
}

func (c *capturingDLQ) PublishDeadLetter(event *kafka.DeadLetterEvent) error {
	c.events = append(c.events, event)
	return nil
}

// После maxRetries неуспешных попыток элемент уходит в dead-letter и
// перестаёт попадать в выборку pending.
func TestDrainer_RetryBudgetExhausted(t *testing.T) {
	queue := memory.NewSyncQueueRepository()
	item, err := queue.Enqueue(domain.SyncQueueItem{
		Type:       domain.SyncItemTypeSale,
		Payload:    []byte(`{}`),
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	handler := &failingHandler{}
	dlq := &capturingDLQ{}
	drainer := NewDrainer(queue, handler, WithDLQPublisher(dlq))

	for attempt := 1; attempt <= 3; attempt++ {
		drainer.ProcessOnce(context.Background())

		stored, err := queue.Get(item.ID)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if stored.RetryCount != attempt {
			t.Fatalf("attempt %d: expected retry count %d, got %d", attempt, attempt, stored.RetryCount)
		}
		wantStatus := domain.SyncItemStatusPending
		if attempt == 3 {
			wantStatus = domain.SyncItemStatusFailed
		}
		if stored.Status != wantStatus {
			t.Fatalf("attempt %d: expected status %s, got %s", attempt, wantStatus, stored.Status)
		}
	}

	if handler.calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", handler.calls)
	}

	// Dead-letter событие опубликовано ровно один раз.
	if len(dlq.events) != 1 {
		t.Fatalf("expected 1 dead letter event, got %d", len(dlq.events))
	}
	event := dlq.events[0]
	if event.ItemID != item.ID || event.ItemType != "sale" || event.RetryCount != 3 {
		t.Fatalf("unexpected dead letter event: %+v", event)
	}
	if event.LastError == "" {
		t.Fatal("expected last error carried into dead letter event")
	}

	// Failed-элемент больше не реплеится.
	drainer.ProcessOnce(context.Background())
	if handler.calls != 3 {
		t.Fatalf("dead-letter item must not be replayed, got %d calls", handler.calls)
	}
}

// blockingHandler держит обработку, пока тест не разрешит продолжить.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Handle(item domain.SyncQueueItem) error {
	h.entered <- struct{}{}
	<-h.release
	return nil
}

func TestDrainer_SingleFlight(t *testing.T) {
	queue := memory.NewSyncQueueRepository()
	if _, err := queue.Enqueue(domain.SyncQueueItem{
		Type:    domain.SyncItemTypeSale,
		Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	handler := &blockingHandler{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	drainer := NewDrainer(queue, handler)

	done := make(chan int)
	go func() {
		done <- drainer.ProcessOnce(context.Background())
	}()
	<-handler.entered

	// Пока первый проход держит lock, второй пропускается.
	if processed := drainer.ProcessOnce(context.Background()); processed != 0 {
		t.Fatalf("concurrent drain pass must be skipped, processed %d", processed)
	}

	close(handler.release)
	if processed := <-done; processed != 1 {
		t.Fatalf("expected first pass to process 1 item, got %d", processed)
	}
}

func TestDrainer_PermanentErrorGoesToDeadLetter(t *testing.T) {
	f := newDrainFixture(t)

	item, err := f.queue.Enqueue(domain.SyncQueueItem{
		Type:       domain.SyncItemTypeSale,
		Payload:    []byte(`{"lines":[]}`),
		MaxRetries: 1,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drainer := NewDrainer(f.queue, f.dispatcher)
	drainer.ProcessOnce(context.Background())

	// Пустая корзина — постоянная ошибка: после единственной попытки dead-letter.
	stored, err := f.queue.Get(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if stored.Status != domain.SyncItemStatusFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
	if stored.LastError == "" {
		t.Fatal("expected last error recorded")
	}
}

func TestPurgeWorker_RemovesProcessedItems(t *testing.T) {
	queue := memory.NewSyncQueueRepository()

	completed, err := queue.Enqueue(domain.SyncQueueItem{Type: domain.SyncItemTypeSale, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.MarkCompleted(completed.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	failed, err := queue.Enqueue(domain.SyncQueueItem{Type: domain.SyncItemTypeSale, Payload: []byte(`{}`), MaxRetries: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := queue.MarkFailedAttempt(failed.ID, "server unreachable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := queue.Enqueue(domain.SyncQueueItem{Type: domain.SyncItemTypeSale, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewPurgeWorker(queue,
		WithCompletedRetention(time.Millisecond),
		WithDeadLetterRetention(time.Millisecond),
	)

	// "now" далеко в будущем: оба retention к этому моменту истекли.
	gotCompleted, gotFailed, err := worker.PurgeExpired(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if gotCompleted != 1 || gotFailed != 1 {
		t.Fatalf("expected 1 completed and 1 failed purged, got %d/%d", gotCompleted, gotFailed)
	}

	if _, err := queue.Get(completed.ID); err == nil {
		t.Fatal("completed item must be purged")
	}
	if _, err := queue.Get(failed.ID); err == nil {
		t.Fatal("failed item must be purged")
	}
	if _, err := queue.Get(pending.ID); err != nil {
		t.Fatalf("pending item must survive purge: %v", err)
	}
}
