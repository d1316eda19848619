package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestSyncQueueRepository_PostgresEnqueueAndPull(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSyncQueueRepository(store)

	first, err := repo.Enqueue(domain.SyncQueueItem{
		Type:           domain.SyncItemTypeSale,
		Payload:        []byte(`{"actor_id":"cashier-1"}`),
		IdempotencyKey: "offline-1",
	})
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if first.ID == "" {
		t.Fatal("enqueue must assign an id")
	}
	if first.Status != domain.SyncItemStatusPending {
		t.Fatalf("unexpected status: %s", first.Status)
	}
	if first.MaxRetries != defaultQueueMaxRetries {
		t.Fatalf("unexpected max retries: %d", first.MaxRetries)
	}

	second, err := repo.Enqueue(domain.SyncQueueItem{
		ID:         "item-stock",
		Type:       domain.SyncItemTypeStockEntry,
		Payload:    []byte(`{"product_id":"prod-1","quantity":20}`),
		MaxRetries: 2,
		CreatedAt:  first.CreatedAt.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if second.MaxRetries != 2 {
		t.Fatalf("explicit max retries must survive: %d", second.MaxRetries)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending))
	}
	if pending[0].ID != first.ID || pending[1].ID != "item-stock" {
		t.Fatalf("pending items must come oldest first: %s, %s", pending[0].ID, pending[1].ID)
	}
	if string(pending[0].Payload) != `{"actor_id":"cashier-1"}` {
		t.Fatalf("payload not restored: %s", pending[0].Payload)
	}

	limited, err := repo.PullPending(1)
	if err != nil {
		t.Fatalf("pull pending with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != first.ID {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	if _, err := repo.Enqueue(domain.SyncQueueItem{Type: "unknown", Payload: []byte(`{}`)}); !errors.Is(err, domain.ErrSyncItemTypeUnknown) {
		t.Fatalf("expected ErrSyncItemTypeUnknown, got %v", err)
	}
	if _, err := repo.Enqueue(domain.SyncQueueItem{Type: domain.SyncItemTypeSale}); !errors.Is(err, domain.ErrSyncPayloadRequired) {
		t.Fatalf("expected ErrSyncPayloadRequired, got %v", err)
	}
}

func TestSyncQueueRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSyncQueueRepository(store)

	item, err := repo.Enqueue(domain.SyncQueueItem{
		Type:       domain.SyncItemTypeRefund,
		Payload:    []byte(`{"sale_id":"sale-1"}`),
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := repo.MarkProcessing(item.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	got, err := repo.Get(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.SyncItemStatusProcessing {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	// Первая неудача возвращает элемент в pending.
	failed, err := repo.MarkFailedAttempt(item.ID, "server unavailable")
	if err != nil {
		t.Fatalf("mark failed attempt: %v", err)
	}
	if failed.RetryCount != 1 || failed.Status != domain.SyncItemStatusPending {
		t.Fatalf("unexpected item after first failure: %+v", failed)
	}
	if failed.LastError != "server unavailable" {
		t.Fatalf("unexpected last error: %q", failed.LastError)
	}

	// Вторая исчерпывает бюджет и уводит элемент в dead-letter.
	failed, err = repo.MarkFailedAttempt(item.ID, "still unavailable")
	if err != nil {
		t.Fatalf("mark failed attempt again: %v", err)
	}
	if failed.RetryCount != 2 || failed.Status != domain.SyncItemStatusFailed {
		t.Fatalf("unexpected item after budget exhausted: %+v", failed)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("dead-letter item must not be pulled: %+v", pending)
	}

	other, err := repo.Enqueue(domain.SyncQueueItem{
		Type:    domain.SyncItemTypeSale,
		Payload: []byte(`{"actor_id":"cashier-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue other: %v", err)
	}
	if err := repo.MarkCompleted(other.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	completed, err := repo.Get(other.ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if completed.Status != domain.SyncItemStatusCompleted {
		t.Fatalf("unexpected status: %s", completed.Status)
	}

	if err := repo.MarkProcessing("missing-item"); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("expected ErrSyncItemNotFound, got %v", err)
	}
	if err := repo.MarkCompleted("missing-item"); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("expected ErrSyncItemNotFound, got %v", err)
	}
	if _, err := repo.MarkFailedAttempt("missing-item", "reason"); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("expected ErrSyncItemNotFound, got %v", err)
	}
	if _, err := repo.Get("missing-item"); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("expected ErrSyncItemNotFound, got %v", err)
	}
}

func TestSyncQueueRepository_PostgresPurgeAndStats(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSyncQueueRepository(store)

	pending, err := repo.Enqueue(domain.SyncQueueItem{
		Type:    domain.SyncItemTypeSale,
		Payload: []byte(`{"actor_id":"cashier-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue pending: %v", err)
	}

	completed, err := repo.Enqueue(domain.SyncQueueItem{
		Type:    domain.SyncItemTypeStockEntry,
		Payload: []byte(`{"product_id":"prod-1","quantity":5}`),
	})
	if err != nil {
		t.Fatalf("enqueue completed: %v", err)
	}
	if err := repo.MarkCompleted(completed.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	dead, err := repo.Enqueue(domain.SyncQueueItem{
		Type:       domain.SyncItemTypeRefund,
		Payload:    []byte(`{"sale_id":"sale-1"}`),
		MaxRetries: 1,
	})
	if err != nil {
		t.Fatalf("enqueue dead: %v", err)
	}
	if _, err := repo.MarkFailedAttempt(dead.ID, "permanent"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 || stats.FailedCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// timestamptz усекает время до микросекунд.
	if !stats.OldestPendingAt.Equal(pending.CreatedAt.Truncate(time.Microsecond)) {
		t.Fatalf("unexpected oldest pending: got=%s want=%s", stats.OldestPendingAt, pending.CreatedAt)
	}

	future := time.Now().UTC().Add(time.Hour)

	removed, err := repo.PurgeCompleted(future, 100)
	if err != nil {
		t.Fatalf("purge completed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged completed item, got %d", removed)
	}

	removed, err = repo.PurgeFailed(future, 100)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged dead-letter item, got %d", removed)
	}

	// Pending не подпадает под purge независимо от возраста.
	if _, err := repo.Get(pending.ID); err != nil {
		t.Fatalf("pending item must survive purge: %v", err)
	}
	if _, err := repo.Get(completed.ID); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("completed item must be purged, got %v", err)
	}
	if _, err := repo.Get(dead.ID); !errors.Is(err, domain.ErrSyncItemNotFound) {
		t.Fatalf("dead-letter item must be purged, got %v", err)
	}
}

func TestSyncQueueRepository_PostgresReclaimStale(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewSyncQueueRepository(store)

	item, err := repo.Enqueue(domain.SyncQueueItem{
		Type:    domain.SyncItemTypeSale,
		Payload: []byte(`{"actor_id":"cashier-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.MarkProcessing(item.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ProcessingCount != 1 {
		t.Fatalf("expected 1 processing item, got %d", stats.ProcessingCount)
	}

	// Свежий processing под cutoff в прошлом не подпадает.
	reclaimed, err := repo.ReclaimStale(time.Now().UTC().Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected no reclaimed items, got %d", reclaimed)
	}

	// Cutoff в будущем имитирует давно умерший drain-проход.
	reclaimed, err = repo.ReclaimStale(time.Now().UTC().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed item, got %d", reclaimed)
	}

	got, err := repo.Get(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.SyncItemStatusPending {
		t.Fatalf("expected item back in pending, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("expected reclaim not to spend retry budget, got %d", got.RetryCount)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != item.ID {
		t.Fatalf("expected reclaimed item pullable, got %+v", pending)
	}
}
