package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// defaultMaxRetries применяется к элементам, у которых бюджет повторов не задан.
const defaultMaxRetries = 5

// syncQueueRepositoryInMemory — простое in-memory хранилище офлайн-очереди.
type syncQueueRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.SyncQueueItem
}

// NewSyncQueueRepository создаёт in-memory реализацию очереди синхронизации.
func NewSyncQueueRepository() domain.SyncQueueRepository {
	return &syncQueueRepositoryInMemory{
		items: make(map[string]domain.SyncQueueItem),
	}
}

// Enqueue сохраняет элемент со статусом pending, проставляя служебные поля.
func (r *syncQueueRepositoryInMemory) Enqueue(item domain.SyncQueueItem) (domain.SyncQueueItem, error) {
	if errs := item.Validate(); len(errs) > 0 {
		return domain.SyncQueueItem{}, errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = defaultMaxRetries
	}
	now := time.Now().UTC()
	item.Status = domain.SyncItemStatusPending
	item.RetryCount = 0
	item.LastError = ""
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	r.items[item.ID] = cloneSyncItem(item)
	return item, nil
}

// PullPending возвращает до limit pending-элементов, старые первыми.
func (r *syncQueueRepositoryInMemory) PullPending(limit int) ([]domain.SyncQueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.SyncQueueItem, 0, limit)
	for _, item := range r.items {
		if item.Status != domain.SyncItemStatusPending {
			continue
		}
		result = append(result, cloneSyncItem(item))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkProcessing захватывает элемент для текущего прохода drain.
func (r *syncQueueRepositoryInMemory) MarkProcessing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.ErrSyncItemNotFound
	}
	item.Status = domain.SyncItemStatusProcessing
	item.UpdatedAt = time.Now().UTC()
	r.items[id] = item
	return nil
}

// MarkCompleted помечает элемент успешно обработанным.
func (r *syncQueueRepositoryInMemory) MarkCompleted(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.ErrSyncItemNotFound
	}
	item.Status = domain.SyncItemStatusCompleted
	item.LastError = ""
	item.UpdatedAt = time.Now().UTC()
	r.items[id] = item
	return nil
}

// MarkFailedAttempt увеличивает счётчик повторов; при исчерпании бюджета
// элемент уходит в dead-letter, иначе возвращается в pending.
func (r *syncQueueRepositoryInMemory) MarkFailedAttempt(id string, reason string) (domain.SyncQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.SyncQueueItem{}, domain.ErrSyncItemNotFound
	}

	item.RetryCount++
	item.LastError = reason
	if item.RetryCount >= item.MaxRetries {
		item.Status = domain.SyncItemStatusFailed
	} else {
		item.Status = domain.SyncItemStatusPending
	}
	item.UpdatedAt = time.Now().UTC()
	r.items[id] = item
	return cloneSyncItem(item), nil
}

// ReclaimStale возвращает в pending элементы, застрявшие в processing
// дольше before. Счётчик повторов не тратится: сбой прохода drain не
// говорит ничего о самом элементе.
func (r *syncQueueRepositoryInMemory) ReclaimStale(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	reclaimed := 0
	for id, item := range r.items {
		if item.Status != domain.SyncItemStatusProcessing || !item.UpdatedAt.Before(before) {
			continue
		}
		item.Status = domain.SyncItemStatusPending
		item.UpdatedAt = time.Now().UTC()
		r.items[id] = item
		reclaimed++
		if reclaimed >= limit {
			break
		}
	}
	return reclaimed, nil
}

// Get возвращает элемент по идентификатору или ErrSyncItemNotFound.
func (r *syncQueueRepositoryInMemory) Get(id string) (domain.SyncQueueItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return domain.SyncQueueItem{}, domain.ErrSyncItemNotFound
	}
	return cloneSyncItem(item), nil
}

// PurgeCompleted удаляет завершённые элементы старше before порциями limit.
func (r *syncQueueRepositoryInMemory) PurgeCompleted(before time.Time, limit int) (int, error) {
	return r.purge(domain.SyncItemStatusCompleted, before, limit)
}

// PurgeFailed удаляет dead-letter элементы старше before порциями limit.
func (r *syncQueueRepositoryInMemory) PurgeFailed(before time.Time, limit int) (int, error) {
	return r.purge(domain.SyncItemStatusFailed, before, limit)
}

func (r *syncQueueRepositoryInMemory) purge(status domain.SyncItemStatus, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	removed := 0
	for id, item := range r.items {
		if item.Status != status || !item.UpdatedAt.Before(before) {
			continue
		}
		delete(r.items, id)
		removed++
		if removed >= limit {
			break
		}
	}
	return removed, nil
}

// Stats возвращает состояние backlog очереди.
func (r *syncQueueRepositoryInMemory) Stats() (domain.SyncQueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.SyncQueueStats
	for _, item := range r.items {
		switch item.Status {
		case domain.SyncItemStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || item.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = item.CreatedAt
			}
		case domain.SyncItemStatusProcessing:
			stats.ProcessingCount++
		case domain.SyncItemStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func cloneSyncItem(i domain.SyncQueueItem) domain.SyncQueueItem {
	clone := i
	if i.Payload != nil {
		clone.Payload = make([]byte, len(i.Payload))
		copy(clone.Payload, i.Payload)
	}
	return clone
}

var _ domain.SyncQueueRepository = (*syncQueueRepositoryInMemory)(nil)
