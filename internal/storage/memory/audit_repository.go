package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// auditRepositoryInMemory хранит историю изменений в порядке добавления.
type auditRepositoryInMemory struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

// NewAuditRepository создаёт in-memory реализацию журнала аудита.
func NewAuditRepository() domain.AuditRepository {
	return &auditRepositoryInMemory{}
}

// Append добавляет запись, проставляя ID и время при необходимости.
func (r *auditRepositoryInMemory) Append(record domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.records = append(r.records, record)
	return nil
}

// ListByEntity возвращает записи по сущности, новые первыми.
func (r *auditRepositoryInMemory) ListByEntity(entityType, entityID string, limit int) ([]domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.AuditRecord, 0)
	for _, record := range r.records {
		if record.EntityType != entityType || record.EntityID != entityID {
			continue
		}
		result = append(result, record)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.AuditRepository = (*auditRepositoryInMemory)(nil)
