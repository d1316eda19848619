package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository создаёт PostgreSQL-реализацию журнала аудита.
func NewAuditRepository(store *Store) domain.AuditRepository {
	return &auditRepository{db: store.DB()}
}

// Append добавляет запись, проставляя ID и время при необходимости.
func (r *auditRepository) Append(record domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, entity_type, entity_id, actor, action, field,
			old_value, new_value, reference, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		record.ID, record.EntityType, record.EntityID, record.Actor,
		string(record.Action), record.Field, record.OldValue, record.NewValue,
		record.Reference, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByEntity возвращает записи по сущности, новые первыми.
func (r *auditRepository) ListByEntity(entityType, entityID string, limit int) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, actor, action, field,
		       old_value, new_value, reference, created_at
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.AuditRecord, 0, limit)
	for rows.Next() {
		var record domain.AuditRecord
		var action string
		if err := rows.Scan(
			&record.ID, &record.EntityType, &record.EntityID, &record.Actor,
			&action, &record.Field, &record.OldValue, &record.NewValue,
			&record.Reference, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		record.Action = domain.AuditAction(action)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}

var _ domain.AuditRepository = (*auditRepository)(nil)
