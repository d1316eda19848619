package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultQueueMaxRetries = 5

type syncQueueRepository struct {
	db *sql.DB
}

// NewSyncQueueRepository создаёт PostgreSQL-реализацию SyncQueueRepository.
func NewSyncQueueRepository(store *Store) domain.SyncQueueRepository {
	return &syncQueueRepository{db: store.DB()}
}

// Enqueue сохраняет элемент со статусом pending, проставляя служебные поля.
func (r *syncQueueRepository) Enqueue(item domain.SyncQueueItem) (domain.SyncQueueItem, error) {
	if errs := item.Validate(); len(errs) > 0 {
		return domain.SyncQueueItem{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = defaultQueueMaxRetries
	}
	now := time.Now().UTC()
	item.Status = domain.SyncItemStatusPending
	item.RetryCount = 0
	item.LastError = ""
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (
			id, type, payload, idempotency_key, retry_count, max_retries,
			status, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		item.ID, string(item.Type), item.Payload, item.IdempotencyKey,
		item.RetryCount, item.MaxRetries, string(item.Status), item.LastError,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return domain.SyncQueueItem{}, fmt.Errorf("enqueue sync item: %w", err)
	}

	return item, nil
}

// PullPending возвращает до limit pending-элементов, старые первыми.
func (r *syncQueueRepository) PullPending(limit int) ([]domain.SyncQueueItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, payload, idempotency_key, retry_count, max_retries,
		       status, last_error, created_at, updated_at
		FROM sync_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending sync items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SyncQueueItem, 0, limit)
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync items: %w", err)
	}

	return items, nil
}

// MarkProcessing захватывает элемент для текущего прохода drain.
func (r *syncQueueRepository) MarkProcessing(id string) error {
	return r.setStatus(id, domain.SyncItemStatusProcessing, false)
}

// MarkCompleted помечает элемент успешно обработанным.
func (r *syncQueueRepository) MarkCompleted(id string) error {
	return r.setStatus(id, domain.SyncItemStatusCompleted, true)
}

func (r *syncQueueRepository) setStatus(id string, status domain.SyncItemStatus, clearError bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `UPDATE sync_queue SET status = $1, updated_at = NOW() WHERE id = $2`
	if clearError {
		query = `UPDATE sync_queue SET status = $1, last_error = '', updated_at = NOW() WHERE id = $2`
	}

	res, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("update sync item status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSyncItemNotFound
	}
	return nil
}

// MarkFailedAttempt увеличивает счётчик повторов; при исчерпании бюджета
// элемент уходит в dead-letter, иначе возвращается в pending. Инкремент и
// выбор нового статуса выполняются одним оператором, чтобы конкурирующие
// drain-проходы не теряли попытки.
func (r *syncQueueRepository) MarkFailedAttempt(id string, reason string) (domain.SyncQueueItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		UPDATE sync_queue
		SET retry_count = retry_count + 1,
		    last_error = $1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING id, type, payload, idempotency_key, retry_count, max_retries,
		          status, last_error, created_at, updated_at
	`, reason, id)

	item, err := scanSyncItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncQueueItem{}, domain.ErrSyncItemNotFound
		}
		return domain.SyncQueueItem{}, err
	}
	return item, nil
}

// ReclaimStale возвращает в pending элементы, застрявшие в processing
// дольше before. Счётчик повторов не тратится: сбой прохода drain не
// говорит ничего о самом элементе.
func (r *syncQueueRepository) ReclaimStale(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM sync_queue
			WHERE status = 'processing' AND updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale sync items: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// Get возвращает элемент по идентификатору или ErrSyncItemNotFound.
func (r *syncQueueRepository) Get(id string) (domain.SyncQueueItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, payload, idempotency_key, retry_count, max_retries,
		       status, last_error, created_at, updated_at
		FROM sync_queue
		WHERE id = $1
	`, id)

	item, err := scanSyncItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncQueueItem{}, domain.ErrSyncItemNotFound
		}
		return domain.SyncQueueItem{}, err
	}
	return item, nil
}

// PurgeCompleted удаляет завершённые элементы старше before порциями limit.
func (r *syncQueueRepository) PurgeCompleted(before time.Time, limit int) (int, error) {
	return r.purge(domain.SyncItemStatusCompleted, before, limit)
}

// PurgeFailed удаляет dead-letter элементы старше before порциями limit.
func (r *syncQueueRepository) PurgeFailed(before time.Time, limit int) (int, error) {
	return r.purge(domain.SyncItemStatusFailed, before, limit)
}

func (r *syncQueueRepository) purge(status domain.SyncItemStatus, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE id IN (
			SELECT id FROM sync_queue
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at ASC
			LIMIT $3
		)
	`, string(status), before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge sync items: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// Stats возвращает состояние backlog очереди.
func (r *syncQueueRepository) Stats() (domain.SyncQueueStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var stats domain.SyncQueueStats
	var oldest sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at) FILTER (WHERE status = 'pending')
		FROM sync_queue
	`).Scan(&stats.PendingCount, &stats.ProcessingCount, &stats.FailedCount, &oldest)
	if err != nil {
		return domain.SyncQueueStats{}, fmt.Errorf("sync queue stats: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time
	}
	return stats, nil
}

func scanSyncItem(row rowScanner) (domain.SyncQueueItem, error) {
	var item domain.SyncQueueItem
	var itemType, status string

	err := row.Scan(
		&item.ID, &itemType, &item.Payload, &item.IdempotencyKey,
		&item.RetryCount, &item.MaxRetries, &status, &item.LastError,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncQueueItem{}, err
		}
		return domain.SyncQueueItem{}, fmt.Errorf("scan sync item: %w", err)
	}

	item.Type = domain.SyncItemType(itemType)
	item.Status = domain.SyncItemStatus(status)
	return item, nil
}

var _ domain.SyncQueueRepository = (*syncQueueRepository)(nil)
