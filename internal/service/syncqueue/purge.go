package syncqueue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultPurgeInterval       = 10 * time.Minute
	defaultPurgeBatchSize      = 500
	defaultCompletedRetention  = 24 * time.Hour
	defaultDeadLetterRetention = 7 * 24 * time.Hour
)

var (
	purgeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_purge_runs_total",
		Help: "Total number of sync queue purge runs grouped by result.",
	}, []string{"result"})
	purgeDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_purge_deleted_total",
		Help: "Total number of purged sync queue items grouped by status.",
	}, []string{"status"})
)

// PurgeOptions задаёт параметры воркера очистки офлайн-очереди.
type PurgeOptions struct {
	Logger *log.Entry
	// Interval — период между проходами очистки.
	Interval  time.Duration
	BatchSize int
	// CompletedRetention — сколько хранить успешно обработанные элементы.
	CompletedRetention time.Duration
	// DeadLetterRetention — сколько хранить failed-элементы для разбора.
	DeadLetterRetention time.Duration
}

// PurgeOption настраивает PurgeWorker.
type PurgeOption func(*PurgeOptions)

// WithPurgeLogger задаёт logger для воркера.
func WithPurgeLogger(logger *log.Entry) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.Logger = logger
	}
}

// WithPurgeInterval задаёт интервал между проходами очистки.
func WithPurgeInterval(interval time.Duration) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.Interval = interval
	}
}

// WithPurgeBatchSize задаёт размер порции одного удаления.
func WithPurgeBatchSize(batchSize int) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.BatchSize = batchSize
	}
}

// WithCompletedRetention задаёт срок хранения обработанных элементов.
func WithCompletedRetention(retention time.Duration) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.CompletedRetention = retention
	}
}

// WithDeadLetterRetention задаёт срок хранения dead-letter элементов.
func WithDeadLetterRetention(retention time.Duration) PurgeOption {
	return func(opts *PurgeOptions) {
		opts.DeadLetterRetention = retention
	}
}

// PurgeWorker периодически удаляет обработанные и протухшие dead-letter
// элементы офлайн-очереди. Failed-элементы живут дольше completed: их
// ещё может забрать ручной реанимационный прогон.
type PurgeWorker struct {
	repo                domain.SyncQueueRepository
	logger              *log.Entry
	interval            time.Duration
	batchSize           int
	completedRetention  time.Duration
	deadLetterRetention time.Duration
}

// NewPurgeWorker создаёт воркер очистки офлайн-очереди.
func NewPurgeWorker(repo domain.SyncQueueRepository, options ...PurgeOption) *PurgeWorker {
	opts := PurgeOptions{
		Interval:            defaultPurgeInterval,
		BatchSize:           defaultPurgeBatchSize,
		CompletedRetention:  defaultCompletedRetention,
		DeadLetterRetention: defaultDeadLetterRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-purge-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultPurgeInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultPurgeBatchSize
	}
	if opts.CompletedRetention <= 0 {
		opts.CompletedRetention = defaultCompletedRetention
	}
	if opts.DeadLetterRetention <= 0 {
		opts.DeadLetterRetention = defaultDeadLetterRetention
	}

	return &PurgeWorker{
		repo:                repo,
		logger:              logger,
		interval:            opts.Interval,
		batchSize:           opts.BatchSize,
		completedRetention:  opts.CompletedRetention,
		deadLetterRetention: opts.DeadLetterRetention,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *PurgeWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("sync purge worker is disabled: repo is nil")
		return
	}

	w.purge(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx, time.Now().UTC())
		}
	}
}

func (w *PurgeWorker) purge(ctx context.Context, now time.Time) {
	completed, failed, err := w.PurgeExpired(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		purgeRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("sync queue purge run failed")
		return
	}

	purgeRuns.WithLabelValues("ok").Inc()
	if completed > 0 || failed > 0 {
		w.logger.WithFields(log.Fields{
			"completed": completed,
			"failed":    failed,
		}).Info("sync queue purge completed")
	}
}

// PurgeExpired удаляет элементы старше соответствующего retention порциями
// batchSize. Возвращает число удалённых completed- и failed-элементов.
func (w *PurgeWorker) PurgeExpired(ctx context.Context, now time.Time) (int, int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	completed, err := w.purgeLoop(ctx, func(before time.Time, limit int) (int, error) {
		return w.repo.PurgeCompleted(before, limit)
	}, now.Add(-w.completedRetention), "completed")
	if err != nil {
		return completed, 0, err
	}

	failed, err := w.purgeLoop(ctx, func(before time.Time, limit int) (int, error) {
		return w.repo.PurgeFailed(before, limit)
	}, now.Add(-w.deadLetterRetention), "failed")
	return completed, failed, err
}

func (w *PurgeWorker) purgeLoop(
	ctx context.Context,
	purge func(before time.Time, limit int) (int, error),
	before time.Time,
	status string,
) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := purge(before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			purgeDeleted.WithLabelValues(status).Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
