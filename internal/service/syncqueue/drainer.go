package syncqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

const (
	defaultDrainPollInterval = 5 * time.Second
	defaultDrainBatchSize    = 100
	defaultDrainStaleAfter   = 5 * time.Minute
)

var (
	drainAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sync_drain_attempts_total",
		Help: "Total number of sync queue drain attempts grouped by result.",
	}, []string{"result"})
	deadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sync_dead_letter_total",
		Help: "Total number of sync queue items moved to dead-letter.",
	})
	pendingItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_sync_pending_items",
		Help: "Current number of pending and in-flight items in the offline sync queue.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_sync_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending sync queue item.",
	})
)

// DeadLetterPublisher публикует исчерпавшие повторы элементы в DLQ-топик.
// Реализуется kafka.Producer.
type DeadLetterPublisher interface {
	PublishDeadLetter(event *kafka.DeadLetterEvent) error
}

// DrainerOptions задаёт параметры drain-воркера.
type DrainerOptions struct {
	Logger       *log.Entry
	DLQPublisher DeadLetterPublisher
	PollInterval time.Duration
	BatchSize    int
	// StaleAfter — порог, после которого processing-элемент считается
	// брошенным умершим проходом и возвращается в pending.
	StaleAfter time.Duration
}

// Option настраивает Drainer.
type Option func(*DrainerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *DrainerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для dead-letter элементов.
func WithDLQPublisher(publisher DeadLetterPublisher) Option {
	return func(opts *DrainerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса очереди.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *DrainerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *DrainerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithStaleAfter задаёт порог возврата брошенных processing-элементов.
func WithStaleAfter(staleAfter time.Duration) Option {
	return func(opts *DrainerOptions) {
		opts.StaleAfter = staleAfter
	}
}

// Drainer реплеит pending-элементы офлайн-очереди через Handler.
// Одновременно работает не более одного прохода drain: повторный вход
// (по тикеру или ручному вызову) пропускается, а не выстраивается в очередь.
type Drainer struct {
	repo         domain.SyncQueueRepository
	handler      Handler
	dlqPublisher DeadLetterPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration

	draining atomic.Bool
}

// NewDrainer создаёт drain-воркер офлайн-очереди.
func NewDrainer(repo domain.SyncQueueRepository, handler Handler, options ...Option) *Drainer {
	opts := DrainerOptions{
		PollInterval: defaultDrainPollInterval,
		BatchSize:    defaultDrainBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-drainer")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultDrainPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultDrainBatchSize
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultDrainStaleAfter
	}

	return &Drainer{
		repo:         repo,
		handler:      handler,
		dlqPublisher: opts.DLQPublisher,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		staleAfter:   opts.StaleAfter,
	}
}

// Run запускает периодический drain очереди до отмены ctx.
func (d *Drainer) Run(ctx context.Context) {
	if d.repo == nil || d.handler == nil {
		d.logger.Warn("sync drainer is disabled: repo or handler is nil")
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один проход drain. Возвращает число элементов,
// обработанных в этом проходе; 0 также означает, что проход был пропущен
// из-за уже идущего drain.
func (d *Drainer) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	if !d.draining.CompareAndSwap(false, true) {
		d.logger.Debug("drain pass already in progress, skipping")
		return 0
	}
	defer d.draining.Store(false)

	d.reclaimStale()
	d.refreshBacklogMetrics()

	items, err := d.repo.PullPending(d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to pull pending sync items")
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		d.drainItem(item)
		processed++
	}

	d.refreshBacklogMetrics()
	return processed
}

// reclaimStale возвращает в pending элементы, которые предыдущий проход
// захватил, но не завершил (процесс умер между MarkProcessing и финальным
// статусом). Без возврата такой элемент завис бы в processing навсегда.
func (d *Drainer) reclaimStale() {
	reclaimed, err := d.repo.ReclaimStale(time.Now().UTC().Add(-d.staleAfter), d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to reclaim stale sync items")
		return
	}
	if reclaimed > 0 {
		d.logger.WithField("count", reclaimed).Warn("reclaimed sync items abandoned in processing")
	}
}

func (d *Drainer) drainItem(item domain.SyncQueueItem) {
	if err := d.repo.MarkProcessing(item.ID); err != nil {
		d.logger.WithError(err).WithField("item_id", item.ID).Warn("failed to mark sync item processing")
		return
	}

	if err := d.handler.Handle(item); err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"item_id":     item.ID,
			"item_type":   item.Type,
			"retry_count": item.RetryCount,
		}).Warn("sync item replay failed")
		drainAttempts.WithLabelValues("failed").Inc()

		updated, markErr := d.repo.MarkFailedAttempt(item.ID, err.Error())
		if markErr != nil {
			d.logger.WithError(markErr).WithField("item_id", item.ID).Warn("failed to record sync replay failure")
			return
		}
		if updated.Status == domain.SyncItemStatusFailed {
			d.moveToDeadLetter(updated)
		}
		return
	}

	if err := d.repo.MarkCompleted(item.ID); err != nil {
		d.logger.WithError(err).WithField("item_id", item.ID).Warn("failed to mark sync item completed")
		return
	}
	drainAttempts.WithLabelValues("replayed").Inc()
}

// moveToDeadLetter публикует dead-letter событие для элемента, исчерпавшего
// бюджет повторов. Сам элемент остаётся в хранилище со статусом failed
// для ручного разбора.
func (d *Drainer) moveToDeadLetter(item domain.SyncQueueItem) {
	deadLetters.Inc()
	d.logger.WithFields(log.Fields{
		"item_id":     item.ID,
		"item_type":   item.Type,
		"retry_count": item.RetryCount,
		"last_error":  item.LastError,
	}).Error("sync item exhausted retry budget, moved to dead-letter")

	if d.dlqPublisher == nil {
		return
	}
	event := kafka.NewDeadLetterEvent(item.ID, string(item.Type), item.RetryCount, item.LastError, item.Payload)
	if err := d.dlqPublisher.PublishDeadLetter(event); err != nil {
		d.logger.WithError(err).WithField("item_id", item.ID).Warn("failed to publish dead letter event")
	}
}

func (d *Drainer) refreshBacklogMetrics() {
	stats, err := d.repo.Stats()
	if err != nil {
		d.logger.WithError(err).Warn("failed to collect sync queue stats")
		return
	}

	pendingItems.Set(float64(stats.PendingCount + stats.ProcessingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	oldestPendingAge.Set(age)
}
