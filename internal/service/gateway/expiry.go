package gateway

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultExpiryPollInterval = 30 * time.Second
	defaultPendingTimeout     = 3 * time.Minute
	defaultExpiryBatchSize    = 50
)

var expiredPayments = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pos_payment_expiry_closed_total",
	Help: "Total number of pending payments closed by the expiry worker.",
})

// expiryFailureReason записывается в платёж, закрытый по таймауту.
const expiryFailureReason = "payment request expired"

// ExpiryOptions задаёт параметры воркера истечения платежей.
type ExpiryOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	PendingTimeout time.Duration
	BatchSize      int
}

// ExpiryOption настраивает ExpiryWorker.
type ExpiryOption func(*ExpiryOptions)

// WithExpiryLogger задаёт logger для воркера.
func WithExpiryLogger(logger *log.Entry) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.Logger = logger
	}
}

// WithExpiryPollInterval задаёт частоту проверки зависших платежей.
func WithExpiryPollInterval(interval time.Duration) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.PollInterval = interval
	}
}

// WithPendingTimeout задаёт срок, после которого pending-платёж закрывается.
func WithPendingTimeout(timeout time.Duration) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.PendingTimeout = timeout
	}
}

// WithExpiryBatchSize задаёт размер батча за один проход.
func WithExpiryBatchSize(batchSize int) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.BatchSize = batchSize
	}
}

// ExpiryWorker закрывает платежи, по которым callback так и не пришёл.
// Плательщик может просто проигнорировать push; без воркера такая продажа
// осталась бы pending навсегда. Остатки не трогались, поэтому закрытие
// сводится к финализации с неуспешным исходом.
type ExpiryWorker struct {
	sales          domain.SaleRepository
	finalizer      PaymentFinalizer
	logger         *log.Entry
	pollInterval   time.Duration
	pendingTimeout time.Duration
	batchSize      int
}

// NewExpiryWorker создаёт воркер истечения pending-платежей.
func NewExpiryWorker(sales domain.SaleRepository, finalizer PaymentFinalizer, options ...ExpiryOption) *ExpiryWorker {
	opts := ExpiryOptions{
		PollInterval:   defaultExpiryPollInterval,
		PendingTimeout: defaultPendingTimeout,
		BatchSize:      defaultExpiryBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-expiry")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultExpiryPollInterval
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = defaultPendingTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultExpiryBatchSize
	}

	return &ExpiryWorker{
		sales:          sales,
		finalizer:      finalizer,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		pendingTimeout: opts.PendingTimeout,
		batchSize:      opts.BatchSize,
	}
}

// Run запускает периодическую проверку зависших платежей до отмены ctx.
func (w *ExpiryWorker) Run(ctx context.Context) {
	if w.sales == nil || w.finalizer == nil {
		w.logger.Warn("payment expiry worker is disabled: sales repo or finalizer is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один проход: закрывает платежи старше pendingTimeout.
func (w *ExpiryWorker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cutoff := time.Now().UTC().Add(-w.pendingTimeout)
	stale, err := w.sales.ListPendingPayments(cutoff, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list stale pending payments")
		return
	}

	for _, sale := range stale {
		if ctx.Err() != nil {
			return
		}

		outcome := domain.PaymentOutcome{Success: false, FailureReason: expiryFailureReason}
		_, applied, err := w.finalizer.FinalizeAsyncPayment(sale.Payment.CheckoutRequestID, outcome)
		if err != nil {
			w.logger.WithError(err).WithField("sale_id", sale.ID).Warn("failed to expire pending payment")
			continue
		}
		if !applied {
			// Callback успел раньше нас, это не ошибка.
			continue
		}

		expiredPayments.Inc()
		w.logger.WithFields(log.Fields{
			"sale_id":             sale.ID,
			"sale_number":         sale.Number,
			"checkout_request_id": sale.Payment.CheckoutRequestID,
			"pending_since":       sale.Payment.CreatedAt,
		}).Info("pending payment expired")
	}
}
