package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics содержит метрики обработки продаж.
type SaleMetrics struct {
	// Счётчики операций
	salesSubmitted prometheus.Counter
	salesCompleted prometheus.Counter
	salesFailed    prometheus.Counter
	salesVoided    prometheus.Counter
	salesRefunded  prometheus.Counter
	duplicateHits  prometheus.Counter

	// Гистограмма времени обработки продажи
	submitDuration prometheus.Histogram

	// Платёжный шлюз
	pushInitiated     prometheus.Counter
	callbacksApplied  *prometheus.CounterVec
	callbacksIgnored  prometheus.Counter
	paymentsExpired   prometheus.Counter
	gatewayBreakerHit prometheus.Counter

	// Gauge для платежей, ожидающих callback
	pendingPayments prometheus.Gauge
}

// NewSaleMetrics создаёт новый экземпляр метрик продаж.
func NewSaleMetrics() *SaleMetrics {
	return newSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SaleMetrics{
		salesSubmitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_submitted_total",
			Help: "Total number of sale submissions accepted for processing",
		}),
		salesCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_completed_total",
			Help: "Total number of sales completed successfully",
		}),
		salesFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_failed_total",
			Help: "Total number of sales that failed",
		}),
		salesVoided: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_voided_total",
			Help: "Total number of sales voided",
		}),
		salesRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_refunded_total",
			Help: "Total number of sales refunded",
		}),
		duplicateHits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_duplicate_submissions_total",
			Help: "Total number of submissions short-circuited by idempotency key",
		}),
		submitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_submit_duration_seconds",
			Help:    "Duration of sale submission processing in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		pushInitiated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_payment_push_initiated_total",
			Help: "Total number of mobile money push payments initiated",
		}),
		callbacksApplied: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_payment_callbacks_applied_total",
			Help: "Total number of gateway callbacks that finalized a payment",
		}, []string{"outcome"}),
		callbacksIgnored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_payment_callbacks_ignored_total",
			Help: "Total number of duplicate or late gateway callbacks ignored",
		}),
		paymentsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_payments_expired_total",
			Help: "Total number of pending payments expired by the reaper",
		}),
		gatewayBreakerHit: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_gateway_breaker_open_total",
			Help: "Total number of push attempts rejected by the open circuit breaker",
		}),
		pendingPayments: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_pending_payments",
			Help: "Number of payments currently awaiting gateway callback",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSaleSubmitted увеличивает счётчик принятых продаж.
func (m *SaleMetrics) RecordSaleSubmitted() {
	m.salesSubmitted.Inc()
}

// RecordSaleCompleted увеличивает счётчик завершённых продаж.
func (m *SaleMetrics) RecordSaleCompleted() {
	m.salesCompleted.Inc()
}

// RecordSaleFailed увеличивает счётчик неудачных продаж.
func (m *SaleMetrics) RecordSaleFailed() {
	m.salesFailed.Inc()
}

// RecordSaleVoided увеличивает счётчик аннулированных продаж.
func (m *SaleMetrics) RecordSaleVoided() {
	m.salesVoided.Inc()
}

// RecordSaleRefunded увеличивает счётчик возвратов.
func (m *SaleMetrics) RecordSaleRefunded() {
	m.salesRefunded.Inc()
}

// RecordDuplicateSubmission увеличивает счётчик повторных отправок.
func (m *SaleMetrics) RecordDuplicateSubmission() {
	m.duplicateHits.Inc()
}

// RecordSubmitDuration записывает время обработки продажи.
func (m *SaleMetrics) RecordSubmitDuration(duration time.Duration) {
	m.submitDuration.Observe(duration.Seconds())
}

// RecordPushInitiated увеличивает счётчик инициированных push-платежей
// и количество ожидающих callback платежей.
func (m *SaleMetrics) RecordPushInitiated() {
	m.pushInitiated.Inc()
	m.pendingPayments.Inc()
}

// RecordCallbackApplied фиксирует применённый callback с его исходом.
func (m *SaleMetrics) RecordCallbackApplied(outcome string) {
	m.callbacksApplied.WithLabelValues(outcome).Inc()
	m.pendingPayments.Dec()
}

// RecordCallbackIgnored увеличивает счётчик проигнорированных callback.
func (m *SaleMetrics) RecordCallbackIgnored() {
	m.callbacksIgnored.Inc()
}

// RecordPaymentExpired фиксирует платёж, закрытый по таймауту.
func (m *SaleMetrics) RecordPaymentExpired() {
	m.paymentsExpired.Inc()
	m.pendingPayments.Dec()
}

// RecordBreakerOpen увеличивает счётчик отказов открытого circuit breaker.
func (m *SaleMetrics) RecordBreakerOpen() {
	m.gatewayBreakerHit.Inc()
}
