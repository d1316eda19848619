package gateway

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker отсекает обращения к шлюзу после серии отказов, давая
// провайдеру время восстановиться. Инициация push и callback-обработка
// конкурентны, поэтому состояние защищено мьютексом.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// Execute выполняет операцию через circuit breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return domain.ErrGatewayUnavailable
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("Circuit breaker opened")
		}
		return err
	}

	// Успешное выполнение - сбрасываем счётчик
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.failures = 0
	return nil
}

// State возвращает текущее состояние breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerGateway оборачивает PaymentGateway circuit breaker-защитой.
type BreakerGateway struct {
	gateway domain.PaymentGateway
	breaker *CircuitBreaker
}

// NewBreakerGateway создаёт шлюз с circuit breaker.
func NewBreakerGateway(gateway domain.PaymentGateway, breaker *CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{gateway: gateway, breaker: breaker}
}

// InitiatePush выполняет инициацию push через circuit breaker. При открытой
// цепи возвращается ErrGatewayUnavailable без обращения к провайдеру.
func (bg *BreakerGateway) InitiatePush(amountMinor int64, payerPhone, reference, description string) (domain.PushAck, error) {
	var ack domain.PushAck
	err := bg.breaker.Execute("InitiatePush", func() error {
		var innerErr error
		ack, innerErr = bg.gateway.InitiatePush(amountMinor, payerPhone, reference, description)
		return innerErr
	})
	if err != nil {
		return domain.PushAck{}, err
	}
	return ack, nil
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
