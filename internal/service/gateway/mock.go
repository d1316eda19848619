package gateway

import "github.com/vladislavdragonenkov/pos/internal/domain"

// Mock — конфигурируемая заглушка PaymentGateway для тестов.
type Mock struct {
	Ack domain.PushAck
	Err error

	InitiateCalls int
	// LastAmountMinor и LastPayerPhone фиксируют аргументы последнего вызова.
	LastAmountMinor int64
	LastPayerPhone  string
	LastReference   string
}

// NewMock возвращает mock с успешным сценарием по умолчанию.
func NewMock() *Mock {
	return &Mock{
		Ack: domain.PushAck{
			MerchantRequestID: "merchant-mock-1",
			CheckoutRequestID: "ws_CO_mock_1",
			CustomerMessage:   "Success. Request accepted for processing",
		},
	}
}

// InitiatePush возвращает заранее настроенный результат и считает вызовы.
func (m *Mock) InitiatePush(amountMinor int64, payerPhone, reference, description string) (domain.PushAck, error) {
	m.InitiateCalls++
	m.LastAmountMinor = amountMinor
	m.LastPayerPhone = payerPhone
	m.LastReference = reference
	return m.Ack, m.Err
}

var _ domain.PaymentGateway = (*Mock)(nil)
