package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// resultCodeSuccess — код результата провайдера, означающий успешную оплату.
const resultCodeSuccess = 0

// PaymentFinalizer применяет исход платежа к продаже. Реализуется оркестратором.
type PaymentFinalizer interface {
	FinalizeAsyncPayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error)
}

// callbackEnvelope повторяет структуру callback провайдера. На неуспехе
// CallbackMetadata отсутствует, поэтому разбор всюду допускает пустые поля.
type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback разбирает тело callback провайдера в нормализованный исход.
// Возвращает checkout request ID для сопоставления с продажей.
func ParseCallback(raw []byte) (string, domain.PaymentOutcome, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", domain.PaymentOutcome{}, fmt.Errorf("decode callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return "", domain.PaymentOutcome{}, fmt.Errorf("callback without checkout request id")
	}

	if cb.ResultCode != resultCodeSuccess {
		return cb.CheckoutRequestID, domain.PaymentOutcome{
			Success:       false,
			FailureReason: cb.ResultDesc,
		}, nil
	}

	outcome := domain.PaymentOutcome{Success: true}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				// Провайдер оперирует целыми денежными единицами.
				outcome.AmountMinor = int64(v * 100)
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				outcome.ReceiptNumber = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				outcome.PayerPhone = v
			case float64:
				outcome.PayerPhone = fmt.Sprintf("%.0f", v)
			}
		}
	}
	return cb.CheckoutRequestID, outcome, nil
}

// CallbackHandler — HTTP-обработчик callback провайдера. Провайдер ждёт
// ответ 200 с нулевым ResultCode; любой другой ответ провоцирует повторную
// доставку, поэтому дубликаты здесь штатный случай.
type CallbackHandler struct {
	finalizer PaymentFinalizer
	logger    *log.Entry
}

// NewCallbackHandler создаёт обработчик callback.
func NewCallbackHandler(finalizer PaymentFinalizer, logger *log.Entry) *CallbackHandler {
	if logger == nil {
		logger = log.WithField("component", "gateway-callback")
	}
	return &CallbackHandler{finalizer: finalizer, logger: logger}
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	raw, err := decodeBody(r)
	if err != nil {
		h.logger.WithError(err).Warn("unreadable callback body")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	checkoutRequestID, outcome, err := ParseCallback(raw)
	if err != nil {
		h.logger.WithError(err).Warn("malformed callback")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	_, applied, err := h.finalizer.FinalizeAsyncPayment(checkoutRequestID, outcome)
	if err != nil {
		if domain.IsNotFound(err) {
			// Неизвестный checkout id: подтверждаем приём, чтобы провайдер
			// не ретраил callback, которому не суждено сопоставиться.
			h.logger.WithField("checkout_request_id", checkoutRequestID).Warn("callback for unknown payment")
			writeAck(w)
			return
		}
		h.logger.WithError(err).WithField("checkout_request_id", checkoutRequestID).Error("finalize payment failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(log.Fields{
		"checkout_request_id": checkoutRequestID,
		"success":             outcome.Success,
		"applied":             applied,
	}).Info("payment callback processed")
	writeAck(w)
}

func decodeBody(r *http.Request) ([]byte, error) {
	const maxBodySize = 1 << 20
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

var _ http.Handler = (*CallbackHandler)(nil)
