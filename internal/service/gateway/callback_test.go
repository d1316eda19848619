package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const successCallbackBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "merchant-1",
      "CheckoutRequestID": "ws_CO_1",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 139.0},
          {"Name": "MpesaReceiptNumber", "Value": "RCP123XYZ"},
          {"Name": "TransactionDate", "Value": 20240601123045},
          {"Name": "PhoneNumber", "Value": 254700000001}
        ]
      }
    }
  }
}`

const failureCallbackBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "merchant-1",
      "CheckoutRequestID": "ws_CO_1",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseCallback_Success(t *testing.T) {
	checkoutID, outcome, err := ParseCallback([]byte(successCallbackBody))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if checkoutID != "ws_CO_1" {
		t.Fatalf("unexpected checkout id %q", checkoutID)
	}
	if !outcome.Success {
		t.Fatal("expected success outcome")
	}
	if outcome.AmountMinor != 13900 {
		t.Fatalf("expected amount 13900 minor, got %d", outcome.AmountMinor)
	}
	if outcome.ReceiptNumber != "RCP123XYZ" {
		t.Fatalf("unexpected receipt %q", outcome.ReceiptNumber)
	}
	if outcome.PayerPhone != "254700000001" {
		t.Fatalf("unexpected payer phone %q", outcome.PayerPhone)
	}
}

func TestParseCallback_Failure(t *testing.T) {
	checkoutID, outcome, err := ParseCallback([]byte(failureCallbackBody))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if checkoutID != "ws_CO_1" {
		t.Fatalf("unexpected checkout id %q", checkoutID)
	}
	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if outcome.FailureReason != "Request cancelled by user" {
		t.Fatalf("unexpected failure reason %q", outcome.FailureReason)
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not-json"},
		{name: "missing checkout id", body: `{"Body":{"stkCallback":{"ResultCode":0}}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseCallback([]byte(tc.body)); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

// stubFinalizer фиксирует вызовы финализации для проверок обработчика.
type stubFinalizer struct {
	mu       sync.Mutex
	calls    int
	lastID   string
	lastOut  domain.PaymentOutcome
	applied  bool
	returned error
}

func (s *stubFinalizer) FinalizeAsyncPayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastID = checkoutRequestID
	s.lastOut = outcome
	return domain.Sale{}, s.applied, s.returned
}

func postCallback(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/callbacks/payment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCallbackHandler_Success(t *testing.T) {
	finalizer := &stubFinalizer{applied: true}
	handler := NewCallbackHandler(finalizer, nil)

	rec := postCallback(t, handler, successCallbackBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var ack callbackAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	if finalizer.calls != 1 {
		t.Fatalf("expected 1 finalize call, got %d", finalizer.calls)
	}
	if finalizer.lastID != "ws_CO_1" || !finalizer.lastOut.Success {
		t.Fatalf("unexpected finalize args: id=%q outcome=%+v", finalizer.lastID, finalizer.lastOut)
	}
}

func TestCallbackHandler_MalformedBody(t *testing.T) {
	finalizer := &stubFinalizer{}
	handler := NewCallbackHandler(finalizer, nil)

	rec := postCallback(t, handler, "not-json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if finalizer.calls != 0 {
		t.Fatalf("finalizer must not be called for malformed body, got %d calls", finalizer.calls)
	}
}

// Callback по неизвестному checkout id подтверждается, иначе провайдер
// будет бесконечно ретраить недоставляемое уведомление.
func TestCallbackHandler_UnknownPaymentAcked(t *testing.T) {
	finalizer := &stubFinalizer{returned: domain.ErrPaymentNotFound}
	handler := NewCallbackHandler(finalizer, nil)

	rec := postCallback(t, handler, successCallbackBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown payment, got %d", rec.Code)
	}
}

func TestCallbackHandler_FinalizeError(t *testing.T) {
	finalizer := &stubFinalizer{returned: fmt.Errorf("storage down")}
	handler := NewCallbackHandler(finalizer, nil)

	rec := postCallback(t, handler, successCallbackBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCallbackHandler_MethodNotAllowed(t *testing.T) {
	handler := NewCallbackHandler(&stubFinalizer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/callbacks/payment", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
