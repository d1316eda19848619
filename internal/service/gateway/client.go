// Package gateway реализует адаптер push-платежей мобильных денег:
// инициация STK-запроса, разбор callback и воркер истечения pending-платежей.
package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	timestampLayout = "20060102150405"

	defaultHTTPTimeout = 10 * time.Second
	// tokenSafetyMargin — запас до фактического истечения access token.
	tokenSafetyMargin = 30 * time.Second
)

// Config задаёт параметры подключения к провайдеру push-платежей.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Client — HTTP-клиент провайдера push-платежей. Реализует domain.PaymentGateway.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Entry

	// now подменяется в тестах для детерминированных timestamp/password.
	now func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient создаёт клиент провайдера push-платежей.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "payment-gateway")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePush просит провайдера показать плательщику запрос на оплату.
// Сумма передаётся в целых денежных единицах: провайдер не принимает копейки,
// остаток округляется вверх, чтобы не недобрать оплату.
func (c *Client) InitiatePush(amountMinor int64, payerPhone, reference, description string) (domain.PushAck, error) {
	token, err := c.token()
	if err != nil {
		return domain.PushAck{}, fmt.Errorf("gateway auth: %w", err)
	}

	timestamp := c.now().Format(timestampLayout)
	body := pushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            (amountMinor + 99) / 100,
		PartyA:            payerPhone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       payerPhone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.PushAck{}, fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(payload))
	if err != nil {
		return domain.PushAck{}, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.PushAck{}, fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.PushAck{}, fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(log.Fields{
			"status":    resp.StatusCode,
			"reference": reference,
		}).Warn("push request rejected")
		return domain.PushAck{}, fmt.Errorf("push rejected with status %d", resp.StatusCode)
	}

	var parsed pushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.PushAck{}, fmt.Errorf("decode push response: %w", err)
	}
	if parsed.ResponseCode != "0" {
		return domain.PushAck{}, fmt.Errorf("push declined: %s", parsed.ResponseDescription)
	}

	c.logger.WithFields(log.Fields{
		"merchant_request_id": parsed.MerchantRequestID,
		"checkout_request_id": parsed.CheckoutRequestID,
		"reference":           reference,
	}).Debug("push initiated")

	return domain.PushAck{
		MerchantRequestID: parsed.MerchantRequestID,
		CheckoutRequestID: parsed.CheckoutRequestID,
		CustomerMessage:   parsed.CustomerMessage,
	}, nil
}

// password собирает time-boxed пароль запроса: base64(shortcode + passkey + timestamp).
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}

// token возвращает закэшированный access token, обновляя его при истечении.
func (c *Client) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	ttl := 3600 * time.Second
	if parsed.ExpiresIn != "" {
		var seconds int64
		if _, err := fmt.Sscanf(parsed.ExpiresIn, "%d", &seconds); err == nil && seconds > 0 {
			ttl = time.Duration(seconds) * time.Second
		}
	}

	c.accessToken = parsed.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenSafetyMargin)
	return c.accessToken, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
