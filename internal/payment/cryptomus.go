package payment

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proxymart/proxymart/internal/integration"
)

const providerName = "cryptomus"

// paymentLifetimeSeconds bounds how long a created payment stays
// payable on the gateway side. Capped at two hours by the provider.
const paymentLifetimeSeconds = 3600

type CryptomusConfig struct {
	BaseURL       string
	MerchantID    string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	FailURL       string
	Timeout       time.Duration
}

// Cryptomus is the gateway client for the Cryptomus crypto payment API.
type Cryptomus struct {
	cfg    CryptomusConfig
	client *integration.Client
}

func NewCryptomus(cfg CryptomusConfig) *Cryptomus {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cryptomus.com/v1"
	}
	return &Cryptomus{
		cfg:    cfg,
		client: integration.NewClient(providerName, cfg.BaseURL, cfg.Timeout),
	}
}

// sign computes the request signature: an MD5 HMAC keyed with the API
// key over the base64 of the canonical JSON body.
func (c *Cryptomus) sign(body any) (string, error) {
	data, err := integration.CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	mac := hmac.New(md5.New, []byte(c.cfg.APIKey))
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// webhookSign computes the webhook signature: an MD5 HMAC keyed with
// the webhook secret over the canonical JSON of the payload without its
// sign field.
func (c *Cryptomus) webhookSign(payload map[string]any) (string, error) {
	data, err := integration.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(md5.New, []byte(c.cfg.WebhookSecret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

type cryptomusEnvelope struct {
	State   int             `json:"state"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (c *Cryptomus) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	const op = "create_payment"

	if !req.Amount.IsPositive() {
		return nil, integration.Errorf(providerName, op, "payment amount must be positive, got %s", req.Amount)
	}
	if c.cfg.APIKey == "" || c.cfg.MerchantID == "" {
		return nil, integration.Errorf(providerName, op, "api credentials not configured")
	}
	if len(req.OrderReference) > 50 {
		return nil, integration.Errorf(providerName, op, "order reference too long")
	}

	body := map[string]any{
		"amount":       req.Amount.String(),
		"currency":     req.Currency,
		"order_id":     req.OrderReference,
		"merchant":     c.cfg.MerchantID,
		"url_callback": req.CallbackURL,
		"url_success":  c.cfg.SuccessURL,
		"url_return":   c.cfg.FailURL,
		"lifetime":     paymentLifetimeSeconds,
	}

	sign, err := c.sign(body)
	if err != nil {
		return nil, &integration.Error{Provider: providerName, Op: op, Err: err}
	}
	headers := map[string]string{
		"merchant": c.cfg.MerchantID,
		"sign":     sign,
	}

	var envelope cryptomusEnvelope
	if err := c.client.Do(ctx, "POST", "/payment", headers, body, &envelope); err != nil {
		return nil, err
	}
	if envelope.State != 0 {
		return nil, integration.Errorf(providerName, op, "payment creation rejected: %s", envelope.Message)
	}

	var result struct {
		UUID string `json:"uuid"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, integration.Errorf(providerName, op, "malformed payment result: %v", err)
	}
	if result.UUID == "" || result.URL == "" {
		return nil, integration.Errorf(providerName, op, "payment result missing uuid or url")
	}

	log.Info().
		Str("order_reference", req.OrderReference).
		Str("payment_id", result.UUID).
		Str("amount", req.Amount.String()).
		Msg("payment: cryptomus payment created")

	return &Payment{PaymentID: result.UUID, RedirectURL: result.URL}, nil
}

func (c *Cryptomus) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	const op = "parse_webhook"

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, integration.Errorf(providerName, op, "malformed webhook payload: %v", err)
	}

	received, _ := raw["sign"].(string)
	if received == "" {
		return nil, integration.Errorf(providerName, op, "webhook payload carries no signature")
	}
	delete(raw, "sign")

	expected, err := c.webhookSign(raw)
	if err != nil {
		return nil, &integration.Error{Provider: providerName, Op: op, Err: err}
	}
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, integration.Errorf(providerName, op, "invalid webhook signature")
	}

	event := &WebhookEvent{}
	if v, ok := raw["uuid"].(string); ok {
		event.PaymentID = v
	}
	if v, ok := raw["order_id"].(string); ok {
		event.OrderReference = v
	}

	switch v := raw["amount"].(type) {
	case string:
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, integration.Errorf(providerName, op, "malformed webhook amount %q", v)
		}
		event.Amount = amount
	case float64:
		event.Amount = decimal.NewFromFloat(v)
	default:
		return nil, integration.Errorf(providerName, op, "webhook payload carries no amount")
	}

	status, _ := raw["status"].(string)
	event.Status = MapProviderStatus(status)
	return event, nil
}

func (c *Cryptomus) Refund(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) error {
	const op = "refund"

	if paymentID == "" {
		return integration.Errorf(providerName, op, "payment id is required")
	}
	if !amount.IsPositive() {
		return integration.Errorf(providerName, op, "refund amount must be positive, got %s", amount)
	}

	body := map[string]any{
		"uuid":     paymentID,
		"merchant": c.cfg.MerchantID,
		"amount":   amount.String(),
		"currency": currency,
	}
	sign, err := c.sign(body)
	if err != nil {
		return &integration.Error{Provider: providerName, Op: op, Err: err}
	}
	headers := map[string]string{
		"merchant": c.cfg.MerchantID,
		"sign":     sign,
	}

	var envelope cryptomusEnvelope
	if err := c.client.Do(ctx, "POST", "/payment/refund", headers, body, &envelope); err != nil {
		return err
	}
	if envelope.State != 0 {
		return integration.Errorf(providerName, op, "refund rejected: %s", envelope.Message)
	}

	log.Info().Str("payment_id", paymentID).Str("amount", amount.String()).Msg("payment: cryptomus refund issued")
	return nil
}

// MapProviderStatus folds the gateway's status vocabulary into the
// internal one.
func MapProviderStatus(providerStatus string) Status {
	switch strings.ToLower(providerStatus) {
	case "paid", "paid_over", "confirmed":
		return StatusCompleted
	case "cancel":
		return StatusCancelled
	case "fail", "wrong_amount", "timeout", "expired":
		return StatusFailed
	default:
		return StatusPending
	}
}
