package supplier

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proxymart/proxymart/internal/integration"
)

const providerName = "711proxy"

type Seven11Config struct {
	BaseURL  string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
}

// Seven11 is the client for the 711proxy supplier API.
type Seven11 struct {
	cfg    Seven11Config
	client *integration.Client
}

func NewSeven11(cfg Seven11Config) *Seven11 {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://service.711proxy.com/api"
	}
	return &Seven11{
		cfg:    cfg,
		client: integration.NewClient(providerName, cfg.BaseURL, cfg.Timeout),
	}
}

func (s *Seven11) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + s.cfg.APIKey,
		"X-Username":    s.cfg.Username,
		"X-Password":    s.cfg.Password,
	}
}

type seven11Envelope struct {
	Success *bool          `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *seven11Envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

func (s *Seven11) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	const op = "purchase"

	if s.cfg.APIKey == "" {
		return nil, integration.Errorf(providerName, op, "api key not configured")
	}
	if req.Quantity <= 0 {
		return nil, integration.Errorf(providerName, op, "quantity must be positive, got %d", req.Quantity)
	}
	if req.DurationDays <= 0 {
		return nil, integration.Errorf(providerName, op, "duration must be positive, got %d", req.DurationDays)
	}

	format := req.Format
	if format == "" {
		format = "ip:port:user:pass"
	}
	body := map[string]any{
		"product_id":    req.ProductExternalID,
		"quantity":      req.Quantity,
		"duration_days": req.DurationDays,
		"format":        format,
	}
	if req.Country != "" {
		body["country"] = strings.ToUpper(req.Country)
	}

	var resp map[string]any
	if err := s.client.Do(ctx, "POST", "/purchase", s.authHeaders(), body, &resp); err != nil {
		return nil, err
	}
	if success, ok := resp["success"].(bool); ok && !success {
		return nil, integration.Errorf(providerName, op, "purchase rejected: %v", resp["message"])
	}

	result := &PurchaseResult{
		ProxyList:       normalizeProxyList(firstOf(resp, "proxies", "proxy_list")),
		ProviderOrderID: stringOf(firstOf(resp, "order_id", "provider_order_id")),
		ExpiresAt:       parseExpiry(firstOf(resp, "expires_at", "expiry_date")),
	}
	result.Username = stringOf(firstOf(resp, "username"))
	result.Password = stringOf(firstOf(resp, "password"))
	if auth, ok := resp["auth"].(map[string]any); ok {
		if result.Username == "" {
			result.Username = stringOf(auth["username"])
		}
		if result.Password == "" {
			result.Password = stringOf(auth["password"])
		}
	}

	if result.ProxyList == "" {
		return nil, integration.Errorf(providerName, op, "purchase response carries no proxies")
	}
	if result.ProviderOrderID == "" {
		return nil, integration.Errorf(providerName, op, "purchase response carries no order id")
	}

	log.Info().
		Str("product_external_id", req.ProductExternalID).
		Int("quantity", req.Quantity).
		Str("provider_order_id", result.ProviderOrderID).
		Msg("supplier: proxies purchased")
	return result, nil
}

func (s *Seven11) GetStatus(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	const op = "get_status"

	if providerOrderID == "" {
		return nil, integration.Errorf(providerName, op, "provider order id is required")
	}

	var envelope seven11Envelope
	if err := s.client.Do(ctx, "GET", "/orders/"+providerOrderID+"/status", s.authHeaders(), nil, &envelope); err != nil {
		return nil, err
	}
	if envelope.failed() {
		return nil, integration.Errorf(providerName, op, "status request rejected: %s", envelope.Message)
	}

	status := &OrderStatus{
		ProviderOrderID: providerOrderID,
		Status:          stringOf(envelope.Data["status"]),
		TrafficUsedGB:   decimal.Zero,
		ExpiresAt:       parseExpiry(envelope.Data["expires_at"]),
	}
	if status.Status == "" {
		status.Status = "unknown"
	}
	if used := stringOf(envelope.Data["traffic_used"]); used != "" {
		// Providers report "12.34 GB"; keep the number, drop the unit.
		numeric := strings.TrimSpace(strings.TrimSuffix(strings.ToUpper(used), "GB"))
		if parsed, err := decimal.NewFromString(strings.TrimSpace(numeric)); err == nil {
			status.TrafficUsedGB = parsed
		}
	}
	return status, nil
}

func (s *Seven11) Extend(ctx context.Context, providerOrderID string, days int) (*ExtendResult, error) {
	const op = "extend"

	if providerOrderID == "" {
		return nil, integration.Errorf(providerName, op, "provider order id is required")
	}
	if days <= 0 {
		return nil, integration.Errorf(providerName, op, "extension days must be positive, got %d", days)
	}

	body := map[string]any{
		"order_id":    providerOrderID,
		"extend_days": days,
	}

	var envelope seven11Envelope
	if err := s.client.Do(ctx, "POST", "/orders/"+providerOrderID+"/extend", s.authHeaders(), body, &envelope); err != nil {
		return nil, err
	}
	if envelope.failed() {
		return nil, integration.Errorf(providerName, op, "extension rejected: %s", envelope.Message)
	}

	result := &ExtendResult{
		ProviderOrderID: providerOrderID,
		NewExpiresAt:    parseExpiry(envelope.Data["expires_at"]),
		Cost:            decimal.Zero,
	}
	if cost := stringOf(envelope.Data["cost"]); cost != "" {
		if parsed, err := decimal.NewFromString(cost); err == nil {
			result.Cost = parsed
		}
	}

	log.Info().Str("provider_order_id", providerOrderID).Int("extend_days", days).Msg("supplier: order extended")
	return result, nil
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// normalizeProxyList accepts either a newline-joined string or a JSON
// array of proxies and renders one proxy per line.
func normalizeProxyList(v any) string {
	switch list := v.(type) {
	case string:
		return list
	case []any:
		lines := make([]string, 0, len(list))
		for _, entry := range list {
			if s := stringOf(entry); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return ""
	}
}

// parseExpiry is deliberately lenient: providers answer with ISO
// timestamps, bare dates or unix seconds depending on the endpoint.
func parseExpiry(v any) *time.Time {
	switch value := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return &t
			}
		}
		return nil
	case float64:
		t := time.Unix(int64(value), 0).UTC()
		return &t
	default:
		return nil
	}
}
