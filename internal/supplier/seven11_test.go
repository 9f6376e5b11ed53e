package supplier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *Seven11 {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSeven11(Seven11Config{
		BaseURL:  srv.URL,
		APIKey:   "api-key",
		Username: "acct",
		Password: "secret",
	})
}

func TestSeven11_Purchase(t *testing.T) {
	var gotAuth, gotUser, gotPass string
	var gotBody map[string]any

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/purchase", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("X-Username")
		gotPass = r.Header.Get("X-Password")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"order_id":   "711-555",
			"proxies":    []string{"1.2.3.4:8080:u:p", "5.6.7.8:8080:u:p"},
			"username":   "proxyuser",
			"password":   "proxypass",
			"expires_at": "2026-09-28T12:00:00Z",
		})
	})

	result, err := p.Purchase(context.Background(), PurchaseRequest{
		ProductExternalID: "res-us",
		Quantity:          2,
		DurationDays:      30,
		Country:           "us",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer api-key", gotAuth)
	assert.Equal(t, "acct", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "US", gotBody["country"])
	assert.Equal(t, "ip:port:user:pass", gotBody["format"])

	assert.Equal(t, "711-555", result.ProviderOrderID)
	assert.Equal(t, "1.2.3.4:8080:u:p\n5.6.7.8:8080:u:p", result.ProxyList)
	assert.Equal(t, "proxyuser", result.Username)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, time.Date(2026, 9, 28, 12, 0, 0, 0, time.UTC), result.ExpiresAt.UTC())
}

func TestSeven11_Purchase_Rejected(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "out of stock"})
	})

	_, err := p.Purchase(context.Background(), PurchaseRequest{
		ProductExternalID: "res-us",
		Quantity:          1,
		DurationDays:      30,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of stock")
}

func TestSeven11_Purchase_MissingProxies(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "order_id": "711-1"})
	})

	_, err := p.Purchase(context.Background(), PurchaseRequest{
		ProductExternalID: "res-us",
		Quantity:          1,
		DurationDays:      30,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proxies")
}

func TestSeven11_Purchase_Validation(t *testing.T) {
	p := NewSeven11(Seven11Config{APIKey: "k"})

	_, err := p.Purchase(context.Background(), PurchaseRequest{Quantity: 0, DurationDays: 30})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be positive")
}

func TestSeven11_GetStatus(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/711-555/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"status":       "active",
				"traffic_used": "12.34 GB",
				"expires_at":   "2026-09-28 12:00:00",
			},
		})
	})

	status, err := p.GetStatus(context.Background(), "711-555")
	require.NoError(t, err)
	assert.Equal(t, "active", status.Status)
	assert.Equal(t, "12.34", status.TrafficUsedGB.String())
	require.NotNil(t, status.ExpiresAt)
}

func TestSeven11_Extend(t *testing.T) {
	var gotBody map[string]any
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/711-555/extend", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"expires_at": "2026-10-28T12:00:00Z",
				"cost":       "5.00",
			},
		})
	})

	result, err := p.Extend(context.Background(), "711-555", 30)
	require.NoError(t, err)
	assert.Equal(t, float64(30), gotBody["extend_days"])
	assert.Equal(t, "5", result.Cost.String())
	require.NotNil(t, result.NewExpiresAt)
}

func TestParseExpiry(t *testing.T) {
	unix := parseExpiry(float64(1790000000))
	require.NotNil(t, unix)
	assert.Equal(t, int64(1790000000), unix.Unix())

	date := parseExpiry("2026-09-28")
	require.NotNil(t, date)
	assert.Equal(t, "2026-09-28", date.Format("2006-01-02"))

	assert.Nil(t, parseExpiry("not a date"))
	assert.Nil(t, parseExpiry(nil))
}
