package order_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxymart/proxymart/internal/order"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from order.Status
		to   order.Status
		want bool
	}{
		{"pending_to_paid", order.StatusPending, order.StatusPaid, true},
		{"pending_to_cancelled", order.StatusPending, order.StatusCancelled, true},
		{"pending_to_expired", order.StatusPending, order.StatusExpired, true},
		{"pending_to_completed", order.StatusPending, order.StatusCompleted, false},
		{"paid_to_completed", order.StatusPaid, order.StatusCompleted, true},
		{"paid_to_cancelled", order.StatusPaid, order.StatusCancelled, true},
		{"paid_to_expired", order.StatusPaid, order.StatusExpired, false},
		{"paid_to_pending", order.StatusPaid, order.StatusPending, false},
		{"completed_is_terminal", order.StatusCompleted, order.StatusCancelled, false},
		{"cancelled_is_terminal", order.StatusCancelled, order.StatusPaid, false},
		{"expired_is_terminal", order.StatusExpired, order.StatusPaid, false},
		{"expired_cannot_complete", order.StatusExpired, order.StatusCompleted, false},
		{"same_status_is_not_a_transition", order.StatusPending, order.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, order.CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, order.StatusPending.Terminal())
	assert.False(t, order.StatusPaid.Terminal())
	assert.True(t, order.StatusCompleted.Terminal())
	assert.True(t, order.StatusCancelled.Terminal())
	assert.True(t, order.StatusExpired.Terminal())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, order.StatusPaid.Valid())
	assert.False(t, order.Status("shipped").Valid())
	assert.False(t, order.Status("").Valid())
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	number, err := order.NewOrderNumber(now)
	require.NoError(t, err)

	parts := strings.Split(number, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "ORD", parts[0])
	assert.Equal(t, "20260829", parts[1])
	assert.Len(t, parts[2], 8)
	assert.Equal(t, strings.ToUpper(parts[2]), parts[2])

	// Random suffix makes consecutive numbers distinct.
	other, err := order.NewOrderNumber(now)
	require.NoError(t, err)
	assert.NotEqual(t, number, other)
}
