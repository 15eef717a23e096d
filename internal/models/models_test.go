package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		allowed  bool
	}{
		{OrderStatusPending, OrderStatusPreparing, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPreparing, OrderStatusReady, true},
		{OrderStatusPreparing, OrderStatusCancelled, true},
		{OrderStatusReady, OrderStatusCompleted, true},
		{OrderStatusReady, OrderStatusCancelled, true},

		// no skipping forward
		{OrderStatusPending, OrderStatusReady, false},
		{OrderStatusPending, OrderStatusCompleted, false},
		{OrderStatusPreparing, OrderStatusCompleted, false},

		// terminal states accept nothing
		{OrderStatusCompleted, OrderStatusPreparing, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusCompleted, false},

		// no self transitions
		{OrderStatusPending, OrderStatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(OrderStatusCompleted))
	assert.True(t, IsTerminal(OrderStatusCancelled))
	assert.False(t, IsTerminal(OrderStatusPending))
	assert.False(t, IsTerminal(OrderStatusPreparing))
	assert.False(t, IsTerminal(OrderStatusReady))
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(OrderStatusPending))
	assert.True(t, ValidStatus(OrderStatusCompleted))
	assert.False(t, ValidStatus("shipped"))
	assert.False(t, ValidStatus(""))
}

func TestDeliveryAddressRoundTrip(t *testing.T) {
	addr := &DeliveryAddress{
		Line1:      "12 Baker Street",
		City:       "Springfield",
		PostalCode: "12345",
	}

	encoded, err := addr.Encode()
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeDeliveryAddress(encoded)
	require.NoError(t, err)
	assert.Equal(t, addr, decoded)
}

func TestDeliveryAddressEmpty(t *testing.T) {
	var addr *DeliveryAddress
	encoded, err := addr.Encode()
	require.NoError(t, err)
	assert.Empty(t, encoded)

	decoded, err := DecodeDeliveryAddress("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{From: OrderStatusCompleted, To: OrderStatusPreparing}
	assert.Contains(t, err.Error(), "completed")
	assert.Contains(t, err.Error(), "preparing")
}
