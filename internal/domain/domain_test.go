package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentState_Predicates(t *testing.T) {
	tests := []struct {
		state       PaymentState
		terminal    bool
		stops       bool
		recoverable bool
	}{
		{PaymentStatePending, false, false, false},
		{PaymentStateProcessing, false, false, false},
		{PaymentStateCompleted, true, true, false},
		{PaymentStateFailed, true, true, true},
		{PaymentStateCancelled, true, true, true},
		{PaymentStateTimeout, false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.stops, tt.state.StopsPolling())
			assert.Equal(t, tt.recoverable, tt.state.IsRecoverable())
		})
	}
}

func TestOrder_NeedsReconciliation(t *testing.T) {
	mpesa := Order{PaymentMethod: PaymentMethodSelection{Method: PaymentMethodMPesa}, MPesaCheckoutRequestID: "ws_CO_1"}
	assert.True(t, mpesa.NeedsReconciliation())

	mpesa.MPesaCheckoutRequestID = ""
	assert.False(t, mpesa.NeedsReconciliation())

	cod := Order{PaymentMethod: PaymentMethodSelection{Method: PaymentMethodCOD}, MPesaCheckoutRequestID: "ws_CO_1"}
	assert.False(t, cod.NeedsReconciliation())
}

func TestCartState_CloneIsDeep(t *testing.T) {
	orig := CartState{
		Items:           []CartLineItem{{ProductID: "a", Qty: 1, Stock: 3}},
		ShippingAddress: &ShippingAddress{Street: "Moi Avenue"},
		PaymentMethod:   &PaymentMethodSelection{Method: PaymentMethodCOD},
	}
	c := orig.Clone()
	c.Items[0].Qty = 3
	c.ShippingAddress.Street = "Kenyatta Avenue"
	c.PaymentMethod.Method = PaymentMethodCard

	assert.Equal(t, 1, orig.Items[0].Qty)
	assert.Equal(t, "Moi Avenue", orig.ShippingAddress.Street)
	assert.Equal(t, PaymentMethodCOD, orig.PaymentMethod.Method)
}

func TestOrderRequestFromCart(t *testing.T) {
	state := CartState{
		Items:           []CartLineItem{{ProductID: "a", Name: "Subwoofer", Qty: 2, UnitPrice: 100, Stock: 5}},
		ShippingAddress: &ShippingAddress{City: "Nairobi"},
		PaymentMethod:   &PaymentMethodSelection{Method: PaymentMethodMPesa, MPesaNumber: "254700000000"},
		Totals:          Totals{Subtotal: 200, Total: 200},
	}
	req := OrderRequestFromCart(state, "key-1")

	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Len(t, req.Items, 1)
	assert.Equal(t, 2, req.Items[0].Qty)
	assert.Equal(t, "Nairobi", req.ShippingAddress.City)
	assert.Equal(t, PaymentMethodMPesa, req.PaymentMethod.Method)
	assert.Equal(t, 200.0, req.Totals.Total)
}

func TestSubmissionError_Unwrap(t *testing.T) {
	cause := errors.New("backend down")
	err := error(&SubmissionError{Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "backend down")
}

func TestAddressAndPaymentIsZero(t *testing.T) {
	var addr *ShippingAddress
	assert.True(t, addr.IsZero())
	assert.True(t, (&ShippingAddress{}).IsZero())
	assert.False(t, (&ShippingAddress{ID: "1"}).IsZero())

	var pm *PaymentMethodSelection
	assert.True(t, pm.IsZero())
	assert.False(t, (&PaymentMethodSelection{Method: PaymentMethodCard}).IsZero())
}
