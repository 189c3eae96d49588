package domain

import "time"

type OrderItem struct {
	ProductID string  `json:"product"`
	Name      string  `json:"name"`
	Image     string  `json:"image,omitempty"`
	Qty       int     `json:"qty"`
	UnitPrice float64 `json:"price"`
}

// OrderRequest is the cart snapshot submitted at place-order time.
type OrderRequest struct {
	IdempotencyKey  string                 `json:"-"`
	Items           []OrderItem            `json:"order_items"`
	ShippingAddress ShippingAddress        `json:"shipping_address"`
	PaymentMethod   PaymentMethodSelection `json:"payment_method"`
	Totals          Totals                 `json:"totals"`
}

// PaymentRetryRequest re-initiates payment of an already placed order. The
// backend answers with the order carrying a new checkout request id.
type PaymentRetryRequest struct {
	IdempotencyKey string                 `json:"-"`
	OrderNumber    string                 `json:"order_number"`
	PaymentMethod  PaymentMethodSelection `json:"payment_method"`
}

// Order is issued by the backend. Only the status fields change after creation.
type Order struct {
	ID                     string                 `json:"id"`
	OrderNumber            string                 `json:"order_number"`
	Items                  []OrderItem            `json:"order_items,omitempty"`
	Total                  float64                `json:"total_price"`
	ShippingAddress        ShippingAddress        `json:"shipping_address"`
	PaymentMethod          PaymentMethodSelection `json:"payment_method"`
	MPesaCheckoutRequestID string                 `json:"mpesa_checkout_request_id,omitempty"`
	IsPaid                 bool                   `json:"is_paid"`
	PaidAt                 *time.Time             `json:"paid_at,omitempty"`
	IsDelivered            bool                   `json:"is_delivered"`
	DeliveredAt            *time.Time             `json:"delivered_at,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// NeedsReconciliation reports whether the payment outcome has to be polled.
func (o *Order) NeedsReconciliation() bool {
	return o.PaymentMethod.Method.IsMobileMoney() && o.MPesaCheckoutRequestID != ""
}

// OrderRequestFromCart snapshots the cart into a submission.
func OrderRequestFromCart(state CartState, idempotencyKey string) OrderRequest {
	items := make([]OrderItem, len(state.Items))
	for i, it := range state.Items {
		items[i] = OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Qty:       it.Qty,
			UnitPrice: it.UnitPrice,
		}
	}
	req := OrderRequest{
		IdempotencyKey: idempotencyKey,
		Items:          items,
		Totals:         state.Totals,
	}
	if state.ShippingAddress != nil {
		req.ShippingAddress = *state.ShippingAddress
	}
	if state.PaymentMethod != nil {
		req.PaymentMethod = *state.PaymentMethod
	}
	return req
}
