package domain

type CheckoutStep int

const (
	StepShipping CheckoutStep = iota
	StepPayment
	StepPlaceOrder
)

func (s CheckoutStep) IsValid() bool {
	return s >= StepShipping && s <= StepPlaceOrder
}

func (s CheckoutStep) String() string {
	switch s {
	case StepShipping:
		return "shipping"
	case StepPayment:
		return "payment"
	case StepPlaceOrder:
		return "place_order"
	default:
		return "unknown"
	}
}

// Navigation targets requested by the checkout core. Routing itself is owned
// by the UI layer.
const (
	NavPaymentRetry = "payment_retry"
	NavSupport      = "support"
	NavOrderSuccess = "order_success"
)

// Support issue tags.
const (
	IssuePaymentFailed    = "payment_failed"
	IssuePaymentCancelled = "payment_cancelled"
	IssuePaymentTimeout   = "payment_timeout"
)

type Navigation struct {
	Target      string `json:"target"`
	OrderNumber string `json:"order_number,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Retry       bool   `json:"retry,omitempty"`
}
