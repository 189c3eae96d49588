package domain

import (
	"errors"
	"fmt"
)

// Validation errors. They gate navigation and are shown as inline guidance.
var (
	ErrShippingAddressRequired = errors.New("a shipping address must be selected")
	ErrPaymentMethodRequired   = errors.New("a payment method must be selected")
	ErrEmptyCart               = errors.New("cart is empty, nothing to checkout")
	ErrStepLocked              = errors.New("previous checkout steps are not complete")
	ErrInvalidStep             = errors.New("unknown checkout step")
	ErrOutOfStock              = errors.New("product is out of stock")
)

var ErrSubmissionInProgress = errors.New("order submission already in progress")

var (
	ErrPollingNotApplicable = errors.New("payment reconciliation not applicable to this order")
	ErrActionUnavailable    = errors.New("action not available in current payment state")
)

// SubmissionError wraps a failed order creation. The pipeline stays on the
// place-order step and the same submission may be retried.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
