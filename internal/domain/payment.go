package domain

// Result codes reported by the mobile-money gateway.
const (
	ResultCodeSuccess           = 0
	ResultCodeInsufficientFunds = 1
	ResultCodeCancelled         = 1032
	ResultCodeTimeout           = 1037
	ResultCodeProcessing        = 4999
)

// PaymentTransaction is the raw payload returned by a payment status check.
type PaymentTransaction struct {
	Status             string `json:"status"`
	ResultCode         *int   `json:"result_code"`
	ResultDesc         string `json:"result_desc"`
	IsSuccessful       bool   `json:"is_successful"`
	IsPending          bool   `json:"is_pending"`
	MPesaReceiptNumber string `json:"mpesa_receipt_number,omitempty"`
}

// HasResultCode reports whether the payload carries exactly code.
func (t *PaymentTransaction) HasResultCode(code int) bool {
	return t.ResultCode != nil && *t.ResultCode == code
}

type PaymentState string

const (
	PaymentStatePending    PaymentState = "PENDING"
	PaymentStateProcessing PaymentState = "PROCESSING"
	PaymentStateCompleted  PaymentState = "COMPLETED"
	PaymentStateFailed     PaymentState = "FAILED"
	PaymentStateCancelled  PaymentState = "CANCELLED"
	PaymentStateTimeout    PaymentState = "TIMEOUT"
)

// IsTerminal reports a final outcome. TIMEOUT is not one: it still offers recovery.
func (s PaymentState) IsTerminal() bool {
	return s == PaymentStateCompleted || s == PaymentStateFailed || s == PaymentStateCancelled
}

// StopsPolling reports whether no further status checks are scheduled in s.
func (s PaymentState) StopsPolling() bool {
	return s.IsTerminal() || s == PaymentStateTimeout
}

// IsRecoverable reports the non-success states that offer retry and support.
func (s PaymentState) IsRecoverable() bool {
	return s == PaymentStateFailed || s == PaymentStateCancelled || s == PaymentStateTimeout
}

// String representation (for logging)
func (s PaymentState) String() string {
	return string(s)
}
