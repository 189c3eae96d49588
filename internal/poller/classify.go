package poller

import (
	"strings"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
)

// Classify maps a raw status payload to a payment state. Rules are evaluated
// in priority order and the first match wins. Inconclusive payloads are PENDING.
func Classify(tx *domain.PaymentTransaction) domain.PaymentState {
	if tx == nil {
		return domain.PaymentStatePending
	}
	status := strings.ToLower(tx.Status)

	switch {
	case tx.IsSuccessful && tx.HasResultCode(domain.ResultCodeSuccess):
		return domain.PaymentStateCompleted
	case tx.HasResultCode(domain.ResultCodeCancelled):
		return domain.PaymentStateCancelled
	case tx.HasResultCode(domain.ResultCodeInsufficientFunds):
		return domain.PaymentStateFailed
	case tx.HasResultCode(domain.ResultCodeTimeout):
		return domain.PaymentStateTimeout
	case status == "processing" || tx.HasResultCode(domain.ResultCodeProcessing) || tx.IsPending:
		return domain.PaymentStateProcessing
	case status == "failed" && !tx.IsSuccessful:
		return domain.PaymentStateFailed
	case status == "completed" && tx.HasResultCode(domain.ResultCodeSuccess):
		return domain.PaymentStateCompleted
	default:
		return domain.PaymentStatePending
	}
}
