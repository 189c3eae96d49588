package poller

import (
	"context"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"go.uber.org/zap"
)

func (r *Reconciler) currentState() domain.PaymentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ManualCheck restarts polling from TIMEOUT: the attempt counter goes back to
// zero, the state to PENDING, and a fresh check is issued immediately.
func (r *Reconciler) ManualCheck(ctx context.Context) (*Handle, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.currentState() != domain.PaymentStateTimeout {
		return nil, domain.ErrActionUnavailable
	}
	r.stopLocked()

	r.mu.Lock()
	r.attempts = 0
	r.lastErr = ""
	r.state = domain.PaymentStatePending
	snap := r.snapshotLocked(true)
	r.mu.Unlock()

	logger.For(ctx, r.log).Info("manual payment check requested")
	r.notify(ctx, snap)
	return r.startLocked(ctx), nil
}

// RetryPayment sends the customer back to the payment step. The current
// checkout request is abandoned, never resubmitted.
func (r *Reconciler) RetryPayment(ctx context.Context) (domain.Navigation, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if !r.currentState().IsRecoverable() {
		return domain.Navigation{}, domain.ErrActionUnavailable
	}
	r.stopLocked()

	nav := domain.Navigation{
		Target:      domain.NavPaymentRetry,
		OrderNumber: r.order.OrderNumber,
		Retry:       true,
	}
	logger.For(ctx, r.log).Info("payment retry requested")
	r.navigate(ctx, nav)
	return nav, nil
}

// ContactSupport routes to the support surface with the order number and an
// issue tag describing the failure.
func (r *Reconciler) ContactSupport(ctx context.Context) (domain.Navigation, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var issue string
	switch r.currentState() {
	case domain.PaymentStateFailed:
		issue = domain.IssuePaymentFailed
	case domain.PaymentStateCancelled:
		issue = domain.IssuePaymentCancelled
	case domain.PaymentStateTimeout:
		issue = domain.IssuePaymentTimeout
	default:
		return domain.Navigation{}, domain.ErrActionUnavailable
	}

	nav := domain.Navigation{
		Target:      domain.NavSupport,
		OrderNumber: r.order.OrderNumber,
		Issue:       issue,
	}
	logger.For(ctx, r.log).Info("support contact requested", zap.String("issue", issue))
	r.navigate(ctx, nav)
	return nav, nil
}

func (r *Reconciler) navigate(ctx context.Context, nav domain.Navigation) {
	if r.nav != nil {
		r.nav.Navigate(ctx, nav)
	}
}
