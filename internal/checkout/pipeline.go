package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/events"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartReader exposes the cart state the pipeline gates on.
type CartReader interface {
	SessionID() string
	Snapshot() domain.CartState
}

// OrderCreator submits orders to the order API.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	// ReinitiatePayment starts a new payment attempt for a placed order.
	ReinitiatePayment(ctx context.Context, req domain.PaymentRetryRequest) (*domain.Order, error)
}

type Status struct {
	ActiveStep       domain.CheckoutStep `json:"active_step"`
	ActiveStepName   string              `json:"active_step_name"`
	Completed        map[string]bool     `json:"completed"`
	CanContinue      bool                `json:"can_continue"`
	Submitting       bool                `json:"submitting"`
	LastError        string              `json:"last_error,omitempty"`
	RetryOrderNumber string              `json:"retry_order_number,omitempty"`
}

// Pipeline gates forward navigation through Shipping, Payment and PlaceOrder.
// Completion resets when an order-success event for the session is published.
type Pipeline struct {
	cart   CartReader
	orders OrderCreator
	bus    *events.Bus
	log    *zap.Logger

	mu             sync.Mutex
	completed      map[domain.CheckoutStep]bool
	active         domain.CheckoutStep
	lastErr        error
	idempotencyKey string
	keyContent     string
	submitting     bool
	retryOrder     string

	unsubscribe func()
}

func NewPipeline(cart CartReader, orders OrderCreator, bus *events.Bus, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		cart:      cart,
		orders:    orders,
		bus:       bus,
		log:       log.With(zap.String("session_id", cart.SessionID())),
		completed: make(map[domain.CheckoutStep]bool),
		active:    domain.StepShipping,
	}
	if bus != nil {
		p.unsubscribe = bus.Subscribe(p.onOrderSucceeded)
	}
	return p
}

func (p *Pipeline) onOrderSucceeded(ctx context.Context, ev events.OrderSucceeded) {
	if ev.SessionID != p.cart.SessionID() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	logger.For(ctx, p.log).Debug("checkout steps reset after order success",
		zap.String("order_number", ev.Order.OrderNumber))
}

func (p *Pipeline) resetLocked() {
	p.completed = make(map[domain.CheckoutStep]bool)
	p.active = domain.StepShipping
	p.lastErr = nil
	p.retryOrder = ""
}

// ContinueShipping confirms the selected shipping address.
func (p *Pipeline) ContinueShipping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.cart.Snapshot()
	if err := checkShipping(state); err != nil {
		return p.failLocked(ctx, domain.StepShipping, err)
	}
	p.completed[domain.StepShipping] = true
	p.active = domain.StepPayment
	p.lastErr = nil
	return nil
}

// ContinuePayment confirms the selected payment method.
func (p *Pipeline) ContinuePayment(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.cart.Snapshot()
	if err := p.checkPaymentLocked(state); err != nil {
		return p.failLocked(ctx, domain.StepPayment, err)
	}
	p.completed[domain.StepPayment] = true
	p.active = domain.StepPlaceOrder
	p.lastErr = nil
	return nil
}

// PlaceOrder submits the cart. While a payment retry is pending it instead
// re-initiates payment of that order, and the cart lines are not needed. On
// failure the pipeline stays on PlaceOrder and resubmitting the same content
// reuses the idempotency key. On success the order-success event is published
// and every subscriber of the session resets.
func (p *Pipeline) PlaceOrder(ctx context.Context) (*domain.Order, error) {
	p.mu.Lock()
	if p.submitting {
		p.mu.Unlock()
		return nil, domain.ErrSubmissionInProgress
	}
	state := p.cart.Snapshot()
	if err := p.checkSubmitLocked(state); err != nil {
		err = p.failLocked(ctx, domain.StepPlaceOrder, err)
		p.mu.Unlock()
		return nil, err
	}

	retryOrder := p.retryOrder
	var (
		key    string
		submit func() (*domain.Order, error)
	)
	if retryOrder != "" {
		req := domain.PaymentRetryRequest{OrderNumber: retryOrder, PaymentMethod: *state.PaymentMethod}
		req.IdempotencyKey = p.submissionKeyLocked(req)
		key = req.IdempotencyKey
		submit = func() (*domain.Order, error) { return p.orders.ReinitiatePayment(ctx, req) }
	} else {
		req := domain.OrderRequestFromCart(state, "")
		req.IdempotencyKey = p.submissionKeyLocked(req)
		key = req.IdempotencyKey
		submit = func() (*domain.Order, error) { return p.orders.CreateOrder(ctx, req) }
	}
	p.active = domain.StepPlaceOrder
	p.submitting = true
	p.mu.Unlock()

	order, err := submit()

	p.mu.Lock()
	p.submitting = false
	if err != nil {
		serr := &domain.SubmissionError{Err: err}
		p.completed[domain.StepPlaceOrder] = false
		p.lastErr = serr
		p.mu.Unlock()
		logger.For(ctx, p.log).Warn("order submission failed",
			zap.String("idempotency_key", key),
			zap.String("retry_order_number", retryOrder),
			zap.Error(err))
		return nil, serr
	}
	p.completed[domain.StepPlaceOrder] = true
	p.idempotencyKey = ""
	p.keyContent = ""
	p.lastErr = nil
	p.mu.Unlock()

	if retryOrder != "" {
		logger.For(ctx, p.log).Info("payment re-initiated",
			zap.String("order_number", order.OrderNumber),
			zap.String("checkout_request_id", order.MPesaCheckoutRequestID))
	} else {
		logger.For(ctx, p.log).Info("order placed",
			zap.String("order_number", order.OrderNumber),
			zap.String("payment_method", string(order.PaymentMethod.Method)))
	}

	if p.bus != nil {
		p.bus.Publish(ctx, events.OrderSucceeded{
			SessionID:    p.cart.SessionID(),
			Order:        *order,
			PaymentRetry: retryOrder != "",
		})
	}
	return order, nil
}

// submissionKeyLocked returns the idempotency key for submitting v. The key
// survives a failed submission only while the submitted content is unchanged.
func (p *Pipeline) submissionKeyLocked(v any) string {
	content, _ := json.Marshal(v)
	if p.idempotencyKey == "" || string(content) != p.keyContent {
		p.idempotencyKey = uuid.NewString()
		p.keyContent = string(content)
	}
	return p.idempotencyKey
}

// GoToStep moves to step. Going back is always allowed; going forward needs
// every earlier step completed.
func (p *Pipeline) GoToStep(ctx context.Context, step domain.CheckoutStep) error {
	if !step.IsValid() {
		return domain.ErrInvalidStep
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if step > p.active {
		for s := domain.StepShipping; s < step; s++ {
			if !p.completed[s] {
				return p.failLocked(ctx, p.active, domain.ErrStepLocked)
			}
		}
	}
	p.active = step
	p.lastErr = nil
	return nil
}

// ReenterPayment returns to the Payment step to retry payment of orderNumber.
// Shipping counts as complete when an address is still selected. The next
// PlaceOrder re-initiates payment of orderNumber instead of creating an order.
func (p *Pipeline) ReenterPayment(ctx context.Context, orderNumber string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.cart.Snapshot()
	p.completed[domain.StepShipping] = !state.ShippingAddress.IsZero()
	p.completed[domain.StepPayment] = false
	p.completed[domain.StepPlaceOrder] = false
	p.active = domain.StepPayment
	p.retryOrder = orderNumber
	p.lastErr = nil
	logger.For(ctx, p.log).Info("payment step re-entered for retry", zap.String("order_number", orderNumber))
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.cart.Snapshot()
	st := Status{
		ActiveStep:       p.active,
		ActiveStepName:   p.active.String(),
		Completed:        make(map[string]bool, 3),
		Submitting:       p.submitting,
		RetryOrderNumber: p.retryOrder,
	}
	for s := domain.StepShipping; s <= domain.StepPlaceOrder; s++ {
		st.Completed[s.String()] = p.completed[s]
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}

	switch p.active {
	case domain.StepShipping:
		st.CanContinue = checkShipping(state) == nil
	case domain.StepPayment:
		st.CanContinue = p.checkPaymentLocked(state) == nil
	case domain.StepPlaceOrder:
		st.CanContinue = !p.submitting && p.checkSubmitLocked(state) == nil
	}
	return st
}

// Close detaches the pipeline from the event bus.
func (p *Pipeline) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Pipeline) failLocked(ctx context.Context, step domain.CheckoutStep, err error) error {
	p.lastErr = err
	logger.For(ctx, p.log).Debug("checkout step blocked",
		zap.String("step", step.String()), zap.Error(err))
	return err
}

func checkShipping(state domain.CartState) error {
	if state.ShippingAddress.IsZero() {
		return domain.ErrShippingAddressRequired
	}
	return nil
}

func (p *Pipeline) checkPaymentLocked(state domain.CartState) error {
	if !p.completed[domain.StepShipping] {
		return domain.ErrStepLocked
	}
	if err := checkShipping(state); err != nil {
		return err
	}
	if state.PaymentMethod.IsZero() || !state.PaymentMethod.Method.IsValid() {
		return domain.ErrPaymentMethodRequired
	}
	return nil
}

func (p *Pipeline) checkPlaceOrderLocked(state domain.CartState) error {
	if !p.completed[domain.StepPayment] {
		return domain.ErrStepLocked
	}
	if err := p.checkPaymentLocked(state); err != nil {
		return err
	}
	if len(state.Items) == 0 {
		return domain.ErrEmptyCart
	}
	return nil
}

// checkSubmitLocked gates PlaceOrder. A payment retry resubmits no cart lines.
func (p *Pipeline) checkSubmitLocked(state domain.CartState) error {
	if p.retryOrder == "" {
		return p.checkPlaceOrderLocked(state)
	}
	if !p.completed[domain.StepPayment] {
		return domain.ErrStepLocked
	}
	return p.checkPaymentLocked(state)
}

// IsValidationError reports whether err blocked a step rather than failing a submission.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrShippingAddressRequired) ||
		errors.Is(err, domain.ErrPaymentMethodRequired) ||
		errors.Is(err, domain.ErrEmptyCart) ||
		errors.Is(err, domain.ErrStepLocked)
}
