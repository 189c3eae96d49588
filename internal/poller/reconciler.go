package poller

import (
	"context"
	"sync"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"go.uber.org/zap"
)

// StatusChecker queries the payment status of a mobile-money checkout request.
type StatusChecker interface {
	CheckPaymentStatus(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error)
}

// Navigator receives routing requests. Routing itself belongs to the caller.
type Navigator interface {
	Navigate(ctx context.Context, nav domain.Navigation)
}

// Listener observes state changes. It is never called for a repeated state and
// must not call Start, Stop or the user actions synchronously.
type Listener func(ctx context.Context, snap Snapshot)

type Config struct {
	BaseInterval   time.Duration
	BackoffAfter   int
	BackoffFactor  float64
	MaxAttempts    int
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseInterval:   6 * time.Second,
		BackoffAfter:   5,
		BackoffFactor:  1.5,
		MaxAttempts:    20,
		RequestTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.BackoffAfter <= 0 {
		c.BackoffAfter = d.BackoffAfter
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// NextDelay is the wait before the next check once attempts checks have completed.
func (c Config) NextDelay(attempts int) time.Duration {
	if attempts >= c.BackoffAfter {
		return time.Duration(float64(c.BaseInterval) * c.BackoffFactor)
	}
	return c.BaseInterval
}

// Action names exposed in snapshots.
const (
	ActionRetryPayment   = "retry_payment"
	ActionManualCheck    = "manual_check"
	ActionContactSupport = "contact_support"
)

type Snapshot struct {
	OrderNumber   string              `json:"order_number"`
	State         domain.PaymentState `json:"state"`
	Attempts      int                 `json:"attempts"`
	MaxAttempts   int                 `json:"max_attempts"`
	Polling       bool                `json:"polling"`
	ReceiptNumber string              `json:"receipt_number,omitempty"`
	ResultDesc    string              `json:"result_desc,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LastCheckedAt *time.Time          `json:"last_checked_at,omitempty"`
	Actions       []string            `json:"actions"`
}

// Handle is a running polling task. Cancel stops it and waits for its goroutine.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newHandle(cancel context.CancelFunc) *Handle {
	return &Handle{cancel: cancel, done: make(chan struct{})}
}

func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
	<-h.done
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type Option func(*Reconciler)

func WithListener(l Listener) Option {
	return func(r *Reconciler) { r.listener = l }
}

func WithNavigator(n Navigator) Option {
	return func(r *Reconciler) { r.nav = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithInitialState resumes a reconciliation recorded earlier.
func WithInitialState(s domain.PaymentState) Option {
	return func(r *Reconciler) {
		if s != "" {
			r.state = s
		}
	}
}

// Reconciler determines the outcome of one mobile-money payment by polling its
// status. At most one polling goroutine exists and it has at most one status
// request in flight.
type Reconciler struct {
	cfg      Config
	checker  StatusChecker
	order    domain.Order
	nav      Navigator
	listener Listener
	log      *zap.Logger

	// opMu serializes lifecycle operations: start, stop and user actions.
	opMu   sync.Mutex
	handle *Handle

	mu          sync.Mutex
	running     bool
	state       domain.PaymentState
	attempts    int
	receipt     string
	desc        string
	lastErr     string
	lastChecked time.Time
}

func New(order domain.Order, checker StatusChecker, cfg Config, opts ...Option) (*Reconciler, error) {
	if !order.NeedsReconciliation() {
		return nil, domain.ErrPollingNotApplicable
	}
	r := &Reconciler{
		cfg:     cfg.withDefaults(),
		checker: checker,
		order:   order,
		log:     zap.NewNop(),
		state:   domain.PaymentStatePending,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(
		zap.String("order_number", order.OrderNumber),
		zap.String("checkout_request_id", order.MPesaCheckoutRequestID))
	return r, nil
}

func (r *Reconciler) Order() domain.Order {
	return r.order
}

// Start launches polling unless it is already running or the state stops it.
// The task outlives ctx's cancellation; use Stop or the handle to end it.
func (r *Reconciler) Start(ctx context.Context) *Handle {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.startLocked(ctx)
}

func (r *Reconciler) startLocked(ctx context.Context) *Handle {
	if r.handle != nil && !r.handle.finished() {
		return r.handle
	}

	r.mu.Lock()
	stopped := r.state.StopsPolling()
	r.mu.Unlock()

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(cancel)
	if stopped {
		cancel()
		close(h.done)
		return h
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.handle = h
	go r.run(pollCtx, h)
	return h
}

// Stop cancels polling and waits for the polling goroutine to exit.
func (r *Reconciler) Stop() {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.stopLocked()
}

func (r *Reconciler) stopLocked() {
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
}

func (r *Reconciler) run(ctx context.Context, h *Handle) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(h.done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		delay, more := r.check(ctx)
		if !more {
			return
		}
		timer.Reset(delay)
	}
}

// check issues one status request and applies its result. It reports the
// delay before the next check and whether polling continues.
func (r *Reconciler) check(ctx context.Context) (time.Duration, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	tx, err := r.checker.CheckPaymentStatus(reqCtx, r.order.MPesaCheckoutRequestID)
	cancel()
	if ctx.Err() != nil {
		return 0, false
	}

	r.mu.Lock()
	r.attempts++
	r.lastChecked = time.Now().UTC()
	prev := r.state
	if err != nil {
		r.lastErr = err.Error()
		logger.For(ctx, r.log).Warn("payment status check failed",
			zap.Int("attempt", r.attempts), zap.Error(err))
	} else {
		r.lastErr = ""
		r.applyLocked(tx)
	}
	if !r.state.StopsPolling() && r.attempts >= r.cfg.MaxAttempts {
		r.state = domain.PaymentStateTimeout
	}
	changed := r.state != prev
	more := !r.state.StopsPolling()
	delay := r.cfg.NextDelay(r.attempts)
	snap := r.snapshotLocked(more)
	r.mu.Unlock()

	if changed {
		logger.For(ctx, r.log).Info("payment state changed",
			zap.String("from", prev.String()),
			zap.String("to", snap.State.String()),
			zap.Int("attempt", snap.Attempts))
		r.notify(ctx, snap)
	}
	return delay, more
}

// applyLocked folds a payload into the state. Terminal states are final and an
// inconclusive payload leaves the state as it is.
func (r *Reconciler) applyLocked(tx *domain.PaymentTransaction) {
	if r.state.IsTerminal() {
		return
	}
	if tx.ResultDesc != "" {
		r.desc = tx.ResultDesc
	}
	if tx.MPesaReceiptNumber != "" {
		r.receipt = tx.MPesaReceiptNumber
	}
	if next := Classify(tx); next != domain.PaymentStatePending {
		r.state = next
	}
}

func (r *Reconciler) notify(ctx context.Context, snap Snapshot) {
	if r.listener != nil {
		r.listener(ctx, snap)
	}
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.running)
}

func (r *Reconciler) snapshotLocked(polling bool) Snapshot {
	snap := Snapshot{
		OrderNumber:   r.order.OrderNumber,
		State:         r.state,
		Attempts:      r.attempts,
		MaxAttempts:   r.cfg.MaxAttempts,
		Polling:       polling,
		ReceiptNumber: r.receipt,
		ResultDesc:    r.desc,
		LastError:     r.lastErr,
		Actions:       availableActions(r.state),
	}
	if !r.lastChecked.IsZero() {
		t := r.lastChecked
		snap.LastCheckedAt = &t
	}
	return snap
}

func availableActions(s domain.PaymentState) []string {
	actions := []string{}
	if s.IsRecoverable() {
		actions = append(actions, ActionRetryPayment)
	}
	if s == domain.PaymentStateTimeout {
		actions = append(actions, ActionManualCheck)
	}
	if s.IsRecoverable() {
		actions = append(actions, ActionContactSupport)
	}
	return actions
}
