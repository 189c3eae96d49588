package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/cache"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/checkout"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/events"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/poller"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/service"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEngineNotFound  = errors.New("no payment reconciliation for this order")
)

const (
	DefaultIdleTTL         = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
	ledgerWriteTimeout     = 3 * time.Second
)

type Config struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	Poller          poller.Config
}

// Deps are the collaborators shared by every session. Storage and Ledger may be nil.
type Deps struct {
	Storage cache.StateStorage
	Orders  checkout.OrderCreator
	Checker poller.StatusChecker
	Ledger  repository.OrderLedger
	Bus     *events.Bus
}

// Registry owns the live sessions of this instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	deps Deps
	cfg  Config
	log  *zap.Logger

	unsubscribe func()
	stopCleanup chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func NewRegistry(deps Deps, cfg Config, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	r := &Registry{
		sessions:    make(map[string]*Session),
		deps:        deps,
		cfg:         cfg,
		log:         log,
		stopCleanup: make(chan struct{}),
	}
	r.unsubscribe = deps.Bus.Subscribe(r.onOrderSucceeded)

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expireSessions()
		case <-r.stopCleanup:
			return
		}
	}
}

// expireSessions drops sessions idle past the TTL. Sessions still polling a
// payment are kept. Their carts stay in durable storage.
func (r *Registry) expireSessions() {
	cutoff := time.Now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
		r.log.Debug("session expired", zap.String("session_id", s.ID))
	}
}

// GetOrCreate returns the session for id, rehydrating its cart from storage
// when it is not resident.
func (r *Registry) GetOrCreate(ctx context.Context, id string) *Session {
	if s, ok := r.Get(id); ok {
		return s
	}

	cart := service.NewCartStore(ctx, id, r.deps.Storage, r.log)
	pipeline := checkout.NewPipeline(cart, r.deps.Orders, r.deps.Bus, r.log)
	created := newSession(id, cart, pipeline)

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		pipeline.Close()
		s.touch()
		return s
	}
	r.sessions[id] = created
	r.mu.Unlock()

	logger.For(ctx, r.log).Debug("session created", zap.String("session_id", id))
	return created
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Discard ends a session: every engine is stopped and the pipeline detached.
func (r *Registry) Discard(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.close()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// onOrderSucceeded clears the session's cart. Orders placed here are also
// written to the ledger and mobile-money orders start reconciling. A payment
// retry keeps the cart and replaces the order's engine with one polling the
// new checkout request.
func (r *Registry) onOrderSucceeded(ctx context.Context, ev events.OrderSucceeded) {
	log := logger.For(ctx, r.log).With(
		zap.String("session_id", ev.SessionID),
		zap.String("order_number", ev.Order.OrderNumber),
		zap.Bool("payment_retry", ev.PaymentRetry))

	s, resident := r.Get(ev.SessionID)
	if resident {
		if !ev.PaymentRetry {
			s.Cart.Clear(ctx)
		}
		s.rememberOrder(ev.Order)
	}
	if ev.Origin != r.deps.Bus.Origin() {
		return
	}

	if r.deps.Ledger != nil {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
		order := ev.Order
		var err error
		if ev.PaymentRetry {
			err = r.deps.Ledger.RecordPaymentAttempt(wctx, &order)
		} else {
			_, err = r.deps.Ledger.RecordOrder(wctx, ev.SessionID, &order)
		}
		if err != nil {
			log.Error("failed to record order in ledger", zap.Error(err))
		}
		cancel()
	}

	if !resident {
		return
	}
	if ev.PaymentRetry {
		if old, ok := s.removeEngine(ev.Order.OrderNumber); ok {
			old.Stop()
		}
	}
	if ev.Order.NeedsReconciliation() {
		if _, err := r.startEngine(ctx, s, ev.Order, ""); err != nil {
			log.Error("failed to start payment reconciliation", zap.Error(err))
		}
	}
}

// Reconcile starts, or returns the running, reconciliation of orderNumber.
// The order must have been placed in this session.
func (r *Registry) Reconcile(ctx context.Context, sessionID, orderNumber string) (*poller.Reconciler, error) {
	s := r.GetOrCreate(ctx, sessionID)
	if e, ok := s.Engine(orderNumber); ok {
		e.Start(ctx)
		return e, nil
	}

	if order, ok := s.Order(orderNumber); ok {
		return r.startEngine(ctx, s, order, "")
	}

	if r.deps.Ledger == nil {
		return nil, repository.ErrOrderNotFound
	}
	entry, err := r.deps.Ledger.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if entry.SessionID != sessionID {
		return nil, repository.ErrOrderNotFound
	}
	return r.startEngine(ctx, s, entry.Order(), entry.PaymentState)
}

// Engine returns the reconciliation of orderNumber in sessionID.
func (r *Registry) Engine(sessionID, orderNumber string) (*poller.Reconciler, error) {
	s, ok := r.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e, ok := s.Engine(orderNumber)
	if !ok {
		return nil, ErrEngineNotFound
	}
	return e, nil
}

// StopEngine cancels polling of orderNumber and forgets the engine. The ledger
// keeps its last state, so a later Reconcile resumes from there.
func (r *Registry) StopEngine(sessionID, orderNumber string) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e, ok := s.removeEngine(orderNumber)
	if !ok {
		return ErrEngineNotFound
	}
	e.Stop()
	return nil
}

// Resume restarts reconciliation of every unresolved order in the ledger.
func (r *Registry) Resume(ctx context.Context) (int, error) {
	if r.deps.Ledger == nil {
		return 0, nil
	}
	entries, err := r.deps.Ledger.ListUnresolved(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, entry := range entries {
		s := r.GetOrCreate(ctx, entry.SessionID)
		if _, err := r.startEngine(ctx, s, entry.Order(), entry.PaymentState); err != nil {
			r.log.Warn("failed to resume payment reconciliation",
				zap.String("order_number", entry.OrderNumber), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (r *Registry) startEngine(ctx context.Context, s *Session, order domain.Order, initial domain.PaymentState) (*poller.Reconciler, error) {
	e, err := poller.New(order, r.deps.Checker, r.cfg.Poller,
		poller.WithNavigator(s),
		poller.WithListener(r.recordState),
		poller.WithLogger(r.log.With(zap.String("session_id", s.ID))),
		poller.WithInitialState(initial))
	if err != nil {
		return nil, err
	}
	e = s.addEngine(order.OrderNumber, e)
	e.Start(ctx)
	return e, nil
}

// recordState writes engine state changes to the ledger.
func (r *Registry) recordState(ctx context.Context, snap poller.Snapshot) {
	if r.deps.Ledger == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	err := r.deps.Ledger.UpdatePaymentState(wctx, snap.OrderNumber, snap.State, snap.ReceiptNumber, snap.ResultDesc)
	if err != nil {
		logger.For(ctx, r.log).Warn("failed to record payment state",
			zap.String("order_number", snap.OrderNumber),
			zap.String("state", snap.State.String()),
			zap.Error(err))
	}
}

// Close stops the cleanup loop and ends every session.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCleanup)
		r.wg.Wait()
		r.unsubscribe()

		r.mu.Lock()
		sessions := r.sessions
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		for _, s := range sessions {
			s.close()
		}
	})
	return nil
}
