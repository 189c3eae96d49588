package session

import (
	"context"
	"sync"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/checkout"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/poller"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/service"
)

// Session is the checkout state of one browser session.
type Session struct {
	ID       string
	Cart     *service.CartStore
	Pipeline *checkout.Pipeline

	mu       sync.Mutex
	engines  map[string]*poller.Reconciler // orderNumber -> engine
	orders   map[string]domain.Order       // orders placed in this session
	lastNav  *domain.Navigation
	lastSeen time.Time
}

func newSession(id string, cart *service.CartStore, pipeline *checkout.Pipeline) *Session {
	return &Session{
		ID:       id,
		Cart:     cart,
		Pipeline: pipeline,
		engines:  make(map[string]*poller.Reconciler),
		orders:   make(map[string]domain.Order),
		lastSeen: time.Now(),
	}
}

// Navigate records a routing request from an engine. A payment retry also
// moves the pipeline back to the Payment step.
func (s *Session) Navigate(ctx context.Context, nav domain.Navigation) {
	if nav.Target == domain.NavPaymentRetry {
		s.Pipeline.ReenterPayment(ctx, nav.OrderNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNav = &nav
}

// LastNavigation returns the most recent routing request, if any.
func (s *Session) LastNavigation() *domain.Navigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastNav == nil {
		return nil
	}
	nav := *s.lastNav
	return &nav
}

func (s *Session) Engine(orderNumber string) (*poller.Reconciler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[orderNumber]
	return e, ok
}

func (s *Session) Order(orderNumber string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNumber]
	return o, ok
}

func (s *Session) rememberOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderNumber] = order
	s.lastNav = &domain.Navigation{Target: domain.NavOrderSuccess, OrderNumber: order.OrderNumber}
}

// addEngine stores e unless an engine for the order exists already, in which
// case that one is returned.
func (s *Session) addEngine(orderNumber string, e *poller.Reconciler) *poller.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.engines[orderNumber]; ok {
		return existing
	}
	s.engines[orderNumber] = e
	return e
}

func (s *Session) removeEngine(orderNumber string) (*poller.Reconciler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[orderNumber]
	delete(s.engines, orderNumber)
	return e, ok
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// idleSince reports whether the session has been untouched since cutoff and
// has no polling engine.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen.After(cutoff) {
		return false
	}
	for _, e := range s.engines {
		if e.Snapshot().Polling {
			return false
		}
	}
	return true
}

// close stops every engine and detaches the pipeline from the bus.
func (s *Session) close() {
	s.mu.Lock()
	engines := make([]*poller.Reconciler, 0, len(s.engines))
	for _, e := range s.engines {
		engines = append(engines, e)
	}
	s.engines = make(map[string]*poller.Reconciler)
	s.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
	s.Pipeline.Close()
}
