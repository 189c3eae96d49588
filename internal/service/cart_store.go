package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/cache"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 2 * time.Second

// CartStore is the single source of truth for a session's in-progress order.
// Every mutation writes the touched slice to durable storage; write failures
// are logged and the in-memory state stays authoritative.
type CartStore struct {
	mu           sync.Mutex
	sessionID    string
	storage      cache.StateStorage
	log          *zap.Logger
	writeTimeout time.Duration
	state        domain.CartState
}

// NewCartStore rehydrates the cart of sessionID from storage.
func NewCartStore(ctx context.Context, sessionID string, storage cache.StateStorage, log *zap.Logger) *CartStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &CartStore{
		sessionID:    sessionID,
		storage:      storage,
		log:          log.With(zap.String("session_id", sessionID)),
		writeTimeout: defaultWriteTimeout,
		state:        domain.CartState{Items: []domain.CartLineItem{}},
	}
	s.load(ctx)
	return s
}

func (s *CartStore) SessionID() string {
	return s.sessionID
}

func (s *CartStore) load(ctx context.Context) {
	var items []domain.CartLineItem
	if s.read(ctx, cache.SliceCartItems, &items) {
		s.state.Items = normalize(items)
	}

	var addr domain.ShippingAddress
	if s.read(ctx, cache.SliceShippingAddress, &addr) && !addr.IsZero() {
		s.state.ShippingAddress = &addr
	}

	var pm domain.PaymentMethodSelection
	if s.read(ctx, cache.SlicePaymentMethod, &pm) && !pm.IsZero() {
		s.state.PaymentMethod = &pm
	}
}

func (s *CartStore) read(ctx context.Context, slice string, dst any) bool {
	if s.storage == nil {
		return false
	}
	data, err := s.storage.Get(ctx, s.sessionID, slice)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, repository.ErrCartNotFound) {
			logger.For(ctx, s.log).Warn("cart state read failed", zap.String("slice", slice), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		logger.For(ctx, s.log).Warn("discarding unreadable cart state", zap.String("slice", slice), zap.Error(err))
		return false
	}
	return true
}

// persist writes value under slice; a nil value removes the slice. Callers hold s.mu.
func (s *CartStore) persist(ctx context.Context, slice string, value any) {
	if s.storage == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	var err error
	if value == nil {
		err = s.storage.Delete(wctx, s.sessionID, slice)
	} else {
		var data []byte
		data, err = json.Marshal(value)
		if err == nil {
			err = s.storage.Set(wctx, s.sessionID, slice, data)
		}
	}
	if err != nil {
		logger.For(ctx, s.log).Warn("cart state write failed", zap.String("slice", slice), zap.Error(err))
	}
}

// AddItem merges qty of item into the cart. The resulting quantity is clamped
// to [1, stock]; catalog fields are refreshed from item.
func (s *CartStore) AddItem(ctx context.Context, item domain.CartLineItem, qty int) error {
	if item.Stock < 1 {
		return domain.ErrOutOfStock
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(item.ProductID)
	if idx >= 0 {
		existing := s.state.Items[idx].Qty
		item.Qty = clamp(existing+qty, item.Stock)
		s.state.Items[idx] = item
	} else {
		item.Qty = clamp(qty, item.Stock)
		s.state.Items = append(s.state.Items, item)
	}

	s.persist(ctx, cache.SliceCartItems, s.state.Items)
	return nil
}

// UpdateItemQty sets the quantity of productID, clamped to [1, stock]. Unknown
// products are ignored.
func (s *CartStore) UpdateItemQty(ctx context.Context, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return
	}
	s.state.Items[idx].Qty = clamp(qty, s.state.Items[idx].Stock)
	s.persist(ctx, cache.SliceCartItems, s.state.Items)
}

func (s *CartStore) RemoveItem(ctx context.Context, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return
	}
	s.state.Items = append(s.state.Items[:idx], s.state.Items[idx+1:]...)
	s.persist(ctx, cache.SliceCartItems, s.state.Items)
}

// Clear empties the lines and zeroes the totals. Address and payment method stay.
func (s *CartStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Items = []domain.CartLineItem{}
	s.state.Totals = domain.Totals{}
	s.persist(ctx, cache.SliceCartItems, s.state.Items)
}

// SaveShippingAddress replaces the address wholesale; nil or empty clears it.
func (s *CartStore) SaveShippingAddress(ctx context.Context, addr *domain.ShippingAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.IsZero() {
		s.state.ShippingAddress = nil
		s.persist(ctx, cache.SliceShippingAddress, nil)
		return
	}
	cp := *addr
	s.state.ShippingAddress = &cp
	s.persist(ctx, cache.SliceShippingAddress, cp)
}

// SavePaymentMethod replaces the payment selection; nil or empty clears it.
func (s *CartStore) SavePaymentMethod(ctx context.Context, pm *domain.PaymentMethodSelection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pm.IsZero() {
		s.state.PaymentMethod = nil
		s.persist(ctx, cache.SlicePaymentMethod, nil)
		return
	}
	cp := *pm
	s.state.PaymentMethod = &cp
	s.persist(ctx, cache.SlicePaymentMethod, cp)
}

// CalculateTotals stores totals computed elsewhere.
func (s *CartStore) CalculateTotals(totals domain.Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Totals = totals
}

func (s *CartStore) Snapshot() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *CartStore) indexOf(productID string) int {
	for i := range s.state.Items {
		if s.state.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func clamp(qty, stock int) int {
	if qty > stock {
		qty = stock
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}

// normalize restores the cart invariants on rehydrated lines: duplicates are
// merged into the first line, out-of-stock lines dropped and quantities clamped.
func normalize(items []domain.CartLineItem) []domain.CartLineItem {
	out := make([]domain.CartLineItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, it := range items {
		if it.Stock < 1 {
			continue
		}
		if i, ok := seen[it.ProductID]; ok {
			out[i].Qty = clamp(out[i].Qty+it.Qty, out[i].Stock)
			continue
		}
		it.Qty = clamp(it.Qty, it.Stock)
		seen[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}
