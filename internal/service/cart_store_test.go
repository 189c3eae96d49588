package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/cache"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockStorage struct {
	m      sync.RWMutex
	data   map[string][]byte
	setErr error
	getErr error
	sets   int
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) Get(_ context.Context, sessionID, slice string) ([]byte, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[sessionID+"/"+slice]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mockStorage) Set(_ context.Context, sessionID, slice string, value []byte) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[sessionID+"/"+slice] = value
	return nil
}

func (m *mockStorage) Delete(_ context.Context, sessionID string, slices ...string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	for _, s := range slices {
		delete(m.data, sessionID+"/"+s)
	}
	return nil
}

func (m *mockStorage) raw(sessionID, slice string) ([]byte, bool) {
	m.m.RLock()
	defer m.m.RUnlock()
	v, ok := m.data[sessionID+"/"+slice]
	return v, ok
}

func product(id string, stock int) domain.CartLineItem {
	return domain.CartLineItem{ProductID: id, Name: "Product " + id, UnitPrice: 1000, Stock: stock}
}

func newStore(t *testing.T, storage cache.StateStorage) *CartStore {
	t.Helper()
	return NewCartStore(context.Background(), "sess-1", storage, zap.NewNop())
}

func TestCartStore_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMockStorage())
	a := product("A", 3)

	require.NoError(t, s.AddItem(ctx, a, 2))
	assert.Equal(t, 2, s.Snapshot().Items[0].Qty)

	require.NoError(t, s.AddItem(ctx, a, 5))
	assert.Equal(t, 3, s.Snapshot().Items[0].Qty)

	s.UpdateItemQty(ctx, "A", 0)
	assert.Equal(t, 1, s.Snapshot().Items[0].Qty)

	s.RemoveItem(ctx, "A")
	assert.Empty(t, s.Snapshot().Items)
}

func TestCartStore_AddItemOutOfStock(t *testing.T) {
	s := newStore(t, newMockStorage())

	err := s.AddItem(context.Background(), product("A", 0), 1)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Empty(t, s.Snapshot().Items)
}

func TestCartStore_AddItemRefreshesCatalogFields(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMockStorage())

	require.NoError(t, s.AddItem(ctx, product("A", 10), 8))

	refreshed := product("A", 5)
	refreshed.UnitPrice = 900
	require.NoError(t, s.AddItem(ctx, refreshed, 1))

	item := s.Snapshot().Items[0]
	assert.Equal(t, 5, item.Qty)
	assert.Equal(t, 900.0, item.UnitPrice)
}

func TestCartStore_UpdateAndRemoveUnknownAreNoops(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	s := newStore(t, storage)
	require.NoError(t, s.AddItem(ctx, product("A", 3), 1))
	sets := storage.sets

	s.UpdateItemQty(ctx, "B", 2)
	s.RemoveItem(ctx, "B")

	assert.Len(t, s.Snapshot().Items, 1)
	assert.Equal(t, sets, storage.sets)
}

func TestCartStore_QuantityAndUniquenessInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	stocks := map[string]int{"A": 1, "B": 3, "C": 7, "D": 20}
	ids := []string{"A", "B", "C", "D"}

	for run := 0; run < 50; run++ {
		s := newStore(t, newMockStorage())
		for step := 0; step < 100; step++ {
			id := ids[rng.Intn(len(ids))]
			qty := rng.Intn(30) - 10
			if rng.Intn(2) == 0 {
				require.NoError(t, s.AddItem(ctx, product(id, stocks[id]), qty))
			} else {
				s.UpdateItemQty(ctx, id, qty)
			}

			seen := map[string]bool{}
			for _, it := range s.Snapshot().Items {
				require.False(t, seen[it.ProductID], "duplicate line for %s", it.ProductID)
				seen[it.ProductID] = true
				require.GreaterOrEqual(t, it.Qty, 1)
				require.LessOrEqual(t, it.Qty, it.Stock)
			}
		}
	}
}

func TestCartStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMockStorage())
	require.NoError(t, s.AddItem(ctx, product("A", 3), 2))
	s.CalculateTotals(domain.Totals{Subtotal: 2000, Shipping: 300, Tax: 320, Discount: 100, Total: 2520})
	s.SaveShippingAddress(ctx, &domain.ShippingAddress{ID: "addr-1", City: "Mombasa"})

	s.Clear(ctx)
	first := s.Snapshot()
	s.Clear(ctx)
	second := s.Snapshot()

	assert.Equal(t, first, second)
	assert.Empty(t, second.Items)
	assert.Equal(t, domain.Totals{}, second.Totals)
	require.NotNil(t, second.ShippingAddress)
	assert.Equal(t, "Mombasa", second.ShippingAddress.City)
}

func TestCartStore_PersistsSlices(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	s := newStore(t, storage)

	require.NoError(t, s.AddItem(ctx, product("A", 3), 2))
	s.SaveShippingAddress(ctx, &domain.ShippingAddress{ID: "addr-1", Street: "Ngong Road", City: "Nairobi"})
	s.SavePaymentMethod(ctx, &domain.PaymentMethodSelection{Method: domain.PaymentMethodMPesa, MPesaNumber: "254712345678"})

	raw, ok := storage.raw("sess-1", cache.SliceCartItems)
	require.True(t, ok)
	var items []domain.CartLineItem
	require.NoError(t, json.Unmarshal(raw, &items))
	assert.Equal(t, 2, items[0].Qty)

	_, ok = storage.raw("sess-1", cache.SliceShippingAddress)
	assert.True(t, ok)
	_, ok = storage.raw("sess-1", cache.SlicePaymentMethod)
	assert.True(t, ok)

	s.SaveShippingAddress(ctx, nil)
	s.SavePaymentMethod(ctx, &domain.PaymentMethodSelection{})
	_, ok = storage.raw("sess-1", cache.SliceShippingAddress)
	assert.False(t, ok)
	_, ok = storage.raw("sess-1", cache.SlicePaymentMethod)
	assert.False(t, ok)
	assert.Nil(t, s.Snapshot().ShippingAddress)
	assert.Nil(t, s.Snapshot().PaymentMethod)
}

func TestCartStore_RehydratesFromStorage(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	first := newStore(t, storage)
	require.NoError(t, first.AddItem(ctx, product("A", 3), 2))
	require.NoError(t, first.AddItem(ctx, product("B", 5), 1))
	first.SaveShippingAddress(ctx, &domain.ShippingAddress{ID: "addr-1", City: "Kisumu"})
	first.SavePaymentMethod(ctx, &domain.PaymentMethodSelection{Method: domain.PaymentMethodCOD})

	reloaded := newStore(t, storage)
	state := reloaded.Snapshot()

	assert.Equal(t, first.Snapshot().Items, state.Items)
	require.NotNil(t, state.ShippingAddress)
	assert.Equal(t, "Kisumu", state.ShippingAddress.City)
	require.NotNil(t, state.PaymentMethod)
	assert.Equal(t, domain.PaymentMethodCOD, state.PaymentMethod.Method)
}

func TestCartStore_RehydrateRestoresInvariants(t *testing.T) {
	storage := newMockStorage()
	storage.data["sess-1/"+cache.SliceCartItems] = []byte(`[
		{"product":"A","qty":9,"countInStock":3},
		{"product":"A","qty":1,"countInStock":3},
		{"product":"B","qty":0,"countInStock":2},
		{"product":"C","qty":1,"countInStock":0}
	]`)

	items := newStore(t, storage).Snapshot().Items
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].ProductID)
	assert.Equal(t, 3, items[0].Qty)
	assert.Equal(t, "B", items[1].ProductID)
	assert.Equal(t, 1, items[1].Qty)
}

func TestCartStore_CorruptStorageIsIgnored(t *testing.T) {
	storage := newMockStorage()
	storage.data["sess-1/"+cache.SliceCartItems] = []byte(`{not json`)

	core, logs := observer.New(zap.WarnLevel)
	s := NewCartStore(context.Background(), "sess-1", storage, zap.New(core))

	assert.Empty(t, s.Snapshot().Items)
	assert.Equal(t, 1, logs.FilterMessage("discarding unreadable cart state").Len())
}

func TestCartStore_StorageFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	storage := newMockStorage()
	storage.getErr = errors.New("redis down")
	core, logs := observer.New(zap.WarnLevel)
	s := NewCartStore(ctx, "sess-1", storage, zap.New(core))

	storage.setErr = errors.New("redis down")
	require.NoError(t, s.AddItem(ctx, product("A", 3), 2))
	s.SavePaymentMethod(ctx, &domain.PaymentMethodSelection{Method: domain.PaymentMethodCard})

	state := s.Snapshot()
	assert.Len(t, state.Items, 1)
	require.NotNil(t, state.PaymentMethod)
	assert.Equal(t, domain.PaymentMethodCard, state.PaymentMethod.Method)
	assert.Equal(t, 3, logs.FilterMessage("cart state read failed").Len())
	assert.Equal(t, 2, logs.FilterMessage("cart state write failed").Len())
}

func TestCartStore_WithoutStorage(t *testing.T) {
	s := NewCartStore(context.Background(), "sess-1", nil, nil)
	require.NoError(t, s.AddItem(context.Background(), product("A", 2), 1))
	assert.Len(t, s.Snapshot().Items, 1)
}

func TestCartStore_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, newMockStorage())
	require.NoError(t, s.AddItem(ctx, product("A", 3), 1))

	snap := s.Snapshot()
	snap.Items[0].Qty = 99

	assert.Equal(t, 1, s.Snapshot().Items[0].Qty)
}
