package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/circuitbreaker"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := circuitbreaker.DefaultConfig("test")
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Minute
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, Breaker: cfg}, nil)
}

func sampleRequest() domain.OrderRequest {
	return domain.OrderRequest{
		IdempotencyKey:  "idem-1",
		Items:           []domain.OrderItem{{ProductID: "p1", Name: "Amplifier", Qty: 1, UnitPrice: 12500}},
		ShippingAddress: domain.ShippingAddress{ID: "addr-1", City: "Nairobi"},
		PaymentMethod:   domain.PaymentMethodSelection{Method: domain.PaymentMethodMPesa, MPesaNumber: "254712345678"},
		Totals:          domain.Totals{Total: 12500},
	}
}

func TestCreateOrder(t *testing.T) {
	var gotReq domain.OrderRequest
	var gotKey, gotAuth, gotRequestID string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42","order_number":"ORD-42","total_price":12500,
			"payment_method":{"method":"mpesa"},"mpesa_checkout_request_id":"ws_CO_42"}`))
	}))

	ctx := WithBearerToken(logger.WithRequestID(context.Background(), "req-1"), "tok")
	order, err := c.CreateOrder(ctx, sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, "ORD-42", order.OrderNumber)
	assert.Equal(t, "ws_CO_42", order.MPesaCheckoutRequestID)
	assert.True(t, order.NeedsReconciliation())
	assert.Equal(t, "idem-1", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "req-1", gotRequestID)
	assert.Equal(t, "p1", gotReq.Items[0].ProductID)
}

func TestCreateOrder_APIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Product p1 is out of stock"}`))
	}))

	_, err := c.CreateOrder(context.Background(), sampleRequest())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Product p1 is out of stock", apiErr.Message)
	assert.True(t, IsClientError(err))
}

func TestCreateOrder_MissingOrderNumber(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))

	_, err := c.CreateOrder(context.Background(), sampleRequest())
	assert.ErrorContains(t, err, "no order number")
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	for i := 0; i < 5; i++ {
		_, err := c.CreateOrder(context.Background(), sampleRequest())
		require.True(t, IsClientError(err))
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, "closed", c.BreakerStates()["orders"])
}

func TestServerErrorsTripBreaker(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		_, err := c.CheckPaymentStatus(context.Background(), "ws_CO_1")
		require.Error(t, err)
	}
	_, err := c.CheckPaymentStatus(context.Background(), "ws_CO_1")

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "open", c.BreakerStates()["payments"])
	assert.Equal(t, "closed", c.BreakerStates()["orders"])
}

func TestCheckPaymentStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/payments/mpesa/status/ws_CO_123/", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"completed","result_code":0,"result_desc":"ok",
			"is_successful":true,"is_pending":false,"mpesa_receipt_number":"ABC123"}`))
	}))

	tx, err := c.CheckPaymentStatus(context.Background(), "ws_CO_123")

	require.NoError(t, err)
	assert.True(t, tx.HasResultCode(domain.ResultCodeSuccess))
	assert.True(t, tx.IsSuccessful)
	assert.Equal(t, "ABC123", tx.MPesaReceiptNumber)
}

func TestCheckPaymentStatus_NullResultCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending","result_code":null,"is_pending":true}`))
	}))

	tx, err := c.CheckPaymentStatus(context.Background(), "ws_CO_123")

	require.NoError(t, err)
	assert.Nil(t, tx.ResultCode)
	assert.True(t, tx.IsPending)
}

func TestCheckPaymentStatus_CollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"status":"processing","result_code":4999}`))
	}))

	var wg sync.WaitGroup
	results := make([]*domain.PaymentTransaction, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := c.CheckPaymentStatus(context.Background(), "ws_CO_9")
			assert.NoError(t, err)
			results[i] = tx
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, tx := range results {
		require.NotNil(t, tx)
		assert.True(t, tx.HasResultCode(domain.ResultCodeProcessing))
	}
}

func TestCheckPaymentStatus_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"status":"completed","result_code":0,"is_successful":true}`))
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.CheckPaymentStatus(firstCtx, "ws_CO_5")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		tx  *domain.PaymentTransaction
		err error
	}
	second := make(chan result, 1)
	go func() {
		tx, err := c.CheckPaymentStatus(context.Background(), "ws_CO_5")
		second <- result{tx, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.tx.IsSuccessful)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReinitiatePayment(t *testing.T) {
	var gotReq domain.PaymentRetryRequest
	var gotKey string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/ORD-42/pay/", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"id":"42","order_number":"ORD-42",
			"payment_method":{"method":"mpesa"},"mpesa_checkout_request_id":"ws_CO_43"}`))
	}))

	order, err := c.ReinitiatePayment(context.Background(), domain.PaymentRetryRequest{
		IdempotencyKey: "idem-2",
		OrderNumber:    "ORD-42",
		PaymentMethod:  domain.PaymentMethodSelection{Method: domain.PaymentMethodMPesa, MPesaNumber: "254712345678"},
	})

	require.NoError(t, err)
	assert.Equal(t, "ws_CO_43", order.MPesaCheckoutRequestID)
	assert.Equal(t, "idem-2", gotKey)
	assert.Equal(t, "ORD-42", gotReq.OrderNumber)
	assert.Equal(t, "254712345678", gotReq.PaymentMethod.MPesaNumber)
}

func TestReinitiatePayment_MissingCheckoutID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_number":"ORD-42","payment_method":{"method":"mpesa"}}`))
	}))

	_, err := c.ReinitiatePayment(context.Background(), domain.PaymentRetryRequest{
		OrderNumber:   "ORD-42",
		PaymentMethod: domain.PaymentMethodSelection{Method: domain.PaymentMethodMPesa},
	})
	assert.ErrorContains(t, err, "no checkout request id")
}
