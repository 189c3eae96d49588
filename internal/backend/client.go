package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/circuitbreaker"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	ordersPath        = "/api/orders/"
	orderPaymentPath  = "/api/orders/%s/pay/"
	paymentStatusPath = "/api/payments/mpesa/status/%s/"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether err is a 4xx answer.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

type ctxKey struct{}

// WithBearerToken attaches the caller's access token to ctx so backend calls
// made on its behalf are authorized.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, token)
}

func bearerToken(ctx context.Context) string {
	token, _ := ctx.Value(ctxKey{}).(string)
	return token
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

// Client talks to the order and payment REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	orders     *circuitbreaker.Breaker[*domain.Order]
	payments   *circuitbreaker.Breaker[*domain.PaymentTransaction]
	sfg        singleflight.Group // collapses concurrent status checks per checkout id
	timeout    time.Duration
	log        *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = circuitbreaker.DefaultConfig("backend")
	}
	cfg.Breaker.IsSuccessful = func(err error) bool {
		return err == nil || IsClientError(err) || errors.Is(err, context.Canceled)
	}

	ordersCfg, paymentsCfg := cfg.Breaker, cfg.Breaker
	ordersCfg.Name += "-orders"
	paymentsCfg.Name += "-payments"

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		orders:   circuitbreaker.New[*domain.Order](ordersCfg, log),
		payments: circuitbreaker.New[*domain.PaymentTransaction](paymentsCfg, log),
		timeout:  cfg.Timeout,
		log:      log,
	}
}

// CreateOrder submits req. The idempotency key lets the backend deduplicate
// a resubmitted order.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	return c.orders.Execute(func() (*domain.Order, error) {
		headers := http.Header{}
		if req.IdempotencyKey != "" {
			headers.Set("Idempotency-Key", req.IdempotencyKey)
		}
		var order domain.Order
		if err := c.do(ctx, http.MethodPost, ordersPath, req, headers, &order); err != nil {
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		if order.OrderNumber == "" {
			return nil, errors.New("failed to create order: response carries no order number")
		}
		logger.For(ctx, c.log).Debug("order created", zap.String("order_number", order.OrderNumber))
		return &order, nil
	})
}

// ReinitiatePayment starts a new payment attempt for a placed order. The
// returned order carries the new checkout request id.
func (c *Client) ReinitiatePayment(ctx context.Context, req domain.PaymentRetryRequest) (*domain.Order, error) {
	return c.orders.Execute(func() (*domain.Order, error) {
		headers := http.Header{}
		if req.IdempotencyKey != "" {
			headers.Set("Idempotency-Key", req.IdempotencyKey)
		}
		path := fmt.Sprintf(orderPaymentPath, url.PathEscape(req.OrderNumber))
		var order domain.Order
		if err := c.do(ctx, http.MethodPost, path, req, headers, &order); err != nil {
			return nil, fmt.Errorf("failed to re-initiate payment: %w", err)
		}
		if order.OrderNumber == "" {
			order.OrderNumber = req.OrderNumber
		}
		if req.PaymentMethod.Method.IsMobileMoney() && order.MPesaCheckoutRequestID == "" {
			return nil, errors.New("failed to re-initiate payment: response carries no checkout request id")
		}
		logger.For(ctx, c.log).Debug("payment re-initiated",
			zap.String("order_number", order.OrderNumber),
			zap.String("checkout_request_id", order.MPesaCheckoutRequestID))
		return &order, nil
	})
}

// CheckPaymentStatus fetches the raw status of a mobile-money checkout request.
// Concurrent checks of one id share a single request, which is detached from
// any one caller's cancellation and bounded by the client timeout.
func (c *Client) CheckPaymentStatus(ctx context.Context, checkoutRequestID string) (*domain.PaymentTransaction, error) {
	ch := c.sfg.DoChan(checkoutRequestID, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.payments.Execute(func() (*domain.PaymentTransaction, error) {
			path := fmt.Sprintf(paymentStatusPath, url.PathEscape(checkoutRequestID))
			var tx domain.PaymentTransaction
			if err := c.do(sharedCtx, http.MethodGet, path, nil, nil, &tx); err != nil {
				return nil, fmt.Errorf("failed to check payment status: %w", err)
			}
			return &tx, nil
		})
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.PaymentTransaction), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) BreakerStates() map[string]string {
	return map[string]string{
		"orders":   c.orders.State(),
		"payments": c.payments.State(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range headers {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := bearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Detail != "":
			msg = body.Detail
		case body.Message != "":
			msg = body.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
