package cache

import (
	"context"
	"errors"
)

// Durable slice names of a cart session.
const (
	SliceCartItems       = "cartItems"
	SliceShippingAddress = "shippingAddress"
	SlicePaymentMethod   = "paymentMethod"
)

// StateStorage persists the JSON-encoded slices of a cart session.
type StateStorage interface {
	Get(ctx context.Context, sessionID, slice string) ([]byte, error)
	Set(ctx context.Context, sessionID, slice string, value []byte) error
	Delete(ctx context.Context, sessionID string, slices ...string) error
}

var ErrCacheMiss = errors.New("cache miss")
