package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStateTTL = 30 * 24 * time.Hour

func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &RedisStorage{
		client:  client,
		baseTTL: ttl,
	}
}

type RedisStorage struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisStorage) Get(ctx context.Context, sessionID, slice string) ([]byte, error) {
	data, err := r.client.Get(ctx, stateKey(sessionID, slice)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r RedisStorage) Set(ctx context.Context, sessionID, slice string, value []byte) error {
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if err := r.client.Set(ctx, stateKey(sessionID, slice), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes the given slices, or every slice when none are named.
func (r RedisStorage) Delete(ctx context.Context, sessionID string, slices ...string) error {
	if len(slices) == 0 {
		slices = []string{SliceCartItems, SliceShippingAddress, SlicePaymentMethod}
	}
	keys := make([]string, len(slices))
	for i, s := range slices {
		keys[i] = stateKey(sessionID, s)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func stateKey(sessionID, slice string) string {
	return fmt.Sprintf("cart:%s:%s", sessionID, slice)
}
