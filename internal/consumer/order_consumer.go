package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/cache"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/events"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/publisher"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const readRetryDelay = time.Second

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader joins groupID. Every instance needs its own group to see
// every order event.
func NewKafkaReader(groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    publisher.Topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

// Consumer applies order-success events raised on other instances: the
// session's persisted cart lines are cleared and the event is replayed on the
// local bus.
type Consumer struct {
	reader  MessageReader
	storage cache.StateStorage
	bus     *events.Bus
	log     *zap.Logger
}

func NewConsumer(reader MessageReader, storage cache.StateStorage, bus *events.Bus, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{reader: reader, storage: storage, bus: bus, log: log}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", zap.Error(err))
	}
}

// processMessage handles one message. Only read failures are returned;
// unusable messages are logged and skipped.
func (c *Consumer) processMessage(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		c.log.Error("error reading message", zap.Error(err))
		return err
	}

	if et := eventType(m); et != "" && et != events.EventTypeOrderSucceeded {
		return nil
	}

	var ev events.OrderSucceeded
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.log.Warn("error parsing message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if ev.SessionID == "" {
		c.log.Warn("order event without session id", zap.String("order_number", ev.Order.OrderNumber))
		return nil
	}
	if ev.Origin == c.bus.Origin() {
		return nil
	}

	log := c.log.With(
		zap.String("session_id", ev.SessionID),
		zap.String("order_number", ev.Order.OrderNumber),
		zap.String("origin", ev.Origin),
		zap.Bool("payment_retry", ev.PaymentRetry))

	if c.storage != nil && !ev.PaymentRetry {
		err := c.storage.Delete(ctx, ev.SessionID, cache.SliceCartItems)
		if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
			log.Error("failed to clear persisted cart", zap.Error(err))
		}
	}

	c.bus.Publish(ctx, ev)
	log.Info("applied remote order event")
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
