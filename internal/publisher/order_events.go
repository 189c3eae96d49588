package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/events"
	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	Topic             = "storefront.order-succeeded"
	defaultBufferSize = 256
	writeTimeout      = 5 * time.Second
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// OrderEventPublisher forwards order-success events raised on this instance
// to Kafka. Handle never blocks the bus; events are dropped when the queue is full.
type OrderEventPublisher struct {
	writer MessageWriter
	origin string
	queue  chan events.OrderSucceeded
	log    *zap.Logger
}

func NewOrderEventPublisher(writer MessageWriter, origin string, bufferSize int, log *zap.Logger) *OrderEventPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &OrderEventPublisher{
		writer: writer,
		origin: origin,
		queue:  make(chan events.OrderSucceeded, bufferSize),
		log:    log,
	}
}

// Handle is the bus subscription. Events received from other instances are
// not forwarded again.
func (p *OrderEventPublisher) Handle(ctx context.Context, ev events.OrderSucceeded) {
	if ev.Origin != p.origin {
		return
	}
	select {
	case p.queue <- ev:
	default:
		logger.For(ctx, p.log).Warn("order event queue full, dropping event",
			zap.String("order_number", ev.Order.OrderNumber))
	}
}

func (p *OrderEventPublisher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.queue:
			if err := p.publishToKafka(ctx, ev); err != nil {
				p.log.Error("failed to publish order event",
					zap.String("order_number", ev.Order.OrderNumber),
					zap.String("session_id", ev.SessionID),
					zap.Error(err))
			}
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// drain flushes what is already queued with a fresh deadline.
func (p *OrderEventPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			if err := p.publishToKafka(ctx, ev); err != nil {
				p.log.Error("failed to flush order event", zap.String("order_number", ev.Order.OrderNumber), zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (p *OrderEventPublisher) publishToKafka(ctx context.Context, ev events.OrderSucceeded) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.Order.OrderNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(events.EventTypeOrderSucceeded)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}

func (p *OrderEventPublisher) Close() error {
	return p.writer.Close()
}
