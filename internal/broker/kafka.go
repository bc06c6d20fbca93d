// Package broker publishes promo redemption events to Kafka.
package broker

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

// DefaultTopic receives one message per stored usage record.
const DefaultTopic = "promo.redeemed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ promo.EventPublisher = (*Publisher)(nil)

// Publisher writes redemption events keyed by promo code, so all redemptions
// of one code land on the same partition in order.
type Publisher struct {
	writer  messageWriter
	brokers []string
}

// NewPublisher creates a Publisher for the given brokers and topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &Publisher{writer: w, brokers: brokers}
}

// PublishRedemption implements promo.EventPublisher.
func (p *Publisher) PublishRedemption(ctx context.Context, r promo.Redemption) error {
	msg := kafka.Message{
		Key:   []byte(r.Code),
		Value: encodeRedemption(r),
		Time:  r.UsedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write redemption")
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *Publisher) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		return errors.New("no brokers configured")
	}
	return errors.Wrap(lastErr, "dial kafka")
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encodeRedemption(r promo.Redemption) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("order_id")
	e.Str(r.OrderID)
	e.FieldStart("customer_email")
	if r.CustomerEmail == "" {
		e.Null()
	} else {
		e.Str(r.CustomerEmail)
	}
	e.FieldStart("used_at")
	e.Str(r.UsedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
