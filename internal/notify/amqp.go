package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/noah-isme/foodapp-backend/internal/events"
)

// broker is the part of an AMQP connection the notifier publishes through.
type broker interface {
	publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error
	closed() bool
	Close() error
}

type dialFunc func(url, exchange string) (broker, error)

// AMQPNotifier publishes events to a durable fanout exchange with the topic as
// routing key. A dropped connection is redialed on the next publish.
type AMQPNotifier struct {
	url      string
	exchange string
	dial     dialFunc

	mu   sync.Mutex
	conn broker
}

// NewAMQPNotifier dials the broker and declares the exchange.
func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	return newAMQPNotifier(url, exchange, dialAMQP)
}

func newAMQPNotifier(url, exchange string, dial dialFunc) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = "payments.events"
	}
	conn, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPNotifier{url: url, exchange: exchange, dial: dial, conn: conn}, nil
}

// Notify implements events.Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, ev events.Event) (err error) {
	if n == nil || n.dial == nil {
		return errors.New("notify: amqp connection not configured")
	}
	start := time.Now()
	defer func() { observe("amqp", err, start) }()

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Topic,
		Body:         body,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	conn, err := n.connLocked()
	if err != nil {
		return err
	}
	err = conn.publish(ctx, n.exchange, ev.Topic, msg)
	if !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	// the connection died between the health check and the publish
	n.dropLocked()
	if conn, err = n.connLocked(); err != nil {
		return err
	}
	return conn.publish(ctx, n.exchange, ev.Topic, msg)
}

func (n *AMQPNotifier) connLocked() (broker, error) {
	if n.conn != nil && !n.conn.closed() {
		return n.conn, nil
	}
	n.dropLocked()
	conn, err := n.dial(n.url, n.exchange)
	if err != nil {
		return nil, fmt.Errorf("redial rabbitmq: %w", err)
	}
	n.conn = conn
	return conn, nil
}

func (n *AMQPNotifier) dropLocked() {
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

// Close releases the broker connection.
func (n *AMQPNotifier) Close() error {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

type amqpBroker struct {
	conn *amqp091.Connection
}

func dialAMQP(url, exchange string) (broker, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return amqpBroker{conn: conn}, nil
}

func (b amqpBroker) closed() bool { return b.conn.IsClosed() }

func (b amqpBroker) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

func (b amqpBroker) publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s %s", key, msg.MessageId)
	}
	return nil
}
