package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the notifier publishes through.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func(url, exchange string) (channel, io.Closer, error)

// AMQPNotifier publishes notifications as JSON to a fanout exchange that
// the push gateway consumes.
type AMQPNotifier struct {
	url      string
	exchange string
	dial     dialFunc

	mu   sync.Mutex
	conn io.Closer
	ch   channel
}

func NewAMQPNotifier(url, exchange string, attempts int) (*AMQPNotifier, error) {
	return newAMQPNotifier(url, exchange, attempts, dialExchange)
}

func newAMQPNotifier(url, exchange string, attempts int, dial dialFunc) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url, exchange: exchange, dial: dial}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = n.connect(); err == nil {
			log.Printf("amqp connected, exchange=%s", exchange)
			return n, nil
		}
		log.Printf("amqp connect attempt %d/%d failed: %v", i, attempts, err)
		if i < attempts {
			time.Sleep(time.Duration(1<<i) * time.Second)
		}
	}
	return nil, fmt.Errorf("amqp connect failed after %d attempts: %w", attempts, err)
}

// dialExchange dials and declares the fanout exchange.
func dialExchange(url, exchange string) (channel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return ch, conn, nil
}

// connect replaces the connection. Callers hold mu or own n.
func (n *AMQPNotifier) connect() error {
	ch, conn, err := n.dial(n.url, n.exchange)
	if err != nil {
		return err
	}
	n.conn, n.ch = conn, ch
	return nil
}

// publishing encodes msg; high priority maps to the broker's top priority.
func publishing(msg Notification) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.At,
		Type:         string(msg.Kind),
		Body:         body,
	}
	if msg.Priority == PriorityHigh {
		pub.Priority = 9
	}
	return pub, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg Notification) error {
	pub, err := publishing(msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == nil || n.ch.IsClosed() {
		n.closeLocked()
		if err := n.connect(); err != nil {
			return fmt.Errorf("amqp reconnect: %w", err)
		}
	}
	if err := n.ch.PublishWithContext(ctx, n.exchange, "", false, false, pub); err != nil {
		return fmt.Errorf("amqp publish %s: %w", msg.Kind, err)
	}
	return nil
}

func (n *AMQPNotifier) closeLocked() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
	n.conn, n.ch = nil, nil
}

func (n *AMQPNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closeLocked()
}
