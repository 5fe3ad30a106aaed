package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewPublisherOnChannel(conn, ch, queue)
}

// NewPublisherOnChannel publishes on an existing channel; the worker uses it
// to send retries on its consuming connection. conn may be nil.
func NewPublisherOnChannel(conn *amqp.Connection, ch *amqp.Channel, queue string) (*Publisher, error) {
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, m JobMessage, expiration string) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   expiration,
		},
	)
}

func (p *Publisher) PublishJob(ctx context.Context, m JobMessage) error {
	return p.publish(ctx, p.queue, m, "")
}

// PublishRetry parks m on the retry queue; it returns to the main queue
// once delay has passed.
func (p *Publisher) PublishRetry(ctx context.Context, m JobMessage, delay time.Duration) error {
	if delay <= 0 {
		delay = time.Second
	}
	return p.publish(ctx, RetryQueue(p.queue), m, strconv.FormatInt(delay.Milliseconds(), 10))
}
