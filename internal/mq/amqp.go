package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP is a Queue backed by one broker queue. The connection is opened
// lazily and dropped on error so the next tick reconnects; connect and
// publish failures surface as transient errors to the caller.
type AMQP struct {
	URL       string
	QueueName string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQP(url, queueName string) *AMQP {
	return &AMQP{URL: url, QueueName: queueName}
}

func (q *AMQP) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	q.reset()
	conn, err := amqp.Dial(q.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", q.QueueName, err)
	}
	q.conn = conn
	q.ch = ch
	return ch, nil
}

func (q *AMQP) reset() {
	if q.ch != nil {
		q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		q.conn.Close()
		q.conn = nil
	}
}

func (q *AMQP) dropConnection() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
}

func (q *AMQP) Send(ctx context.Context, correlationID [16]byte, body []byte) error {
	ch, err := q.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", q.QueueName, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: string(correlationID[:]),
		Body:          body,
	})
	if err != nil {
		q.dropConnection()
		return fmt.Errorf("publish to %s: %w", q.QueueName, err)
	}
	return nil
}

func (q *AMQP) Receive(_ context.Context) (Delivery, bool, error) {
	ch, err := q.channel()
	if err != nil {
		return Delivery{}, false, err
	}
	msg, ok, err := ch.Get(q.QueueName, false)
	if err != nil {
		q.dropConnection()
		return Delivery{}, false, fmt.Errorf("receive from %s: %w", q.QueueName, err)
	}
	if !ok {
		return Delivery{}, false, nil
	}
	var correlationID [16]byte
	copy(correlationID[:], msg.CorrelationId)
	return Delivery{
		CorrelationID: correlationID,
		Body:          msg.Body,
		ack:           func() error { return msg.Ack(false) },
	}, true, nil
}

func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
	return nil
}
