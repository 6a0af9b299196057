// Package mq abstracts the point-to-point queues used to reach the legacy
// mainframe. The broker implementation is AMQP; tests use the in-memory
// queue.
package mq

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Delivery is one received message plus its acknowledgement handle. Ack must
// be called after processing, never before.
type Delivery struct {
	CorrelationID [16]byte
	Body          []byte
	ack           func() error
}

// Ack confirms the message to the broker.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Queue is a named point-to-point channel.
type Queue interface {
	// Send publishes one message tagged with the correlation identifier.
	Send(ctx context.Context, correlationID [16]byte, body []byte) error
	// Receive performs a non-blocking receive. ok is false when the queue is
	// empty.
	Receive(ctx context.Context) (d Delivery, ok bool, err error)
	Close() error
}

// Correlation derives the 16-byte wire correlation identifier from a decision
// id: the UUID's two 64-bit halves, big-endian, which is exactly the RFC 4122
// byte order.
func Correlation(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// ParseCorrelation decodes a wire correlation identifier back to a UUID.
func ParseCorrelation(b []byte) (uuid.UUID, error) {
	return uuid.FromBytes(b)
}

// Memory is an in-process queue for tests and local runs.
type Memory struct {
	mu       sync.Mutex
	messages []memoryMessage
	closed   bool
}

type memoryMessage struct {
	correlationID [16]byte
	body          []byte
}

var ErrClosed = errors.New("queue closed")

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Send(_ context.Context, correlationID [16]byte, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	buf := make([]byte, len(body))
	copy(buf, body)
	m.messages = append(m.messages, memoryMessage{correlationID: correlationID, body: buf})
	return nil
}

func (m *Memory) Receive(_ context.Context) (Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Delivery{}, false, ErrClosed
	}
	if len(m.messages) == 0 {
		return Delivery{}, false, nil
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	return Delivery{CorrelationID: msg.correlationID, Body: msg.body}, true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of queued messages. Test helper.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
