// Package metrics defines the counter sink the publishers and the queue
// bridge report through. Implementations are injected at construction time;
// tests use Noop.
package metrics

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives convergence and queue counters.
type Sink interface {
	// ConvergenceSucceeded counts one record marked converged for a destination.
	ConvergenceSucceeded(destination string)
	// ConvergenceFailed counts one failed attempt for a destination.
	ConvergenceFailed(destination string)
	// MessageSent counts one message published on the outbound queue.
	MessageSent()
	// ReceiptReceived counts one receipt consumed, by disposition ("ok",
	// "rejected", "dropped").
	ReceiptReceived(disposition string)
}

// Noop discards all counters.
type Noop struct{}

func (Noop) ConvergenceSucceeded(string) {}
func (Noop) ConvergenceFailed(string)    {}
func (Noop) MessageSent()                {}
func (Noop) ReceiptReceived(string)      {}

// OTel reports counters through an OpenTelemetry meter.
type OTel struct {
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	sent      metric.Int64Counter
	receipts  metric.Int64Counter
}

func NewOTel(meter metric.Meter) (*OTel, error) {
	succeeded, err := meter.Int64Counter("vedtaksync.convergence.succeeded")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("vedtaksync.convergence.failed")
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter("vedtaksync.mainframe.messages_sent")
	if err != nil {
		return nil, err
	}
	receipts, err := meter.Int64Counter("vedtaksync.mainframe.receipts_received")
	if err != nil {
		return nil, err
	}
	return &OTel{succeeded: succeeded, failed: failed, sent: sent, receipts: receipts}, nil
}

func (o *OTel) ConvergenceSucceeded(destination string) {
	o.succeeded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (o *OTel) ConvergenceFailed(destination string) {
	o.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("destination", destination)))
}

func (o *OTel) MessageSent() {
	o.sent.Add(context.Background(), 1)
}

func (o *OTel) ReceiptReceived(disposition string) {
	o.receipts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("disposition", disposition)))
}

// MustOTel builds an OTel sink or logs and falls back to Noop.
func MustOTel(meter metric.Meter) Sink {
	sink, err := NewOTel(meter)
	if err != nil {
		log.Printf("metrics: otel sink unavailable, using noop: %v", err)
		return Noop{}
	}
	return sink
}
