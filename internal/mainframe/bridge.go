package mainframe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"vedtaksync/internal/domain"
	"vedtaksync/internal/events"
	"vedtaksync/internal/leader"
	"vedtaksync/internal/metrics"
	"vedtaksync/internal/mq"
	"vedtaksync/internal/repo"
)

// Sender encodes a decision and publishes it on the outbound queue with the
// decision id as correlation identifier. Failures are transient; the send
// publisher retries on the next tick.
type Sender struct {
	Queue   mq.Queue
	Metrics metrics.Sink
}

func (s Sender) Send(ctx context.Context, d domain.Decision, domicile domain.Domicile, level domain.ProtectionLevel, sentAt time.Time) error {
	record, err := Encode(d, domicile, level, sentAt)
	if err != nil {
		return err
	}
	if err := s.Queue.Send(ctx, mq.Correlation(d.ID), []byte(record)); err != nil {
		return fmt.Errorf("send decision %s: %w", d.ID, err)
	}
	s.Metrics.MessageSent()
	return nil
}

const defaultPollInterval = 500 * time.Millisecond

// Consumer drains the inbound receipt queue and writes receipt outcomes back
// into the store. Protocol corruption (malformed receipt, unknown or
// mismatched correlation) is logged, acknowledged, and dropped; queue and
// store failures end the loop so the process restarts with a fresh session.
type Consumer struct {
	Queue mq.Queue
	Repo  repo.Repo
	// Elector gates receives the same way it gates publisher ticks. A
	// follower replica leaves the queue alone; nil means always leader.
	Elector      leader.Elector
	Events       events.Writer
	Metrics      metrics.Sink
	Logger       *log.Logger
	PollInterval time.Duration
}

func (c *Consumer) isLeader(ctx context.Context) (bool, error) {
	if c.Elector == nil {
		return true, nil
	}
	return c.Elector.IsLeader(ctx)
}

func (c *Consumer) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Run loops until ctx is cancelled. A non-nil return means the queue session
// or the store is no longer trustworthy.
func (c *Consumer) Run(ctx context.Context) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		lead, err := c.isLeader(ctx)
		if err != nil {
			c.logger().Printf("receipt: leader check failed, pausing: %v", err)
		}
		if err != nil || !lead {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
			continue
		}
		delivery, ok, err := c.Queue.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receipt queue receive: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
			continue
		}
		if err := c.process(ctx, delivery); err != nil {
			return err
		}
	}
}

// process handles one receipt. It returns an error only for store failures;
// everything protocol-shaped is resolved in place and acknowledged.
func (c *Consumer) process(ctx context.Context, delivery mq.Delivery) error {
	id, err := mq.ParseCorrelation(delivery.CorrelationID[:])
	if err != nil {
		c.drop(delivery, fmt.Sprintf("unparseable correlation id: %v", err))
		return nil
	}
	receipt, err := DecodeReceiptBytes(delivery.Body)
	if err != nil {
		c.drop(delivery, fmt.Sprintf("receipt for %s: %v", id, err))
		return nil
	}
	decision, err := c.Repo.GetDecision(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		c.drop(delivery, fmt.Sprintf("receipt correlation %s matches no decision", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load decision %s: %w", id, err)
	}
	if receipt.SubjectID != decision.SubjectID {
		c.drop(delivery, fmt.Sprintf("receipt for %s carries subject %q, stored decision has %q", id, receipt.SubjectID, decision.SubjectID))
		return nil
	}
	if decision.MainframeSentAt == nil {
		c.drop(delivery, fmt.Sprintf("receipt for %s but the decision was never sent", id))
		return nil
	}
	if decision.MainframeReceiptOk != nil {
		c.drop(delivery, fmt.Sprintf("decision %s already has a receipt, dropping duplicate", id))
		return nil
	}
	var reason *string
	if !receipt.Ok {
		reason = &receipt.RejectionReason
	}
	if err := c.Repo.MarkMainframeReceipt(ctx, id, receipt.Ok, reason); err != nil {
		return fmt.Errorf("record receipt for %s: %w", id, err)
	}
	disposition := "ok"
	if !receipt.Ok {
		disposition = "rejected"
	}
	c.Metrics.ReceiptReceived(disposition)
	if err := c.Events.AppendDirect(ctx, "decision.mainframe_receipt", id.String(), "mainframe", events.EventPayload{
		"ok":     receipt.Ok,
		"reason": receipt.RejectionReason,
	}); err != nil {
		c.logger().Printf("receipt: audit event for %s failed: %v", id, err)
	}
	if err := delivery.Ack(); err != nil {
		return fmt.Errorf("ack receipt for %s: %w", id, err)
	}
	return nil
}

// drop logs, counts, and acknowledges a receipt that cannot or must not be
// applied.
func (c *Consumer) drop(delivery mq.Delivery, msg string) {
	c.logger().Printf("receipt: %s", msg)
	c.Metrics.ReceiptReceived("dropped")
	if err := delivery.Ack(); err != nil {
		c.logger().Printf("receipt: ack dropped message failed: %v", err)
	}
}
