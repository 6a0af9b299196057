package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vedtaksync/internal/clients"
	"vedtaksync/internal/events"
	"vedtaksync/internal/mainframe"
	"vedtaksync/internal/metrics"
	"vedtaksync/internal/repo"
)

const defaultMinSendAge = time.Minute

// MainframeSend puts each eligible decision on the outbound legacy queue.
// Records younger than MinSendAge are skipped so a still-committing creating
// transaction is never raced. Protected identities are a permanent failure:
// they are marked failed and leave the scan for good.
type MainframeSend struct {
	Repo       repo.Repo
	Registry   clients.PersonRegistry
	Sender     mainframe.Sender
	Events     events.Writer
	Metrics    metrics.Sink
	MinSendAge time.Duration
	Now        func() time.Time
}

func (p MainframeSend) Name() string { return "mainframe" }

func (p MainframeSend) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p MainframeSend) Publish(ctx context.Context) ([]Outcome, error) {
	minAge := p.MinSendAge
	if minAge <= 0 {
		minAge = defaultMinSendAge
	}
	cutoff := p.now().Add(-minAge)
	decisions, err := p.Repo.ListUnsentToMainframe(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan unsent: %w", err)
	}
	outcomes := make([]Outcome, 0, len(decisions))
	for _, d := range decisions {
		level, err := p.Registry.ProtectionLevel(ctx, d.SubjectID)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, fmt.Errorf("protection level: %w", err)))
			continue
		}
		domicile, err := p.Registry.Domicile(ctx, d.SubjectID)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, fmt.Errorf("domicile: %w", err)))
			continue
		}
		sentAt := p.now()
		if err := p.Sender.Send(ctx, d, domicile, level, sentAt); err != nil {
			if errors.Is(err, mainframe.ErrProtectedIdentity) {
				outcomes = append(outcomes, p.markFailed(ctx, d.ID, err))
				continue
			}
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, err))
			continue
		}
		if err := p.Repo.MarkMainframeSent(ctx, d.ID, sentAt); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureInvariant, err))
			continue
		}
		p.Metrics.ConvergenceSucceeded(p.Name())
		_ = p.Events.AppendDirect(ctx, "decision.mainframe_sent", d.ID.String(), "mainframe-publisher", nil)
		outcomes = append(outcomes, success(d.ID))
	}
	return outcomes, nil
}

// markFailed persists a permanent failure so the scan stops returning the
// record, then reports it for operator visibility.
func (p MainframeSend) markFailed(ctx context.Context, id uuid.UUID, cause error) Outcome {
	if err := p.Repo.MarkMainframeFailed(ctx, id, cause.Error()); err != nil {
		p.Metrics.ConvergenceFailed(p.Name())
		return failure(id, FailureInvariant, err)
	}
	p.Metrics.ConvergenceFailed(p.Name())
	_ = p.Events.AppendDirect(ctx, "decision.mainframe_failed", id.String(), "mainframe-publisher", events.EventPayload{
		"reason": cause.Error(),
	})
	return failure(id, FailurePermanent, cause)
}
