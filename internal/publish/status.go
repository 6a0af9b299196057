package publish

import (
	"context"
	"fmt"
	"time"

	"vedtaksync/internal/clients"
	"vedtaksync/internal/events"
	"vedtaksync/internal/metrics"
	"vedtaksync/internal/repo"
)

// Status emits one event-bus event per unpublished status transition. The
// unit of convergence is the status-publication row, not the decision: a
// closed decision owes two independent publications.
type Status struct {
	Repo    repo.Repo
	Bus     clients.EventPublisher
	Events  events.Writer
	Metrics metrics.Sink
	Now     func() time.Time
}

func (p Status) Name() string { return "status" }

func (p Status) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Status) Publish(ctx context.Context) ([]Outcome, error) {
	pending, err := p.Repo.ListUnpublishedStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan unpublished status: %w", err)
	}
	outcomes := make([]Outcome, 0, len(pending))
	for _, pub := range pending {
		decision, err := p.Repo.GetDecision(ctx, pub.DecisionID)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(pub.DecisionID, FailureTransient, fmt.Errorf("load decision: %w", err)))
			continue
		}
		evt := clients.StatusEvent{
			DecisionID: decision.ID.String(),
			SubjectID:  decision.SubjectID,
			Status:     pub.Status,
			OccurredAt: pub.CreatedAt,
		}
		if err := p.Bus.PublishStatus(ctx, evt); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(pub.DecisionID, FailureTransient, err))
			continue
		}
		if err := p.Repo.MarkStatusPublished(ctx, pub.ID, p.now()); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(pub.DecisionID, FailureInvariant, err))
			continue
		}
		p.Metrics.ConvergenceSucceeded(p.Name())
		_ = p.Events.AppendDirect(ctx, "decision.status_published", decision.ID.String(), "status-publisher", events.EventPayload{
			"status": string(pub.Status),
		})
		outcomes = append(outcomes, success(pub.DecisionID))
	}
	return outcomes, nil
}
