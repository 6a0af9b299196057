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

// Archive files each unarchived decision's rendered document in the document
// archive and records the returned reference.
type Archive struct {
	Repo    repo.Repo
	Client  clients.ArchiveClient
	Events  events.Writer
	Metrics metrics.Sink
}

func (p Archive) Name() string { return "archive" }

func (p Archive) Publish(ctx context.Context) ([]Outcome, error) {
	decisions, err := p.Repo.ListUnarchived(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan unarchived: %w", err)
	}
	outcomes := make([]Outcome, 0, len(decisions))
	for _, d := range decisions {
		document, err := p.Repo.GetDocument(ctx, d.ID)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, fmt.Errorf("load document: %w", err)))
			continue
		}
		reference, err := p.Client.Archive(ctx, d, document)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, err))
			continue
		}
		if err := p.Repo.MarkArchived(ctx, d.ID, reference); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureInvariant, err))
			continue
		}
		p.Metrics.ConvergenceSucceeded(p.Name())
		_ = p.Events.AppendDirect(ctx, "decision.archived", d.ID.String(), "archive-publisher", events.EventPayload{
			"archive_reference": reference,
		})
		outcomes = append(outcomes, success(d.ID))
	}
	return outcomes, nil
}

// Task creates the follow-up task for each archived decision that lacks one.
// The scan predicate enforces the archive-before-task invariant.
type Task struct {
	Repo    repo.Repo
	Client  clients.TaskClient
	Events  events.Writer
	Metrics metrics.Sink
}

func (p Task) Name() string { return "task" }

func (p Task) Publish(ctx context.Context) ([]Outcome, error) {
	decisions, err := p.Repo.ListUntasked(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan untasked: %w", err)
	}
	outcomes := make([]Outcome, 0, len(decisions))
	for _, d := range decisions {
		reference, err := p.Client.CreateTask(ctx, d)
		if err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, err))
			continue
		}
		if err := p.Repo.MarkTaskCreated(ctx, d.ID, reference); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureInvariant, err))
			continue
		}
		p.Metrics.ConvergenceSucceeded(p.Name())
		_ = p.Events.AppendDirect(ctx, "decision.task_created", d.ID.String(), "task-publisher", events.EventPayload{
			"task_reference": reference,
		})
		outcomes = append(outcomes, success(d.ID))
	}
	return outcomes, nil
}

// Notify emits one notification-bus event per archived decision that has not
// been notified yet.
type Notify struct {
	Repo    repo.Repo
	Bus     clients.EventPublisher
	Events  events.Writer
	Metrics metrics.Sink
	Now     func() time.Time
}

func (p Notify) Name() string { return "notify" }

func (p Notify) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Notify) Publish(ctx context.Context) ([]Outcome, error) {
	decisions, err := p.Repo.ListUnnotified(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan unnotified: %w", err)
	}
	outcomes := make([]Outcome, 0, len(decisions))
	for _, d := range decisions {
		evt := clients.NotificationEvent{
			DecisionID: d.ID.String(),
			SubjectID:  d.SubjectID,
			OccurredAt: p.now().UTC(),
		}
		if d.ArchiveReference != nil {
			evt.ArchiveReference = *d.ArchiveReference
		}
		if err := p.Bus.PublishNotification(ctx, evt); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureTransient, err))
			continue
		}
		if err := p.Repo.MarkNotified(ctx, d.ID, p.now()); err != nil {
			p.Metrics.ConvergenceFailed(p.Name())
			outcomes = append(outcomes, failure(d.ID, FailureInvariant, err))
			continue
		}
		p.Metrics.ConvergenceSucceeded(p.Name())
		_ = p.Events.AppendDirect(ctx, "decision.notified", d.ID.String(), "notify-publisher", nil)
		outcomes = append(outcomes, success(d.ID))
	}
	return outcomes, nil
}
