// Package clients holds the boundary contracts for the external collaborators
// the publishers talk to, plus their HTTP implementations. Publishers depend
// on the interfaces only; tests substitute fakes.
package clients

import (
	"context"
	"time"

	"vedtaksync/internal/domain"
)

// DocumentRenderer produces the rendered decision document.
type DocumentRenderer interface {
	Render(ctx context.Context, d domain.Decision) ([]byte, error)
}

// ArchiveClient files the decision document in the document archive.
type ArchiveClient interface {
	Archive(ctx context.Context, d domain.Decision, document []byte) (archiveReference string, err error)
}

// TaskClient creates the follow-up entry in the task-management system.
type TaskClient interface {
	CreateTask(ctx context.Context, d domain.Decision) (taskReference string, err error)
}

// StatusEvent is the payload emitted on the event bus per status transition.
type StatusEvent struct {
	DecisionID string        `json:"decision_id"`
	SubjectID  string        `json:"subject_id"`
	Status     domain.Status `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NotificationEvent is the payload emitted on the downstream notification bus.
type NotificationEvent struct {
	DecisionID       string    `json:"decision_id"`
	SubjectID        string    `json:"subject_id"`
	ArchiveReference string    `json:"archive_reference"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// EventPublisher emits events on the bus. Both calls block until the bus has
// acknowledged delivery.
type EventPublisher interface {
	PublishStatus(ctx context.Context, evt StatusEvent) error
	PublishNotification(ctx context.Context, evt NotificationEvent) error
}

// PersonRegistry exposes the two subject fields this core needs.
type PersonRegistry interface {
	Domicile(ctx context.Context, subjectID string) (domain.Domicile, error)
	ProtectionLevel(ctx context.Context, subjectID string) (domain.ProtectionLevel, error)
}
