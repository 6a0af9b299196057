// Package engine is the synchronous entry point: it creates and closes
// decisions. Everything that happens to a decision afterwards is the
// publishers' business.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vedtaksync/internal/clients"
	"vedtaksync/internal/domain"
	"vedtaksync/internal/events"
	"vedtaksync/internal/repo"
)

// ValidationError is bad input shape or range. Never retried.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// ConflictError means the stored state already satisfies or contradicts the
// request.
type ConflictError struct {
	Msg string
}

func (e ConflictError) Error() string { return e.Msg }

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Renderer clients.DocumentRenderer
	Now      func() time.Time
	NewID    func() uuid.UUID
}

func New(db *sql.DB, renderer clients.DocumentRenderer) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Renderer: renderer,
		Now:      time.Now,
		NewID:    uuid.New,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() uuid.UUID {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New()
}

// CreateOptions are the parameters for a new decision.
type CreateOptions struct {
	SubjectID    string
	CaseWorkerID string
	Reasoning    string
	ValidFrom    time.Time
	ValidTo      time.Time
}

// Create validates the request, rejects overlapping OPEN decisions for the
// subject, renders the document, and persists decision, document, and the
// OPEN status-publication row in one transaction.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Decision, error) {
	if opts.SubjectID == "" {
		return domain.Decision{}, ValidationError{Msg: "subject id is required"}
	}
	if opts.CaseWorkerID == "" {
		return domain.Decision{}, ValidationError{Msg: "case worker id is required"}
	}
	if opts.ValidFrom.After(opts.ValidTo) {
		return domain.Decision{}, ValidationError{Msg: "valid_from must not be after valid_to"}
	}
	existing, err := e.Repo.ListBySubject(ctx, opts.SubjectID)
	if err != nil {
		return domain.Decision{}, err
	}
	for _, prior := range existing {
		if prior.Status == domain.StatusOpen && prior.Overlaps(opts.ValidFrom, opts.ValidTo) {
			return domain.Decision{}, ConflictError{
				Msg: fmt.Sprintf("subject already has open decision %s overlapping the interval", prior.ID),
			}
		}
	}
	now := e.now()
	d := domain.NewDecision(e.newID(), opts.SubjectID, opts.CaseWorkerID, opts.Reasoning, opts.ValidFrom, opts.ValidTo, now)
	document, err := e.Renderer.Render(ctx, d)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("render document: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
		return domain.Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	if err := e.Repo.InsertDocument(ctx, tx, d.ID, document, now); err != nil {
		return domain.Decision{}, fmt.Errorf("insert document: %w", err)
	}
	if err := e.Repo.InsertStatusPublication(ctx, tx, d.ID, domain.StatusOpen, now); err != nil {
		return domain.Decision{}, fmt.Errorf("insert status publication: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "decision.created", d.ID.String(), opts.CaseWorkerID, events.EventPayload{
		"subject_id": d.SubjectID,
	}); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

// Close flips an OPEN decision to CLOSED and appends the CLOSED
// status-publication row for the status publisher to pick up.
func (e Engine) Close(ctx context.Context, id uuid.UUID, closedBy string) (domain.Decision, error) {
	if closedBy == "" {
		return domain.Decision{}, ValidationError{Msg: "closed_by is required"}
	}
	d, err := e.Repo.GetDecision(ctx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if d.Status == domain.StatusClosed {
		return domain.Decision{}, ConflictError{Msg: fmt.Sprintf("decision %s is already closed", id)}
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseDecision(ctx, tx, id, closedBy, now); err != nil {
		if errors.Is(err, repo.ErrStaleMark) {
			return domain.Decision{}, ConflictError{Msg: fmt.Sprintf("decision %s is already closed", id)}
		}
		return domain.Decision{}, err
	}
	if err := e.Repo.InsertStatusPublication(ctx, tx, id, domain.StatusClosed, now); err != nil {
		return domain.Decision{}, fmt.Errorf("insert status publication: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "decision.closed", id.String(), closedBy, nil); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	return e.Repo.GetDecision(ctx, id)
}

func (e Engine) Get(ctx context.Context, id uuid.UUID) (domain.Decision, error) {
	return e.Repo.GetDecision(ctx, id)
}

func (e Engine) ListBySubject(ctx context.Context, subjectID string) ([]domain.Decision, error) {
	return e.Repo.ListBySubject(ctx, subjectID)
}

// SyncState is the per-destination convergence view of one decision.
type SyncState struct {
	Decision           domain.Decision            `json:"decision"`
	MainframeStatus    domain.MainframeStatus     `json:"mainframe_status" enum:"NOT_SENT,SENT_AWAITING_RECEIPT,RECEIPT_OK,RECEIPT_REJECTED"`
	Archived           bool                       `json:"archived"`
	TaskCreated        bool                       `json:"task_created"`
	Notified           bool                       `json:"notified"`
	StatusPublications []domain.StatusPublication `json:"status_publications"`
}

// Sync reports how far each destination has converged for a decision.
func (e Engine) Sync(ctx context.Context, id uuid.UUID) (SyncState, error) {
	d, err := e.Repo.GetDecision(ctx, id)
	if err != nil {
		return SyncState{}, err
	}
	pubs, err := e.Repo.ListStatusPublications(ctx, id)
	if err != nil {
		return SyncState{}, err
	}
	return SyncState{
		Decision:           d,
		MainframeStatus:    d.MainframeStatus(),
		Archived:           d.ArchiveReference != nil,
		TaskCreated:        d.TaskReference != nil,
		Notified:           d.NotifiedAt != nil,
		StatusPublications: pubs,
	}, nil
}
