package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vedtaksync/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleMark means a conditional convergence update matched zero rows.
// Under leader-gated single-writer scheduling that is a lost-update race the
// design assumes cannot happen, so callers treat it as an invariant violation
// rather than a retryable failure.
var ErrStaleMark = errors.New("convergence mark matched zero rows")

const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

const decisionColumns = `id,subject_id,case_worker_id,reasoning,valid_from,valid_to,created_at,
archive_reference,task_reference,notified_at,mainframe_sent_at,mainframe_receipt_ok,
mainframe_rejection_reason,mainframe_failed_reason,status,closed_by,closed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(row scanner) (domain.Decision, error) {
	var (
		id, subjectID, caseWorkerID, reasoning     string
		validFrom, validTo, createdAt, status      string
		archiveRef, taskRef, notifiedAt            sql.NullString
		sentAt, rejectionReason, failedReason      sql.NullString
		closedBy, closedAt                         sql.NullString
		receiptOk                                  sql.NullBool
	)
	err := row.Scan(&id, &subjectID, &caseWorkerID, &reasoning, &validFrom, &validTo, &createdAt,
		&archiveRef, &taskRef, &notifiedAt, &sentAt, &receiptOk,
		&rejectionReason, &failedReason, &status, &closedBy, &closedAt)
	if err == sql.ErrNoRows {
		return domain.Decision{}, ErrNotFound
	}
	if err != nil {
		return domain.Decision{}, err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision id %q: %w", id, err)
	}
	from, err := parseTime(validFrom)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("valid_from: %w", err)
	}
	to, err := parseTime(validTo)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("valid_to: %w", err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("created_at: %w", err)
	}
	notified, err := timePtr(notifiedAt)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("notified_at: %w", err)
	}
	sent, err := timePtr(sentAt)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("mainframe_sent_at: %w", err)
	}
	closed, err := timePtr(closedAt)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("closed_at: %w", err)
	}
	return domain.ReconstructDecision(
		uid, subjectID, caseWorkerID, reasoning,
		from, to, created,
		strPtr(archiveRef), strPtr(taskRef),
		notified, sent,
		boolPtr(receiptOk),
		strPtr(rejectionReason), strPtr(failedReason),
		domain.Status(status),
		strPtr(closedBy),
		closed,
	), nil
}

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(id,subject_id,case_worker_id,reasoning,valid_from,valid_to,created_at,status)
VALUES (?,?,?,?,?,?,?,?)`,
		d.ID.String(), d.SubjectID, d.CaseWorkerID, d.Reasoning,
		formatTime(d.ValidFrom), formatTime(d.ValidTo), formatTime(d.CreatedAt), string(d.Status))
	return err
}

func (r Repo) GetDecision(ctx context.Context, id uuid.UUID) (domain.Decision, error) {
	return scanDecision(r.DB.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id.String()))
}

func (r Repo) ListBySubject(ctx context.Context, subjectID string) ([]domain.Decision, error) {
	return r.listDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE subject_id=? ORDER BY created_at ASC, id ASC`, subjectID)
}

func (r Repo) listDecisions(ctx context.Context, query string, args ...any) ([]domain.Decision, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// Unconverged scans. All return oldest-first so worst-case staleness stays
// bounded.

func (r Repo) ListUnarchived(ctx context.Context) ([]domain.Decision, error) {
	return r.listDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE archive_reference IS NULL ORDER BY created_at ASC, id ASC`)
}

// ListUntasked only selects decisions that already hold an archive reference;
// task creation needs the archive id.
func (r Repo) ListUntasked(ctx context.Context) ([]domain.Decision, error) {
	return r.listDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE task_reference IS NULL AND archive_reference IS NOT NULL ORDER BY created_at ASC, id ASC`)
}

// ListUnnotified mirrors ListUntasked's archive gate.
func (r Repo) ListUnnotified(ctx context.Context) ([]domain.Decision, error) {
	return r.listDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE notified_at IS NULL AND archive_reference IS NOT NULL ORDER BY created_at ASC, id ASC`)
}

// ListUnsentToMainframe skips decisions younger than the cutoff and those
// already marked permanently failed.
func (r Repo) ListUnsentToMainframe(ctx context.Context, createdBefore time.Time) ([]domain.Decision, error) {
	return r.listDecisions(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE mainframe_sent_at IS NULL AND mainframe_failed_reason IS NULL AND created_at <= ?
ORDER BY created_at ASC, id ASC`, formatTime(createdBefore))
}

// Conditional convergence marks. Each sets its field only while still null;
// zero matched rows is ErrStaleMark.

func (r Repo) MarkArchived(ctx context.Context, id uuid.UUID, archiveReference string) error {
	return r.mark(ctx, `UPDATE decisions SET archive_reference=? WHERE id=? AND archive_reference IS NULL`,
		archiveReference, id.String())
}

func (r Repo) MarkTaskCreated(ctx context.Context, id uuid.UUID, taskReference string) error {
	return r.mark(ctx, `UPDATE decisions SET task_reference=? WHERE id=? AND task_reference IS NULL`,
		taskReference, id.String())
}

func (r Repo) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mark(ctx, `UPDATE decisions SET notified_at=? WHERE id=? AND notified_at IS NULL`,
		formatTime(at), id.String())
}

func (r Repo) MarkMainframeSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mark(ctx, `UPDATE decisions SET mainframe_sent_at=? WHERE id=? AND mainframe_sent_at IS NULL`,
		formatTime(at), id.String())
}

// MarkMainframeFailed records a permanent send failure so the scan predicate
// stops returning the decision.
func (r Repo) MarkMainframeFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.mark(ctx, `UPDATE decisions SET mainframe_failed_reason=? WHERE id=? AND mainframe_failed_reason IS NULL`,
		reason, id.String())
}

// MarkMainframeReceipt stores the receipt outcome. The guard refuses a
// receipt for a decision that was never sent or that already has one.
func (r Repo) MarkMainframeReceipt(ctx context.Context, id uuid.UUID, ok bool, rejectionReason *string) error {
	return r.mark(ctx, `UPDATE decisions SET mainframe_receipt_ok=?, mainframe_rejection_reason=?
WHERE id=? AND mainframe_receipt_ok IS NULL AND mainframe_sent_at IS NOT NULL`,
		ok, nullableStringPtr(rejectionReason), id.String())
}

func (r Repo) mark(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleMark
	}
	return nil
}

// CloseDecision flips an OPEN decision to CLOSED inside the caller's tx.
func (r Repo) CloseDecision(ctx context.Context, tx *sql.Tx, id uuid.UUID, closedBy string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE decisions SET status=?, closed_by=?, closed_at=? WHERE id=? AND status=?`,
		string(domain.StatusClosed), closedBy, formatTime(at), id.String(), string(domain.StatusOpen))
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrStaleMark
	}
	return nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func timePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
