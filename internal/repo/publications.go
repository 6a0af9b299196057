package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"vedtaksync/internal/domain"
)

func (r Repo) InsertStatusPublication(ctx context.Context, tx *sql.Tx, decisionID uuid.UUID, status domain.Status, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO status_publications(decision_id,status,created_at) VALUES (?,?,?)`,
		decisionID.String(), string(status), formatTime(at))
	return err
}

// ListUnpublishedStatus returns status transitions whose event has not been
// emitted yet, oldest first.
func (r Repo) ListUnpublishedStatus(ctx context.Context) ([]domain.StatusPublication, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,decision_id,status,created_at,published_at FROM status_publications
WHERE published_at IS NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusPublication
	for rows.Next() {
		p, err := scanStatusPublication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ListStatusPublications(ctx context.Context, decisionID uuid.UUID) ([]domain.StatusPublication, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,decision_id,status,created_at,published_at FROM status_publications
WHERE decision_id=? ORDER BY created_at ASC, id ASC`, decisionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusPublication
	for rows.Next() {
		p, err := scanStatusPublication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) MarkStatusPublished(ctx context.Context, publicationID int64, at time.Time) error {
	return r.mark(ctx, `UPDATE status_publications SET published_at=? WHERE id=? AND published_at IS NULL`,
		formatTime(at), publicationID)
}

func scanStatusPublication(row scanner) (domain.StatusPublication, error) {
	var (
		p           domain.StatusPublication
		id          string
		status      string
		createdAt   string
		publishedAt sql.NullString
	)
	if err := row.Scan(&p.ID, &id, &status, &createdAt, &publishedAt); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return p, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return p, err
	}
	published, err := timePtr(publishedAt)
	if err != nil {
		return p, err
	}
	p.DecisionID = uid
	p.Status = domain.Status(status)
	p.CreatedAt = created
	p.PublishedAt = published
	return p, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, decisionID uuid.UUID, pdf []byte, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(decision_id,pdf,created_at) VALUES (?,?,?)`,
		decisionID.String(), pdf, formatTime(at))
	return err
}

func (r Repo) GetDocument(ctx context.Context, decisionID uuid.UUID) ([]byte, error) {
	var pdf []byte
	err := r.DB.QueryRowContext(ctx, `SELECT pdf FROM documents WHERE decision_id=?`, decisionID.String()).Scan(&pdf)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return pdf, err
}

// LatestEvents returns the audit trail for one decision, newest first.
func (r Repo) LatestEvents(ctx context.Context, decisionID uuid.UUID, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,decision_id,actor_id,payload_json FROM events
WHERE decision_id=? ORDER BY id DESC LIMIT ?`, decisionID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var decID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &decID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if decID.Valid {
			e.DecisionID = decID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
