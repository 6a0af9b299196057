package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"vedtaksync/internal/db"
	"vedtaksync/internal/domain"
	"vedtaksync/internal/migrate"
	"vedtaksync/internal/repo"
)

func newTestRepo(t *testing.T) (*sql.DB, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn, repo.Repo{DB: conn}
}

func insertDecision(t *testing.T, conn *sql.DB, r repo.Repo, d domain.Decision) {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertDecision(context.Background(), tx, d); err != nil {
		t.Fatalf("insert decision: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func decisionAt(subjectID string, createdAt time.Time) domain.Decision {
	return domain.NewDecision(uuid.New(), subjectID, "A123456", "innvilget",
		createdAt, createdAt.AddDate(0, 1, 0), createdAt)
}

func TestGetDecisionRoundTrip(t *testing.T) {
	conn, r := newTestRepo(t)
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	got, err := r.GetDecision(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != d.ID || got.SubjectID != d.SubjectID || got.Status != domain.StatusOpen {
		t.Fatalf("got %+v", got)
	}
	if !got.CreatedAt.Equal(d.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, d.CreatedAt)
	}
	if got.ArchiveReference != nil || got.MainframeSentAt != nil || got.MainframeReceiptOk != nil {
		t.Fatal("fresh decision must have no markers")
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	_, r := newTestRepo(t)
	_, err := r.GetDecision(context.Background(), uuid.New())
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestScansOrderOldestFirst(t *testing.T) {
	conn, r := newTestRepo(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newer := decisionAt("12345678910", base.Add(time.Hour))
	older := decisionAt("12345678910", base)
	insertDecision(t, conn, r, newer)
	insertDecision(t, conn, r, older)

	got, err := r.ListUnarchived(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Fatalf("order wrong: %+v", got)
	}
}

func TestTaskAndNotifyScansRequireArchiveReference(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	for _, scan := range []func(context.Context) ([]domain.Decision, error){r.ListUntasked, r.ListUnnotified} {
		got, err := scan(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatal("unarchived decision must not be eligible")
		}
	}

	if err := r.MarkArchived(ctx, d.ID, "journal-1"); err != nil {
		t.Fatal(err)
	}
	for _, scan := range []func(context.Context) ([]domain.Decision, error){r.ListUntasked, r.ListUnnotified} {
		got, err := scan(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != d.ID {
			t.Fatalf("got %+v", got)
		}
	}
}

func TestListUnsentToMainframeCutoffAndFailedFilter(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := decisionAt("12345678910", base.Add(-2*time.Minute))
	young := decisionAt("12345678910", base.Add(-10*time.Second))
	failed := decisionAt("12345678910", base.Add(-3*time.Minute))
	insertDecision(t, conn, r, old)
	insertDecision(t, conn, r, young)
	insertDecision(t, conn, r, failed)
	if err := r.MarkMainframeFailed(ctx, failed.ID, "protected identity"); err != nil {
		t.Fatal(err)
	}

	got, err := r.ListUnsentToMainframe(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Fatalf("got %+v", got)
	}
}

func TestMarksAreConditional(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	if err := r.MarkArchived(ctx, d.ID, "journal-1"); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkArchived(ctx, d.ID, "journal-2"); !errors.Is(err, repo.ErrStaleMark) {
		t.Fatalf("second mark: err = %v, want ErrStaleMark", err)
	}
	got, err := r.GetDecision(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ArchiveReference == nil || *got.ArchiveReference != "journal-1" {
		t.Fatalf("archive reference = %v", got.ArchiveReference)
	}
}

func TestMarkMainframeReceipt(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	reason := "Feilkode 42"
	if err := r.MarkMainframeReceipt(ctx, d.ID, false, &reason); !errors.Is(err, repo.ErrStaleMark) {
		t.Fatalf("receipt before send: err = %v, want ErrStaleMark", err)
	}
	if err := r.MarkMainframeSent(ctx, d.ID, d.CreatedAt.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkMainframeReceipt(ctx, d.ID, false, &reason); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetDecision(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MainframeReceiptOk == nil || *got.MainframeReceiptOk {
		t.Fatal("receipt must be stored as rejected")
	}
	if got.MainframeRejectionReason == nil || *got.MainframeRejectionReason != reason {
		t.Fatalf("reason = %v", got.MainframeRejectionReason)
	}
	if err := r.MarkMainframeReceipt(ctx, d.ID, true, nil); !errors.Is(err, repo.ErrStaleMark) {
		t.Fatalf("duplicate receipt: err = %v, want ErrStaleMark", err)
	}
}

func TestCloseDecisionOnlyOnce(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	closedAt := d.CreatedAt.Add(time.Hour)
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.CloseDecision(ctx, tx, d.ID, "Z999999", closedAt); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetDecision(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusClosed || got.ClosedBy == nil || *got.ClosedBy != "Z999999" {
		t.Fatalf("got %+v", got)
	}

	tx, err = conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.CloseDecision(ctx, tx, d.ID, "Z999999", closedAt); !errors.Is(err, repo.ErrStaleMark) {
		t.Fatalf("second close: err = %v, want ErrStaleMark", err)
	}
}

func TestStatusPublications(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertStatusPublication(ctx, tx, d.ID, domain.StatusOpen, d.CreatedAt); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	pending, err := r.ListUnpublishedStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].DecisionID != d.ID || pending[0].Status != domain.StatusOpen {
		t.Fatalf("pending = %+v", pending)
	}

	if err := r.MarkStatusPublished(ctx, pending[0].ID, d.CreatedAt.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	pending, err = r.ListUnpublishedStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("published row still pending: %+v", pending)
	}
	if err := r.MarkStatusPublished(ctx, 1, d.CreatedAt); !errors.Is(err, repo.ErrStaleMark) {
		t.Fatalf("republish: err = %v, want ErrStaleMark", err)
	}

	all, err := r.ListStatusPublications(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].PublishedAt == nil {
		t.Fatalf("all = %+v", all)
	}
}

func TestDocuments(t *testing.T) {
	conn, r := newTestRepo(t)
	ctx := context.Background()
	d := decisionAt("12345678910", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	insertDecision(t, conn, r, d)

	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertDocument(ctx, tx, d.ID, []byte("%PDF-1.7 stub"), d.CreatedAt); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	pdf, err := r.GetDocument(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(pdf) != "%PDF-1.7 stub" {
		t.Fatalf("pdf = %q", pdf)
	}
	if _, err := r.GetDocument(ctx, uuid.New()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing doc: err = %v", err)
	}
}
