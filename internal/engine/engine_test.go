package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vedtaksync/internal/clients"
	"vedtaksync/internal/db"
	"vedtaksync/internal/domain"
	"vedtaksync/internal/engine"
	"vedtaksync/internal/migrate"
	"vedtaksync/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, clients.TextRenderer{})
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createOpts(subjectID string) engine.CreateOptions {
	return engine.CreateOptions{
		SubjectID:    subjectID,
		CaseWorkerID: "A123456",
		Reasoning:    "innvilget",
		ValidFrom:    time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		ValidTo:      time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreatePersistsDocumentAndPublication(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.Create(env.Ctx, createOpts("12345678910"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != domain.StatusOpen {
		t.Fatalf("status = %s", d.Status)
	}

	doc, err := env.Engine.Repo.GetDocument(env.Ctx, d.ID)
	if err != nil || len(doc) == 0 {
		t.Fatalf("document: %v (%d bytes)", err, len(doc))
	}
	pubs, err := env.Engine.Repo.ListStatusPublications(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pubs) != 1 || pubs[0].Status != domain.StatusOpen || pubs[0].PublishedAt != nil {
		t.Fatalf("publications = %+v", pubs)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, d.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].Type != "decision.created" || evts[0].ActorID != "A123456" {
		t.Fatalf("events = %+v", evts)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve engine.ValidationError

	opts := createOpts("")
	if _, err := env.Engine.Create(env.Ctx, opts); !errors.As(err, &ve) {
		t.Fatalf("missing subject: %v", err)
	}

	opts = createOpts("12345678910")
	opts.CaseWorkerID = ""
	if _, err := env.Engine.Create(env.Ctx, opts); !errors.As(err, &ve) {
		t.Fatalf("missing case worker: %v", err)
	}

	opts = createOpts("12345678910")
	opts.ValidFrom, opts.ValidTo = opts.ValidTo, opts.ValidFrom
	if _, err := env.Engine.Create(env.Ctx, opts); !errors.As(err, &ve) {
		t.Fatalf("inverted interval: %v", err)
	}
}

func TestCreateRejectsOverlappingOpenDecision(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.Create(env.Ctx, createOpts("12345678910"))
	if err != nil {
		t.Fatal(err)
	}

	// Overlapping interval, same subject.
	overlap := createOpts("12345678910")
	overlap.ValidFrom = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	overlap.ValidTo = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var ce engine.ConflictError
	if _, err := env.Engine.Create(env.Ctx, overlap); !errors.As(err, &ce) {
		t.Fatalf("overlap: %v", err)
	}

	// Same interval, different subject is fine.
	if _, err := env.Engine.Create(env.Ctx, createOpts("99999999999")); err != nil {
		t.Fatalf("other subject: %v", err)
	}

	// Adjacent but non-overlapping interval for the same subject is fine.
	after := createOpts("12345678910")
	after.ValidFrom = time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	after.ValidTo = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Create(env.Ctx, after); err != nil {
		t.Fatalf("adjacent: %v", err)
	}

	// A closed prior decision does not block.
	if _, err := env.Engine.Close(env.Ctx, first.ID, "Z999999"); err != nil {
		t.Fatal(err)
	}
	reopened := createOpts("12345678910")
	reopened.ValidFrom = time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	reopened.ValidTo = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Create(env.Ctx, reopened); err != nil {
		t.Fatalf("after close: %v", err)
	}
}

func TestCloseAppendsClosedPublication(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.Create(env.Ctx, createOpts("12345678910"))
	if err != nil {
		t.Fatal(err)
	}

	closed, err := env.Engine.Close(env.Ctx, d.ID, "Z999999")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.StatusClosed || closed.ClosedBy == nil || *closed.ClosedBy != "Z999999" {
		t.Fatalf("closed = %+v", closed)
	}

	pubs, err := env.Engine.Repo.ListStatusPublications(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pubs) != 2 || pubs[1].Status != domain.StatusClosed {
		t.Fatalf("publications = %+v", pubs)
	}

	var ce engine.ConflictError
	if _, err := env.Engine.Close(env.Ctx, d.ID, "Z999999"); !errors.As(err, &ce) {
		t.Fatalf("double close: %v", err)
	}
}

func TestCloseUnknownDecision(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Close(env.Ctx, env.Engine.NewID(), "Z999999")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSyncReflectsMarkers(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.Create(env.Ctx, createOpts("12345678910"))
	if err != nil {
		t.Fatal(err)
	}

	state, err := env.Engine.Sync(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if state.Archived || state.TaskCreated || state.Notified {
		t.Fatalf("fresh state = %+v", state)
	}
	if state.MainframeStatus != domain.MainframeNotSent {
		t.Fatalf("mainframe status = %s", state.MainframeStatus)
	}
	if len(state.StatusPublications) != 1 {
		t.Fatalf("publications = %+v", state.StatusPublications)
	}

	if err := env.Engine.Repo.MarkArchived(env.Ctx, d.ID, "journal-1"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.MarkMainframeSent(env.Ctx, d.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	state, err = env.Engine.Sync(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Archived || state.TaskCreated {
		t.Fatalf("state = %+v", state)
	}
	if state.MainframeStatus != domain.MainframeAwaitingReceipt {
		t.Fatalf("mainframe status = %s", state.MainframeStatus)
	}
}
