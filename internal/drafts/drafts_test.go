package drafts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"barcamp/api/internal/model"
)

type draftStore interface {
	GetDraft(ctx context.Context, authorID, topicID string) (model.Topic, error)
	PutDraft(ctx context.Context, authorID string, topic model.Topic) error
	DeleteDraft(ctx context.Context, authorID, topicID string) error
	ListDrafts(ctx context.Context, authorID string) ([]model.Topic, error)
}

func exerciseDrafts(t *testing.T, s draftStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.GetDraft(ctx, "@bob", "t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.PutDraft(ctx, "@bob", model.Topic{ID: "t1", Title: "Beer or cocktails?"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutDraft(ctx, "@bob", model.Topic{ID: "t2", Title: "Snacks"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutDraft(ctx, "@bob", model.Topic{ID: "t1", Title: "Beer or cocktails?", Description: "Which is better?"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetDraft(ctx, "@bob", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "Which is better?" || got.Submitted || len(got.AuthorIDs) != 1 || got.AuthorIDs[0] != "@bob" {
		t.Fatalf("unexpected draft %+v", got)
	}

	// drafts are private
	if _, err := s.GetDraft(ctx, "@alice", "t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected alice not to see bob's draft, got %v", err)
	}

	list, err := s.ListDrafts(ctx, "@bob")
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %+v", err, list)
	}

	if err := s.DeleteDraft(ctx, "@bob", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDraft(ctx, "@bob", "t1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected deleted draft to be gone, got %v", err)
	}
}

func TestMemoryDrafts(t *testing.T) {
	exerciseDrafts(t, NewMemory())
}

func TestSQLiteDrafts(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "drafts.db"), "!room:example.org")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	tick := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	exerciseDrafts(t, s)

	list, err := s.ListDrafts(context.Background(), "@bob")
	if err != nil || len(list) != 1 || list[0].ID != "t2" {
		t.Fatalf("unexpected remaining drafts %+v %v", list, err)
	}
}

func TestSQLiteDraftsScopedByRoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.db")
	ctx := context.Background()
	a, err := OpenSQLite(path, "!a:example.org")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if err := a.PutDraft(ctx, "@bob", model.Topic{ID: "t1", Title: "x"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	b, err := OpenSQLite(path, "!b:example.org")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	if list, _ := b.ListDrafts(ctx, "@bob"); len(list) != 0 {
		t.Fatalf("draft leaked across rooms: %+v", list)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(" ", "!room"); err == nil {
		t.Fatal("expected error")
	}
}
