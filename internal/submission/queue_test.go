package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"barcamp/api/internal/model"
)

func frozenClock() func() time.Time {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

type failingLog struct{ MemoryLog }

func (*failingLog) Append(context.Context, Entry) error { return errors.New("disk full") }

func TestSubmitKeepsFIFOAcrossAuthors(t *testing.T) {
	ctx := context.Background()
	q := New(WithClock(frozenClock()))

	order := []struct{ topic, author string }{
		{"beer-or-cocktails", "@bob"},
		{"gin-or-rum", "@alice"},
		{"snacks-for-drinks", "@bob"},
	}
	for _, o := range order {
		if _, err := q.Submit(ctx, o.topic, o.author); err != nil {
			t.Fatalf("submit %s: %v", o.topic, err)
		}
	}

	visible := q.Visible(nil)
	if len(visible) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(visible))
	}
	for i, o := range order {
		if visible[i].TopicID != o.topic || visible[i].AuthorID != o.author {
			t.Fatalf("position %d holds %+v", i, visible[i])
		}
		if i > 0 && !visible[i].SubmittedAt.After(visible[i-1].SubmittedAt) {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	q := New()
	sub, err := q.Submit(ctx, "t1", "@bob")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := q.Submit(ctx, "t1", "@alice"); model.CodeOf(err) != model.CodeDuplicateSubmission {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	// consumed topics stay rejected
	if len(q.Visible([]string{sub.ID})) != 0 {
		t.Fatalf("consumed submission still visible")
	}
	if _, err := q.Submit(ctx, "t1", "@bob"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitRequiresIDs(t *testing.T) {
	q := New()
	if _, err := q.Submit(context.Background(), " ", "@bob"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := q.Submit(context.Background(), "t1", ""); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitLogFailureLeavesQueueUnchanged(t *testing.T) {
	q := New(WithLog(&failingLog{}))
	if _, err := q.Submit(context.Background(), "t1", "@bob"); err == nil {
		t.Fatalf("expected error")
	}
	if len(q.All()) != 0 {
		t.Fatalf("queue changed after failed append")
	}
}

func TestNextAndWithdraw(t *testing.T) {
	ctx := context.Background()
	q := New()
	first, _ := q.Submit(ctx, "t1", "@bob")
	second, _ := q.Submit(ctx, "t2", "@alice")

	next, err := q.Next(nil)
	if err != nil || next.ID != first.ID {
		t.Fatalf("expected %s, got %+v %v", first.ID, next, err)
	}
	next, _ = q.Next([]string{first.ID})
	if next.ID != second.ID {
		t.Fatalf("expected %s, got %s", second.ID, next.ID)
	}

	if err := q.Withdraw(ctx, "t2"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := q.Next([]string{first.ID}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}

func TestRestoreReplaysLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	q := New(WithLog(log), WithClock(frozenClock()))
	a, _ := q.Submit(ctx, "t1", "@bob")
	b, _ := q.Submit(ctx, "t2", "@alice")
	_ = q.Withdraw(ctx, "t1")

	restored := New(WithLog(log), WithClock(frozenClock()))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	visible := restored.Visible(nil)
	if len(visible) != 1 || visible[0].ID != b.ID {
		t.Fatalf("unexpected visible queue %+v", visible)
	}
	if _, ok := restored.ForTopic(a.TopicID); !ok {
		t.Fatalf("withdrawn submission missing from history")
	}
	c, err := restored.Submit(ctx, "t3", "@carol")
	if err != nil {
		t.Fatalf("submit after restore: %v", err)
	}
	if !c.SubmittedAt.After(b.SubmittedAt) || c.Seq != b.Seq+1 {
		t.Fatalf("restored clock not monotonic: %+v after %+v", c, b)
	}
}

func TestGetSkipsWithdrawnSubmissions(t *testing.T) {
	ctx := context.Background()
	q := New()
	sub, err := q.Submit(ctx, "t1", "@bob")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := q.Withdraw(ctx, "t1"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := q.Get(sub.ID); model.CodeOf(err) != model.CodeSubmissionNotFound {
		t.Fatalf("expected withdrawn submission to be not found, got %v", err)
	}
	if _, ok := q.ForTopic("t1"); !ok {
		t.Fatalf("withdrawn submission should still block a resubmission")
	}
}

func TestApplyKeepsSubmissionOrder(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	q := New(WithClock(func() time.Time { return at }))
	q.Apply(Entry{Kind: EntrySubmitted, Submission: model.TopicSubmission{ID: "sub-2", TopicID: "t2", AuthorID: "@bob", SubmittedAt: at.Add(time.Second), Seq: 2}})
	q.Apply(Entry{Kind: EntrySubmitted, Submission: model.TopicSubmission{ID: "sub-1", TopicID: "t1", AuthorID: "@alice", SubmittedAt: at, Seq: 1}})
	q.Apply(Entry{Kind: EntrySubmitted, Submission: model.TopicSubmission{ID: "sub-x", TopicID: "t1", AuthorID: "@alice", SubmittedAt: at, Seq: 9}})

	visible := q.Visible(nil)
	if len(visible) != 2 || visible[0].ID != "sub-1" || visible[1].ID != "sub-2" {
		t.Fatalf("unexpected order %+v", visible)
	}
	if got, ok := q.ForTopic("t2"); !ok || got.ID != "sub-2" {
		t.Fatalf("index not rebuilt after insert: %+v %v", got, ok)
	}

	next, err := q.Submit(context.Background(), "t3", "@carol")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if next.Seq != 3 || !next.SubmittedAt.After(at.Add(time.Second)) {
		t.Fatalf("local submission did not follow applied ones: %+v", next)
	}
}
