package store

import (
	"context"
	"testing"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/submission"
)

func TestReplicaSubmissionLogSharedBetweenQueues(t *testing.T) {
	ctx := context.Background()
	replica := NewMemoryReplica()

	first := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))
	beer, err := first.Submit(ctx, "beer-or-cocktails", "@bob:example.org")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := first.Submit(ctx, "gin-or-rum", "@alice:example.org"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := first.Withdraw(ctx, "gin-or-rum"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	second := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	visible := second.Visible(nil)
	if len(visible) != 1 || visible[0].ID != beer.ID || !visible[0].SubmittedAt.Equal(beer.SubmittedAt) {
		t.Fatalf("unexpected queue on second instance %+v", visible)
	}
	if len(second.All()) != 2 {
		t.Fatalf("expected the withdrawn submission to stay in the log, got %+v", second.All())
	}
	if _, err := second.Submit(ctx, "gin-or-rum", "@alice:example.org"); model.CodeOf(err) != model.CodeDuplicateSubmission {
		t.Fatalf("expected duplicate for withdrawn topic, got %v", err)
	}

	next, err := second.Submit(ctx, "snacks-for-drinks", "@carol:example.org")
	if err != nil {
		t.Fatalf("submit on second instance: %v", err)
	}
	if next.Seq <= beer.Seq || !next.SubmittedAt.After(beer.SubmittedAt) {
		t.Fatalf("second instance did not continue the order: %+v after %+v", next, beer)
	}
}

func TestReplicaSubmissionLogRejectsConcurrentDuplicate(t *testing.T) {
	ctx := context.Background()
	replica := NewMemoryReplica()
	a := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))
	b := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))

	if _, err := a.Submit(ctx, "t1", "@bob:example.org"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// b has not seen a's submission yet
	if _, err := b.Submit(ctx, "t1", "@bob:example.org"); model.CodeOf(err) != model.CodeDuplicateSubmission {
		t.Fatalf("expected duplicate from the shared log, got %v", err)
	}
	if len(b.All()) != 0 {
		t.Fatalf("rejected submission reached the queue: %+v", b.All())
	}
}

func TestQueueFollowsReplicaSubmissionLog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replica := NewMemoryReplica()

	writer := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))
	follower := submission.New(submission.WithLog(NewReplicaSubmissionLog(replica)))
	if err := follower.Follow(ctx); err != nil {
		t.Fatalf("follow: %v", err)
	}

	sub, err := writer.Submit(ctx, "beer-or-cocktails", "@bob:example.org")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, err := follower.Get(sub.ID)
		return err == nil && got.TopicID == sub.TopicID
	})

	if err := writer.Withdraw(ctx, sub.TopicID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	waitFor(t, func() bool { return len(follower.Visible(nil)) == 0 })
	if _, err := follower.Get(sub.ID); model.CodeOf(err) != model.CodeSubmissionNotFound {
		t.Fatalf("expected withdrawn submission to be gone, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
