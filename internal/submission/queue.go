// Package submission keeps the append-only FIFO of topic proposals awaiting
// a moderator.
package submission

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/util"
)

type EntryKind string

const (
	EntrySubmitted EntryKind = "submitted"
	EntryWithdrawn EntryKind = "withdrawn"
)

// Entry is one record of the durable queue log. Withdrawn entries only carry
// the topic id.
type Entry struct {
	Kind       EntryKind             `json:"kind"`
	Submission model.TopicSubmission `json:"submission"`
}

// Log persists queue entries in append order.
type Log interface {
	Append(ctx context.Context, entry Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// Watcher is implemented by logs shared between processes. Watch delivers
// entries appended by any process, including this one, until ctx ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Entry, error)
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLog(log Log) Option {
	return func(q *Queue) { q.log = log }
}

func WithIDGenerator(fn func(prefix string) string) Option {
	return func(q *Queue) { q.newID = fn }
}

type Queue struct {
	mu        sync.Mutex
	now       func() time.Time
	newID     func(prefix string) string
	log       Log
	items     []model.TopicSubmission
	byTopic   map[string]int
	withdrawn map[string]struct{}
	last      time.Time
	seq       int64
}

func New(opts ...Option) *Queue {
	q := &Queue{
		now:       time.Now,
		newID:     util.NewID,
		log:       NewMemoryLog(),
		byTopic:   map[string]int{},
		withdrawn: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Restore rebuilds the queue from its log.
func (q *Queue) Restore(ctx context.Context) error {
	entries, err := q.log.Load(ctx)
	if err != nil {
		return fmt.Errorf("load submission log: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.byTopic = map[string]int{}
	q.withdrawn = map[string]struct{}{}
	for _, e := range entries {
		q.apply(e)
	}
	return nil
}

// Follow applies entries other processes append to a shared log until ctx
// ends. Logs without a Watcher are private to this process and need no
// following.
func (q *Queue) Follow(ctx context.Context) error {
	watcher, ok := q.log.(Watcher)
	if !ok {
		return nil
	}
	entries, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch submission log: %w", err)
	}
	// entries appended between Restore and Watch
	if err := q.Restore(ctx); err != nil {
		return err
	}
	go func() {
		for e := range entries {
			q.Apply(e)
		}
	}()
	return nil
}

// Apply folds one log entry into the queue. Entries already known are
// ignored.
func (q *Queue) Apply(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.apply(e)
}

func (q *Queue) apply(e Entry) {
	switch e.Kind {
	case EntryWithdrawn:
		q.withdrawn[e.Submission.TopicID] = struct{}{}
	case EntrySubmitted:
		sub := e.Submission
		if _, dup := q.byTopic[sub.TopicID]; dup || sub.ID == "" {
			return
		}
		i := sort.Search(len(q.items), func(i int) bool { return before(sub, q.items[i]) })
		q.items = slices.Insert(q.items, i, sub)
		for j := i; j < len(q.items); j++ {
			q.byTopic[q.items[j].TopicID] = j
		}
		if sub.SubmittedAt.After(q.last) {
			q.last = sub.SubmittedAt
		}
		if sub.Seq > q.seq {
			q.seq = sub.Seq
		}
	}
}

func before(a, b model.TopicSubmission) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.Seq < b.Seq
}

// Submit appends a submission for topicID. Timestamps strictly increase
// across all authors; a topic can only be submitted once.
func (q *Queue) Submit(ctx context.Context, topicID, authorID string) (model.TopicSubmission, error) {
	topicID = strings.TrimSpace(topicID)
	authorID = strings.TrimSpace(authorID)
	if topicID == "" {
		return model.TopicSubmission{}, model.Validation(model.CodeTopicNotFound, "topic id is required")
	}
	if authorID == "" {
		return model.TopicSubmission{}, model.Validation(model.CodeEmptyAuthor, "author id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.byTopic[topicID]; dup {
		return model.TopicSubmission{}, model.Validation(model.CodeDuplicateSubmission, "topic %s was already submitted", topicID)
	}

	at := q.now()
	if !at.After(q.last) {
		at = q.last.Add(time.Nanosecond)
	}
	sub := model.TopicSubmission{
		ID:          q.newID("sub"),
		TopicID:     topicID,
		AuthorID:    authorID,
		SubmittedAt: at,
		Seq:         q.seq + 1,
	}
	if err := q.log.Append(ctx, Entry{Kind: EntrySubmitted, Submission: sub}); err != nil {
		return model.TopicSubmission{}, fmt.Errorf("append submission: %w", err)
	}
	q.apply(Entry{Kind: EntrySubmitted, Submission: sub})
	return sub, nil
}

// Withdraw hides the submission of a deleted topic. The entry itself stays in
// the log.
func (q *Queue) Withdraw(ctx context.Context, topicID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byTopic[topicID]; !ok {
		return nil
	}
	if _, done := q.withdrawn[topicID]; done {
		return nil
	}
	entry := Entry{Kind: EntryWithdrawn, Submission: model.TopicSubmission{TopicID: topicID}}
	if err := q.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("append withdrawal: %w", err)
	}
	q.withdrawn[topicID] = struct{}{}
	return nil
}

// Visible lists the submissions not yet consumed, oldest first.
func (q *Queue) Visible(consumed []string) []model.TopicSubmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.TopicSubmission, 0, len(q.items))
	for _, s := range q.items {
		if slices.Contains(consumed, s.ID) {
			continue
		}
		if _, gone := q.withdrawn[s.TopicID]; gone {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Next returns the oldest visible submission.
func (q *Queue) Next(consumed []string) (model.TopicSubmission, error) {
	visible := q.Visible(consumed)
	if len(visible) == 0 {
		return model.TopicSubmission{}, model.NotFound(model.CodeQueueEmpty, "no topic submissions are waiting")
	}
	return visible[0], nil
}

// Get finds a submission by id. Submissions of deleted topics are gone.
func (q *Queue) Get(id string) (model.TopicSubmission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.items {
		if s.ID != id {
			continue
		}
		if _, gone := q.withdrawn[s.TopicID]; gone {
			break
		}
		return s, nil
	}
	return model.TopicSubmission{}, model.NotFound(model.CodeSubmissionNotFound, "submission %s not found", id)
}

func (q *Queue) ForTopic(topicID string) (model.TopicSubmission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, ok := q.byTopic[topicID]
	if !ok {
		return model.TopicSubmission{}, false
	}
	return q.items[i], true
}

// All returns every submission ever made, in queue order.
func (q *Queue) All() []model.TopicSubmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (l *MemoryLog) Append(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) Load(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries), nil
}
