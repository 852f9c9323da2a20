// Package topic manages topic documents: private drafts in the personal
// draft store and submitted topics in the replicated store.
package topic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"barcamp/api/internal/grid"
	"barcamp/api/internal/model"
	"barcamp/api/internal/store"
	"barcamp/api/internal/util"
)

const (
	MaxTitleLength       = 60
	MaxDescriptionLength = 140
)

// DraftStore holds unsubmitted topics, private to their author.
type DraftStore interface {
	GetDraft(ctx context.Context, authorID, topicID string) (model.Topic, error)
	PutDraft(ctx context.Context, authorID string, topic model.Topic) error
	DeleteDraft(ctx context.Context, authorID, topicID string) error
	ListDrafts(ctx context.Context, authorID string) ([]model.Topic, error)
}

// Queue receives submitted topics.
type Queue interface {
	Submit(ctx context.Context, topicID, authorID string) (model.TopicSubmission, error)
	Withdraw(ctx context.Context, topicID string) error
	ForTopic(topicID string) (model.TopicSubmission, bool)
}

// Grid is the replicated session grid a deleted topic is removed from.
type Grid interface {
	Execute(ctx context.Context, cmd grid.Command) (model.SessionGrid, error)
	Confirmed() model.SessionGrid
}

// Indexer is told about every shared topic change.
type Indexer interface {
	IndexTopic(topic model.Topic)
	RemoveTopic(topicID string)
}

type Options struct {
	Drafts  DraftStore
	Replica store.Replica
	Queue   Queue
	Grid    Grid
	Indexer Indexer
	Logger  *slog.Logger
	NewID   func(prefix string) string
}

type shared struct {
	topic    model.Topic
	revision int64
}

type Store struct {
	drafts  DraftStore
	replica store.Replica
	queue   Queue
	grid    Grid
	indexer Indexer
	logger  *slog.Logger
	newID   func(prefix string) string

	mu     sync.RWMutex
	topics map[string]shared
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = util.NewID
	}
	return &Store{
		drafts:  opts.Drafts,
		replica: opts.Replica,
		queue:   opts.Queue,
		grid:    opts.Grid,
		indexer: opts.Indexer,
		logger:  opts.Logger,
		newID:   opts.NewID,
		topics:  map[string]shared{},
	}
}

// ValidateTitle trims title and checks it is non-empty and short enough.
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", model.Validation(model.CodeTitleEmpty, "title must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.Validation(model.CodeTitleTooLong, "title must be at most %d characters", MaxTitleLength)
	}
	return title, nil
}

// ValidateDescription trims description and checks it is non-empty and
// short enough.
func ValidateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", model.Validation(model.CodeDescriptionEmpty, "description must not be empty")
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", model.Validation(model.CodeDescriptionTooLong, "description must be at most %d characters", MaxDescriptionLength)
	}
	return description, nil
}

// CreateDraft starts a new private, unsubmitted topic.
func (s *Store) CreateDraft(ctx context.Context, authorID string) (model.Topic, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return model.Topic{}, model.Validation(model.CodeEmptyAuthor, "author id is required")
	}
	t := model.Topic{ID: s.newID("topic"), AuthorIDs: []string{authorID}}
	if err := s.drafts.PutDraft(ctx, authorID, t); err != nil {
		return model.Topic{}, fmt.Errorf("create draft: %w", err)
	}
	return t, nil
}

// Drafts lists the caller's own drafts.
func (s *Store) Drafts(ctx context.Context, authorID string) ([]model.Topic, error) {
	return s.drafts.ListDrafts(ctx, authorID)
}

// Get returns the caller's draft or a shared topic.
func (s *Store) Get(ctx context.Context, authorID, topicID string) (model.Topic, error) {
	draft, err := s.drafts.GetDraft(ctx, authorID, topicID)
	if err == nil {
		return draft, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Topic{}, err
	}
	if t, ok := s.Shared(topicID); ok {
		return t, nil
	}
	return model.Topic{}, model.NotFound(model.CodeTopicNotFound, "topic %s not found", topicID)
}

// UpdateTitle changes a topic's title. On a validation error the unchanged
// topic is returned with the error.
func (s *Store) UpdateTitle(ctx context.Context, authorID, topicID, title string) (model.Topic, error) {
	return s.update(ctx, authorID, topicID, func(t *model.Topic) error {
		v, err := ValidateTitle(title)
		if err != nil {
			return err
		}
		t.Title = v
		return nil
	})
}

func (s *Store) UpdateDescription(ctx context.Context, authorID, topicID, description string) (model.Topic, error) {
	return s.update(ctx, authorID, topicID, func(t *model.Topic) error {
		v, err := ValidateDescription(description)
		if err != nil {
			return err
		}
		t.Description = v
		return nil
	})
}

func (s *Store) update(ctx context.Context, authorID, topicID string, change func(*model.Topic) error) (model.Topic, error) {
	draft, err := s.drafts.GetDraft(ctx, authorID, topicID)
	if err == nil {
		next := draft
		if err := change(&next); err != nil {
			return draft, err
		}
		if err := s.drafts.PutDraft(ctx, authorID, next); err != nil {
			return draft, fmt.Errorf("save draft: %w", err)
		}
		return next, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Topic{}, err
	}
	return s.modifyShared(ctx, topicID, change)
}

// modifyShared applies change to a shared topic and writes it back. A
// revision conflict re-reads the topic and applies change once more.
func (s *Store) modifyShared(ctx context.Context, topicID string, change func(*model.Topic) error) (model.Topic, error) {
	current, ok := s.sharedEntry(topicID)
	if !ok {
		return model.Topic{}, model.NotFound(model.CodeTopicNotFound, "topic %s not found", topicID)
	}
	for attempt := 0; ; attempt++ {
		next := current.topic
		next.AuthorIDs = append([]string(nil), current.topic.AuthorIDs...)
		if err := change(&next); err != nil {
			return current.topic, err
		}
		rev, err := s.writeShared(ctx, next, current.revision)
		if err == nil {
			s.remember(next, rev)
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt > 0 {
			return current.topic, err
		}
		latest, rerr := s.fetch(ctx, topicID)
		if rerr != nil {
			return current.topic, rerr
		}
		if latest.topic.Deleted {
			s.forget(topicID)
			return model.Topic{}, model.NotFound(model.CodeTopicNotFound, "topic %s was deleted", topicID)
		}
		current = latest
	}
}

// Submit publishes a draft and appends it to the submission queue.
func (s *Store) Submit(ctx context.Context, authorID, topicID string) (model.TopicSubmission, model.Topic, error) {
	draft, err := s.drafts.GetDraft(ctx, authorID, topicID)
	if errors.Is(err, model.ErrNotFound) {
		if _, ok := s.Shared(topicID); ok {
			return model.TopicSubmission{}, model.Topic{}, model.Validation(model.CodeTopicNotDraft, "topic %s was already submitted", topicID)
		}
		return model.TopicSubmission{}, model.Topic{}, model.NotFound(model.CodeTopicNotFound, "topic %s not found", topicID)
	}
	if err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if draft.Title, err = ValidateTitle(draft.Title); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if draft.Description, err = ValidateDescription(draft.Description); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if _, dup := s.queue.ForTopic(topicID); dup {
		return model.TopicSubmission{}, model.Topic{}, model.Validation(model.CodeDuplicateSubmission, "topic %s was already submitted", topicID)
	}

	draft.Submitted = true
	published, rev, err := s.publish(ctx, draft)
	if err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	s.remember(published, rev)

	sub, err := s.queue.Submit(ctx, topicID, authorID)
	if err != nil {
		s.unpublish(ctx, published, rev)
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if err := s.drafts.DeleteDraft(ctx, authorID, topicID); err != nil {
		s.logger.Warn("remove submitted draft failed", "topic", topicID, "error", err)
	}
	return sub, published, nil
}

// publish writes draft as a shared document. A document left behind by an
// earlier attempt at the same submission is reused: a live one counts as
// already published and a tombstone is overwritten.
func (s *Store) publish(ctx context.Context, draft model.Topic) (model.Topic, int64, error) {
	existing, err := s.fetch(ctx, draft.ID)
	var expected int64
	switch {
	case model.KindOf(err) == model.KindNotFound:
	case err != nil:
		return model.Topic{}, 0, err
	case existing.topic.Deleted:
		expected = existing.revision
	case existing.topic.Submitted && slices.Equal(existing.topic.AuthorIDs, draft.AuthorIDs):
		return existing.topic, existing.revision, nil
	default:
		return model.Topic{}, 0, model.Conflict(model.CodeRevisionConflict, "topic %s already exists", draft.ID)
	}
	rev, err := s.writeShared(ctx, draft, expected)
	if errors.Is(err, store.ErrConflict) {
		return model.Topic{}, 0, model.Conflict(model.CodeRevisionConflict, "topic %s changed while it was submitted", draft.ID)
	}
	if err != nil {
		return model.Topic{}, 0, err
	}
	return draft, rev, nil
}

// unpublish tombstones a shared document whose queue entry could not be
// written. The draft stays, so the author can submit again.
func (s *Store) unpublish(ctx context.Context, t model.Topic, revision int64) {
	tombstone := t
	tombstone.Deleted = true
	if _, err := s.writeShared(ctx, tombstone, revision); err != nil {
		s.logger.Warn("roll back shared topic failed", "topic", t.ID, "error", err)
	}
	s.forget(t.ID)
}

// Publish stores a topic written outside the draft workflow, such as a
// chat submission, and queues it.
func (s *Store) Publish(ctx context.Context, authorID, title, description string) (model.TopicSubmission, model.Topic, error) {
	t, err := s.CreateDraft(ctx, authorID)
	if err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	t.Title, t.Description = title, description
	if err := s.drafts.PutDraft(ctx, authorID, t); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	sub, published, err := s.Submit(ctx, authorID, t.ID)
	if err != nil {
		_ = s.drafts.DeleteDraft(ctx, authorID, t.ID)
		return model.TopicSubmission{}, model.Topic{}, err
	}
	return sub, published, nil
}

// Delete removes a topic wherever it lives: the caller's drafts, the
// submission queue, the session grid and the shared documents.
func (s *Store) Delete(ctx context.Context, authorID, topicID string) error {
	if _, err := s.drafts.GetDraft(ctx, authorID, topicID); err == nil {
		return s.drafts.DeleteDraft(ctx, authorID, topicID)
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	current, ok := s.sharedEntry(topicID)
	if !ok {
		return model.NotFound(model.CodeTopicNotFound, "topic %s not found", topicID)
	}
	// The tombstone goes last: until it is written the topic stays shared
	// and a failed delete can be retried.
	if s.grid != nil && s.grid.Confirmed().Contains(topicID) {
		if _, err := s.grid.Execute(ctx, grid.RemoveTopic{TopicID: topicID}); err != nil {
			return fmt.Errorf("remove topic from grid: %w", err)
		}
	}
	if err := s.queue.Withdraw(ctx, topicID); err != nil {
		return err
	}

	tombstone := current.topic
	tombstone.Deleted = true
	_, err := s.writeShared(ctx, tombstone, current.revision)
	if errors.Is(err, store.ErrConflict) {
		latest, ferr := s.fetch(ctx, topicID)
		if ferr != nil {
			return ferr
		}
		tombstone = latest.topic
		tombstone.Deleted = true
		_, err = s.writeShared(ctx, tombstone, latest.revision)
	}
	if err != nil {
		return err
	}
	s.forget(topicID)
	return nil
}

// SetPinned records the pin flag on a shared topic.
func (s *Store) SetPinned(ctx context.Context, topicID string, pinned bool) (model.Topic, error) {
	return s.modifyShared(ctx, topicID, func(t *model.Topic) error {
		t.Pinned = pinned
		return nil
	})
}

func (s *Store) IsPinned(topicID string) bool {
	t, ok := s.Shared(topicID)
	return ok && t.Pinned
}

func (s *Store) Shared(topicID string) (model.Topic, bool) {
	e, ok := s.sharedEntry(topicID)
	return e.topic, ok
}

// SharedTopics lists every submitted, non-deleted topic ordered by id.
func (s *Store) SharedTopics() []model.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Topic, 0, len(s.topics))
	for _, e := range s.topics {
		out = append(out, e.topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load fills the cache from backends that can list topics.
func (s *Store) Load(ctx context.Context) error {
	lister, ok := s.replica.(store.Lister)
	if !ok {
		return nil
	}
	records, err := lister.List(ctx, store.TypeTopic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	for _, rec := range records {
		s.HandleRemote(rec)
	}
	return nil
}

// Start follows remote topic changes until ctx ends.
func (s *Store) Start(ctx context.Context) error {
	records, err := s.replica.Subscribe(ctx, store.TypeTopic)
	if err != nil {
		return fmt.Errorf("subscribe topics: %w", err)
	}
	go func() {
		for rec := range records {
			s.HandleRemote(rec)
		}
	}()
	return nil
}

// HandleRemote folds a topic document from the store into the cache.
func (s *Store) HandleRemote(rec store.Record) {
	if rec.Type != store.TypeTopic {
		return
	}
	var t model.Topic
	if err := json.Unmarshal(rec.Value, &t); err != nil {
		s.logger.Warn("ignoring undecodable topic", "key", rec.Key, "error", err)
		return
	}
	t.ID = rec.Key
	s.mu.RLock()
	known, seen := s.topics[rec.Key]
	s.mu.RUnlock()
	if seen && known.revision >= rec.Revision {
		return
	}
	if t.Deleted {
		s.forget(rec.Key)
		return
	}
	s.remember(t, rec.Revision)
}

func (s *Store) sharedEntry(topicID string) (shared, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.topics[topicID]
	return e, ok
}

func (s *Store) remember(t model.Topic, revision int64) {
	s.mu.Lock()
	s.topics[t.ID] = shared{topic: t, revision: revision}
	s.mu.Unlock()
	if s.indexer != nil {
		s.indexer.IndexTopic(t)
	}
}

func (s *Store) forget(topicID string) {
	s.mu.Lock()
	delete(s.topics, topicID)
	s.mu.Unlock()
	if s.indexer != nil {
		s.indexer.RemoveTopic(topicID)
	}
}

func (s *Store) fetch(ctx context.Context, topicID string) (shared, error) {
	rec, err := s.replica.ReadState(ctx, store.TypeTopic, topicID)
	if errors.Is(err, store.ErrNotFound) {
		return shared{}, model.NotFound(model.CodeTopicNotFound, "topic %s not found", topicID)
	}
	if err != nil {
		return shared{}, fmt.Errorf("read topic %s: %w", topicID, err)
	}
	var t model.Topic
	if err := json.Unmarshal(rec.Value, &t); err != nil {
		return shared{}, fmt.Errorf("decode topic %s: %w", topicID, err)
	}
	t.ID = topicID
	return shared{topic: t, revision: rec.Revision}, nil
}

func (s *Store) writeShared(ctx context.Context, t model.Topic, expected int64) (int64, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("encode topic %s: %w", t.ID, err)
	}
	rev, err := s.replica.WriteState(ctx, store.TypeTopic, t.ID, data, expected)
	if err != nil {
		return 0, fmt.Errorf("write topic %s: %w", t.ID, err)
	}
	return rev, nil
}
