// Package drafts stores personal topic drafts. Drafts are private to their
// author and scoped to one room; they never reach the replicated store.
package drafts

import (
	"context"
	"slices"
	"strings"
	"sync"

	"barcamp/api/internal/model"
)

func notFound(topicID string) error {
	return model.NotFound(model.CodeTopicNotFound, "draft %s not found", topicID)
}

// Memory keeps drafts in process memory.
type Memory struct {
	mu     sync.Mutex
	drafts map[string][]model.Topic
}

func NewMemory() *Memory {
	return &Memory{drafts: map[string][]model.Topic{}}
}

func (m *Memory) GetDraft(_ context.Context, authorID, topicID string) (model.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.drafts[cleanAuthor(authorID)] {
		if t.ID == topicID {
			return cloneTopic(t), nil
		}
	}
	return model.Topic{}, notFound(topicID)
}

func (m *Memory) PutDraft(_ context.Context, authorID string, topic model.Topic) error {
	authorID = cleanAuthor(authorID)
	draft := draftTopic(authorID, topic.ID, topic.Title, topic.Description)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.drafts[authorID]
	for i, t := range list {
		if t.ID == topic.ID {
			list[i] = draft
			return nil
		}
	}
	m.drafts[authorID] = append(list, draft)
	return nil
}

func (m *Memory) DeleteDraft(_ context.Context, authorID, topicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[authorID] = slices.DeleteFunc(m.drafts[authorID], func(t model.Topic) bool { return t.ID == topicID })
	return nil
}

func (m *Memory) ListDrafts(_ context.Context, authorID string) ([]model.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Topic, 0, len(m.drafts[authorID]))
	for _, t := range m.drafts[authorID] {
		out = append(out, cloneTopic(t))
	}
	return out, nil
}

func cloneTopic(t model.Topic) model.Topic {
	t.AuthorIDs = slices.Clone(t.AuthorIDs)
	return t
}

func draftTopic(authorID, topicID, title, description string) model.Topic {
	return model.Topic{
		ID:          topicID,
		Title:       title,
		Description: description,
		AuthorIDs:   []string{authorID},
	}
}

func cleanAuthor(authorID string) string {
	return strings.TrimSpace(authorID)
}
