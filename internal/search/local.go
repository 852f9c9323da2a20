package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Local is an in-process index used when no search server is configured.
// It matches every query term as a case-insensitive substring.
type Local struct {
	mu     sync.RWMutex
	topics map[string]TopicRecord
}

func NewLocal() *Local {
	return &Local{topics: map[string]TopicRecord{}}
}

func (l *Local) Put(t TopicRecord) {
	l.mu.Lock()
	l.topics[t.ID] = t
	l.mu.Unlock()
}

func (l *Local) Delete(id string) {
	l.mu.Lock()
	delete(l.topics, id)
	l.mu.Unlock()
}

func (l *Local) Search(_ context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		rec   TopicRecord
		score int
	}
	l.mu.RLock()
	var hits []scored
	for _, t := range l.topics {
		if q.PinnedOnly && !t.Pinned {
			continue
		}
		title, desc := strings.ToLower(t.Title), strings.ToLower(t.Description)
		score := 0
		for _, term := range terms {
			switch {
			case strings.Contains(title, term):
				score += 2
			case strings.Contains(desc, term):
				score++
			default:
				score = -1
			}
			if score < 0 {
				break
			}
		}
		if score > 0 {
			hits = append(hits, scored{rec: t, score: score})
		}
	}
	l.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})

	total := len(hits)
	start := min(max(q.Offset, 0), total)
	end := min(start+limitOf(q), total)
	results := make([]Result, 0, end-start)
	for _, h := range hits[start:end] {
		results = append(results, Result{
			ID:      h.rec.ID,
			Title:   h.rec.Title,
			Snippet: highlight(h.rec.Description, terms),
			Pinned:  h.rec.Pinned,
		})
	}
	return results, total, nil
}

// highlight wraps the first occurrence of each term in <mark> tags.
func highlight(text string, terms []string) string {
	lower := strings.ToLower(text)
	type span struct{ start, end int }
	var spans []span
	for _, term := range terms {
		if i := strings.Index(lower, term); i >= 0 && len(lower) == len(text) {
			spans = append(spans, span{i, i + len(term)})
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue
		}
		b.WriteString(text[pos:s.start])
		b.WriteString("<mark>")
		b.WriteString(text[s.start:s.end])
		b.WriteString("</mark>")
		pos = s.end
	}
	b.WriteString(text[pos:])
	return b.String()
}
