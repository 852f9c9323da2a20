package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"barcamp/api/internal/util"
)

const idxTopics = "barcamp_topics"

// Meili indexes topics in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the topic index.
// An unreachable server is not an error; the client reports unhealthy and
// keeps probing in the background.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxTopics, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxTopics, "error", err)
	}
	index := m.client.Index(idxTopics)
	filterable := []interface{}{"pinned", "authors"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxTopics, "error", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxTopics, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxTopics,
		Query:                 q.Text,
		Limit:                 int64(limitOf(q)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.PinnedOnly {
		sr.Filter = "pinned = true"
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: []*meili.SearchRequest{sr}})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{ID: decodeString(hit, "id")}
	r.Title = util.FirstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = util.FirstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	if raw, ok := hit["pinned"]; ok {
		_ = json.Unmarshal(raw, &r.Pinned)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func (m *Meili) IndexTopic(t TopicRecord) error {
	_, err := m.client.Index(idxTopics).AddDocuments([]TopicRecord{t}, nil)
	return err
}

func (m *Meili) DeleteTopic(id string) error {
	_, err := m.client.Index(idxTopics).DeleteDocument(id, nil)
	return err
}

// IndexTopics bulk-indexes topics.
func (m *Meili) IndexTopics(topics []TopicRecord) error {
	if len(topics) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTopics).AddDocuments(topics, nil)
	return err
}
