package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"barcamp/api/internal/store"
)

// PgFTS searches topic documents stored by the Postgres replica using
// PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

const topicVector = `to_tsvector('simple', coalesce(content->>'title', '') || ' ' || coalesce(content->>'description', ''))`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := max(q.Offset, 0)

	where := fmt.Sprintf(`event_type = $1
		AND coalesce((content->>'deleted')::boolean, false) = false
		AND %s @@ plainto_tsquery('simple', $2)`, topicVector)
	if q.PinnedOnly {
		where += ` AND coalesce((content->>'pinned')::boolean, false)`
	}
	args := []any{store.TypeTopic, q.Text}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM replicated_state WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT state_key,
			coalesce(content->>'title', ''),
			ts_headline('simple', coalesce(content->>'description', ''), plainto_tsquery('simple', $2),
				'StartSel=<mark>,StopSel=</mark>,MaxFragments=1,MaxWords=30'),
			coalesce((content->>'pinned')::boolean, false)
		FROM replicated_state
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('simple', $2)) DESC, state_key
		LIMIT %d OFFSET %d`, where, topicVector, limitOf(q), offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Pinned); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
