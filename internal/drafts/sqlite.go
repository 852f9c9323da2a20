package drafts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"barcamp/api/internal/model"
)

//go:embed schema.sql
var schema string

// SQLite persists drafts in a local SQLite file.
type SQLite struct {
	db     *sql.DB
	roomID string
	now    func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// OpenSQLite opens (or creates) the draft database at path for one room.
func OpenSQLite(path, roomID string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("drafts path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply drafts schema: %w", err)
	}
	return &SQLite{db: db, roomID: roomID, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) GetDraft(ctx context.Context, authorID, topicID string) (model.Topic, error) {
	var title, description string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, description FROM personal_drafts WHERE room_id = ? AND author_id = ? AND topic_id = ?`,
		s.roomID, cleanAuthor(authorID), topicID,
	).Scan(&title, &description)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Topic{}, notFound(topicID)
	}
	if err != nil {
		return model.Topic{}, fmt.Errorf("get draft %s: %w", topicID, err)
	}
	return draftTopic(cleanAuthor(authorID), topicID, title, description), nil
}

func (s *SQLite) PutDraft(ctx context.Context, authorID string, topic model.Topic) error {
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_drafts (room_id, author_id, topic_id, title, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (room_id, author_id, topic_id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   updated_at = excluded.updated_at`,
		s.roomID, cleanAuthor(authorID), topic.ID, topic.Title, topic.Description, now, now,
	)
	if err != nil {
		return fmt.Errorf("put draft %s: %w", topic.ID, err)
	}
	return nil
}

func (s *SQLite) DeleteDraft(ctx context.Context, authorID, topicID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM personal_drafts WHERE room_id = ? AND author_id = ? AND topic_id = ?`,
		s.roomID, cleanAuthor(authorID), topicID,
	)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", topicID, err)
	}
	return nil
}

func (s *SQLite) ListDrafts(ctx context.Context, authorID string) ([]model.Topic, error) {
	author := cleanAuthor(authorID)
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic_id, title, description FROM personal_drafts
		 WHERE room_id = ? AND author_id = ?
		 ORDER BY created_at, topic_id`,
		s.roomID, author,
	)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var out []model.Topic
	for rows.Next() {
		var id, title, description string
		if err := rows.Scan(&id, &title, &description); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, draftTopic(author, id, title, description))
	}
	return out, rows.Err()
}
