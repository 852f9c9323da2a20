package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const notifyChannel = "barcamp_state"

// PostgresReplica keeps records in the replicated_state table. Writes are
// compare-and-set on the revision column; accepted writes are announced with
// NOTIFY and picked up by Subscribe through a dedicated LISTEN connection.
type PostgresReplica struct {
	db          *sql.DB
	databaseURL string
	logger      *slog.Logger
}

func NewPostgresReplica(db *sql.DB, databaseURL string, logger *slog.Logger) *PostgresReplica {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReplica{db: db, databaseURL: databaseURL, logger: logger}
}

type stateNotice struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	Revision int64  `json:"revision"`
}

func (s *PostgresReplica) ReadState(ctx context.Context, typ, key string) (Record, error) {
	r := Record{Type: typ, Key: key}
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content, revision FROM replicated_state WHERE event_type=$1 AND state_key=$2`,
		typ, key,
	).Scan(&content, &r.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, typ, key)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read state %s/%s: %w", typ, key, err)
	}
	r.Value = json.RawMessage(content)
	return r, nil
}

func (s *PostgresReplica) WriteState(ctx context.Context, typ, key string, value json.RawMessage, expectedRevision int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if expectedRevision == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO replicated_state(event_type, state_key, content, revision)
			VALUES($1, $2, $3, 1)
			ON CONFLICT (event_type, state_key) DO NOTHING
			RETURNING revision
		`, typ, key, []byte(value)).Scan(&next)
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE replicated_state
			SET content=$3, revision=revision+1, updated_at=NOW()
			WHERE event_type=$1 AND state_key=$2 AND revision=$4
			RETURNING revision
		`, typ, key, []byte(value), expectedRevision).Scan(&next)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s/%s is not at revision %d", ErrConflict, typ, key, expectedRevision)
	}
	if err != nil {
		return 0, fmt.Errorf("write state %s/%s: %w", typ, key, err)
	}

	notice, err := json.Marshal(stateNotice{Type: typ, Key: key, Revision: next})
	if err != nil {
		return 0, fmt.Errorf("marshal notice: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(notice)); err != nil {
		return 0, fmt.Errorf("notify state change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit write tx: %w", err)
	}
	return next, nil
}

func (s *PostgresReplica) Subscribe(ctx context.Context, typ string) (<-chan Record, error) {
	conn, err := pgx.Connect(ctx, s.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	out := make(chan Record, subscriberBuffer)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("state listener stopped", "error", err)
				}
				return
			}
			var notice stateNotice
			if err := json.Unmarshal([]byte(n.Payload), &notice); err != nil {
				s.logger.Warn("drop malformed state notice", "payload", n.Payload, "error", err)
				continue
			}
			if notice.Type != typ {
				continue
			}
			r, err := s.ReadState(ctx, notice.Type, notice.Key)
			if err != nil {
				s.logger.Warn("read notified state failed", "type", notice.Type, "key", notice.Key, "error", err)
				continue
			}
			deliver(out, r)
		}
	}()
	return out, nil
}

func (s *PostgresReplica) List(ctx context.Context, typ string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state_key, content, revision FROM replicated_state WHERE event_type=$1 ORDER BY state_key`,
		typ,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r := Record{Type: typ}
		var content []byte
		if err := rows.Scan(&r.Key, &content, &r.Revision); err != nil {
			return nil, fmt.Errorf("scan %s: %w", typ, err)
		}
		r.Value = json.RawMessage(content)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresReplica) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
