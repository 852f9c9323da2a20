package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplica stores each record as a hash {value, revision}. Writes are
// revision-checked inside WATCH/MULTI and announced on a pub/sub channel per
// state type.
type RedisReplica struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisReplica connects to redisURL and verifies the connection.
func NewRedisReplica(redisURL string, logger *slog.Logger) (*RedisReplica, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisReplicaWithClient(client, logger), nil
}

// NewRedisReplicaWithClient wraps an existing client.
func NewRedisReplicaWithClient(client *redis.Client, logger *slog.Logger) *RedisReplica {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisReplica{client: client, prefix: "barcamp:", logger: logger}
}

func (s *RedisReplica) key(typ, key string) string {
	return s.prefix + "state:" + typ + ":" + key
}

func (s *RedisReplica) channel(typ string) string {
	return s.prefix + "events:" + typ
}

func (s *RedisReplica) ReadState(ctx context.Context, typ, key string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(typ, key)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("read state %s/%s: %w", typ, key, err)
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, typ, key)
	}
	return decodeHash(typ, key, fields)
}

func decodeHash(typ, key string, fields map[string]string) (Record, error) {
	revision, err := strconv.ParseInt(fields["revision"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse revision of %s/%s: %w", typ, key, err)
	}
	return Record{Type: typ, Key: key, Value: json.RawMessage(fields["value"]), Revision: revision}, nil
}

func (s *RedisReplica) WriteState(ctx context.Context, typ, key string, value json.RawMessage, expectedRevision int64) (int64, error) {
	k := s.key(typ, key)
	var next int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, "revision").Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("read revision: %w", err)
		}
		if current != expectedRevision {
			return fmt.Errorf("%w: %s/%s at revision %d, expected %d", ErrConflict, typ, key, current, expectedRevision)
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, "value", string(value), "revision", next)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("%w: %s/%s changed during write", ErrConflict, typ, key)
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("write state %s/%s: %w", typ, key, err)
	}

	payload, err := json.Marshal(Record{Type: typ, Key: key, Value: value, Revision: next})
	if err != nil {
		return 0, fmt.Errorf("marshal state event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel(typ), payload).Err(); err != nil {
		// The write is durable; subscribers catch up on their next read.
		s.logger.Warn("publish state event failed", "type", typ, "key", key, "error", err)
	}
	return next, nil
}

func (s *RedisReplica) Subscribe(ctx context.Context, typ string) (<-chan Record, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(typ))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", typ, err)
	}

	out := make(chan Record, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var r Record
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					s.logger.Warn("drop malformed state event", "channel", msg.Channel, "error", err)
					continue
				}
				deliver(out, r)
			}
		}
	}()
	return out, nil
}

func (s *RedisReplica) List(ctx context.Context, typ string) ([]Record, error) {
	prefix := s.key(typ, "")
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", typ, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		fields, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		if len(fields) == 0 {
			continue
		}
		r, err := decodeHash(typ, strings.TrimPrefix(k, prefix), fields)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Close closes the Redis connection
func (s *RedisReplica) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisReplica) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for components sharing it.
func (s *RedisReplica) Client() *redis.Client {
	return s.client
}
