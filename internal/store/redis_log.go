package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"barcamp/api/internal/submission"
)

// RedisSubmissionLog persists the submission queue as a Redis stream, so
// entries keep the order in which the server accepted them.
type RedisSubmissionLog struct {
	client *redis.Client
	stream string
}

func NewRedisSubmissionLog(client *redis.Client, roomID string) *RedisSubmissionLog {
	return &RedisSubmissionLog{client: client, stream: "barcamp:submissions:" + roomID}
}

func (l *RedisSubmissionLog) Append(ctx context.Context, entry submission.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal submission entry: %w", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{"entry": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("append submission entry: %w", err)
	}
	return nil
}

// Watch follows the stream from its current end with blocking XREAD calls.
func (l *RedisSubmissionLog) Watch(ctx context.Context) (<-chan submission.Entry, error) {
	last, err := l.tail(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan submission.Entry, 16)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			streams, err := l.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{l.stream, last},
				Count:   100,
				Block:   5 * time.Second,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					last = msg.ID
					e, err := decodeStreamEntry(msg)
					if err != nil {
						continue
					}
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// tail returns the id of the newest stream entry, or "0" for an empty
// stream.
func (l *RedisSubmissionLog) tail(ctx context.Context) (string, error) {
	messages, err := l.client.XRevRangeN(ctx, l.stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("read submission stream tail: %w", err)
	}
	if len(messages) == 0 {
		return "0", nil
	}
	return messages[0].ID, nil
}

func (l *RedisSubmissionLog) Load(ctx context.Context) ([]submission.Entry, error) {
	messages, err := l.client.XRange(ctx, l.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read submission stream: %w", err)
	}
	entries := make([]submission.Entry, 0, len(messages))
	for _, msg := range messages {
		e, err := decodeStreamEntry(msg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeStreamEntry(msg redis.XMessage) (submission.Entry, error) {
	raw, ok := msg.Values["entry"].(string)
	if !ok {
		return submission.Entry{}, fmt.Errorf("submission stream message %s has no entry", msg.ID)
	}
	var e submission.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return submission.Entry{}, fmt.Errorf("decode submission stream message %s: %w", msg.ID, err)
	}
	return e, nil
}
