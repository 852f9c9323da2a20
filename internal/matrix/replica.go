package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"barcamp/api/internal/store"
)

// Replica implements store.Replica on top of room state events. The event
// content carries the revision next to the value; a write first reads the
// current state event and refuses to overwrite a different revision.
type Replica struct {
	client *Client
	// writes are serialised so that this process never races itself
	// between the revision check and the PUT.
	writeMu sync.Mutex
}

func NewReplica(client *Client) *Replica {
	return &Replica{client: client}
}

func (r *Replica) ReadState(ctx context.Context, typ, key string) (store.Record, error) {
	data, err := r.client.doRequest(ctx, http.MethodGet, r.client.roomPath("state", typ, key), nil, nil)
	if isMatrixError(err, ErrCodeNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	return decodeState(typ, key, data)
}

func (r *Replica) WriteState(ctx context.Context, typ, key string, value json.RawMessage, expectedRevision int64) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.ReadState(ctx, typ, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if expectedRevision != 0 {
			return 0, store.ErrConflict
		}
	case err != nil:
		return 0, err
	case current.Revision != expectedRevision:
		return 0, store.ErrConflict
	}

	next := expectedRevision + 1
	content := stateContent{Revision: next, Value: value}
	if _, err := r.client.doRequest(ctx, http.MethodPut, r.client.roomPath("state", typ, key), content, nil); err != nil {
		return 0, err
	}
	return next, nil
}

// List returns every state event of typ in the room, ordered by key.
func (r *Replica) List(ctx context.Context, typ string) ([]store.Record, error) {
	data, err := r.client.doRequest(ctx, http.MethodGet, r.client.roomPath("state"), nil, nil)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("matrix: decode room state: %w", err)
	}
	var out []store.Record
	for _, ev := range events {
		if ev.Type != typ || ev.StateKey == nil {
			continue
		}
		rec, err := decodeState(typ, *ev.StateKey, ev.Content)
		if err != nil {
			r.client.logger.Warn("skipping malformed state event", "type", typ, "key", *ev.StateKey, "error", err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Subscribe follows the room through /sync and delivers every state event
// of typ written after the call returns.
func (r *Replica) Subscribe(ctx context.Context, typ string) (<-chan store.Record, error) {
	since, err := r.client.initialSync(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan store.Record, 16)
	go func() {
		defer close(ch)
		r.client.syncLoop(ctx, since, func(ev Event) {
			if ev.Type != typ || ev.StateKey == nil {
				return
			}
			rec, err := decodeState(typ, *ev.StateKey, ev.Content)
			if err != nil {
				r.client.logger.Warn("skipping malformed state event", "type", typ, "key", *ev.StateKey, "error", err)
				return
			}
			select {
			case ch <- rec:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}

func (r *Replica) Ping(ctx context.Context) error { return r.client.Ping(ctx) }

func decodeState(typ, key string, data []byte) (store.Record, error) {
	var content stateContent
	if err := json.Unmarshal(data, &content); err != nil {
		return store.Record{}, fmt.Errorf("matrix: decode %s/%s: %w", typ, key, err)
	}
	// An emptied state event counts as absent.
	if len(content.Value) == 0 || string(content.Value) == "null" {
		return store.Record{}, store.ErrNotFound
	}
	return store.Record{Type: typ, Key: key, Value: content.Value, Revision: content.Revision}, nil
}
