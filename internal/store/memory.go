package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

const subscriberBuffer = 16

// MemoryReplica keeps state in process memory. It backs tests and
// single-node deployments.
type MemoryReplica struct {
	mu          sync.Mutex
	records     map[string]Record
	subscribers map[string][]chan Record
}

func NewMemoryReplica() *MemoryReplica {
	return &MemoryReplica{
		records:     map[string]Record{},
		subscribers: map[string][]chan Record{},
	}
}

func memoryKey(typ, key string) string { return typ + "\x00" + key }

func (m *MemoryReplica) ReadState(_ context.Context, typ, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[memoryKey(typ, key)]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, typ, key)
	}
	r.Value = slices.Clone(r.Value)
	return r, nil
}

func (m *MemoryReplica) WriteState(_ context.Context, typ, key string, value json.RawMessage, expectedRevision int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(typ, key)
	current := m.records[k].Revision
	if current != expectedRevision {
		return 0, fmt.Errorf("%w: %s/%s at revision %d, expected %d", ErrConflict, typ, key, current, expectedRevision)
	}
	r := Record{Type: typ, Key: key, Value: slices.Clone(value), Revision: current + 1}
	m.records[k] = r
	for _, ch := range m.subscribers[typ] {
		out := r
		out.Value = slices.Clone(r.Value)
		deliver(ch, out)
	}
	return r.Revision, nil
}

func (m *MemoryReplica) Subscribe(ctx context.Context, typ string) (<-chan Record, error) {
	ch := make(chan Record, subscriberBuffer)
	m.mu.Lock()
	m.subscribers[typ] = append(m.subscribers[typ], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subscribers[typ] = slices.DeleteFunc(m.subscribers[typ], func(c chan Record) bool { return c == ch })
		close(ch)
	}()
	return ch, nil
}

// List returns every record of one type.
func (m *MemoryReplica) List(_ context.Context, typ string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryReplica) Ping(context.Context) error { return nil }
