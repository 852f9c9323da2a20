package store

import (
	"context"
	"encoding/json"
	"errors"
)

// State event types shared by every backend.
const (
	TypeSessionGrid     = "net.nordeck.barcamp.session_grid"
	TypeTopic           = "net.nordeck.barcamp.topic"
	TypeTopicSubmission = "net.nordeck.barcamp.topic_submission"
	TypeSubmissionLock  = "net.nordeck.barcamp.submission_lock"
)

var (
	ErrNotFound = errors.New("state not found")
	ErrConflict = errors.New("revision conflict")
)

// Record is one replicated state value. Revision starts at 1 for the first
// write and grows by one on every accepted write.
type Record struct {
	Type     string          `json:"type"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Revision int64           `json:"revision"`
}

// Replica is a last-writer-wins key/value store with revision checks.
//
// WriteState succeeds only when the stored revision equals expectedRevision
// (0 for "does not exist yet") and returns the new revision. A mismatch
// yields ErrConflict. Subscribe delivers every accepted write of one type
// until ctx is cancelled.
type Replica interface {
	ReadState(ctx context.Context, typ, key string) (Record, error)
	WriteState(ctx context.Context, typ, key string, value json.RawMessage, expectedRevision int64) (int64, error)
	Subscribe(ctx context.Context, typ string) (<-chan Record, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// deliver hands r to a buffered subscriber channel. When the subscriber lags
// the oldest pending record is dropped, since every record is a full snapshot.
func deliver(ch chan Record, r Record) {
	for {
		select {
		case ch <- r:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Lister is implemented by backends that can enumerate all records of a type.
type Lister interface {
	List(ctx context.Context, typ string) ([]Record, error)
}
