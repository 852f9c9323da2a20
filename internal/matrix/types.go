package matrix

import (
	"encoding/json"
	"fmt"
)

// Event is the subset of a room event the replica and the chat watcher read.
type Event struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Sender   string          `json:"sender"`
	EventID  string          `json:"event_id"`
	Content  json.RawMessage `json:"content"`
}

// stateContent wraps a replicated value with its revision.
type stateContent struct {
	Revision int64           `json:"revision"`
	Value    json.RawMessage `json:"value"`
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]joinedRoom `json:"join"`
	} `json:"rooms"`
}

type joinedRoom struct {
	State struct {
		Events []Event `json:"events"`
	} `json:"state"`
	Timeline struct {
		Events []Event `json:"events"`
	} `json:"timeline"`
}

type messageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

type sendResponse struct {
	EventID string `json:"event_id"`
}

func jsonUnmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("matrix: decode response: %w", err)
	}
	return nil
}
