package matrix

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	minSyncBackoff = 500 * time.Millisecond
	maxSyncBackoff = 30 * time.Second
)

// initialSync returns the batch token to start incremental syncs from.
func (c *Client) initialSync(ctx context.Context) (string, error) {
	resp, err := c.sync(ctx, "", 0)
	if err != nil {
		return "", err
	}
	return resp.NextBatch, nil
}

func (c *Client) sync(ctx context.Context, since string, timeout time.Duration) (syncResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	data, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return syncResponse{}, err
	}
	var resp syncResponse
	if err := jsonUnmarshal(data, &resp); err != nil {
		return syncResponse{}, err
	}
	return resp, nil
}

// syncLoop long-polls /sync and calls handle for every event of the room,
// state section first. Failures back off exponentially until ctx ends.
func (c *Client) syncLoop(ctx context.Context, since string, handle func(Event)) {
	backoff := minSyncBackoff
	for ctx.Err() == nil {
		resp, err := c.sync(ctx, since, c.syncTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("matrix sync failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxSyncBackoff)
			continue
		}
		backoff = minSyncBackoff
		if room, ok := resp.Rooms.Join[c.roomID]; ok {
			for _, ev := range room.State.Events {
				handle(ev)
			}
			for _, ev := range room.Timeline.Events {
				handle(ev)
			}
		}
		if resp.NextBatch != "" {
			since = resp.NextBatch
		}
	}
}

// Message is a text message posted to the room.
type Message struct {
	EventID string
	Sender  string
	Body    string
}

// WatchMessages delivers text messages posted after the call returns. Messages
// whose body does not start with prefix are skipped.
func (c *Client) WatchMessages(ctx context.Context, prefix string) (<-chan Message, error) {
	since, err := c.initialSync(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan Message, 16)
	go func() {
		defer close(ch)
		c.syncLoop(ctx, since, func(ev Event) {
			if ev.Type != "m.room.message" || ev.StateKey != nil {
				return
			}
			var content messageContent
			if err := jsonUnmarshal(ev.Content, &content); err != nil || content.MsgType != "m.text" {
				return
			}
			if !strings.HasPrefix(strings.TrimSpace(content.Body), prefix) {
				return
			}
			select {
			case ch <- Message{EventID: ev.EventID, Sender: ev.Sender, Body: content.Body}:
			case <-ctx.Done():
			}
		})
	}()
	return ch, nil
}

// React annotates eventID with key, usually a single emoji.
func (c *Client) React(ctx context.Context, eventID, key string) error {
	content := map[string]any{
		"m.relates_to": map[string]string{
			"rel_type": "m.annotation",
			"event_id": eventID,
			"key":      key,
		},
	}
	_, err := c.doRequest(ctx, http.MethodPut, c.roomPath("send", "m.reaction", c.nextTxnID()), content, nil)
	return err
}

// Notice posts a bot notice to the room.
func (c *Client) Notice(ctx context.Context, body string) (string, error) {
	data, err := c.doRequest(ctx, http.MethodPut, c.roomPath("send", "m.room.message", c.nextTxnID()),
		messageContent{MsgType: "m.notice", Body: body}, nil)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	if err := jsonUnmarshal(data, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}
