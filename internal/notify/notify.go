// Package notify collects transient failure notices for the UI. At most one
// notice is active per context; repeats are folded into it.
package notify

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"barcamp/api/internal/util"
)

type Notification struct {
	ID        string    `json:"id"`
	Context   string    `json:"context"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notifier struct {
	mu     sync.Mutex
	active map[string]Notification
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{active: map[string]Notification{}, logger: logger, now: time.Now}
}

// Notify raises a notice for context. It reports false when a notice for the
// same context is already showing.
func (n *Notifier) Notify(context, message string) (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.active[context]; ok {
		existing.Count++
		n.active[context] = existing
		return existing, false
	}
	note := Notification{
		ID:        util.NewID("note"),
		Context:   context,
		Message:   message,
		Count:     1,
		CreatedAt: n.now(),
	}
	n.active[context] = note
	n.logger.Warn("notification raised", "context", context, "message", message)
	return note, true
}

// Dismiss clears the notice of context so a later failure shows again.
func (n *Notifier) Dismiss(context string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.active, context)
}

func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, 0, len(n.active))
	for _, note := range n.active {
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
