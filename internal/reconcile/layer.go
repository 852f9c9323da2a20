// Package reconcile keeps a local session grid in step with the replicated
// store.
//
// A command is applied optimistically to the last confirmed snapshot and the
// result written with the revision it was built from. While that write is in
// flight the layer is Pending: further commands wait their turn and remote
// snapshots are buffered. A revision conflict discards the optimistic result,
// fetches the latest snapshot and replays the command on it. Transport
// failures roll back and raise a notification.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"barcamp/api/internal/grid"
	"barcamp/api/internal/model"
	"barcamp/api/internal/notify"
	"barcamp/api/internal/store"
)

type State string

const (
	StateSynced  State = "synced"
	StatePending State = "pending"
)

const (
	DefaultMaxReplays    = 3
	notificationContext  = "session-grid"
	notificationFallback = "Your change to the schedule could not be saved. Please try again."
)

// ErrTransport marks a failure to reach the replicated store. The optimistic
// change has been rolled back and a notification raised.
var ErrTransport = errors.New("replicated store unavailable")

// Reducer turns a snapshot and a command into the next snapshot.
type Reducer interface {
	Apply(g model.SessionGrid, cmd grid.Command) (model.SessionGrid, error)
}

type Options struct {
	Type       string
	Key        string
	MaxReplays int
	Logger     *slog.Logger
	Notifier   *notify.Notifier
}

type Layer struct {
	replica    store.Replica
	reducer    Reducer
	typ        string
	key        string
	maxReplays int
	logger     *slog.Logger
	notifier   *notify.Notifier

	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	loaded    bool
	confirmed model.SessionGrid
	local     model.SessionGrid
	buffered  *model.SessionGrid
}

func New(replica store.Replica, reducer Reducer, opts Options) *Layer {
	if opts.Type == "" {
		opts.Type = store.TypeSessionGrid
	}
	if opts.MaxReplays <= 0 {
		opts.MaxReplays = DefaultMaxReplays
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(opts.Logger)
	}
	return &Layer{
		replica:    replica,
		reducer:    reducer,
		typ:        opts.Type,
		key:        opts.Key,
		maxReplays: opts.MaxReplays,
		logger:     opts.Logger.With("type", opts.Type, "key", opts.Key),
		notifier:   opts.Notifier,
		state:      StateSynced,
	}
}

// Snapshot returns the grid the UI should render and the sync state.
func (l *Layer) Snapshot() (model.SessionGrid, State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local.Clone(), l.state
}

// Confirmed returns the last snapshot acknowledged by the store.
func (l *Layer) Confirmed() model.SessionGrid {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmed.Clone()
}

func (l *Layer) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Load reads the current snapshot from the store.
func (l *Layer) Load(ctx context.Context) error {
	latest, err := l.fetch(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.NotFound(model.CodeGridNotInitialized, "the session grid has not been set up")
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = latest
	l.local = latest
	l.loaded = true
	return nil
}

// Initialize writes the first snapshot. It fails with a conflict when a grid
// already exists.
func (l *Layer) Initialize(ctx context.Context, g model.SessionGrid) (model.SessionGrid, error) {
	if err := g.Validate(); err != nil {
		return model.SessionGrid{}, err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rev, err := l.write(ctx, g, 0)
	if errors.Is(err, store.ErrConflict) {
		return model.SessionGrid{}, model.Conflict(model.CodeGridExists, "the session grid is already set up")
	}
	if err != nil {
		return model.SessionGrid{}, err
	}
	g.Revision = rev
	l.mu.Lock()
	defer l.mu.Unlock()
	l.confirmed = g
	l.local = g
	l.loaded = true
	return g.Clone(), nil
}

// Execute applies cmd and replicates the result. Domain errors from the
// reducer are returned unchanged and leave every state untouched.
func (l *Layer) Execute(ctx context.Context, cmd grid.Command) (model.SessionGrid, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	if !l.loaded {
		l.mu.Unlock()
		return model.SessionGrid{}, model.NotFound(model.CodeGridNotInitialized, "the session grid has not been set up")
	}
	base := l.confirmed
	next, err := l.reducer.Apply(base, cmd)
	if err != nil {
		l.mu.Unlock()
		return model.SessionGrid{}, err
	}
	l.local = next
	l.state = StatePending
	l.mu.Unlock()

	for attempt := 0; ; attempt++ {
		rev, err := l.write(ctx, next, base.Revision)
		if err == nil {
			next.Revision = rev
			l.notifier.Dismiss(notificationContext)
			l.settle(&next)
			return next.Clone(), nil
		}

		if !errors.Is(err, store.ErrConflict) {
			l.logger.Error("write session grid failed", "command", cmd.Type(), "error", err)
			l.notifier.Notify(notificationContext, notificationFallback)
			l.settle(nil)
			return model.SessionGrid{}, fmt.Errorf("write session grid: %w: %w", ErrTransport, err)
		}

		if attempt >= l.maxReplays {
			l.settle(nil)
			return model.SessionGrid{}, model.Conflict(model.CodeRevisionConflict, "%s lost %d revision races", cmd.Type(), attempt+1)
		}

		latest, ferr := l.fetch(ctx)
		if ferr != nil {
			l.logger.Error("fetch session grid after conflict failed", "error", ferr)
			l.notifier.Notify(notificationContext, notificationFallback)
			l.settle(nil)
			return model.SessionGrid{}, fmt.Errorf("fetch session grid: %w: %w", ErrTransport, ferr)
		}
		l.mu.Lock()
		l.confirmed = latest
		l.local = latest
		l.mu.Unlock()

		replayed, aerr := l.reducer.Apply(latest, cmd)
		if aerr != nil {
			l.logger.Info("replay rejected", "command", cmd.Type(), "revision", latest.Revision, "error", aerr)
			l.settle(nil)
			return model.SessionGrid{}, &model.Error{
				Kind:    model.KindConflict,
				Code:    model.CodeReplayFailed,
				Message: fmt.Sprintf("%s no longer applies at revision %d: %v", cmd.Type(), latest.Revision, aerr),
			}
		}
		l.logger.Debug("replaying after conflict", "command", cmd.Type(), "revision", latest.Revision)
		base, next = latest, replayed
		l.mu.Lock()
		l.local = next
		l.mu.Unlock()
	}
}

// settle ends the Pending state. accepted is the acknowledged snapshot, or
// nil when the optimistic result was discarded. A buffered remote snapshot
// newer than the outcome replaces it.
func (l *Layer) settle(accepted *model.SessionGrid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if accepted != nil {
		l.confirmed = *accepted
	}
	l.local = l.confirmed
	if l.buffered != nil && l.buffered.Revision > l.confirmed.Revision {
		l.confirmed = *l.buffered
		l.local = *l.buffered
	}
	l.buffered = nil
	l.state = StateSynced
}

// HandleRemote folds a snapshot announced by the store into the layer.
// Snapshots that are stale or structurally invalid are ignored.
func (l *Layer) HandleRemote(rec store.Record) {
	if rec.Type != l.typ || rec.Key != l.key {
		return
	}
	g, err := decode(rec)
	if err != nil {
		l.logger.Warn("ignoring undecodable remote snapshot", "revision", rec.Revision, "error", err)
		return
	}
	if err := g.Validate(); err != nil {
		l.logger.Warn("ignoring invalid remote snapshot", "revision", rec.Revision, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded && rec.Revision <= l.confirmed.Revision {
		return
	}
	if l.state == StatePending {
		if l.buffered == nil || rec.Revision > l.buffered.Revision {
			l.buffered = &g
		}
		return
	}
	l.confirmed = g
	l.local = g
	l.loaded = true
}

// Start subscribes to remote snapshots and applies them until ctx ends.
func (l *Layer) Start(ctx context.Context) error {
	records, err := l.replica.Subscribe(ctx, l.typ)
	if err != nil {
		return fmt.Errorf("subscribe session grid: %w", err)
	}
	go func() {
		for rec := range records {
			l.HandleRemote(rec)
		}
	}()
	return nil
}

func (l *Layer) fetch(ctx context.Context) (model.SessionGrid, error) {
	rec, err := l.replica.ReadState(ctx, l.typ, l.key)
	if err != nil {
		return model.SessionGrid{}, err
	}
	return decode(rec)
}

func (l *Layer) write(ctx context.Context, g model.SessionGrid, expected int64) (int64, error) {
	g.Revision = expected + 1
	data, err := json.Marshal(g)
	if err != nil {
		return 0, fmt.Errorf("encode session grid: %w", err)
	}
	return l.replica.WriteState(ctx, l.typ, l.key, data, expected)
}

func decode(rec store.Record) (model.SessionGrid, error) {
	var g model.SessionGrid
	if err := json.Unmarshal(rec.Value, &g); err != nil {
		return model.SessionGrid{}, fmt.Errorf("decode session grid: %w", err)
	}
	g.Revision = rec.Revision
	return g.Clone(), nil
}
