package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"barcamp/api/internal/grid"
	"barcamp/api/internal/model"
	"barcamp/api/internal/notify"
	"barcamp/api/internal/store"
)

const gridKey = "!room:example.org"

func newReducer() *grid.Store {
	var n atomic.Int64
	return grid.NewStore(
		grid.WithIDGenerator(func(prefix string) string { return fmt.Sprintf("%s_%d", prefix, n.Add(1)) }),
		grid.WithIconPicker(func() string { return "star" }),
	)
}

func seedGrid(t *testing.T, reducer *grid.Store) model.SessionGrid {
	t.Helper()
	g, err := reducer.Setup(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), grid.Template{
		Start:     "09:00",
		Tracks:    []grid.TemplateTrack{{Name: "A"}, {Name: "B"}},
		TimeSlots: []grid.TemplateSlot{{Kind: model.KindSessions, Duration: 60}, {Kind: model.KindSessions, Duration: 90}},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	g.ParkingLot = []model.ParkingLotEntry{{TopicID: "T1"}, {TopicID: "T2"}}
	return g
}

func newLayer(replica store.Replica, reducer Reducer, notifier *notify.Notifier) *Layer {
	return New(replica, reducer, Options{Key: gridKey, Notifier: notifier})
}

func initialized(t *testing.T, replica store.Replica) (*Layer, *grid.Store, model.SessionGrid) {
	t.Helper()
	reducer := newReducer()
	l := newLayer(replica, reducer, nil)
	g, err := l.Initialize(context.Background(), seedGrid(t, reducer))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return l, reducer, g
}

func parking(g model.SessionGrid) []string {
	out := make([]string, len(g.ParkingLot))
	for i, e := range g.ParkingLot {
		out[i] = e.TopicID
	}
	return out
}

// gatedReplica holds writes until released and can fail them.
type gatedReplica struct {
	store.Replica
	entered chan struct{}
	release chan struct{}
	fail    error
}

func (g *gatedReplica) WriteState(ctx context.Context, typ, key string, value json.RawMessage, expected int64) (int64, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	if g.fail != nil {
		return 0, g.fail
	}
	return g.Replica.WriteState(ctx, typ, key, value, expected)
}

// countingReplica records the highest number of concurrent writes.
type countingReplica struct {
	store.Replica
	inflight atomic.Int32
	peak     atomic.Int32
}

func (c *countingReplica) WriteState(ctx context.Context, typ, key string, value json.RawMessage, expected int64) (int64, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return c.Replica.WriteState(ctx, typ, key, value, expected)
}

func TestInitializeTwiceConflicts(t *testing.T) {
	replica := store.NewMemoryReplica()
	_, reducer, g := initialized(t, replica)
	if g.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", g.Revision)
	}
	other := newLayer(replica, reducer, nil)
	if _, err := other.Initialize(context.Background(), seedGrid(t, reducer)); model.CodeOf(err) != model.CodeGridExists {
		t.Fatalf("expected grid exists, got %v", err)
	}
}

func TestLoadMissingGrid(t *testing.T) {
	l := newLayer(store.NewMemoryReplica(), newReducer(), nil)
	if err := l.Load(context.Background()); model.CodeOf(err) != model.CodeGridNotInitialized {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := l.Execute(context.Background(), grid.AddTrack{}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestExecuteAccepted(t *testing.T) {
	replica := store.NewMemoryReplica()
	l, _, g := initialized(t, replica)
	ctx := context.Background()

	next, err := l.Execute(ctx, grid.MoveTopicToParkingArea{TopicID: "T2", ToIndex: 0})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if next.Revision != g.Revision+1 || !slices.Equal(parking(next), []string{"T2", "T1"}) {
		t.Fatalf("unexpected grid rev=%d parking=%v", next.Revision, parking(next))
	}
	snap, state := l.Snapshot()
	if state != StateSynced || snap.Revision != next.Revision {
		t.Fatalf("unexpected snapshot state=%s rev=%d", state, snap.Revision)
	}

	rec, err := replica.ReadState(ctx, store.TypeSessionGrid, gridKey)
	if err != nil || rec.Revision != next.Revision {
		t.Fatalf("store not updated: %+v %v", rec, err)
	}
}

func TestExecuteDomainErrorLeavesStateUntouched(t *testing.T) {
	l, _, g := initialized(t, store.NewMemoryReplica())
	_, err := l.Execute(context.Background(), grid.RenameTrack{TrackID: "ghost", Name: "x"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	snap, state := l.Snapshot()
	if state != StateSynced || snap.Revision != g.Revision {
		t.Fatalf("state changed after rejected command")
	}
}

func TestConflictReplaysOnLatest(t *testing.T) {
	replica := store.NewMemoryReplica()
	ctx := context.Background()
	alice, reducer, g := initialized(t, replica)
	bob := newLayer(replica, reducer, nil)
	if err := bob.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID
	if _, err := alice.Execute(ctx, grid.MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA}); err != nil {
		t.Fatalf("alice: %v", err)
	}

	// bob still holds revision 1, so his write conflicts and is replayed
	got, err := bob.Execute(ctx, grid.AddTrack{Name: "Garden"})
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if got.Revision != 3 {
		t.Fatalf("expected revision 3, got %d", got.Revision)
	}
	if len(got.Tracks) != 3 || got.Tracks[2].Name != "Garden" {
		t.Fatalf("bob's change missing: %+v", got.Tracks)
	}
	if ses, ok := got.SessionAt(trackA, slot0); !ok || ses.TopicID != "T1" {
		t.Fatalf("alice's change lost after replay")
	}
}

func TestReplayFailureSurfacesConflict(t *testing.T) {
	replica := store.NewMemoryReplica()
	ctx := context.Background()
	alice, reducer, g := initialized(t, replica)
	bob := newLayer(replica, reducer, nil)
	if err := bob.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	trackB := g.Tracks[1].ID
	if _, err := alice.Execute(ctx, grid.RemoveTrack{TrackID: trackB}); err != nil {
		t.Fatalf("alice: %v", err)
	}
	_, err := bob.Execute(ctx, grid.RenameTrack{TrackID: trackB, Name: "Garden"})
	if !errors.Is(err, model.ErrConflict) || model.CodeOf(err) != model.CodeReplayFailed {
		t.Fatalf("expected replay conflict, got %v", err)
	}
	snap, state := bob.Snapshot()
	if state != StateSynced || snap.Revision != 2 || len(snap.Tracks) != 1 {
		t.Fatalf("bob should show alice's grid, got rev=%d tracks=%d state=%s", snap.Revision, len(snap.Tracks), state)
	}
}

func TestRemoteSnapshotsBufferedWhilePending(t *testing.T) {
	mem := store.NewMemoryReplica()
	ctx := context.Background()
	_, reducer, _ := initialized(t, mem)

	gated := &gatedReplica{Replica: mem, entered: make(chan struct{}), release: make(chan struct{}), fail: errors.New("connection reset")}
	l := newLayer(gated, reducer, nil)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	// another participant writes revision 2
	remote := l.Confirmed()
	remote.ParkingLot = []model.ParkingLotEntry{{TopicID: "T2"}, {TopicID: "T1"}}
	data, _ := json.Marshal(remote)
	rev, err := mem.WriteState(ctx, store.TypeSessionGrid, gridKey, data, 1)
	if err != nil {
		t.Fatalf("remote write: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := l.Execute(ctx, grid.AddTrack{Name: "Garden"})
		done <- err
	}()
	<-gated.entered

	l.HandleRemote(store.Record{Type: store.TypeSessionGrid, Key: gridKey, Value: data, Revision: rev})
	snap, state := l.Snapshot()
	if state != StatePending {
		t.Fatalf("expected pending, got %s", state)
	}
	if len(snap.Tracks) != 3 || snap.Revision != 1 {
		t.Fatalf("optimistic grid replaced while pending: rev=%d tracks=%d", snap.Revision, len(snap.Tracks))
	}

	close(gated.release)
	if err := <-done; err == nil {
		t.Fatal("expected transport error")
	}
	snap, state = l.Snapshot()
	if state != StateSynced || snap.Revision != rev || !slices.Equal(parking(snap), []string{"T2", "T1"}) {
		t.Fatalf("buffered snapshot not applied: rev=%d parking=%v state=%s", snap.Revision, parking(snap), state)
	}
	if len(snap.Tracks) != 2 {
		t.Fatalf("rolled back change still visible")
	}
}

func TestTransportFailureNotifiesOncePerContext(t *testing.T) {
	mem := store.NewMemoryReplica()
	ctx := context.Background()
	_, reducer, _ := initialized(t, mem)

	notifier := notify.New(nil)
	l := newLayer(&gatedReplica{Replica: mem, fail: errors.New("homeserver unreachable")}, reducer, notifier)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Execute(ctx, grid.AddTrack{}); !errors.Is(err, ErrTransport) {
			t.Fatalf("expected transport error, got %v", err)
		}
	}
	active := notifier.Active()
	if len(active) != 1 || active[0].Count != 3 {
		t.Fatalf("expected one folded notification, got %+v", active)
	}
}

func TestWritesAreSerialized(t *testing.T) {
	counting := &countingReplica{Replica: store.NewMemoryReplica()}
	l, _, _ := initialized(t, counting)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Execute(ctx, grid.AddTrack{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("execute: %v", err)
	}
	snap, _ := l.Snapshot()
	if snap.Revision != 9 || len(snap.Tracks) != 10 {
		t.Fatalf("unexpected grid rev=%d tracks=%d", snap.Revision, len(snap.Tracks))
	}
	if peak := counting.peak.Load(); peak != 1 {
		t.Fatalf("expected one write at a time, saw %d", peak)
	}
}

func TestStartFollowsRemoteWrites(t *testing.T) {
	replica := store.NewMemoryReplica()
	alice, reducer, _ := initialized(t, replica)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bob := newLayer(replica, reducer, nil)
	if err := bob.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := bob.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := alice.Execute(ctx, grid.AddTrack{Name: "Garden"}); err != nil {
		t.Fatalf("alice: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := bob.Snapshot(); snap.Revision == 2 {
			if len(snap.Tracks) != 3 {
				t.Fatalf("unexpected tracks %+v", snap.Tracks)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("remote write never arrived")
}

func TestHandleRemoteIgnoresInvalidSnapshots(t *testing.T) {
	l, _, g := initialized(t, store.NewMemoryReplica())
	broken := g.Clone()
	broken.ParkingLot = append(broken.ParkingLot, model.ParkingLotEntry{TopicID: "T1"})
	data, _ := json.Marshal(broken)

	l.HandleRemote(store.Record{Type: store.TypeSessionGrid, Key: gridKey, Value: data, Revision: 7})
	l.HandleRemote(store.Record{Type: store.TypeSessionGrid, Key: gridKey, Value: json.RawMessage(`{`), Revision: 8})
	if snap, _ := l.Snapshot(); snap.Revision != g.Revision {
		t.Fatalf("invalid snapshot applied: rev=%d", snap.Revision)
	}
}
