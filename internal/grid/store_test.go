package grid

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"testing"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/reorder"
)

func newTestStore(opts ...Option) *Store {
	n := 0
	base := []Option{
		WithIDGenerator(func(prefix string) string {
			n++
			return fmt.Sprintf("%s_%d", prefix, n)
		}),
		WithIconPicker(func() string { return "star" }),
	}
	return NewStore(append(base, opts...)...)
}

func nineOClock() time.Time {
	return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
}

// fixture has tracks A and B, a 60 minute sessions slot followed by a 90
// minute sessions slot starting 09:00, T1 and T2 parked.
func fixture(t *testing.T, s *Store) model.SessionGrid {
	t.Helper()
	g, err := s.Setup(nineOClock(), Template{
		Start:  "09:00",
		Tracks: []TemplateTrack{{Name: "A", Icon: "cat"}, {Name: "B", Icon: "dog"}},
		TimeSlots: []TemplateSlot{
			{Kind: model.KindSessions, Duration: 60},
			{Kind: model.KindSessions, Duration: 90},
		},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	g.ParkingLot = []model.ParkingLotEntry{{TopicID: "T1"}, {TopicID: "T2"}}
	return g
}

func apply(t *testing.T, s *Store, g model.SessionGrid, cmd Command) model.SessionGrid {
	t.Helper()
	next, err := s.Apply(g, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Type(), err)
	}
	return next
}

func parkingIDs(g model.SessionGrid) []string {
	ids := make([]string, len(g.ParkingLot))
	for i, e := range g.ParkingLot {
		ids[i] = e.TopicID
	}
	return ids
}

func sortedTopics(g model.SessionGrid) []string {
	ids := g.TopicIDs()
	sort.Strings(ids)
	return ids
}

func TestSetupDefaultTemplate(t *testing.T) {
	s := newTestStore()
	g, err := s.Setup(nineOClock(), DefaultTemplate())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(g.Tracks) != 1 || g.Tracks[0].Name != "Track 1" || g.Tracks[0].Icon != "star" {
		t.Fatalf("unexpected tracks %+v", g.Tracks)
	}
	if len(g.TimeSlots) != 1 || g.TimeSlots[0].Kind != model.KindSessions || g.TimeSlots[0].DurationMinutes != 60 {
		t.Fatalf("unexpected slots %+v", g.TimeSlots)
	}
	if want := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC); !g.GridStartTime.Equal(want) {
		t.Fatalf("grid starts at %v, want %v", g.GridStartTime, want)
	}
}

func TestParkingLotReorder(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)

	next := apply(t, s, g, MoveTopicToParkingArea{TopicID: "T2", ToIndex: 0})
	if got := parkingIDs(next); !slices.Equal(got, []string{"T2", "T1"}) {
		t.Fatalf("parking lot %v", got)
	}
	if got := parkingIDs(g); !slices.Equal(got, []string{"T1", "T2"}) {
		t.Fatalf("input grid mutated: %v", got)
	}
}

func TestParkingLotRoundTrip(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g.ParkingLot = append(g.ParkingLot, model.ParkingLotEntry{TopicID: "T3"}, model.ParkingLotEntry{TopicID: "T4"})
	want := parkingIDs(g)

	for orig, id := range want {
		for i := range want {
			moved := apply(t, s, g, MoveTopicToParkingArea{TopicID: id, ToIndex: i})
			if got := parkingIDs(moved); got[i] != id {
				t.Fatalf("%s to %d: parking lot %v", id, i, got)
			}
			back := apply(t, s, moved, MoveTopicToParkingArea{TopicID: id, ToIndex: orig})
			if got := parkingIDs(back); !slices.Equal(got, want) {
				t.Fatalf("%s to %d and back to %d: parking lot %v, want %v", id, i, orig, got, want)
			}
			if len(back.Sessions) != 0 {
				t.Fatalf("round trip placed a session: %+v", back.Sessions)
			}
		}
	}
}

func TestChangeDurationScenario(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	slot0 := g.TimeSlots[0].ID

	next := apply(t, s, g, ChangeTimeSlotDuration{TimeSlotID: slot0, Minutes: 15})
	at := func(h, m int) time.Time { return time.Date(2026, 10, 18, h, m, 0, 0, time.UTC) }
	if !next.TimeSlots[0].EndTime.Equal(at(9, 15)) {
		t.Fatalf("slot0 ends %v", next.TimeSlots[0].EndTime)
	}
	if !next.TimeSlots[1].StartTime.Equal(at(9, 15)) || !next.TimeSlots[1].EndTime.Equal(at(10, 45)) {
		t.Fatalf("slot1 spans %v-%v", next.TimeSlots[1].StartTime, next.TimeSlots[1].EndTime)
	}
}

func TestChangeDurationOutOfRange(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	for _, minutes := range []int{-1, 1441} {
		_, err := s.Apply(g, ChangeTimeSlotDuration{TimeSlotID: g.TimeSlots[0].ID, Minutes: minutes})
		if !errors.Is(err, model.ErrValidation) {
			t.Fatalf("minutes %d: expected validation error, got %v", minutes, err)
		}
	}
}

func TestMoveTopicToSessionAndBack(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	trackA, slot1 := g.Tracks[0].ID, g.TimeSlots[1].ID

	placed := apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot1, TrackID: trackA})
	if len(placed.Sessions) != 1 || placed.Sessions[0] != (model.Session{TopicID: "T1", TrackID: trackA, TimeSlotID: slot1}) {
		t.Fatalf("unexpected sessions %+v", placed.Sessions)
	}
	if got := parkingIDs(placed); !slices.Equal(got, []string{"T2"}) {
		t.Fatalf("parking lot %v", got)
	}

	back := apply(t, s, placed, MoveTopicToParkingArea{TopicID: "T1", ToIndex: 0})
	if len(back.Sessions) != 0 {
		t.Fatalf("session not removed: %+v", back.Sessions)
	}
	if got := parkingIDs(back); !slices.Equal(got, parkingIDs(g)) {
		t.Fatalf("round trip changed parking lot: %v", got)
	}
}

func TestMoveTopicToSessionValidation(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g = apply(t, s, g, AddTimeSlot{Kind: model.KindCommonEvent})
	breakSlot := g.TimeSlots[2].ID
	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID

	tests := []struct {
		name string
		cmd  MoveTopicToSession
		want error
	}{
		{name: "common event slot", cmd: MoveTopicToSession{TopicID: "T1", TimeSlotID: breakSlot, TrackID: trackA}, want: model.ErrValidation},
		{name: "unknown slot", cmd: MoveTopicToSession{TopicID: "T1", TimeSlotID: "nope", TrackID: trackA}, want: model.ErrNotFound},
		{name: "unknown track", cmd: MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: "nope"}, want: model.ErrNotFound},
		{name: "unknown topic", cmd: MoveTopicToSession{TopicID: "T9", TimeSlotID: slot0, TrackID: trackA}, want: model.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Apply(g, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOccupiedCellEvictsByDefault(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})

	next := apply(t, s, g, MoveTopicToSession{TopicID: "T2", TimeSlotID: slot0, TrackID: trackA})
	occupant, ok := next.SessionAt(trackA, slot0)
	if !ok || occupant.TopicID != "T2" {
		t.Fatalf("unexpected occupant %+v", occupant)
	}
	if got := parkingIDs(next); !slices.Equal(got, []string{"T1"}) {
		t.Fatalf("evicted topic not parked: %v", got)
	}
}

func TestCollisionPolicyOption(t *testing.T) {
	if got := newTestStore().CollisionPolicy(); got != CollisionEvict {
		t.Fatalf("default policy %q", got)
	}
	if got := newTestStore(WithCollisionPolicy(CollisionReject)).CollisionPolicy(); got != CollisionReject {
		t.Fatalf("policy %q", got)
	}
}

func TestOccupiedCellRejectPolicy(t *testing.T) {
	s := newTestStore(WithCollisionPolicy(CollisionReject))
	g := fixture(t, s)
	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})

	if _, err := s.Apply(g, MoveTopicToSession{TopicID: "T2", TimeSlotID: slot0, TrackID: trackA}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPinnedOccupantIsNotEvicted(t *testing.T) {
	s := newTestStore(WithPins(PinMap{"T1": true}))
	g := fixture(t, s)
	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})

	if _, err := s.Apply(g, MoveTopicToSession{TopicID: "T2", TimeSlotID: slot0, TrackID: trackA}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.Apply(g, RemoveTimeSlot{TimeSlotID: slot0}); model.CodeOf(err) != model.CodePinnedSession {
		t.Fatalf("expected pinned session error, got %v", err)
	}
}

func TestRemoveTrackEvictsToParkingEnd(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	trackA, trackB := g.Tracks[0].ID, g.Tracks[1].ID
	slot0, slot1 := g.TimeSlots[0].ID, g.TimeSlots[1].ID
	g.ParkingLot = append(g.ParkingLot, model.ParkingLotEntry{TopicID: "T3"}, model.ParkingLotEntry{TopicID: "T4"})
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T2", TimeSlotID: slot1, TrackID: trackA})
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T3", TimeSlotID: slot0, TrackID: trackB})
	before := sortedTopics(g)

	next := apply(t, s, g, RemoveTrack{TrackID: trackA})
	if got := parkingIDs(next); !slices.Equal(got, []string{"T4", "T1", "T2"}) {
		t.Fatalf("parking lot %v", got)
	}
	if len(next.Tracks) != 1 || len(next.Sessions) != 1 {
		t.Fatalf("unexpected grid %+v", next)
	}
	if got := sortedTopics(next); !slices.Equal(got, before) {
		t.Fatalf("topics not conserved: %v vs %v", got, before)
	}
}

func TestLastTrackGuard(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g = apply(t, s, g, RemoveTrack{TrackID: g.Tracks[0].ID})

	_, err := s.Apply(g, RemoveTrack{TrackID: g.Tracks[0].ID})
	if !errors.Is(err, model.ErrValidation) || model.CodeOf(err) != model.CodeLastTrack {
		t.Fatalf("expected last track error, got %v", err)
	}
}

func TestRemoveTimeSlotEvictsAndRecalculates(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	trackA, trackB := g.Tracks[0].ID, g.Tracks[1].ID
	slot0, slot1 := g.TimeSlots[0].ID, g.TimeSlots[1].ID
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T2", TimeSlotID: slot0, TrackID: trackB})
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})

	next := apply(t, s, g, RemoveTimeSlot{TimeSlotID: slot0})
	if got := parkingIDs(next); !slices.Equal(got, []string{"T1", "T2"}) {
		t.Fatalf("parking lot %v", got)
	}
	if len(next.TimeSlots) != 1 || next.TimeSlots[0].ID != slot1 || !next.TimeSlots[0].StartTime.Equal(nineOClock()) {
		t.Fatalf("unexpected slots %+v", next.TimeSlots)
	}

	if _, err := s.Apply(next, RemoveTimeSlot{TimeSlotID: slot1}); model.CodeOf(err) != model.CodeLastTimeSlot {
		t.Fatalf("expected last slot error, got %v", err)
	}
}

func TestAddTimeSlot(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	zero := 0

	next := apply(t, s, g, AddTimeSlot{Kind: model.KindCommonEvent, Index: &zero, DurationMinutes: 30})
	first := next.TimeSlots[0]
	if first.Kind != model.KindCommonEvent || first.Summary != DefaultCommonEventSummary || first.Icon != DefaultCommonEventIcon {
		t.Fatalf("unexpected common event %+v", first)
	}
	if !next.TimeSlots[1].StartTime.Equal(nineOClock().Add(30 * time.Minute)) {
		t.Fatalf("following slots not shifted: %+v", next.TimeSlots[1])
	}

	if _, err := s.Apply(g, AddTimeSlot{Kind: "party"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMoveTimeSlotCarriesSessions(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	trackA, slot0 := g.Tracks[0].ID, g.TimeSlots[0].ID
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA})

	next := apply(t, s, g, MoveTimeSlot{TimeSlotID: slot0, ToIndex: 1})
	if next.TimeSlots[1].ID != slot0 || !next.TimeSlots[1].StartTime.Equal(nineOClock().Add(90*time.Minute)) {
		t.Fatalf("unexpected slots %+v", next.TimeSlots)
	}
	if ses, ok := next.SessionAt(trackA, slot0); !ok || ses.TopicID != "T1" {
		t.Fatalf("session lost after move")
	}
}

func TestTrackEdits(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g = apply(t, s, g, AddTrack{})
	if got := g.Tracks[2]; got.Name != "Track 3" || got.Icon != "star" {
		t.Fatalf("unexpected new track %+v", got)
	}
	g = apply(t, s, g, RenameTrack{TrackID: g.Tracks[2].ID, Name: "  Garden  "})
	g = apply(t, s, g, ChangeTrackIcon{TrackID: g.Tracks[2].ID, Icon: "leaf"})
	if got := g.Tracks[2]; got.Name != "Garden" || got.Icon != "leaf" {
		t.Fatalf("unexpected track %+v", got)
	}
	if _, err := s.Apply(g, RenameTrack{TrackID: g.Tracks[2].ID, Name: " "}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.Apply(g, RenameTrack{TrackID: "ghost", Name: "x"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateCommonEvent(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g = apply(t, s, g, AddTimeSlot{Kind: model.KindCommonEvent})
	id := g.TimeSlots[2].ID

	g = apply(t, s, g, UpdateCommonEvent{TimeSlotID: id, Summary: "Lunch", Icon: "pizza-slice"})
	if got := g.TimeSlots[2]; got.Summary != "Lunch" || got.Icon != "pizza-slice" {
		t.Fatalf("unexpected slot %+v", got)
	}
	if _, err := s.Apply(g, UpdateCommonEvent{TimeSlotID: g.TimeSlots[0].ID, Summary: "x"}); model.CodeOf(err) != model.CodeNotCommonEvent {
		t.Fatalf("expected not a common event, got %v", err)
	}
}

func TestChangeGridStartTime(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	start := nineOClock().Add(3 * time.Hour)

	next := apply(t, s, g, ChangeGridStartTime{StartTime: start})
	if !next.GridStartTime.Equal(start) || !next.TimeSlots[0].StartTime.Equal(start) {
		t.Fatalf("timeline not shifted: %+v", next.TimeSlots[0])
	}
	if !next.EndTime().Equal(start.Add(150 * time.Minute)) {
		t.Fatalf("unexpected end %v", next.EndTime())
	}
}

func TestPinRequiresSession(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	if _, err := s.Apply(g, PinTopic{TopicID: "T1"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for parked topic, got %v", err)
	}
	if _, err := s.Apply(g, UnpinTopic{TopicID: "T9"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: g.TimeSlots[0].ID, TrackID: g.Tracks[0].ID})
	if _, err := s.Apply(g, PinTopic{TopicID: "T1"}); err != nil {
		t.Fatalf("pin: %v", err)
	}
}

func TestConsumeSubmissionIsIdempotent(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)

	once := apply(t, s, g, ConsumeSubmission{SubmissionID: "sub_1", TopicID: "T3"})
	twice := apply(t, s, once, ConsumeSubmission{SubmissionID: "sub_1", TopicID: "T3"})
	if got := parkingIDs(twice); !slices.Equal(got, []string{"T1", "T2", "T3"}) {
		t.Fatalf("parking lot %v", got)
	}
	if !slices.Equal(twice.ConsumedSubmissionIDs, []string{"sub_1"}) {
		t.Fatalf("consumed %v", twice.ConsumedSubmissionIDs)
	}
}

func TestRemoveTopic(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g = apply(t, s, g, MoveTopicToSession{TopicID: "T1", TimeSlotID: g.TimeSlots[0].ID, TrackID: g.Tracks[0].ID})

	g = apply(t, s, g, RemoveTopic{TopicID: "T1"})
	g = apply(t, s, g, RemoveTopic{TopicID: "T2"})
	g = apply(t, s, g, RemoveTopic{TopicID: "absent"})
	if len(g.Sessions) != 0 || len(g.ParkingLot) != 0 {
		t.Fatalf("topics not removed: %+v", g)
	}
}

func TestDropTopic(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	cell := reorder.Cell(g.Tracks[1].ID, g.TimeSlots[0].ID)

	g = apply(t, s, g, DropTopic{TopicID: "T2", Target: cell})
	if ses, ok := g.SessionAt(cell.TrackID, cell.TimeSlotID); !ok || ses.TopicID != "T2" {
		t.Fatalf("topic not dropped into session")
	}
	g = apply(t, s, g, DropTopic{TopicID: "T2", Target: reorder.ParkingLot(), Index: 0})
	if got := parkingIDs(g); !slices.Equal(got, []string{"T2", "T1"}) {
		t.Fatalf("parking lot %v", got)
	}
	if _, err := s.Apply(g, DropTopic{TopicID: "T2", Target: reorder.TimeSlots()}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConservationAcrossRandomCommands(t *testing.T) {
	s := newTestStore()
	g := fixture(t, s)
	g.ParkingLot = append(g.ParkingLot, model.ParkingLotEntry{TopicID: "T3"})
	want := sortedTopics(g)

	trackA, trackB := g.Tracks[0].ID, g.Tracks[1].ID
	slot0, slot1 := g.TimeSlots[0].ID, g.TimeSlots[1].ID
	commands := []Command{
		MoveTopicToSession{TopicID: "T1", TimeSlotID: slot0, TrackID: trackA},
		MoveTopicToSession{TopicID: "T2", TimeSlotID: slot0, TrackID: trackA},
		MoveTopicToSession{TopicID: "T3", TimeSlotID: slot1, TrackID: trackB},
		MoveTimeSlot{TimeSlotID: slot1, ToIndex: 0},
		ChangeTimeSlotDuration{TimeSlotID: slot0, Minutes: 5},
		MoveTopicToParkingArea{TopicID: "T3", ToIndex: 1},
		AddTrack{},
		RemoveTimeSlot{TimeSlotID: slot0},
		RemoveTrack{TrackID: trackB},
	}
	for _, cmd := range commands {
		g = apply(t, s, g, cmd)
		if got := sortedTopics(g); !slices.Equal(got, want) {
			t.Fatalf("after %s topics are %v, want %v", cmd.Type(), got, want)
		}
	}
}
