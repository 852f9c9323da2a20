package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func sampleGrid() SessionGrid {
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	return SessionGrid{
		Tracks: []Track{{ID: "t1", Name: "Track 1", Icon: "cat"}, {ID: "t2", Name: "Track 2", Icon: "dog"}},
		TimeSlots: []TimeSlot{
			{ID: "s1", Kind: KindSessions, StartTime: start, EndTime: start.Add(time.Hour), DurationMinutes: 60},
			{ID: "s2", Kind: KindCommonEvent, StartTime: start.Add(time.Hour), EndTime: start.Add(90 * time.Minute), DurationMinutes: 30, Summary: "Break", Icon: "coffee"},
		},
		Sessions:      []Session{{TopicID: "a", TrackID: "t1", TimeSlotID: "s1"}},
		ParkingLot:    []ParkingLotEntry{{TopicID: "b"}},
		GridStartTime: start,
		Revision:      3,
	}
}

func TestErrorKindsMatch(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound(CodeTrackNotFound, "track %s not found", "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound to match %v", err)
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) {
		t.Fatalf("kinds must not cross-match")
	}
	if CodeOf(err) != CodeTrackNotFound || KindOf(err) != KindNotFound {
		t.Fatalf("unexpected code %q kind %q", CodeOf(err), KindOf(err))
	}
	if !errors.Is(err, &Error{Kind: KindNotFound, Code: CodeTrackNotFound}) {
		t.Fatalf("expected code-specific match")
	}
	if errors.Is(err, &Error{Kind: KindNotFound, Code: CodeTopicNotFound}) {
		t.Fatalf("different code must not match")
	}
}

func TestValidateAcceptsWellFormedGrid(t *testing.T) {
	if err := sampleGrid().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SessionGrid)
	}{
		{name: "gap in timeline", mutate: func(g *SessionGrid) {
			g.TimeSlots[1].StartTime = g.TimeSlots[1].StartTime.Add(time.Minute)
			g.TimeSlots[1].EndTime = g.TimeSlots[1].EndTime.Add(time.Minute)
		}},
		{name: "session in common event", mutate: func(g *SessionGrid) {
			g.Sessions = append(g.Sessions, Session{TopicID: "c", TrackID: "t2", TimeSlotID: "s2"})
		}},
		{name: "two sessions in one cell", mutate: func(g *SessionGrid) {
			g.Sessions = append(g.Sessions, Session{TopicID: "c", TrackID: "t1", TimeSlotID: "s1"})
		}},
		{name: "topic placed twice", mutate: func(g *SessionGrid) {
			g.ParkingLot = append(g.ParkingLot, ParkingLotEntry{TopicID: "a"})
		}},
		{name: "unknown track", mutate: func(g *SessionGrid) {
			g.Sessions[0].TrackID = "missing"
		}},
		{name: "first slot off grid start", mutate: func(g *SessionGrid) {
			g.GridStartTime = g.GridStartTime.Add(-time.Hour)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := sampleGrid().Clone()
			tt.mutate(&g)
			if err := g.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := sampleGrid()
	c := g.Clone()
	c.Tracks[0].Name = "changed"
	c.ParkingLot = append(c.ParkingLot, ParkingLotEntry{TopicID: "z"})
	if g.Tracks[0].Name != "Track 1" || len(g.ParkingLot) != 1 {
		t.Fatalf("clone shares storage with original")
	}
}

func TestTopicIDsOrder(t *testing.T) {
	g := sampleGrid()
	got := g.TopicIDs()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected topic ids %v", got)
	}
}

func TestFingerprintIgnoresRevisionAndZone(t *testing.T) {
	a := sampleGrid()
	b := sampleGrid()
	b.Revision = 42
	berlin := time.FixedZone("CEST", 2*60*60)
	b.GridStartTime = b.GridStartTime.In(berlin)
	for i := range b.TimeSlots {
		b.TimeSlots[i].StartTime = b.TimeSlots[i].StartTime.In(berlin)
	}
	if !SameContent(a, b) {
		t.Fatalf("expected equal fingerprints")
	}

	b.ParkingLot = nil
	if SameContent(a, b) {
		t.Fatalf("expected different fingerprints after content change")
	}
}

func TestFingerprintTreatsNilAsEmpty(t *testing.T) {
	a := SessionGrid{}
	b := SessionGrid{Tracks: []Track{}, Sessions: []Session{}}
	if !SameContent(a, b) {
		t.Fatalf("nil and empty lists should hash equally")
	}
}
