package model

import "fmt"

// Validate checks the structural invariants of a grid: unique track and slot
// ids, contiguous timeline, sessions only in existing sessions slots and
// tracks, at most one session per cell, and every topic placed at most once.
func (g SessionGrid) Validate() error {
	tracks := make(map[string]struct{}, len(g.Tracks))
	for _, t := range g.Tracks {
		if _, dup := tracks[t.ID]; dup {
			return invalid("duplicate track %q", t.ID)
		}
		tracks[t.ID] = struct{}{}
	}

	slots := make(map[string]TimeSlotKind, len(g.TimeSlots))
	for i, s := range g.TimeSlots {
		if _, dup := slots[s.ID]; dup {
			return invalid("duplicate time slot %q", s.ID)
		}
		if !s.Kind.Valid() {
			return invalid("time slot %q has kind %q", s.ID, s.Kind)
		}
		slots[s.ID] = s.Kind
		if !s.EndTime.Equal(s.StartTime.Add(s.Duration())) {
			return invalid("time slot %q end does not match its duration", s.ID)
		}
		if i == 0 && !g.GridStartTime.IsZero() && !s.StartTime.Equal(g.GridStartTime) {
			return invalid("first time slot does not start at the grid start time")
		}
		if i > 0 && !g.TimeSlots[i-1].EndTime.Equal(s.StartTime) {
			return invalid("time slot %q does not start where %q ends", s.ID, g.TimeSlots[i-1].ID)
		}
	}

	placed := make(map[string]struct{}, len(g.Sessions)+len(g.ParkingLot))
	cells := make(map[[2]string]struct{}, len(g.Sessions))
	for _, s := range g.Sessions {
		if _, ok := tracks[s.TrackID]; !ok {
			return invalid("session %q references unknown track %q", s.TopicID, s.TrackID)
		}
		kind, ok := slots[s.TimeSlotID]
		if !ok {
			return invalid("session %q references unknown time slot %q", s.TopicID, s.TimeSlotID)
		}
		if kind != KindSessions {
			return invalid("session %q is placed in a %s slot", s.TopicID, kind)
		}
		cell := [2]string{s.TrackID, s.TimeSlotID}
		if _, dup := cells[cell]; dup {
			return invalid("cell %s/%s holds more than one session", s.TrackID, s.TimeSlotID)
		}
		cells[cell] = struct{}{}
		if _, dup := placed[s.TopicID]; dup {
			return invalid("topic %q is placed twice", s.TopicID)
		}
		placed[s.TopicID] = struct{}{}
	}
	for _, e := range g.ParkingLot {
		if _, dup := placed[e.TopicID]; dup {
			return invalid("topic %q is placed twice", e.TopicID)
		}
		placed[e.TopicID] = struct{}{}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: CodeInvalidGrid, Message: fmt.Sprintf(format, args...)}
}
