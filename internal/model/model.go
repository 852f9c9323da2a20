// Package model holds the shared barcamp data types: the session grid
// aggregate, topics and topic submissions.
package model

import (
	"slices"
	"time"
)

type TimeSlotKind string

const (
	KindSessions    TimeSlotKind = "sessions"
	KindCommonEvent TimeSlotKind = "common-event"
)

func (k TimeSlotKind) Valid() bool {
	return k == KindSessions || k == KindCommonEvent
}

type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// TimeSlot is a row of the grid. StartTime and EndTime are derived from the
// grid start time and the durations of all preceding slots.
type TimeSlot struct {
	ID              string       `json:"id"`
	Kind            TimeSlotKind `json:"type"`
	StartTime       time.Time    `json:"startTime"`
	EndTime         time.Time    `json:"endTime"`
	DurationMinutes int          `json:"durationMinutes"`
	Icon            string       `json:"icon,omitempty"`
	Summary         string       `json:"summary,omitempty"`
}

func (s TimeSlot) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Session struct {
	TopicID    string `json:"topicId"`
	TrackID    string `json:"trackId"`
	TimeSlotID string `json:"timeSlotId"`
}

type ParkingLotEntry struct {
	TopicID string `json:"topicId"`
}

type Topic struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AuthorIDs   []string `json:"authors"`
	Pinned      bool     `json:"pinned"`
	Submitted   bool     `json:"submitted"`
	Deleted     bool     `json:"deleted,omitempty"`
}

func (t Topic) HasAuthor(userID string) bool {
	return slices.Contains(t.AuthorIDs, userID)
}

// TopicSubmission is an immutable entry of the submission queue.
type TopicSubmission struct {
	ID          string    `json:"id"`
	TopicID     string    `json:"topicId"`
	AuthorID    string    `json:"authorId"`
	SubmittedAt time.Time `json:"submittedAt"`
	Seq         int64     `json:"seq"`
}

// SessionGrid is the replicated aggregate. Values are treated as immutable:
// every mutation produces a new grid via Clone.
type SessionGrid struct {
	Tracks                []Track           `json:"tracks"`
	TimeSlots             []TimeSlot        `json:"timeSlots"`
	Sessions              []Session         `json:"sessions"`
	ParkingLot            []ParkingLotEntry `json:"parkingLot"`
	ConsumedSubmissionIDs []string          `json:"consumedTopicSubmissions"`
	GridStartTime         time.Time         `json:"gridStartTime"`
	Revision              int64             `json:"revision"`
}

func (g SessionGrid) Clone() SessionGrid {
	return SessionGrid{
		Tracks:                cloneSlice(g.Tracks),
		TimeSlots:             cloneSlice(g.TimeSlots),
		Sessions:              cloneSlice(g.Sessions),
		ParkingLot:            cloneSlice(g.ParkingLot),
		ConsumedSubmissionIDs: cloneSlice(g.ConsumedSubmissionIDs),
		GridStartTime:         g.GridStartTime,
		Revision:              g.Revision,
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func (g SessionGrid) TrackIndex(id string) int {
	return slices.IndexFunc(g.Tracks, func(t Track) bool { return t.ID == id })
}

func (g SessionGrid) TimeSlotIndex(id string) int {
	return slices.IndexFunc(g.TimeSlots, func(s TimeSlot) bool { return s.ID == id })
}

func (g SessionGrid) SessionIndex(topicID string) int {
	return slices.IndexFunc(g.Sessions, func(s Session) bool { return s.TopicID == topicID })
}

func (g SessionGrid) SessionAt(trackID, timeSlotID string) (Session, bool) {
	for _, s := range g.Sessions {
		if s.TrackID == trackID && s.TimeSlotID == timeSlotID {
			return s, true
		}
	}
	return Session{}, false
}

func (g SessionGrid) ParkingLotIndex(topicID string) int {
	return slices.IndexFunc(g.ParkingLot, func(e ParkingLotEntry) bool { return e.TopicID == topicID })
}

// Contains reports whether the topic is placed anywhere in the grid.
func (g SessionGrid) Contains(topicID string) bool {
	return g.SessionIndex(topicID) >= 0 || g.ParkingLotIndex(topicID) >= 0
}

func (g SessionGrid) IsConsumed(submissionID string) bool {
	return slices.Contains(g.ConsumedSubmissionIDs, submissionID)
}

// TopicIDs lists every topic in the grid, sessions first in timeline order,
// then the parking lot.
func (g SessionGrid) TopicIDs() []string {
	ids := make([]string, 0, len(g.Sessions)+len(g.ParkingLot))
	for _, slot := range g.TimeSlots {
		for _, track := range g.Tracks {
			if s, ok := g.SessionAt(track.ID, slot.ID); ok {
				ids = append(ids, s.TopicID)
			}
		}
	}
	for _, e := range g.ParkingLot {
		ids = append(ids, e.TopicID)
	}
	return ids
}

// EndTime is the end of the last slot, or the grid start for an empty timeline.
func (g SessionGrid) EndTime() time.Time {
	if len(g.TimeSlots) == 0 {
		return g.GridStartTime
	}
	return g.TimeSlots[len(g.TimeSlots)-1].EndTime
}
