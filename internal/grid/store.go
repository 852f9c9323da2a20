// Package grid implements the session grid state transitions. Store.Apply is
// a pure reducer: it takes a snapshot and a command and returns the next
// snapshot or a domain error, never touching the input.
package grid

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/reorder"
	"barcamp/api/internal/schedule"
	"barcamp/api/internal/util"
)

// CollisionPolicy decides what happens when a topic is dropped on an
// occupied session cell.
type CollisionPolicy string

const (
	// CollisionEvict moves the occupant to the end of the parking lot.
	CollisionEvict CollisionPolicy = "evict"
	// CollisionReject refuses the move with a conflict error.
	CollisionReject CollisionPolicy = "reject"
)

func ParseCollisionPolicy(value string) (CollisionPolicy, error) {
	switch CollisionPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case CollisionEvict, "":
		return CollisionEvict, nil
	case CollisionReject:
		return CollisionReject, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q", value)
	}
}

// PinSet reports the pin state of topics. Pinned sessions are never moved by
// an automatic cascade.
type PinSet interface {
	IsPinned(topicID string) bool
}

type PinMap map[string]bool

func (m PinMap) IsPinned(topicID string) bool { return m[topicID] }

type PinFunc func(topicID string) bool

func (f PinFunc) IsPinned(topicID string) bool { return f != nil && f(topicID) }

type Option func(*Store)

func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(s *Store) { s.collision = p }
}

func WithPins(p PinSet) Option {
	return func(s *Store) { s.pins = p }
}

func WithIDGenerator(fn func(prefix string) string) Option {
	return func(s *Store) { s.newID = fn }
}

func WithIconPicker(fn func() string) Option {
	return func(s *Store) { s.pickIcon = fn }
}

type Store struct {
	collision CollisionPolicy
	pins      PinSet
	newID     func(prefix string) string
	pickIcon  func() string
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		collision: CollisionEvict,
		pins:      PinMap(nil),
		newID:     util.NewID,
		pickIcon:  RandomIcon,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CollisionPolicy() CollisionPolicy { return s.collision }

// Apply runs cmd against g. The result always satisfies SessionGrid.Validate.
func (s *Store) Apply(g model.SessionGrid, cmd Command) (model.SessionGrid, error) {
	var (
		next model.SessionGrid
		err  error
	)
	switch c := cmd.(type) {
	case AddTrack:
		next, err = s.AddTrack(g, c.Name, c.Icon)
	case RemoveTrack:
		next, err = s.RemoveTrack(g, c.TrackID)
	case RenameTrack:
		next, err = s.RenameTrack(g, c.TrackID, c.Name)
	case ChangeTrackIcon:
		next, err = s.ChangeTrackIcon(g, c.TrackID, c.Icon)
	case AddTimeSlot:
		index := len(g.TimeSlots)
		if c.Index != nil {
			index = *c.Index
		}
		next, err = s.AddTimeSlot(g, c.Kind, index, c.DurationMinutes)
	case RemoveTimeSlot:
		next, err = s.RemoveTimeSlot(g, c.TimeSlotID)
	case ChangeTimeSlotDuration:
		next, err = s.ChangeTimeSlotDuration(g, c.TimeSlotID, c.Minutes)
	case MoveTimeSlot:
		next, err = s.MoveTimeSlot(g, c.TimeSlotID, c.ToIndex)
	case UpdateCommonEvent:
		next, err = s.UpdateCommonEvent(g, c.TimeSlotID, c.Summary, c.Icon)
	case ChangeGridStartTime:
		next, err = s.ChangeGridStartTime(g, c.StartTime)
	case MoveTopicToParkingArea:
		next, err = s.MoveTopicToParkingArea(g, c.TopicID, c.ToIndex)
	case MoveTopicToSession:
		next, err = s.MoveTopicToSession(g, c.TopicID, c.TimeSlotID, c.TrackID)
	case DropTopic:
		next, err = s.DropTopic(g, c.TopicID, c.Target, c.Index)
	case PinTopic:
		next, err = s.PinTopic(g, c.TopicID)
	case UnpinTopic:
		next, err = s.UnpinTopic(g, c.TopicID)
	case ConsumeSubmission:
		next, err = s.ConsumeSubmission(g, c.SubmissionID, c.TopicID)
	case RemoveTopic:
		next, err = s.RemoveTopic(g, c.TopicID)
	default:
		return model.SessionGrid{}, model.Validation(model.CodeUnknownCommand, "unsupported command %T", cmd)
	}
	if err != nil {
		return model.SessionGrid{}, err
	}
	if err := next.Validate(); err != nil {
		return model.SessionGrid{}, err
	}
	return next, nil
}

func gridStart(g model.SessionGrid) time.Time {
	if !g.GridStartTime.IsZero() {
		return g.GridStartTime
	}
	if len(g.TimeSlots) > 0 {
		return g.TimeSlots[0].StartTime
	}
	return time.Time{}
}

// Tracks

func (s *Store) AddTrack(g model.SessionGrid, name, icon string) (model.SessionGrid, error) {
	next := g.Clone()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Track %d", len(g.Tracks)+1)
	}
	if icon == "" {
		icon = s.pickIcon()
	}
	next.Tracks = append(next.Tracks, model.Track{ID: s.newID("track"), Name: name, Icon: icon})
	return next, nil
}

// RemoveTrack deletes a track and parks its sessions at the end of the
// parking lot in timeline order. The last track cannot be removed.
func (s *Store) RemoveTrack(g model.SessionGrid, trackID string) (model.SessionGrid, error) {
	if g.TrackIndex(trackID) < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTrackNotFound, "track %s not found", trackID)
	}
	if len(g.Tracks) <= 1 {
		return model.SessionGrid{}, model.Validation(model.CodeLastTrack, "the last track cannot be removed")
	}
	next := g.Clone()
	next.Tracks, _, _ = reorder.Remove(next.Tracks, trackID, func(t model.Track) string { return t.ID })
	next.Sessions, next.ParkingLot = evict(g, func(ses model.Session) bool { return ses.TrackID == trackID })
	return next, nil
}

func (s *Store) RenameTrack(g model.SessionGrid, trackID, name string) (model.SessionGrid, error) {
	i := g.TrackIndex(trackID)
	if i < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTrackNotFound, "track %s not found", trackID)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.SessionGrid{}, model.Validation(model.CodeEmptyName, "track name must not be empty")
	}
	next := g.Clone()
	next.Tracks[i].Name = name
	return next, nil
}

func (s *Store) ChangeTrackIcon(g model.SessionGrid, trackID, icon string) (model.SessionGrid, error) {
	i := g.TrackIndex(trackID)
	if i < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTrackNotFound, "track %s not found", trackID)
	}
	icon = strings.TrimSpace(icon)
	if icon == "" {
		return model.SessionGrid{}, model.Validation(model.CodeEmptyIcon, "track icon must not be empty")
	}
	next := g.Clone()
	next.Tracks[i].Icon = icon
	return next, nil
}

// Time slots

func (s *Store) AddTimeSlot(g model.SessionGrid, kind model.TimeSlotKind, index, minutes int) (model.SessionGrid, error) {
	if !kind.Valid() {
		return model.SessionGrid{}, model.Validation(model.CodeInvalidSlotKind, "invalid time slot kind %q", kind)
	}
	if minutes > schedule.MaxDurationMinutes {
		return model.SessionGrid{}, model.Validation(model.CodeDurationOutOfRange, "duration must be between 0 and %d minutes", schedule.MaxDurationMinutes)
	}
	slot := model.TimeSlot{ID: s.newID("slot"), Kind: kind, DurationMinutes: minutes}
	if kind == model.KindCommonEvent {
		slot.Summary = DefaultCommonEventSummary
		slot.Icon = DefaultCommonEventIcon
	}
	next := g.Clone()
	next.GridStartTime = gridStart(g)
	next.TimeSlots = schedule.InsertSlot(next.GridStartTime, next.TimeSlots, slot, index)
	return next, nil
}

// RemoveTimeSlot deletes a slot and parks its sessions at the end of the
// parking lot in track order. Slots holding pinned sessions are refused.
func (s *Store) RemoveTimeSlot(g model.SessionGrid, slotID string) (model.SessionGrid, error) {
	if g.TimeSlotIndex(slotID) < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTimeSlotNotFound, "time slot %s not found", slotID)
	}
	if len(g.TimeSlots) <= 1 {
		return model.SessionGrid{}, model.Validation(model.CodeLastTimeSlot, "the last time slot cannot be removed")
	}
	for _, ses := range g.Sessions {
		if ses.TimeSlotID == slotID && s.pins.IsPinned(ses.TopicID) {
			return model.SessionGrid{}, model.Validation(model.CodePinnedSession, "time slot %s holds pinned topic %s", slotID, ses.TopicID)
		}
	}
	start := gridStart(g)
	slots, _, err := schedule.RemoveSlot(start, g.TimeSlots, slotID)
	if err != nil {
		return model.SessionGrid{}, slotError(err, slotID)
	}
	next := g.Clone()
	next.GridStartTime = start
	next.TimeSlots = slots
	next.Sessions, next.ParkingLot = evict(g, func(ses model.Session) bool { return ses.TimeSlotID == slotID })
	return next, nil
}

func (s *Store) ChangeTimeSlotDuration(g model.SessionGrid, slotID string, minutes int) (model.SessionGrid, error) {
	if minutes < 0 || minutes > schedule.MaxDurationMinutes {
		return model.SessionGrid{}, model.Validation(model.CodeDurationOutOfRange, "duration must be between 0 and %d minutes", schedule.MaxDurationMinutes)
	}
	start := gridStart(g)
	slots, err := schedule.ChangeDuration(start, g.TimeSlots, slotID, minutes)
	if err != nil {
		return model.SessionGrid{}, slotError(err, slotID)
	}
	next := g.Clone()
	next.GridStartTime = start
	next.TimeSlots = slots
	return next, nil
}

func (s *Store) MoveTimeSlot(g model.SessionGrid, slotID string, toIndex int) (model.SessionGrid, error) {
	start := gridStart(g)
	slots, err := schedule.MoveSlot(start, g.TimeSlots, slotID, toIndex)
	if err != nil {
		return model.SessionGrid{}, slotError(err, slotID)
	}
	next := g.Clone()
	next.GridStartTime = start
	next.TimeSlots = slots
	return next, nil
}

func (s *Store) UpdateCommonEvent(g model.SessionGrid, slotID, summary, icon string) (model.SessionGrid, error) {
	i := g.TimeSlotIndex(slotID)
	if i < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTimeSlotNotFound, "time slot %s not found", slotID)
	}
	if g.TimeSlots[i].Kind != model.KindCommonEvent {
		return model.SessionGrid{}, model.Validation(model.CodeNotCommonEvent, "time slot %s is not a common event", slotID)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return model.SessionGrid{}, model.Validation(model.CodeEmptyName, "common event summary must not be empty")
	}
	next := g.Clone()
	next.TimeSlots[i].Summary = summary
	if icon = strings.TrimSpace(icon); icon != "" {
		next.TimeSlots[i].Icon = icon
	}
	return next, nil
}

// ChangeGridStartTime moves the whole timeline to a new start.
func (s *Store) ChangeGridStartTime(g model.SessionGrid, start time.Time) (model.SessionGrid, error) {
	if start.IsZero() {
		return model.SessionGrid{}, model.Validation(model.CodeInvalidGrid, "grid start time must be set")
	}
	next := g.Clone()
	next.GridStartTime = start
	next.TimeSlots = schedule.Shift(next.TimeSlots, start)
	return next, nil
}

func slotError(err error, slotID string) error {
	if errors.Is(err, schedule.ErrSlotNotFound) {
		return model.NotFound(model.CodeTimeSlotNotFound, "time slot %s not found", slotID)
	}
	return err
}

// evict removes the sessions matched by drop and appends their topics to the
// end of the parking lot, ordered by time slot then track.
func evict(g model.SessionGrid, drop func(model.Session) bool) ([]model.Session, []model.ParkingLotEntry) {
	kept := make([]model.Session, 0, len(g.Sessions))
	evicted := map[string]model.Session{}
	for _, ses := range g.Sessions {
		if drop(ses) {
			evicted[ses.TrackID+"\x00"+ses.TimeSlotID] = ses
			continue
		}
		kept = append(kept, ses)
	}
	parking := make([]model.ParkingLotEntry, 0, len(g.ParkingLot)+len(evicted))
	parking = append(parking, g.ParkingLot...)
	if len(evicted) == 0 {
		return kept, parking
	}
	for _, slot := range g.TimeSlots {
		for _, track := range g.Tracks {
			if ses, ok := evicted[track.ID+"\x00"+slot.ID]; ok {
				parking = append(parking, model.ParkingLotEntry{TopicID: ses.TopicID})
			}
		}
	}
	return kept, parking
}

// Topics

func parkingID(e model.ParkingLotEntry) string { return e.TopicID }

func sessionID(s model.Session) string { return s.TopicID }

// MoveTopicToParkingArea places a topic at toIndex of the parking lot,
// taking it out of its session if it has one.
func (s *Store) MoveTopicToParkingArea(g model.SessionGrid, topicID string, toIndex int) (model.SessionGrid, error) {
	next := g.Clone()
	if g.ParkingLotIndex(topicID) >= 0 {
		parking, err := reorder.Move(next.ParkingLot, topicID, parkingID, toIndex)
		if err != nil {
			return model.SessionGrid{}, err
		}
		next.ParkingLot = parking
		return next, nil
	}
	if g.SessionIndex(topicID) >= 0 {
		sessions, parking, err := reorder.Transfer(next.Sessions, next.ParkingLot, topicID, sessionID,
			func(ses model.Session) model.ParkingLotEntry { return model.ParkingLotEntry{TopicID: ses.TopicID} },
			toIndex)
		if err != nil {
			return model.SessionGrid{}, err
		}
		next.Sessions, next.ParkingLot = sessions, parking
		return next, nil
	}
	return model.SessionGrid{}, model.NotFound(model.CodeTopicNotInGrid, "topic %s is not in the grid", topicID)
}

// MoveTopicToSession places a topic into a session cell. An occupant of the
// cell is handled according to the collision policy; pinned occupants are
// never displaced.
func (s *Store) MoveTopicToSession(g model.SessionGrid, topicID, slotID, trackID string) (model.SessionGrid, error) {
	slotIndex := g.TimeSlotIndex(slotID)
	if slotIndex < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTimeSlotNotFound, "time slot %s not found", slotID)
	}
	if g.TimeSlots[slotIndex].Kind != model.KindSessions {
		return model.SessionGrid{}, model.Validation(model.CodeNotSessionSlot, "time slot %s does not hold sessions", slotID)
	}
	if g.TrackIndex(trackID) < 0 {
		return model.SessionGrid{}, model.NotFound(model.CodeTrackNotFound, "track %s not found", trackID)
	}
	if !g.Contains(topicID) {
		return model.SessionGrid{}, model.NotFound(model.CodeTopicNotInGrid, "topic %s is not in the grid", topicID)
	}

	occupant, occupied := g.SessionAt(trackID, slotID)
	if occupied && occupant.TopicID == topicID {
		return g.Clone(), nil
	}
	if occupied {
		if s.pins.IsPinned(occupant.TopicID) {
			return model.SessionGrid{}, model.Validation(model.CodePinnedSession, "session is held by pinned topic %s", occupant.TopicID)
		}
		if s.collision == CollisionReject {
			return model.SessionGrid{}, model.Conflict(model.CodeCellOccupied, "session is already held by topic %s", occupant.TopicID)
		}
	}

	next := g.Clone()
	sessions := make([]model.Session, 0, len(next.Sessions)+1)
	for _, ses := range next.Sessions {
		if ses.TopicID == topicID || (occupied && ses.TopicID == occupant.TopicID) {
			continue
		}
		sessions = append(sessions, ses)
	}
	parking := make([]model.ParkingLotEntry, 0, len(next.ParkingLot)+1)
	for _, e := range next.ParkingLot {
		if e.TopicID != topicID {
			parking = append(parking, e)
		}
	}
	if occupied {
		parking = append(parking, model.ParkingLotEntry{TopicID: occupant.TopicID})
	}
	next.Sessions = append(sessions, model.Session{TopicID: topicID, TrackID: trackID, TimeSlotID: slotID})
	next.ParkingLot = parking
	return next, nil
}

// DropTopic resolves an encoded drop location into a parking lot or session
// move.
func (s *Store) DropTopic(g model.SessionGrid, topicID string, target reorder.Location, index int) (model.SessionGrid, error) {
	switch target.Kind {
	case reorder.LocationParkingLot:
		return s.MoveTopicToParkingArea(g, topicID, index)
	case reorder.LocationSession:
		return s.MoveTopicToSession(g, topicID, target.TimeSlotID, target.TrackID)
	default:
		return model.SessionGrid{}, model.Validation(model.CodeInvalidDropLocation, "topics cannot be dropped on %q", target.String())
	}
}

// PinTopic checks that the topic sits in a session. The pin flag itself lives
// on the topic document, so the grid is returned unchanged.
func (s *Store) PinTopic(g model.SessionGrid, topicID string) (model.SessionGrid, error) {
	if err := requireSession(g, topicID); err != nil {
		return model.SessionGrid{}, err
	}
	return g.Clone(), nil
}

func (s *Store) UnpinTopic(g model.SessionGrid, topicID string) (model.SessionGrid, error) {
	if err := requireSession(g, topicID); err != nil {
		return model.SessionGrid{}, err
	}
	return g.Clone(), nil
}

func requireSession(g model.SessionGrid, topicID string) error {
	if g.SessionIndex(topicID) >= 0 {
		return nil
	}
	if g.ParkingLotIndex(topicID) >= 0 {
		return model.Validation(model.CodeTopicNotInSession, "topic %s is in the parking lot", topicID)
	}
	return model.NotFound(model.CodeTopicNotInGrid, "topic %s is not in the grid", topicID)
}

// ConsumeSubmission marks a submission as consumed and appends its topic to
// the parking lot. Consuming twice is a no-op.
func (s *Store) ConsumeSubmission(g model.SessionGrid, submissionID, topicID string) (model.SessionGrid, error) {
	if strings.TrimSpace(submissionID) == "" || strings.TrimSpace(topicID) == "" {
		return model.SessionGrid{}, model.Validation(model.CodeSubmissionNotFound, "submission and topic ids are required")
	}
	next := g.Clone()
	if g.IsConsumed(submissionID) {
		return next, nil
	}
	next.ConsumedSubmissionIDs = append(next.ConsumedSubmissionIDs, submissionID)
	if !g.Contains(topicID) {
		next.ParkingLot = append(next.ParkingLot, model.ParkingLotEntry{TopicID: topicID})
	}
	return next, nil
}

// RemoveTopic drops every placement of a deleted topic.
func (s *Store) RemoveTopic(g model.SessionGrid, topicID string) (model.SessionGrid, error) {
	next := g.Clone()
	sessions := next.Sessions[:0]
	for _, ses := range next.Sessions {
		if ses.TopicID != topicID {
			sessions = append(sessions, ses)
		}
	}
	parking := next.ParkingLot[:0]
	for _, e := range next.ParkingLot {
		if e.TopicID != topicID {
			parking = append(parking, e)
		}
	}
	next.Sessions, next.ParkingLot = sessions, parking
	return next, nil
}
