// Package schedule derives time slot timestamps from a grid start time and
// the ordered slot durations.
//
// Start and end times are never edited directly: every operation changes
// durations or order and then recomputes all timestamps, so slot i always
// ends where slot i+1 starts.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/reorder"
)

const (
	MaxDurationMinutes     = 24 * 60
	DefaultDurationMinutes = 60
)

var ErrSlotNotFound = errors.New("time slot not found")

func slotID(s model.TimeSlot) string { return s.ID }

// ClampDuration limits minutes to [0, MaxDurationMinutes].
func ClampDuration(minutes int) int {
	if minutes < 0 {
		return 0
	}
	if minutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return minutes
}

// Recalculate returns a copy of slots with start and end times laid out end
// to end from start.
func Recalculate(start time.Time, slots []model.TimeSlot) []model.TimeSlot {
	out := make([]model.TimeSlot, len(slots))
	cursor := start
	for i, s := range slots {
		s.StartTime = cursor
		s.EndTime = cursor.Add(s.Duration())
		cursor = s.EndTime
		out[i] = s
	}
	return out
}

// ChangeDuration sets the duration of one slot, clamped to a single day, and
// shifts every later slot.
func ChangeDuration(start time.Time, slots []model.TimeSlot, id string, minutes int) ([]model.TimeSlot, error) {
	i := reorder.IndexOf(slots, id, slotID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	out := make([]model.TimeSlot, len(slots))
	copy(out, slots)
	out[i].DurationMinutes = ClampDuration(minutes)
	return Recalculate(start, out), nil
}

// MoveSlot reorders one slot. Its duration travels with it.
func MoveSlot(start time.Time, slots []model.TimeSlot, id string, toIndex int) ([]model.TimeSlot, error) {
	moved, err := reorder.Move(slots, id, slotID, toIndex)
	if errors.Is(err, reorder.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return Recalculate(start, moved), nil
}

// DefaultDuration picks the duration of a new slot beginning at begin: the
// minutes left until the next full hour, or DefaultDurationMinutes when begin
// is already on an hour boundary.
func DefaultDuration(begin time.Time) int {
	offset := begin.Sub(begin.Truncate(time.Hour))
	if offset == 0 {
		return DefaultDurationMinutes
	}
	remaining := time.Hour - offset
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute != 0 {
		minutes++
	}
	return minutes
}

// InsertSlot places slot at index (clamped). A non-positive duration is
// replaced by DefaultDuration of the position the slot lands on.
func InsertSlot(start time.Time, slots []model.TimeSlot, slot model.TimeSlot, index int) []model.TimeSlot {
	index = reorder.Clamp(index, len(slots))
	if slot.DurationMinutes <= 0 {
		begin := start
		if index > 0 {
			laid := Recalculate(start, slots)
			begin = laid[index-1].EndTime
		}
		slot.DurationMinutes = DefaultDuration(begin)
	}
	slot.DurationMinutes = ClampDuration(slot.DurationMinutes)
	return Recalculate(start, reorder.Insert(slots, slot, index))
}

// RemoveSlot drops one slot and closes the gap it leaves.
func RemoveSlot(start time.Time, slots []model.TimeSlot, id string) ([]model.TimeSlot, model.TimeSlot, error) {
	rest, removed, err := reorder.Remove(slots, id, slotID)
	if errors.Is(err, reorder.ErrNotFound) {
		return nil, model.TimeSlot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	if err != nil {
		return nil, model.TimeSlot{}, err
	}
	return Recalculate(start, rest), removed, nil
}

// Shift moves the whole timeline so that it begins at start. Durations and
// order are kept.
func Shift(slots []model.TimeSlot, start time.Time) []model.TimeSlot {
	return Recalculate(start, slots)
}
