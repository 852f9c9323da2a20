package model

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var fingerprintMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("model: cbor encoder: %v", err))
	}
	fingerprintMode = mode
}

// fingerprintView is the content of a grid without its revision, with times
// normalised to UTC so that equal schedules hash equally across time zones.
type fingerprintView struct {
	Tracks     []Track           `cbor:"1,keyasint"`
	TimeSlots  []fingerprintSlot `cbor:"2,keyasint"`
	Sessions   []Session         `cbor:"3,keyasint"`
	ParkingLot []ParkingLotEntry `cbor:"4,keyasint"`
	Consumed   []string          `cbor:"5,keyasint"`
	Start      int64             `cbor:"6,keyasint"`
}

type fingerprintSlot struct {
	ID       string       `cbor:"1,keyasint"`
	Kind     TimeSlotKind `cbor:"2,keyasint"`
	Start    int64        `cbor:"3,keyasint"`
	Duration int          `cbor:"4,keyasint"`
	Icon     string       `cbor:"5,keyasint,omitempty"`
	Summary  string       `cbor:"6,keyasint,omitempty"`
}

// Fingerprint returns a content hash of the grid that ignores the revision.
// Two replicas holding the same schedule produce the same fingerprint.
func Fingerprint(g SessionGrid) (string, error) {
	view := fingerprintView{
		Tracks:     cloneSlice(g.Tracks),
		TimeSlots:  []fingerprintSlot{},
		Sessions:   cloneSlice(g.Sessions),
		ParkingLot: cloneSlice(g.ParkingLot),
		Consumed:   cloneSlice(g.ConsumedSubmissionIDs),
		Start:      unixMillis(g.GridStartTime),
	}
	for _, s := range g.TimeSlots {
		view.TimeSlots = append(view.TimeSlots, fingerprintSlot{
			ID:       s.ID,
			Kind:     s.Kind,
			Start:    unixMillis(s.StartTime),
			Duration: s.DurationMinutes,
			Icon:     s.Icon,
			Summary:  s.Summary,
		})
	}
	data, err := fingerprintMode.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("encode grid: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SameContent reports whether two grids hold the same schedule.
func SameContent(a, b SessionGrid) bool {
	fa, errA := Fingerprint(a)
	fb, errB := Fingerprint(b)
	return errA == nil && errB == nil && fa == fb
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
