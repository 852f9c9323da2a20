package reorder

import (
	"fmt"
	"strings"
)

type LocationKind string

const (
	LocationParkingLot LocationKind = "parkingLot"
	LocationTimeSlot   LocationKind = "timeSlot"
	LocationSession    LocationKind = "session"
)

// Location identifies a drop target: the parking lot, the time slot list, or
// a single session cell of the grid.
type Location struct {
	Kind       LocationKind
	TrackID    string
	TimeSlotID string
}

func ParkingLot() Location { return Location{Kind: LocationParkingLot} }

func TimeSlots() Location { return Location{Kind: LocationTimeSlot} }

func Cell(trackID, timeSlotID string) Location {
	return Location{Kind: LocationSession, TrackID: trackID, TimeSlotID: timeSlotID}
}

func (l Location) String() string {
	if l.Kind == LocationSession {
		return fmt.Sprintf("%s %s %s", l.Kind, l.TrackID, l.TimeSlotID)
	}
	return string(l.Kind)
}

// ParseLocation decodes the textual form produced by Location.String.
func ParseLocation(value string) (Location, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return Location{}, fmt.Errorf("empty location")
	}
	switch LocationKind(fields[0]) {
	case LocationParkingLot:
		if len(fields) != 1 {
			return Location{}, fmt.Errorf("invalid location %q", value)
		}
		return ParkingLot(), nil
	case LocationTimeSlot:
		if len(fields) != 1 {
			return Location{}, fmt.Errorf("invalid location %q", value)
		}
		return TimeSlots(), nil
	case LocationSession:
		if len(fields) != 3 {
			return Location{}, fmt.Errorf("invalid session location %q", value)
		}
		return Cell(fields[1], fields[2]), nil
	default:
		return Location{}, fmt.Errorf("unknown location kind %q", fields[0])
	}
}

func (l Location) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Location) UnmarshalText(data []byte) error {
	parsed, err := ParseLocation(string(data))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
