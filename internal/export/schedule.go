package export

import (
	"strings"
	"time"

	"barcamp/api/internal/model"
)

// Schedule is the grid flattened into printable rows.
type Schedule struct {
	Title      string
	Day        time.Time
	Tracks     []model.Track
	Rows       []Row
	ParkingLot []Cell
}

// Row is one time slot. Common events span every track and carry no cells.
type Row struct {
	Start   time.Time
	End     time.Time
	Common  bool
	Icon    string
	Summary string
	Cells   []Cell
}

type Cell struct {
	Title   string
	Authors string
	Pinned  bool
}

func (c Cell) Empty() bool { return c.Title == "" }

// TopicLookup resolves shared topics by id.
type TopicLookup interface {
	Shared(topicID string) (model.Topic, bool)
}

// BuildSchedule lays out g row by row in track order. Sessions whose topic
// can no longer be resolved render as empty cells.
func BuildSchedule(g model.SessionGrid, topics TopicLookup, req Request) Schedule {
	s := Schedule{
		Title:  strings.TrimSpace(req.Title),
		Day:    g.GridStartTime,
		Tracks: g.Tracks,
		Rows:   make([]Row, 0, len(g.TimeSlots)),
	}
	if s.Title == "" {
		s.Title = "Barcamp schedule"
	}

	for _, slot := range g.TimeSlots {
		row := Row{Start: slot.StartTime, End: slot.EndTime, Icon: slot.Icon, Summary: slot.Summary}
		if slot.Kind == model.KindCommonEvent {
			row.Common = true
			s.Rows = append(s.Rows, row)
			continue
		}
		row.Cells = make([]Cell, len(g.Tracks))
		for i, track := range g.Tracks {
			if ses, ok := g.SessionAt(track.ID, slot.ID); ok {
				row.Cells[i] = cellFor(topics, ses.TopicID)
			}
		}
		s.Rows = append(s.Rows, row)
	}

	if req.IncludeParkingLot {
		for _, entry := range g.ParkingLot {
			if cell := cellFor(topics, entry.TopicID); !cell.Empty() {
				s.ParkingLot = append(s.ParkingLot, cell)
			}
		}
	}
	return s
}

func cellFor(topics TopicLookup, topicID string) Cell {
	t, ok := topics.Shared(topicID)
	if !ok {
		return Cell{}
	}
	return Cell{Title: t.Title, Authors: strings.Join(t.AuthorIDs, ", "), Pinned: t.Pinned}
}
