package grid

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"barcamp/api/internal/model"
	"barcamp/api/internal/schedule"
	"barcamp/api/internal/util"
)

// Template describes the initial layout of a grid.
//
//	start: "10:00"
//	tracks:
//	  - name: Main hall
//	    icon: star
//	timeSlots:
//	  - type: sessions
//	    duration: 60
//	  - type: common-event
//	    duration: 30
//	    summary: Lunch
//	    icon: pizza-slice
type Template struct {
	Start     string          `yaml:"start" json:"start"`
	Tracks    []TemplateTrack `yaml:"tracks" json:"tracks"`
	TimeSlots []TemplateSlot  `yaml:"timeSlots" json:"timeSlots"`
}

type TemplateTrack struct {
	Name string `yaml:"name" json:"name"`
	Icon string `yaml:"icon" json:"icon"`
}

type TemplateSlot struct {
	Kind     model.TimeSlotKind `yaml:"type" json:"type"`
	Duration int                `yaml:"duration" json:"duration"`
	Summary  string             `yaml:"summary" json:"summary"`
	Icon     string             `yaml:"icon" json:"icon"`
}

const defaultStartClock = "10:00"

// DefaultTemplate is one track and one hour of sessions starting at 10:00.
func DefaultTemplate() Template {
	return Template{
		Start:     defaultStartClock,
		Tracks:    []TemplateTrack{{}},
		TimeSlots: []TemplateSlot{{Kind: model.KindSessions, Duration: schedule.DefaultDurationMinutes}},
	}
}

// LoadTemplate reads a YAML (.yaml, .yml) or JSON (.json, .jsonc) template.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read grid template: %w", err)
	}
	return ParseTemplate(data, filepath.Ext(path))
}

func ParseTemplate(data []byte, ext string) (Template, error) {
	var tmpl Template
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return Template{}, fmt.Errorf("parse yaml grid template: %w", err)
		}
	case "json", "jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &tmpl); err != nil {
			return Template{}, fmt.Errorf("parse json grid template: %w", err)
		}
	default:
		return Template{}, fmt.Errorf("unsupported grid template format %q", ext)
	}
	return tmpl, tmpl.validate()
}

func (t Template) validate() error {
	if len(t.Tracks) == 0 {
		return model.Validation(model.CodeInvalidGrid, "template needs at least one track")
	}
	if len(t.TimeSlots) == 0 {
		return model.Validation(model.CodeInvalidGrid, "template needs at least one time slot")
	}
	for i, s := range t.TimeSlots {
		if !s.Kind.Valid() {
			return model.Validation(model.CodeInvalidSlotKind, "template slot %d has kind %q", i, s.Kind)
		}
		if s.Duration < 0 || s.Duration > schedule.MaxDurationMinutes {
			return model.Validation(model.CodeDurationOutOfRange, "template slot %d duration %d out of range", i, s.Duration)
		}
	}
	if _, err := t.clock(); err != nil {
		return err
	}
	return nil
}

func (t Template) clock() (time.Duration, error) {
	value := t.Start
	if value == "" {
		value = defaultStartClock
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, model.Validation(model.CodeInvalidGrid, "template start %q is not HH:MM", value)
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// StartOn returns the template's start clock on the calendar day of day.
func (t Template) StartOn(day time.Time) (time.Time, error) {
	offset, err := t.clock()
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(offset), nil
}

// Setup builds a fresh grid from a template on the given day.
func (s *Store) Setup(day time.Time, tmpl Template) (model.SessionGrid, error) {
	if err := tmpl.validate(); err != nil {
		return model.SessionGrid{}, err
	}
	start, err := tmpl.StartOn(day)
	if err != nil {
		return model.SessionGrid{}, err
	}
	g := model.SessionGrid{
		Tracks:                []model.Track{},
		TimeSlots:             []model.TimeSlot{},
		Sessions:              []model.Session{},
		ParkingLot:            []model.ParkingLotEntry{},
		ConsumedSubmissionIDs: []string{},
		GridStartTime:         start,
	}
	for _, tr := range tmpl.Tracks {
		if g, err = s.AddTrack(g, tr.Name, tr.Icon); err != nil {
			return model.SessionGrid{}, err
		}
	}
	for _, ts := range tmpl.TimeSlots {
		minutes := ts.Duration
		if minutes == 0 {
			minutes = schedule.DefaultDurationMinutes
		}
		slot := model.TimeSlot{ID: s.newID("slot"), Kind: ts.Kind, DurationMinutes: minutes}
		if ts.Kind == model.KindCommonEvent {
			slot.Summary = util.FirstNonBlank(ts.Summary, DefaultCommonEventSummary)
			slot.Icon = util.FirstNonBlank(ts.Icon, DefaultCommonEventIcon)
		}
		g.TimeSlots = schedule.InsertSlot(start, g.TimeSlots, slot, len(g.TimeSlots))
	}
	return g, g.Validate()
}

