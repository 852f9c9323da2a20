package grid

import (
	"encoding/json"
	"fmt"
	"time"

	"barcamp/api/internal/model"
	"barcamp/api/internal/reorder"
)

type CommandType string

const (
	CmdAddTrack               CommandType = "addTrack"
	CmdRemoveTrack            CommandType = "removeTrack"
	CmdRenameTrack            CommandType = "renameTrack"
	CmdChangeTrackIcon        CommandType = "changeTrackIcon"
	CmdAddTimeSlot            CommandType = "addTimeSlot"
	CmdRemoveTimeSlot         CommandType = "removeTimeSlot"
	CmdChangeTimeSlotDuration CommandType = "changeTimeSlotDuration"
	CmdMoveTimeSlot           CommandType = "moveTimeSlot"
	CmdUpdateCommonEvent      CommandType = "updateCommonEvent"
	CmdChangeGridStartTime    CommandType = "changeGridStartTime"
	CmdMoveTopicToParkingArea CommandType = "moveTopicToParkingArea"
	CmdMoveTopicToSession     CommandType = "moveTopicToSession"
	CmdDropTopic              CommandType = "dropTopic"
	CmdPinTopic               CommandType = "pinTopic"
	CmdUnpinTopic             CommandType = "unpinTopic"
	CmdConsumeSubmission      CommandType = "consumeSubmission"
	CmdRemoveTopic            CommandType = "removeTopic"
)

// Command is a grid mutation. Commands are plain values so they can be
// replayed against a newer snapshot after a revision conflict.
type Command interface {
	Type() CommandType
}

type AddTrack struct {
	Name string `json:"name,omitempty"`
	Icon string `json:"icon,omitempty"`
}

type RemoveTrack struct {
	TrackID string `json:"trackId"`
}

type RenameTrack struct {
	TrackID string `json:"trackId"`
	Name    string `json:"name"`
}

type ChangeTrackIcon struct {
	TrackID string `json:"trackId"`
	Icon    string `json:"icon"`
}

// AddTimeSlot inserts a slot at Index, or appends when Index is nil.
type AddTimeSlot struct {
	Kind            model.TimeSlotKind `json:"kind"`
	Index           *int               `json:"index,omitempty"`
	DurationMinutes int                `json:"durationMinutes,omitempty"`
}

type RemoveTimeSlot struct {
	TimeSlotID string `json:"timeSlotId"`
}

type ChangeTimeSlotDuration struct {
	TimeSlotID string `json:"timeSlotId"`
	Minutes    int    `json:"minutes"`
}

type MoveTimeSlot struct {
	TimeSlotID string `json:"timeSlotId"`
	ToIndex    int    `json:"toIndex"`
}

type UpdateCommonEvent struct {
	TimeSlotID string `json:"timeSlotId"`
	Summary    string `json:"summary"`
	Icon       string `json:"icon,omitempty"`
}

type ChangeGridStartTime struct {
	StartTime time.Time `json:"startTime"`
}

type MoveTopicToParkingArea struct {
	TopicID string `json:"topicId"`
	ToIndex int    `json:"toIndex"`
}

type MoveTopicToSession struct {
	TopicID    string `json:"topicId"`
	TimeSlotID string `json:"timeSlotId"`
	TrackID    string `json:"trackId"`
}

// DropTopic moves a topic to an encoded drop location. Index only applies
// to the parking lot.
type DropTopic struct {
	TopicID string           `json:"topicId"`
	Target  reorder.Location `json:"target"`
	Index   int              `json:"index,omitempty"`
}

type PinTopic struct {
	TopicID string `json:"topicId"`
}

type UnpinTopic struct {
	TopicID string `json:"topicId"`
}

type ConsumeSubmission struct {
	SubmissionID string `json:"submissionId"`
	TopicID      string `json:"topicId"`
}

type RemoveTopic struct {
	TopicID string `json:"topicId"`
}

func (AddTrack) Type() CommandType               { return CmdAddTrack }
func (RemoveTrack) Type() CommandType            { return CmdRemoveTrack }
func (RenameTrack) Type() CommandType            { return CmdRenameTrack }
func (ChangeTrackIcon) Type() CommandType        { return CmdChangeTrackIcon }
func (AddTimeSlot) Type() CommandType            { return CmdAddTimeSlot }
func (RemoveTimeSlot) Type() CommandType         { return CmdRemoveTimeSlot }
func (ChangeTimeSlotDuration) Type() CommandType { return CmdChangeTimeSlotDuration }
func (MoveTimeSlot) Type() CommandType           { return CmdMoveTimeSlot }
func (UpdateCommonEvent) Type() CommandType      { return CmdUpdateCommonEvent }
func (ChangeGridStartTime) Type() CommandType    { return CmdChangeGridStartTime }
func (MoveTopicToParkingArea) Type() CommandType { return CmdMoveTopicToParkingArea }
func (MoveTopicToSession) Type() CommandType     { return CmdMoveTopicToSession }
func (DropTopic) Type() CommandType              { return CmdDropTopic }
func (PinTopic) Type() CommandType               { return CmdPinTopic }
func (UnpinTopic) Type() CommandType             { return CmdUnpinTopic }
func (ConsumeSubmission) Type() CommandType      { return CmdConsumeSubmission }
func (RemoveTopic) Type() CommandType            { return CmdRemoveTopic }

// DecodeCommand reads a command from its JSON envelope {"type": ..., ...}.
func DecodeCommand(data []byte) (Command, error) {
	var head struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	var cmd Command
	switch head.Type {
	case CmdAddTrack:
		cmd = decodeInto[AddTrack](data)
	case CmdRemoveTrack:
		cmd = decodeInto[RemoveTrack](data)
	case CmdRenameTrack:
		cmd = decodeInto[RenameTrack](data)
	case CmdChangeTrackIcon:
		cmd = decodeInto[ChangeTrackIcon](data)
	case CmdAddTimeSlot:
		cmd = decodeInto[AddTimeSlot](data)
	case CmdRemoveTimeSlot:
		cmd = decodeInto[RemoveTimeSlot](data)
	case CmdChangeTimeSlotDuration:
		cmd = decodeInto[ChangeTimeSlotDuration](data)
	case CmdMoveTimeSlot:
		cmd = decodeInto[MoveTimeSlot](data)
	case CmdUpdateCommonEvent:
		cmd = decodeInto[UpdateCommonEvent](data)
	case CmdChangeGridStartTime:
		cmd = decodeInto[ChangeGridStartTime](data)
	case CmdMoveTopicToParkingArea:
		cmd = decodeInto[MoveTopicToParkingArea](data)
	case CmdMoveTopicToSession:
		cmd = decodeInto[MoveTopicToSession](data)
	case CmdDropTopic:
		cmd = decodeInto[DropTopic](data)
	case CmdPinTopic:
		cmd = decodeInto[PinTopic](data)
	case CmdUnpinTopic:
		cmd = decodeInto[UnpinTopic](data)
	case CmdConsumeSubmission:
		cmd = decodeInto[ConsumeSubmission](data)
	case CmdRemoveTopic:
		cmd = decodeInto[RemoveTopic](data)
	default:
		return nil, model.Validation(model.CodeUnknownCommand, "unknown command %q", head.Type)
	}
	if failed, ok := cmd.(decodeFailure); ok {
		return nil, model.Validation(model.CodeUnknownCommand, "decode %s: %v", head.Type, failed.err)
	}
	return cmd, nil
}

type decodeFailure struct{ err error }

func (decodeFailure) Type() CommandType { return "" }

func decodeInto[T Command](data []byte) Command {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return decodeFailure{err: err}
	}
	return v
}
