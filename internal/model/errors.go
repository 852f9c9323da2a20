package model

import (
	"errors"
	"fmt"
)

// Kind classifies domain errors. Callers match kinds with errors.Is against
// ErrValidation, ErrNotFound and ErrConflict.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// Code is a machine-readable reason attached to a domain error.
type Code string

const (
	// Grid errors
	CodeLastTrack           Code = "LAST_TRACK"
	CodeLastTimeSlot        Code = "LAST_TIME_SLOT"
	CodeTrackNotFound       Code = "TRACK_NOT_FOUND"
	CodeTimeSlotNotFound    Code = "TIME_SLOT_NOT_FOUND"
	CodeInvalidSlotKind     Code = "INVALID_TIME_SLOT_KIND"
	CodeNotSessionSlot      Code = "NOT_A_SESSIONS_SLOT"
	CodeNotCommonEvent      Code = "NOT_A_COMMON_EVENT"
	CodeDurationOutOfRange  Code = "DURATION_OUT_OF_RANGE"
	CodeEmptyName           Code = "EMPTY_NAME"
	CodeEmptyIcon           Code = "EMPTY_ICON"
	CodeCellOccupied        Code = "CELL_OCCUPIED"
	CodePinnedSession       Code = "PINNED_SESSION"
	CodeTopicNotInGrid      Code = "TOPIC_NOT_IN_GRID"
	CodeTopicNotInSession   Code = "TOPIC_NOT_IN_SESSION"
	CodeInvalidGrid         Code = "INVALID_GRID"
	CodeUnknownCommand      Code = "UNKNOWN_COMMAND"
	CodeGridNotInitialized  Code = "GRID_NOT_INITIALIZED"
	CodeGridExists          Code = "GRID_EXISTS"
	CodeRevisionConflict    Code = "REVISION_CONFLICT"
	CodeReplayFailed        Code = "REPLAY_FAILED"
	CodeInvalidDropLocation Code = "INVALID_DROP_LOCATION"

	// Topic errors
	CodeTopicNotFound      Code = "TOPIC_NOT_FOUND"
	CodeTitleEmpty         Code = "TITLE_EMPTY"
	CodeTitleTooLong       Code = "TITLE_TOO_LONG"
	CodeDescriptionEmpty   Code = "DESCRIPTION_EMPTY"
	CodeDescriptionTooLong Code = "DESCRIPTION_TOO_LONG"
	CodeTopicNotDraft      Code = "TOPIC_NOT_DRAFT"
	CodeNotAuthor          Code = "NOT_AUTHOR"
	CodeEmptyAuthor        Code = "EMPTY_AUTHOR"
	CodeInvalidChatCommand Code = "INVALID_CHAT_COMMAND"

	// Submission errors
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodeSubmissionNotFound  Code = "SUBMISSION_NOT_FOUND"
	CodeQueueEmpty          Code = "QUEUE_EMPTY"
	CodeSubmissionsLocked   Code = "SUBMISSIONS_LOCKED"

	CodeUnsupportedFormat Code = "UNSUPPORTED_EXPORT_FORMAT"
)

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || t.Code == e.Code)
}

func Validation(code Code, format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code Code, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Conflict(code Code, format string, args ...any) error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
