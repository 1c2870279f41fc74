package race

import (
	"errors"
	"fmt"
)

// Kind classifies request failures for callers.
type Kind string

const (
	KindNotFound Kind = "not_found"
	KindConflict Kind = "conflict"
	KindStale    Kind = "stale_state"
	KindInvalid  Kind = "invalid_argument"
	KindInfra    Kind = "transient_infra"
)

var (
	ErrRoomNotFound     = errf("room not found")
	ErrExerciseNotFound = errf("exercise not found")
	ErrRoomExpired      = errf("room expired")
	ErrRoomFull         = errf("room is full")
	ErrAlreadyStarted   = errf("contest already started")
	ErrNotParticipant   = errf("user is not a participant of this room")
	ErrNotInProgress    = errf("contest is not in progress")
	ErrInvalidCapacity  = errf("invalid capacity")
	ErrInvalidProgress  = errf("invalid progress values")
	ErrInvalidFinish    = errf("invalid finish values")
	ErrInvalidPlayer    = errf("invalid player identity")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Error carries the contest a failure belongs to so callers can format it.
type Error struct {
	Kind      Kind
	ContestID int64
	Err       error
}

func (e *Error) Error() string {
	if e.ContestID == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("contest %d: %v", e.ContestID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, contestID int64, err error) *Error {
	return &Error{Kind: kind, ContestID: contestID, Err: err}
}

func infraErr(contestID int64, op string, err error) *Error {
	return newErr(KindInfra, contestID, fmt.Errorf("%s: %w", op, err))
}

// KindOf returns the kind of err, KindInfra for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfra
}

// ContestOf returns the contest id carried by err, or 0.
func ContestOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.ContestID
	}
	return 0
}
