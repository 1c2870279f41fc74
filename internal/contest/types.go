package contest

import (
	"errors"
	"time"
)

// Status is the durable lifecycle stage of a contest.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusWaiting  Status = "WAITING"
	StatusProgress Status = "PROGRESS"
	StatusFinished Status = "FINISHED"
)

// Started reports whether the contest passed the countdown, after which the
// exercise text is public and capacity is frozen.
func (s Status) Started() bool { return s == StatusProgress || s == StatusFinished }

// Place is the medal a finisher receives.
type Place string

const (
	PlaceFirst        Place = "FIRST"
	PlaceSecond       Place = "SECOND"
	PlaceThird        Place = "THIRD"
	PlaceWithoutPlace Place = "WITHOUT_PLACE"
)

// PlaceForRank maps a 0-based arrival rank to a place.
func PlaceForRank(rank int64) Place {
	switch rank {
	case 0:
		return PlaceFirst
	case 1:
		return PlaceSecond
	case 2:
		return PlaceThird
	default:
		return PlaceWithoutPlace
	}
}

// Order sorts places for leaderboards; WITHOUT_PLACE sorts last.
func (p Place) Order() int {
	switch p {
	case PlaceFirst:
		return 0
	case PlaceSecond:
		return 1
	case PlaceThird:
		return 2
	default:
		return 3
	}
}

var (
	ErrDuplicateResult  = errors.New("result already recorded")
	ErrExerciseNotFound = errors.New("exercise not found")
)

type Contest struct {
	ID         int64
	Status     Status
	Amount     int
	ExerciseID int64
	CreatorID  int64
	CreatedAt  time.Time
}

type Exercise struct {
	ID       int64
	Text     string
	Language string
}

// Result is the durable outcome of one finisher.
type Result struct {
	ContestID       int64
	UserID          int64
	DurationSeconds int
	Speed           int
	Accuracy        float64
	Place           Place
	FinishedAt      time.Time
}
