package racedto

import "time"

// Join outcomes.
const (
	JoinJoined      = "JOINED"
	JoinReconnected = "RECONNECTED"
)

type CreateRoomRequest struct {
	ExerciseID int64 `json:"exerciseId"`
	Capacity   int   `json:"capacity"`
}

type CreateRoomResponse struct {
	ContestID int64  `json:"contestId"`
	Status    string `json:"status"`
}

type JoinResponse struct {
	ContestID int64  `json:"contestId"`
	Status    string `json:"status"`
}

type RoomSummary struct {
	ContestID    int64     `json:"contestId"`
	ExerciseID   int64     `json:"exerciseId"`
	Capacity     int       `json:"capacity"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RoomPage struct {
	Items []RoomSummary `json:"items"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
	Total int           `json:"total"`
}

type Participant struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
}

type RoomDetail struct {
	ContestID    int64         `json:"contestId"`
	Status       string        `json:"status"`
	Capacity     int           `json:"capacity"`
	ExerciseID   int64         `json:"exerciseId"`
	Language     string        `json:"language,omitempty"`
	Text         string        `json:"text,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}
