package racedto

import "encoding/json"

// Server → client topics, one per event kind published for a contest.
const (
	TopicPlayerJoined   = "player-joined"
	TopicPlayerLeft     = "player-left"
	TopicPlayerReady    = "player-ready"
	TopicCountdown      = "countdown"
	TopicStart          = "start"
	TopicProgress       = "progress"
	TopicPlayerFinished = "player-finished"
	TopicFinished       = "finished"
	TopicError          = "error"
)

// Envelope is the frame written to every subscribed socket.
type Envelope struct {
	Topic     string          `json:"topic"`
	ContestID int64           `json:"contestId"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(contestID int64, topic string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Topic: topic, ContestID: contestID, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

type PlayerJoined struct {
	UserID       int64  `json:"userId"`
	Name         string `json:"name"`
	CurrentCount int    `json:"currentCount"`
	MaxCount     int    `json:"maxCount"`
}

type PlayerLeft struct {
	UserID       int64  `json:"userId"`
	Name         string `json:"name"`
	CurrentCount int    `json:"currentCount"`
}

type PlayerReady struct {
	UserID     int64 `json:"userId"`
	ReadyCount int   `json:"readyCount"`
	TotalCount int   `json:"totalCount"`
}

type Countdown struct {
	SecondsRemaining int `json:"secondsRemaining"`
}

type Start struct {
	Text                 string `json:"text"`
	Language             string `json:"language,omitempty"`
	StartTimestampMillis int64  `json:"startTimestampMillis"`
}

// Snapshot is the latest progress reading of one participant.
type Snapshot struct {
	Percent  int     `json:"percent"`
	Speed    int     `json:"speed"`
	Accuracy float64 `json:"accuracy"`
}

// ProgressBoard maps user id to its latest snapshot.
type ProgressBoard map[int64]Snapshot

type PlayerFinished struct {
	UserID          int64   `json:"userId"`
	Name            string  `json:"name"`
	Place           string  `json:"place"`
	Speed           int     `json:"speed"`
	DurationSeconds int     `json:"durationSeconds"`
	Accuracy        float64 `json:"accuracy"`
}

type LeaderboardEntry struct {
	UserID          int64   `json:"userId"`
	Name            string  `json:"name"`
	Place           string  `json:"place"`
	DurationSeconds int     `json:"durationSeconds"`
	Speed           int     `json:"speed"`
	Accuracy        float64 `json:"accuracy"`
}

type Finished struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
