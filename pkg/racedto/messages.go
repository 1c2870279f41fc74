package racedto

// Client → server action types.
const (
	ActionReady    = "ready"
	ActionProgress = "progress"
	ActionFinish   = "finish"
)

// ClientMessage is one frame read from a participant socket. Only the fields
// relevant to Type are read.
type ClientMessage struct {
	Type            string  `json:"type"`
	Percent         int     `json:"percent,omitempty"`
	Speed           int     `json:"speed,omitempty"`
	Accuracy        float64 `json:"accuracy,omitempty"`
	DurationSeconds int     `json:"durationSeconds,omitempty"`
}
