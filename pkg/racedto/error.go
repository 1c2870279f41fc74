package racedto

// DomainError is the wire form of a request failure.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ContestID int64  `json:"contestId,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "race service error"
}
