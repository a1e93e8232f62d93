package workflow

// State is a step in the lifecycle of one form submission
type State string

const (
	StateIdle             State = "IDLE"
	StateValidating       State = "VALIDATING"
	StateInvalidInput     State = "INVALID_INPUT"
	StateSubmitting       State = "SUBMITTING"
	StateFailed           State = "FAILED"
	StateSucceeded        State = "SUCCEEDED"
	StateAwaitingDownload State = "AWAITING_DOWNLOAD"
)

var validStates = map[State]bool{
	StateIdle:             true,
	StateValidating:       true,
	StateInvalidInput:     true,
	StateSubmitting:       true,
	StateFailed:           true,
	StateSucceeded:        true,
	StateAwaitingDownload: true,
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known submission state
func (s State) IsValid() bool {
	return validStates[s]
}
