package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerSubmit   Trigger = "SUBMIT"
	TriggerAccept   Trigger = "ACCEPT"
	TriggerReject   Trigger = "REJECT"
	TriggerFail     Trigger = "FAIL"
	TriggerSucceed  Trigger = "SUCCEED"
	TriggerDeliver  Trigger = "DELIVER"
	TriggerAwait    Trigger = "AWAIT"
	TriggerDownload Trigger = "DOWNLOAD"
	TriggerReset    Trigger = "RESET"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
