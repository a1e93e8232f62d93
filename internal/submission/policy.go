package submission

import (
	"context"
	"fmt"
	"strings"

	"pubformatter/internal/workflow"
)

// Policy selects what happens once a generated document is available
type Policy string

const (
	// PolicyAuto delivers the document immediately and releases its handle
	PolicyAuto Policy = "auto"
	// PolicyButton keeps the handle until the user asks for it, any number of times
	PolicyButton Policy = "button"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyAuto, PolicyButton:
		return p, nil
	case "":
		return PolicyButton, nil
	}
	return "", fmt.Errorf("unknown download policy %q (want auto or button)", s)
}

// newMachine configures the submission lifecycle. The transition out of
// SUCCEEDED depends on the policy.
func newMachine(policy Policy) workflow.StateMachine {
	isAuto := func(context.Context) bool { return policy == PolicyAuto }
	isButton := func(context.Context) bool { return policy == PolicyButton }

	b := workflow.NewBuilder()

	b.Configure(workflow.StateIdle).
		Permit(workflow.TriggerSubmit, workflow.StateValidating)

	b.Configure(workflow.StateValidating).
		Permit(workflow.TriggerAccept, workflow.StateSubmitting).
		Permit(workflow.TriggerReject, workflow.StateInvalidInput)

	b.Configure(workflow.StateInvalidInput).
		Permit(workflow.TriggerReset, workflow.StateIdle)

	b.Configure(workflow.StateSubmitting).
		Permit(workflow.TriggerSucceed, workflow.StateSucceeded).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	b.Configure(workflow.StateFailed).
		Permit(workflow.TriggerReset, workflow.StateIdle)

	b.Configure(workflow.StateSucceeded).
		PermitIf(workflow.TriggerDeliver, workflow.StateIdle, isAuto).
		PermitIf(workflow.TriggerAwait, workflow.StateAwaitingDownload, isButton).
		Permit(workflow.TriggerReset, workflow.StateIdle)

	b.Configure(workflow.StateAwaitingDownload).
		Permit(workflow.TriggerDownload, workflow.StateAwaitingDownload).
		Permit(workflow.TriggerSubmit, workflow.StateValidating).
		Permit(workflow.TriggerReset, workflow.StateIdle)

	return b.Build(workflow.StateIdle)
}
