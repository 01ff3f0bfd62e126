package domain

import (
	"fmt"
)

// InstanceAction is an input that can move an approval instance.
type InstanceAction string

const (
	// ActionSubmit restarts an instance the requester got back.
	ActionSubmit   InstanceAction = "submit"
	ActionApprove  InstanceAction = "approve"
	ActionReject   InstanceAction = "reject"
	ActionSendBack InstanceAction = "sendBack"
	// ActionDelegate hands the acting approver's part of the current step to another user.
	ActionDelegate InstanceAction = "delegate"
	// ActionEscalate and ActionAutoApprove are system-originated (SLA clock).
	ActionEscalate    InstanceAction = "escalate"
	ActionAutoApprove InstanceAction = "autoApprove"
	// ActionCancel is an administrative stop outside the approval vocabulary.
	ActionCancel InstanceAction = "cancel"
)

// IsSystem reports whether the action originates from the SLA clock.
func (a InstanceAction) IsSystem() bool {
	return a == ActionEscalate || a == ActionAutoApprove
}

// InstanceStateMachine holds the table of which actions each status accepts
// and the status an action leads to by default. The engine refines the
// default (final step approval completes, a partial parallel vote keeps
// the status) but never allows a pair missing from the table.
type InstanceStateMachine struct {
	transitions map[instanceTransitionKey]InstanceStatus
}

type instanceTransitionKey struct {
	status InstanceStatus
	action InstanceAction
}

// NewInstanceStateMachine builds the instance lifecycle.
//
//	           submit (from requester)
//	              │
//	              ▼
//	 ┌──────► [pending] ◄────────────┐
//	 │          │  │  \               │
//	 │   escalate  │   autoApprove    │ approve (next step)
//	 │          ▼  │      ▼           │
//	 │  [escalated]│  [auto_approved]─┘
//	 │             │
//	 │  sendBack   ├── approve (final) ──► [completed]
//	 └─[sent_back] ├── reject ───────────► [rejected]
//	               └── cancel ───────────► [cancelled]
//
// Every non-terminal status accepts approve, reject, sendBack, delegate,
// autoApprove and cancel. Escalation happens once per step activation.
func NewInstanceStateMachine() *InstanceStateMachine {
	sm := &InstanceStateMachine{transitions: make(map[instanceTransitionKey]InstanceStatus)}

	for _, s := range []InstanceStatus{StatusPending, StatusSentBack, StatusEscalated, StatusAutoApproved} {
		sm.addTransition(s, ActionApprove, StatusPending)
		sm.addTransition(s, ActionReject, StatusRejected)
		sm.addTransition(s, ActionSendBack, StatusSentBack)
		sm.addTransition(s, ActionDelegate, s)
		sm.addTransition(s, ActionAutoApprove, StatusAutoApproved)
		sm.addTransition(s, ActionCancel, StatusCancelled)
	}
	sm.addTransition(StatusPending, ActionEscalate, StatusEscalated)
	sm.addTransition(StatusSentBack, ActionEscalate, StatusEscalated)
	sm.addTransition(StatusAutoApproved, ActionEscalate, StatusEscalated)
	sm.addTransition(StatusSentBack, ActionSubmit, StatusPending)

	return sm
}

func (sm *InstanceStateMachine) addTransition(from InstanceStatus, via InstanceAction, to InstanceStatus) {
	sm.transitions[instanceTransitionKey{status: from, action: via}] = to
}

// Transition returns the default next status, or an error wrapping
// ErrInvalidState when the status does not accept the action.
func (sm *InstanceStateMachine) Transition(current InstanceStatus, action InstanceAction) (InstanceStatus, error) {
	next, ok := sm.transitions[instanceTransitionKey{status: current, action: action}]
	if !ok {
		return current, fmt.Errorf("%w: cannot %s an instance that is %s", ErrInvalidState, action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *InstanceStateMachine) CanTransition(current InstanceStatus, action InstanceAction) bool {
	_, ok := sm.transitions[instanceTransitionKey{status: current, action: action}]
	return ok
}

var allActions = []InstanceAction{
	ActionSubmit, ActionApprove, ActionReject, ActionSendBack, ActionDelegate,
	ActionEscalate, ActionAutoApprove, ActionCancel,
}

// ValidActions returns the actions accepted in status, in a fixed order.
func (sm *InstanceStateMachine) ValidActions(status InstanceStatus) []InstanceAction {
	var result []InstanceAction
	for _, a := range allActions {
		if sm.CanTransition(status, a) {
			result = append(result, a)
		}
	}
	return result
}
