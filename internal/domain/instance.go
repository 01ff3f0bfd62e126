package domain

import (
	"time"
)

// InstanceStatus is the state of an approval instance.
type InstanceStatus string

const (
	StatusPending      InstanceStatus = "pending"
	StatusSentBack     InstanceStatus = "sent_back"
	StatusEscalated    InstanceStatus = "escalated"
	StatusAutoApproved InstanceStatus = "auto_approved"
	StatusRejected     InstanceStatus = "rejected"
	StatusCompleted    InstanceStatus = "completed"
	// StatusApproved is a terminal alias of StatusCompleted kept for imported records.
	StatusApproved  InstanceStatus = "approved"
	StatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transition may happen.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSentBack, StatusEscalated, StatusAutoApproved,
		StatusRejected, StatusCompleted, StatusApproved, StatusCancelled:
		return true
	}
	return false
}

// Decision is the outcome recorded on a step execution.
type Decision string

const (
	DecisionPending      Decision = "pending"
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionEscalated    Decision = "escalated"
	DecisionAutoApproved Decision = "auto_approved"
)

// IsOpen reports whether the step still awaits a decision.
func (d Decision) IsOpen() bool {
	return d == DecisionPending || d == DecisionEscalated
}

// RequesterStepIndex is the CurrentStepIndex of an instance sent back to its requester.
const RequesterStepIndex = -1

// SystemActor is recorded as the actor of SLA-driven transitions.
const SystemActor = "system (SLA timeout)"

// Approver pairs a nominal approver with the actor allowed to act for them.
type Approver struct {
	NominalID string `json:"nominalId"`
	ActorID   string `json:"actorId"`
	Delegated bool   `json:"delegated,omitempty"`
	// Overlap is set when several delegations matched the nominal approver.
	Overlap bool `json:"overlap,omitempty"`
}

// ApproverResolver turns a nominal role into the approvers who may act for it
// on entityType at asOf, after delegation substitution.
type ApproverResolver interface {
	ResolveApprovers(role RoleLevel, entityType string, asOf time.Time) ([]Approver, error)
}

// ApproverResolverFunc adapts a function to ApproverResolver.
type ApproverResolverFunc func(role RoleLevel, entityType string, asOf time.Time) ([]Approver, error)

func (f ApproverResolverFunc) ResolveApprovers(role RoleLevel, entityType string, asOf time.Time) ([]Approver, error) {
	return f(role, entityType, asOf)
}

// Vote is one recorded action on a step.
type Vote struct {
	ApproverID string    `json:"approverId"`
	ActorID    string    `json:"actorId"`
	Decision   Decision  `json:"decision"`
	Comments   string    `json:"comments,omitempty"`
	At         time.Time `json:"at"`
}

// StepExecutionRecord tracks one step of a running instance.
type StepExecutionRecord struct {
	StepOrder        int        `json:"stepOrder"`
	AssignedRole     RoleLevel  `json:"assignedRole"`
	EffectiveActorID string     `json:"effectiveActorId,omitempty"`
	EligibleActorIDs []string   `json:"eligibleActorIds,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	DeadlineAt       *time.Time `json:"deadlineAt,omitempty"`
	DecidedAt        *time.Time `json:"decidedAt,omitempty"`
	Decision         Decision   `json:"decision"`
	Comments         string     `json:"comments,omitempty"`
	// ApprovedBy and RejectedBy hold nominal approver IDs, one per required approver.
	ApprovedBy []string `json:"approvedBy"`
	RejectedBy []string `json:"rejectedBy,omitempty"`
	ActedBy    string   `json:"actedBy,omitempty"`
	Votes      []Vote   `json:"votes,omitempty"`
	// Reassignments maps an actor to the user they handed this step to.
	Reassignments     map[string]string `json:"reassignments,omitempty"`
	EscalatedAt       *time.Time        `json:"escalatedAt,omitempty"`
	EscalatedFromRole RoleLevel         `json:"escalatedFromRole,omitempty"`
}

// reset returns the record to an untouched state for its original role.
func (r *StepExecutionRecord) reset(role RoleLevel) {
	*r = StepExecutionRecord{
		StepOrder:    r.StepOrder,
		AssignedRole: role,
		Decision:     DecisionPending,
		ApprovedBy:   []string{},
	}
}

// ApprovalInstance is one run of a workflow definition against one business entity.
// Steps is the definition snapshot taken at creation; later edits of the
// definition never reach a running instance.
type ApprovalInstance struct {
	ID                   string                `json:"id"`
	Tenant               string                `json:"tenant"`
	EntityType           string                `json:"entityType"`
	EntityID             string                `json:"entityId"`
	RequesterID          string                `json:"requesterId"`
	WorkflowDefinitionID string                `json:"workflowDefinitionId"`
	DefinitionRevision   string                `json:"definitionRevision"`
	Steps                []Step                `json:"steps"`
	CurrentStepIndex     int                   `json:"currentStepIndex"`
	Status               InstanceStatus        `json:"status"`
	PerStepState         []StepExecutionRecord `json:"perStepState"`
	Version              int                   `json:"version"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
	CompletedAt          *time.Time            `json:"completedAt,omitempty"`
}

// CurrentStep returns the active step, or nil when the instance sits with the requester.
func (i *ApprovalInstance) CurrentStep() *Step {
	if i.CurrentStepIndex < 0 || i.CurrentStepIndex >= len(i.Steps) {
		return nil
	}
	return &i.Steps[i.CurrentStepIndex]
}

// CurrentRecord returns the execution record of the active step, or nil.
func (i *ApprovalInstance) CurrentRecord() *StepExecutionRecord {
	if i.CurrentStepIndex < 0 || i.CurrentStepIndex >= len(i.PerStepState) {
		return nil
	}
	return &i.PerStepState[i.CurrentStepIndex]
}

// Clone returns a deep copy so callers can roll back a failed transition.
func (i *ApprovalInstance) Clone() *ApprovalInstance {
	c := *i
	c.Steps = CloneSteps(i.Steps)
	c.PerStepState = make([]StepExecutionRecord, len(i.PerStepState))
	for k, r := range i.PerStepState {
		rc := r
		rc.EligibleActorIDs = append([]string(nil), r.EligibleActorIDs...)
		rc.ApprovedBy = append([]string{}, r.ApprovedBy...)
		rc.RejectedBy = append([]string(nil), r.RejectedBy...)
		rc.Votes = append([]Vote(nil), r.Votes...)
		if r.Reassignments != nil {
			rc.Reassignments = make(map[string]string, len(r.Reassignments))
			for a, b := range r.Reassignments {
				rc.Reassignments[a] = b
			}
		}
		rc.StartedAt = copyTime(r.StartedAt)
		rc.DeadlineAt = copyTime(r.DeadlineAt)
		rc.DecidedAt = copyTime(r.DecidedAt)
		rc.EscalatedAt = copyTime(r.EscalatedAt)
		c.PerStepState[k] = rc
	}
	c.CompletedAt = copyTime(i.CompletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
