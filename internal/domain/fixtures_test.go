package domain

import (
	"time"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const leaveRequest = "leave_request"

// staticResolver resolves roles from a fixed table and applies user delegations.
type staticResolver struct {
	users       map[RoleLevel][]string
	delegations []Delegation
}

func (r *staticResolver) ResolveApprovers(role RoleLevel, entityType string, asOf time.Time) ([]Approver, error) {
	var out []Approver
	for _, u := range r.users[role] {
		res := ResolveDelegate(r.delegations, u, entityType, asOf)
		out = append(out, Approver{NominalID: u, ActorID: res.EffectiveID, Delegated: res.Delegated(), Overlap: res.Overlap})
	}
	return out, nil
}

func newResolver() *staticResolver {
	return &staticResolver{users: map[RoleLevel][]string{
		RoleEmployee: {"erin"},
		RoleHR:       {"hannah", "harry", "hugo"},
		RoleManager:  {"mike"},
		RoleAdmin:    {"ada"},
	}}
}

func roleRef(r RoleLevel) *RoleLevel { return &r }

func intRef(v int) *int { return &v }

func step(role RoleLevel, mode StepMode, limit int) Step {
	s := NewStep(role)
	s.Mode = mode
	s.SLA.TimeLimitMinutes = limit
	return s
}

func activeDefinition(steps ...Step) *WorkflowDefinition {
	def := &WorkflowDefinition{
		ID:            "wf-1",
		Tenant:        "acme",
		WorkflowName:  "Leave approval",
		AppliesTo:     leaveRequest,
		RequesterRole: RoleEmployee,
		Status:        DefinitionActive,
		VersionMajor:  1,
		Version:       1,
		Steps:         steps,
	}
	def.Normalize()
	return def
}

func startInstance(e *Engine, def *WorkflowDefinition, r ApproverResolver) (*ApprovalInstance, error) {
	inst, _, err := e.Start(def, NewInstanceParams{
		ID:          "inst-1",
		Tenant:      "acme",
		EntityType:  leaveRequest,
		EntityID:    "leave-42",
		RequesterID: "erin",
	}, r, t0)
	return inst, err
}

func act(action InstanceAction, actor string, at time.Time) ActionRequest {
	return ActionRequest{Action: action, ActorID: actor, At: at}
}
