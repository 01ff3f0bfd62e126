package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParallelRejectPolicy decides when rejections fail a parallel step.
type ParallelRejectPolicy string

const (
	// RejectFailFast fails the step on the first rejection.
	RejectFailFast ParallelRejectPolicy = "fail_fast"
	// RejectMajority fails the step once a strict majority of approvers rejected.
	RejectMajority ParallelRejectPolicy = "majority"
)

// ParseRejectPolicy maps a configuration value to a policy; empty means fail-fast.
func ParseRejectPolicy(s string) (ParallelRejectPolicy, error) {
	switch ParallelRejectPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RejectFailFast:
		return RejectFailFast, nil
	case RejectMajority:
		return RejectMajority, nil
	}
	return "", fmt.Errorf("%w: unknown parallel reject policy %q", ErrInvalidInput, s)
}

// Outcome describes what an applied action did.
type Outcome string

const (
	OutcomeStarted         Outcome = "started"
	OutcomeStepApproved    Outcome = "step_approved"
	OutcomeVoteRecorded    Outcome = "vote_recorded"
	OutcomeCompleted       Outcome = "completed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeSentBack        Outcome = "sent_back"
	OutcomeResubmitted     Outcome = "resubmitted"
	OutcomeDelegated       Outcome = "delegated"
	OutcomeEscalated       Outcome = "escalated"
	OutcomeAutoApproved    Outcome = "auto_approved"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeAlreadyResolved Outcome = "already_resolved"
)

// ActionRequest is one input to the state machine.
type ActionRequest struct {
	Action   InstanceAction
	ActorID  string
	Comments string
	// TargetStepIndex is the send-back destination; nil returns the instance to the requester.
	TargetStepIndex *int
	// ExpectedStepIndex is the step the caller believes is active. When it no
	// longer is, the request is answered against that step's recorded outcome.
	ExpectedStepIndex *int
	DelegateTo        string
	At                time.Time
}

// ActionResult reports the effect of an applied action.
type ActionResult struct {
	Action        InstanceAction `json:"action"`
	Outcome       Outcome        `json:"outcome"`
	NoOp          bool           `json:"noOp"`
	ActorID       string         `json:"actorId"`
	OnBehalfOf    []string       `json:"onBehalfOf,omitempty"`
	FromStatus    InstanceStatus `json:"fromStatus"`
	ToStatus      InstanceStatus `json:"toStatus"`
	FromStepIndex int            `json:"fromStepIndex"`
	ToStepIndex   int            `json:"toStepIndex"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// Changed reports whether the instance was modified.
func (r ActionResult) Changed() bool {
	return !r.NoOp
}

// NewInstanceParams identifies the business entity an instance runs for.
type NewInstanceParams struct {
	ID          string
	Tenant      string
	EntityType  string
	EntityID    string
	RequesterID string
}

// Engine applies actions to approval instances. It holds no per-instance
// state; callers serialize mutations of the same instance.
type Engine struct {
	sm           *InstanceStateMachine
	rejectPolicy ParallelRejectPolicy
}

// NewEngine creates an engine with the given parallel reject policy.
func NewEngine(policy ParallelRejectPolicy) *Engine {
	if policy == "" {
		policy = RejectFailFast
	}
	return &Engine{sm: NewInstanceStateMachine(), rejectPolicy: policy}
}

// AvailableActions lists the human actions inst accepts right now, taking the
// current step's permissions into account. The SLA actions are never listed.
func (e *Engine) AvailableActions(inst *ApprovalInstance) []InstanceAction {
	var out []InstanceAction
	step := inst.CurrentStep()
	for _, a := range e.sm.ValidActions(inst.Status) {
		switch {
		case a.IsSystem():
			continue
		case a == ActionCancel:
		case inst.CurrentStepIndex == RequesterStepIndex:
			if a != ActionSubmit {
				continue
			}
		case a == ActionSubmit || step == nil:
			continue
		case a == ActionReject && !step.Permissions.CanReject,
			a == ActionSendBack && !step.Permissions.CanSendBack,
			a == ActionDelegate && !step.Permissions.CanDelegate:
			continue
		}
		out = append(out, a)
	}
	return out
}

// RejectPolicy returns the configured parallel reject policy.
func (e *Engine) RejectPolicy() ParallelRejectPolicy {
	return e.rejectPolicy
}

// Start creates an instance from an active definition and activates its first step.
func (e *Engine) Start(def *WorkflowDefinition, p NewInstanceParams, resolver ApproverResolver, now time.Time) (*ApprovalInstance, ActionResult, error) {
	res := ActionResult{Action: ActionSubmit, ActorID: p.RequesterID, FromStepIndex: 0}
	switch {
	case def == nil:
		return nil, res, fmt.Errorf("%w: definition is required", ErrInvalidInput)
	case !def.IsEffective(now):
		return nil, res, fmt.Errorf("%w: definition %s is %s and cannot start instances", ErrInvalidState, def.ID, def.Status)
	case len(def.Steps) == 0:
		return nil, res, fmt.Errorf("%w: definition %s has no steps", ErrInvalidState, def.ID)
	case strings.TrimSpace(p.EntityID) == "":
		return nil, res, fmt.Errorf("%w: entityId is required", ErrInvalidInput)
	case strings.TrimSpace(p.RequesterID) == "":
		return nil, res, fmt.Errorf("%w: requesterId is required", ErrInvalidInput)
	case p.EntityType != def.AppliesTo:
		return nil, res, fmt.Errorf("%w: definition %s applies to %q, not %q", ErrInvalidInput, def.ID, def.AppliesTo, p.EntityType)
	}

	inst := &ApprovalInstance{
		ID:                   p.ID,
		Tenant:               p.Tenant,
		EntityType:           p.EntityType,
		EntityID:             p.EntityID,
		RequesterID:          p.RequesterID,
		WorkflowDefinitionID: def.ID,
		DefinitionRevision:   def.RevisionLabel(),
		Steps:                CloneSteps(def.Steps),
		Status:               StatusPending,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	inst.PerStepState = make([]StepExecutionRecord, len(inst.Steps))
	for i, s := range inst.Steps {
		inst.PerStepState[i] = StepExecutionRecord{StepOrder: s.Order, AssignedRole: s.Role, Decision: DecisionPending, ApprovedBy: []string{}}
	}

	warnings, err := e.activateStep(inst, 0, resolver, now)
	if err != nil {
		return nil, res, err
	}
	if len(inst.PerStepState[0].EligibleActorIDs) == 0 {
		return nil, res, fmt.Errorf("%w: role %q resolves to nobody", ErrNoApprovers, inst.Steps[0].Role)
	}

	res.Outcome = OutcomeStarted
	res.FromStatus = StatusPending
	res.ToStatus = inst.Status
	res.ToStepIndex = inst.CurrentStepIndex
	res.Warnings = warnings
	return inst, res, nil
}

// Apply runs one action against inst. On error inst is left untouched.
func (e *Engine) Apply(inst *ApprovalInstance, req ActionRequest, resolver ApproverResolver) (ActionResult, error) {
	res := ActionResult{
		Action:        req.Action,
		ActorID:       req.ActorID,
		FromStatus:    inst.Status,
		ToStatus:      inst.Status,
		FromStepIndex: inst.CurrentStepIndex,
		ToStepIndex:   inst.CurrentStepIndex,
	}
	if req.At.IsZero() {
		return res, fmt.Errorf("%w: action time is required", ErrInvalidInput)
	}
	if req.ActorID == "" && !req.Action.IsSystem() {
		return res, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if inst.Status.IsTerminal() {
		return res, fmt.Errorf("%w: instance %s is %s and can no longer change", ErrInvalidState, inst.ID, inst.Status)
	}
	if req.ExpectedStepIndex != nil && *req.ExpectedStepIndex != inst.CurrentStepIndex && !req.Action.IsSystem() {
		return e.answerResolvedStep(inst, req, res)
	}
	next, err := e.sm.Transition(inst.Status, req.Action)
	if err != nil {
		return res, err
	}

	work := inst.Clone()
	switch req.Action {
	case ActionApprove:
		err = e.approve(work, req, next, resolver, &res)
	case ActionReject:
		err = e.reject(work, req, next, resolver, &res)
	case ActionSendBack:
		err = e.sendBack(work, req, next, resolver, &res)
	case ActionSubmit:
		err = e.resubmit(work, req, next, resolver, &res)
	case ActionDelegate:
		err = e.delegate(work, req, resolver, &res)
	case ActionEscalate:
		err = e.escalate(work, req, next, resolver, &res)
	case ActionAutoApprove:
		err = e.autoApprove(work, req, next, resolver, &res)
	case ActionCancel:
		work.Status = next
		work.CompletedAt = timePtr(req.At)
		res.Outcome = OutcomeCancelled
	default:
		err = fmt.Errorf("%w: unknown action %q", ErrInvalidInput, req.Action)
	}
	if err != nil {
		return res, err
	}
	if res.NoOp {
		return res, nil
	}

	work.UpdatedAt = req.At
	*inst = *work
	res.ToStatus = inst.Status
	res.ToStepIndex = inst.CurrentStepIndex
	return res, nil
}

// answerResolvedStep handles an action aimed at a step that is no longer active.
// An approval of an any_one step someone else already approved is a no-op;
// everything else is an invalid state.
func (e *Engine) answerResolvedStep(inst *ApprovalInstance, req ActionRequest, res ActionResult) (ActionResult, error) {
	idx := *req.ExpectedStepIndex
	if idx < 0 || idx >= len(inst.Steps) {
		return res, fmt.Errorf("%w: step index %d out of range", ErrInvalidInput, idx)
	}
	rec := inst.PerStepState[idx]
	resolved := rec.Decision == DecisionApproved || rec.Decision == DecisionAutoApproved
	if req.Action == ActionApprove && inst.Steps[idx].Mode == ModeAnyOne && resolved {
		if !contains(rec.EligibleActorIDs, req.ActorID) {
			return res, fmt.Errorf("%w: %s was not an approver of step %d", ErrUnauthorized, req.ActorID, idx+1)
		}
		res.NoOp = true
		res.Outcome = OutcomeAlreadyResolved
		return res, nil
	}
	return res, fmt.Errorf("%w: step %d is no longer active (decision %s)", ErrInvalidState, idx+1, rec.Decision)
}

func (e *Engine) approve(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	step, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	approvers, err := e.currentApprovers(work, rec, *step, resolver, req.At)
	if err != nil {
		return err
	}
	acting, err := actingFor(approvers, req.ActorID, rec.StepOrder)
	if err != nil {
		return err
	}
	if err := checkComments(*step, req.Comments); err != nil {
		return err
	}
	res.OnBehalfOf = acting

	if step.Mode == ModeParallel {
		fresh := missing(acting, append(append([]string{}, rec.ApprovedBy...), rec.RejectedBy...))
		if len(fresh) == 0 {
			res.NoOp = true
			res.Outcome = OutcomeAlreadyResolved
			return nil
		}
		rec.ApprovedBy = append(rec.ApprovedBy, fresh...)
		recordVotes(rec, fresh, req.ActorID, DecisionApproved, req.Comments, req.At)
		if !allVoted(approvers, rec) {
			res.Outcome = OutcomeVoteRecorded
			return nil
		}
		warnings, err := e.completeStep(work, DecisionApproved, req.ActorID, req.Comments, next, resolver, req.At, res)
		res.Warnings = append(res.Warnings, warnings...)
		return err
	}

	rec.ApprovedBy = append([]string{}, acting...)
	recordVotes(rec, acting, req.ActorID, DecisionApproved, req.Comments, req.At)
	warnings, err := e.completeStep(work, DecisionApproved, req.ActorID, req.Comments, next, resolver, req.At, res)
	res.Warnings = append(res.Warnings, warnings...)
	return err
}

func (e *Engine) reject(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	step, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	if !step.Permissions.CanReject {
		return fmt.Errorf("%w: step %d does not allow rejection", ErrUnauthorized, rec.StepOrder)
	}
	approvers, err := e.currentApprovers(work, rec, *step, resolver, req.At)
	if err != nil {
		return err
	}
	acting, err := actingFor(approvers, req.ActorID, rec.StepOrder)
	if err != nil {
		return err
	}
	if err := checkComments(*step, req.Comments); err != nil {
		return err
	}
	res.OnBehalfOf = acting

	if step.Mode == ModeParallel && e.rejectPolicy == RejectMajority {
		fresh := missing(acting, append(append([]string{}, rec.ApprovedBy...), rec.RejectedBy...))
		if len(fresh) == 0 {
			res.NoOp = true
			res.Outcome = OutcomeAlreadyResolved
			return nil
		}
		rec.RejectedBy = append(rec.RejectedBy, fresh...)
		recordVotes(rec, fresh, req.ActorID, DecisionRejected, req.Comments, req.At)
		switch {
		case len(rec.RejectedBy)*2 > len(approvers):
			// majority reached, fall through to rejecting the instance
		case allVoted(approvers, rec):
			warnings, err := e.completeStep(work, DecisionApproved, req.ActorID, req.Comments, StatusPending, resolver, req.At, res)
			res.Warnings = append(res.Warnings, warnings...)
			return err
		default:
			res.Outcome = OutcomeVoteRecorded
			return nil
		}
	} else {
		rec.RejectedBy = append(rec.RejectedBy, acting...)
		recordVotes(rec, acting, req.ActorID, DecisionRejected, req.Comments, req.At)
	}

	rec.Decision = DecisionRejected
	rec.DecidedAt = timePtr(req.At)
	rec.ActedBy = req.ActorID
	rec.Comments = req.Comments
	work.Status = next
	work.CompletedAt = timePtr(req.At)
	res.Outcome = OutcomeRejected
	return nil
}

func (e *Engine) sendBack(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	step, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	if !step.Permissions.CanSendBack {
		return fmt.Errorf("%w: step %d does not allow sending back", ErrUnauthorized, rec.StepOrder)
	}
	approvers, err := e.currentApprovers(work, rec, *step, resolver, req.At)
	if err != nil {
		return err
	}
	acting, err := actingFor(approvers, req.ActorID, rec.StepOrder)
	if err != nil {
		return err
	}
	if err := checkComments(*step, req.Comments); err != nil {
		return err
	}
	res.OnBehalfOf = acting

	current := work.CurrentStepIndex
	if req.TargetStepIndex == nil {
		for j := range work.PerStepState {
			work.PerStepState[j].reset(work.Steps[j].Role)
		}
		work.CurrentStepIndex = RequesterStepIndex
		work.Status = next
		res.Outcome = OutcomeSentBack
		return nil
	}

	target := *req.TargetStepIndex
	if target < 0 || target >= current {
		return fmt.Errorf("%w: send-back target %d must be an earlier step than %d", ErrInvalidInput, target+1, current+1)
	}
	for j := target; j <= current; j++ {
		work.PerStepState[j].reset(work.Steps[j].Role)
	}
	warnings, err := e.activateStep(work, target, resolver, req.At)
	if err != nil {
		return err
	}
	work.Status = next
	res.Warnings = append(res.Warnings, warnings...)
	res.Outcome = OutcomeSentBack
	return nil
}

func (e *Engine) resubmit(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	if work.CurrentStepIndex != RequesterStepIndex {
		return fmt.Errorf("%w: instance %s is not waiting for its requester", ErrInvalidState, work.ID)
	}
	if req.ActorID != work.RequesterID {
		return fmt.Errorf("%w: only the requester can resubmit", ErrUnauthorized)
	}
	warnings, err := e.activateStep(work, 0, resolver, req.At)
	if err != nil {
		return err
	}
	work.Status = next
	res.Warnings = append(res.Warnings, warnings...)
	res.Outcome = OutcomeResubmitted
	return nil
}

func (e *Engine) delegate(work *ApprovalInstance, req ActionRequest, resolver ApproverResolver, res *ActionResult) error {
	step, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	if !step.Permissions.CanDelegate {
		return fmt.Errorf("%w: step %d does not allow delegation", ErrUnauthorized, rec.StepOrder)
	}
	to := strings.TrimSpace(req.DelegateTo)
	if to == "" || to == req.ActorID {
		return fmt.Errorf("%w: delegate must be another user", ErrInvalidInput)
	}
	approvers, err := e.currentApprovers(work, rec, *step, resolver, req.At)
	if err != nil {
		return err
	}
	acting, err := actingFor(approvers, req.ActorID, rec.StepOrder)
	if err != nil {
		return err
	}
	if rec.Reassignments == nil {
		rec.Reassignments = make(map[string]string)
	}
	rec.Reassignments[req.ActorID] = to
	if _, err := e.currentApprovers(work, rec, *step, resolver, req.At); err != nil {
		return err
	}
	res.OnBehalfOf = acting
	res.Outcome = OutcomeDelegated
	return nil
}

func (e *Engine) escalate(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	step, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	if rec.Decision != DecisionPending {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidState, rec.StepOrder, rec.Decision)
	}
	if !step.Escalation.Configured() {
		return fmt.Errorf("%w: step %d has no escalation role", ErrInvalidState, rec.StepOrder)
	}

	rec.EscalatedFromRole = rec.AssignedRole
	rec.AssignedRole = *step.Escalation.EscalateToRole
	rec.EscalatedAt = timePtr(req.At)
	rec.Decision = DecisionEscalated
	rec.Reassignments = nil
	rec.ApprovedBy = []string{}
	rec.RejectedBy = nil

	extend := step.Escalation.EscalateAfterMinutes
	if extend == 0 {
		extend = step.SLA.TimeLimitMinutes
	}
	rec.DeadlineAt = Deadline(req.At, extend)

	if _, err := e.currentApprovers(work, rec, *step, resolver, req.At); err != nil {
		if !errors.Is(err, ErrNoApprovers) {
			return err
		}
		res.Warnings = append(res.Warnings, err.Error())
	}
	rec.Votes = append(rec.Votes, Vote{ActorID: actorOrSystem(req.ActorID), Decision: DecisionEscalated, At: req.At})
	work.Status = next
	res.Outcome = OutcomeEscalated
	return nil
}

func (e *Engine) autoApprove(work *ApprovalInstance, req ActionRequest, next InstanceStatus, resolver ApproverResolver, res *ActionResult) error {
	_, rec, err := activeStep(work)
	if err != nil {
		return err
	}
	if !rec.Decision.IsOpen() {
		return fmt.Errorf("%w: step %d is %s", ErrInvalidState, rec.StepOrder, rec.Decision)
	}
	actor := actorOrSystem(req.ActorID)
	rec.Votes = append(rec.Votes, Vote{ActorID: actor, Decision: DecisionAutoApproved, At: req.At})
	res.ActorID = actor
	warnings, err := e.completeStep(work, DecisionAutoApproved, actor, req.Comments, next, resolver, req.At, res)
	res.Warnings = append(res.Warnings, warnings...)
	return err
}

// completeStep closes the active step and either advances to the next one
// (leaving the instance in next) or completes the instance.
func (e *Engine) completeStep(work *ApprovalInstance, decision Decision, actor, comments string, next InstanceStatus, resolver ApproverResolver, at time.Time, res *ActionResult) ([]string, error) {
	rec := work.CurrentRecord()
	rec.Decision = decision
	rec.DecidedAt = timePtr(at)
	rec.ActedBy = actor
	rec.Comments = comments

	if work.CurrentStepIndex == len(work.Steps)-1 {
		work.Status = StatusCompleted
		work.CompletedAt = timePtr(at)
		res.Outcome = OutcomeCompleted
		return nil, nil
	}

	warnings, err := e.activateStep(work, work.CurrentStepIndex+1, resolver, at)
	if err != nil {
		return nil, err
	}
	work.Status = next
	if decision == DecisionAutoApproved {
		res.Outcome = OutcomeAutoApproved
	} else {
		res.Outcome = OutcomeStepApproved
	}
	return warnings, nil
}

// activateStep makes index the current step and starts its SLA clock.
func (e *Engine) activateStep(work *ApprovalInstance, index int, resolver ApproverResolver, at time.Time) ([]string, error) {
	step := work.Steps[index]
	rec := &work.PerStepState[index]
	rec.reset(step.Role)
	rec.StartedAt = timePtr(at)
	rec.DeadlineAt = Deadline(at, step.SLA.TimeLimitMinutes)
	work.CurrentStepIndex = index

	var warnings []string
	if _, err := e.currentApprovers(work, rec, step, resolver, at); err != nil {
		if !errors.Is(err, ErrNoApprovers) {
			return nil, err
		}
		warnings = append(warnings, err.Error())
	}
	return warnings, nil
}

// currentApprovers resolves the assigned role afresh, applies step-level
// reassignments and refreshes the record's eligible actors. Sequential steps
// keep only the first resolved approver.
func (e *Engine) currentApprovers(work *ApprovalInstance, rec *StepExecutionRecord, step Step, resolver ApproverResolver, at time.Time) ([]Approver, error) {
	approvers, err := resolver.ResolveApprovers(rec.AssignedRole, work.EntityType, at)
	if err != nil {
		return nil, err
	}
	if step.Mode == ModeSequential && len(approvers) > 1 {
		approvers = approvers[:1]
	}
	approvers = applyReassignments(approvers, rec.Reassignments)

	rec.EligibleActorIDs = rec.EligibleActorIDs[:0]
	for _, a := range approvers {
		if !contains(rec.EligibleActorIDs, a.ActorID) {
			rec.EligibleActorIDs = append(rec.EligibleActorIDs, a.ActorID)
		}
	}
	rec.EffectiveActorID = ""
	if len(approvers) > 0 {
		rec.EffectiveActorID = approvers[0].ActorID
	}
	if len(approvers) == 0 {
		return approvers, fmt.Errorf("%w: role %q resolves to nobody for %s", ErrNoApprovers, rec.AssignedRole, work.EntityType)
	}
	return approvers, nil
}

func applyReassignments(approvers []Approver, moves map[string]string) []Approver {
	if len(moves) == 0 {
		return approvers
	}
	out := make([]Approver, len(approvers))
	for i, a := range approvers {
		seen := map[string]bool{a.ActorID: true}
		for {
			to, ok := moves[a.ActorID]
			if !ok || seen[to] {
				break
			}
			seen[to] = true
			a.ActorID = to
			a.Delegated = true
		}
		out[i] = a
	}
	return out
}

func activeStep(work *ApprovalInstance) (*Step, *StepExecutionRecord, error) {
	step, rec := work.CurrentStep(), work.CurrentRecord()
	if step == nil || rec == nil {
		return nil, nil, fmt.Errorf("%w: instance %s is waiting for its requester", ErrInvalidState, work.ID)
	}
	if !rec.Decision.IsOpen() {
		return nil, nil, fmt.Errorf("%w: step %d is already %s", ErrInvalidState, rec.StepOrder, rec.Decision)
	}
	return step, rec, nil
}

// actingFor returns the nominal approvers actor stands in for.
func actingFor(approvers []Approver, actor string, stepOrder int) ([]string, error) {
	var nominal []string
	for _, a := range approvers {
		if a.ActorID == actor && !contains(nominal, a.NominalID) {
			nominal = append(nominal, a.NominalID)
		}
	}
	if len(nominal) == 0 {
		return nil, fmt.Errorf("%w: %s is not an effective approver of step %d", ErrUnauthorized, actor, stepOrder)
	}
	return nominal, nil
}

func checkComments(step Step, comments string) error {
	if !step.Permissions.CanAddComments && strings.TrimSpace(comments) != "" {
		return fmt.Errorf("%w: step %d does not accept comments", ErrInvalidInput, step.Order)
	}
	return nil
}

func recordVotes(rec *StepExecutionRecord, nominal []string, actor string, d Decision, comments string, at time.Time) {
	for _, n := range nominal {
		rec.Votes = append(rec.Votes, Vote{ApproverID: n, ActorID: actor, Decision: d, Comments: comments, At: at})
	}
}

// allVoted reports whether every approver has approved or rejected.
func allVoted(approvers []Approver, rec *StepExecutionRecord) bool {
	for _, a := range approvers {
		if !contains(rec.ApprovedBy, a.NominalID) && !contains(rec.RejectedBy, a.NominalID) {
			return false
		}
	}
	return true
}

func missing(candidates, have []string) []string {
	var out []string
	for _, c := range candidates {
		if !contains(have, c) {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}
