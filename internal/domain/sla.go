package domain

import (
	"fmt"
	"time"
)

// SLAOutcome is what the SLA clock decides for one open step.
type SLAOutcome string

const (
	SLANone        SLAOutcome = "none"
	SLAEscalate    SLAOutcome = "escalate"
	SLAAutoApprove SLAOutcome = "auto_approve"
	// SLAOverdue marks a breached step with nothing configured to move it.
	SLAOverdue SLAOutcome = "overdue"
)

// SLAHealth classifies a step for the SLA summary.
type SLAHealth string

const (
	SLAOnTime   SLAHealth = "on_time"
	SLAAtRisk   SLAHealth = "at_risk"
	SLABreached SLAHealth = "breached"
)

// DefaultAtRiskFraction is the share of elapsed time after which a step counts as at risk.
const DefaultAtRiskFraction = 0.75

// Deadline returns start+minutes, or nil when minutes is 0 (no deadline).
func Deadline(start time.Time, minutes int) *time.Time {
	if minutes <= 0 {
		return nil
	}
	return timePtr(start.Add(time.Duration(minutes) * time.Minute))
}

// EscalationDue returns when a pending step escalates, or nil when it never does.
func EscalationDue(step Step, rec StepExecutionRecord) *time.Time {
	if !step.Escalation.Configured() || rec.StartedAt == nil {
		return nil
	}
	if step.Escalation.EscalateAfterMinutes > 0 {
		return Deadline(*rec.StartedAt, step.Escalation.EscalateAfterMinutes)
	}
	return copyTime(rec.DeadlineAt)
}

// AutoApproveDue returns when the step auto-approves, or nil when it never does.
// With escalation configured the step must have escalated and its extended
// deadline must be the later of the two moments.
func AutoApproveDue(step Step, rec StepExecutionRecord) *time.Time {
	after := step.SLA.AutoApproveAfterMinutes
	if after == nil || rec.StartedAt == nil {
		return nil
	}
	due := rec.StartedAt.Add(time.Duration(*after) * time.Minute)
	if !step.Escalation.Configured() {
		return &due
	}
	if rec.Decision != DecisionEscalated || rec.DeadlineAt == nil {
		return nil
	}
	if rec.DeadlineAt.After(due) {
		due = *rec.DeadlineAt
	}
	return &due
}

// EvaluateSLA decides what the clock does for an open step at now.
func EvaluateSLA(step Step, rec StepExecutionRecord, now time.Time) SLAOutcome {
	if !rec.Decision.IsOpen() || rec.StartedAt == nil {
		return SLANone
	}
	if rec.Decision == DecisionPending {
		if due := EscalationDue(step, rec); due != nil && !now.Before(*due) {
			return SLAEscalate
		}
	}
	if due := AutoApproveDue(step, rec); due != nil && !now.Before(*due) {
		return SLAAutoApprove
	}
	if rec.DeadlineAt != nil && now.After(*rec.DeadlineAt) {
		return SLAOverdue
	}
	return SLANone
}

// AssessSLA classifies an open step at now. A step without deadline is always on time.
func AssessSLA(rec StepExecutionRecord, now time.Time, atRiskFraction float64) SLAHealth {
	if rec.DeadlineAt == nil || rec.StartedAt == nil {
		return SLAOnTime
	}
	if now.After(*rec.DeadlineAt) {
		return SLABreached
	}
	if atRiskFraction <= 0 || atRiskFraction > 1 {
		atRiskFraction = DefaultAtRiskFraction
	}
	total := rec.DeadlineAt.Sub(*rec.StartedAt)
	if total <= 0 {
		return SLAAtRisk
	}
	if float64(now.Sub(*rec.StartedAt))/float64(total) >= atRiskFraction {
		return SLAAtRisk
	}
	return SLAOnTime
}

// SLASummary counts open instances per health class.
type SLASummary struct {
	OnTime   int `json:"onTime"`
	AtRisk   int `json:"atRisk"`
	Breached int `json:"breached"`
	Total    int `json:"total"`
}

// Add counts one classification.
func (s *SLASummary) Add(h SLAHealth) {
	switch h {
	case SLABreached:
		s.Breached++
	case SLAAtRisk:
		s.AtRisk++
	default:
		s.OnTime++
	}
	s.Total++
}

// Tick applies whatever the SLA clock demands of the current step at now.
// It returns SLANone or SLAOverdue without touching the instance when no
// transition is due.
func (e *Engine) Tick(inst *ApprovalInstance, resolver ApproverResolver, now time.Time) (SLAOutcome, ActionResult, error) {
	if inst.Status.IsTerminal() {
		return SLANone, ActionResult{}, fmt.Errorf("%w: instance %s is %s", ErrInvalidState, inst.ID, inst.Status)
	}
	step, rec := inst.CurrentStep(), inst.CurrentRecord()
	if step == nil || rec == nil {
		return SLANone, ActionResult{}, nil
	}
	outcome := EvaluateSLA(*step, *rec, now)

	var action InstanceAction
	switch outcome {
	case SLAEscalate:
		action = ActionEscalate
	case SLAAutoApprove:
		action = ActionAutoApprove
	default:
		return outcome, ActionResult{}, nil
	}
	res, err := e.Apply(inst, ActionRequest{Action: action, ActorID: SystemActor, At: now}, resolver)
	return outcome, res, err
}
