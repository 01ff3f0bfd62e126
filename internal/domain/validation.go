package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Severity separates blocking issues from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule identifies which validation rule produced an issue.
type Rule string

const (
	RuleStructure          Rule = "structure"
	RuleHierarchy          Rule = "hierarchy_monotonicity"
	RuleDuplicateRole      Rule = "duplicate_sequential_role"
	RuleEscalationTarget   Rule = "escalation_target_above_role"
	RuleMissingEscalation  Rule = "missing_escalation_target"
	RuleRequesterAboveStep Rule = "requester_above_first_step"
	RulePolicy             Rule = "policy"
	RuleActiveConflict     Rule = "active_definition_conflict"
)

// DefinitionLevel is the StepIndex of issues that are not tied to a step.
const DefinitionLevel = -1

// Issue is one validation finding. StepIndex is 0-based; StepOrder is the
// 1-based position shown to editors.
type Issue struct {
	Rule      Rule     `json:"rule"`
	Severity  Severity `json:"severity"`
	StepIndex int      `json:"stepIndex"`
	StepOrder int      `json:"stepOrder,omitempty"`
	Field     string   `json:"field,omitempty"`
	Message   string   `json:"message"`
}

func (i Issue) String() string {
	if i.StepIndex == DefinitionLevel {
		return fmt.Sprintf("[%s] %s", i.Rule, i.Message)
	}
	return fmt.Sprintf("[%s] step %d: %s", i.Rule, i.StepOrder, i.Message)
}

// ValidationResult collects blocking errors and advisory warnings.
type ValidationResult struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// NewValidationResult returns an empty result with non-nil slices.
func NewValidationResult() ValidationResult {
	return ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}
}

// Valid reports whether the result carries no errors. Warnings never block.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Add files issue under errors or warnings by its severity.
func (r *ValidationResult) Add(issue Issue) {
	if issue.StepIndex != DefinitionLevel && issue.StepOrder == 0 {
		issue.StepOrder = issue.StepIndex + 1
	}
	if issue.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
}

// Merge appends every issue of other.
func (r *ValidationResult) Merge(other ValidationResult) {
	for _, i := range other.Errors {
		r.Add(i)
	}
	for _, i := range other.Warnings {
		r.Add(i)
	}
}

// Summary joins the error messages into one line.
func (r ValidationResult) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, i := range r.Errors {
		msgs = append(msgs, i.String())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks a definition against the structural and hierarchy rules.
// It has no side effects and accepts partial, in-progress definitions.
func Validate(def *WorkflowDefinition) ValidationResult {
	res := NewValidationResult()
	if def == nil {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Message: "definition is required"})
		return res
	}

	validateHeader(def, &res)
	if len(def.Steps) == 0 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "steps", Message: "a workflow needs at least one step"})
		return res
	}

	usedSequential := make(map[RoleLevel]int)
	for i, step := range def.Steps {
		validateStepShape(i, step, &res)

		// Rule 1: authority never decreases along the flow.
		if i > 0 {
			prev := def.Steps[i-1]
			if prev.Role.IsValid() && step.Role.IsValid() && step.Role.Rank() < prev.Role.Rank() {
				res.Add(Issue{
					Rule:      RuleHierarchy,
					StepIndex: i,
					Field:     "role",
					Message: fmt.Sprintf("role %q (rank %d) is below the previous step's role %q (rank %d); approvals must not de-escalate",
						step.Role, step.Role.Rank(), prev.Role, prev.Role.Rank()),
				})
			}
		}

		// Rule 2: a sequential role may appear only once among sequential steps.
		if step.Mode == ModeSequential && step.Role.IsValid() {
			if first, seen := usedSequential[step.Role]; seen {
				res.Add(Issue{
					Rule:      RuleDuplicateRole,
					StepIndex: i,
					Field:     "role",
					Message:   fmt.Sprintf("role %q is already used by sequential step %d", step.Role, first+1),
				})
			} else {
				usedSequential[step.Role] = i
			}
		}

		// Rule 3 and 4: escalation target.
		if step.Escalation.Configured() {
			target := *step.Escalation.EscalateToRole
			if !target.IsValid() {
				res.Add(Issue{
					Rule:      RuleEscalationTarget,
					StepIndex: i,
					Field:     "escalation.escalateToRole",
					Message:   fmt.Sprintf("unknown escalation role %q", target),
				})
			} else if step.Role.IsValid() && !target.Outranks(step.Role) {
				res.Add(Issue{
					Rule:      RuleEscalationTarget,
					StepIndex: i,
					Field:     "escalation.escalateToRole",
					Message:   fmt.Sprintf("escalation role %q must rank above the step role %q", target, step.Role),
				})
			}
		} else {
			res.Add(Issue{
				Rule:      RuleMissingEscalation,
				Severity:  SeverityWarning,
				StepIndex: i,
				Field:     "escalation.escalateToRole",
				Message:   "no escalation role set; an unresponsive approver can block this step indefinitely",
			})
		}
	}

	first := def.Steps[0]
	if def.RequesterRole.IsValid() && first.Role.IsValid() && first.Role.Rank() < def.RequesterRole.Rank() {
		res.Add(Issue{
			Rule:      RuleRequesterAboveStep,
			Severity:  SeverityWarning,
			StepIndex: 0,
			Field:     "role",
			Message:   fmt.Sprintf("first approver role %q ranks below the requester role %q", first.Role, def.RequesterRole),
		})
	}
	return res
}

func validateHeader(def *WorkflowDefinition, res *ValidationResult) {
	nameLen := utf8.RuneCountInString(strings.TrimSpace(def.WorkflowName))
	if nameLen == 0 || nameLen > MaxWorkflowNameLength {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "workflowName",
			Message: fmt.Sprintf("workflow name must be 1-%d characters", MaxWorkflowNameLength)})
	}
	if utf8.RuneCountInString(def.Description) > MaxDescriptionLength {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "description",
			Message: fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength)})
	}
	if strings.TrimSpace(def.AppliesTo) == "" {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "appliesTo", Message: "entity type is required"})
	}
	if !def.RequesterRole.IsValid() {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "requesterRole",
			Message: fmt.Sprintf("unknown requester role %q", def.RequesterRole)})
	}
	if def.AutoArchiveAfterDays != nil && *def.AutoArchiveAfterDays < 0 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: DefinitionLevel, Field: "autoArchiveAfterDays", Message: "must not be negative"})
	}
}

func validateStepShape(i int, step Step, res *ValidationResult) {
	if step.Order != i+1 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "order",
			Message: fmt.Sprintf("order %d does not match position %d", step.Order, i+1)})
	}
	if !step.Role.IsValid() {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "role", Message: fmt.Sprintf("unknown role %q", step.Role)})
	}
	if !step.Mode.IsValid() {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "mode", Message: fmt.Sprintf("unknown mode %q", step.Mode)})
	}
	if step.SLA.TimeLimitMinutes < 0 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "sla.timeLimitMinutes", Message: "must not be negative"})
	}
	if v := step.SLA.AutoApproveAfterMinutes; v != nil && *v < 0 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "sla.autoApproveAfterMinutes", Message: "must not be negative"})
	}
	if step.Escalation.EscalateAfterMinutes < 0 {
		res.Add(Issue{Rule: RuleStructure, StepIndex: i, Field: "escalation.escalateAfterMinutes", Message: "must not be negative"})
	}
}
