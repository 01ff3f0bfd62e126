package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefinitionStatus is the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionDraft    DefinitionStatus = "draft"
	DefinitionActive   DefinitionStatus = "active"
	DefinitionArchived DefinitionStatus = "archived"
)

// StepMode decides how many approvers must act before a step completes.
type StepMode string

const (
	ModeSequential StepMode = "sequential"
	ModeParallel   StepMode = "parallel"
	ModeAnyOne     StepMode = "any_one"
)

// IsValid reports whether m is a known mode.
func (m StepMode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeAnyOne:
		return true
	}
	return false
}

// Definition field limits.
const (
	MaxWorkflowNameLength = 50
	MaxDescriptionLength  = 200
)

// StepPermissions lists what the approver of a step may do besides approving.
type StepPermissions struct {
	CanReject      bool `json:"canReject" yaml:"canReject"`
	CanSendBack    bool `json:"canSendBack" yaml:"canSendBack"`
	CanDelegate    bool `json:"canDelegate" yaml:"canDelegate"`
	CanAddComments bool `json:"canAddComments" yaml:"canAddComments"`
}

// DefaultPermissions grants every permission.
func DefaultPermissions() StepPermissions {
	return StepPermissions{CanReject: true, CanSendBack: true, CanDelegate: true, CanAddComments: true}
}

// SLAConfig holds the timing contract of a step.
type SLAConfig struct {
	// TimeLimitMinutes of 0 means the step has no deadline.
	TimeLimitMinutes        int  `json:"timeLimitMinutes" yaml:"timeLimitMinutes"`
	AutoApproveAfterMinutes *int `json:"autoApproveAfterMinutes,omitempty" yaml:"autoApproveAfterMinutes,omitempty"`
}

// EscalationConfig names the role a breached step is handed to.
type EscalationConfig struct {
	EscalateToRole       *RoleLevel `json:"escalateToRole,omitempty" yaml:"escalateToRole,omitempty"`
	EscalateAfterMinutes int        `json:"escalateAfterMinutes" yaml:"escalateAfterMinutes"`
}

// Configured reports whether an escalation target is set.
func (e EscalationConfig) Configured() bool {
	return e.EscalateToRole != nil && *e.EscalateToRole != ""
}

// NotificationConfig selects the channels an external notifier should use for a step.
type NotificationConfig struct {
	Email bool `json:"email" yaml:"email"`
	InApp bool `json:"inApp" yaml:"inApp"`
	SMS   bool `json:"sms" yaml:"sms"`
}

// Step is one stage of a workflow definition.
type Step struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name,omitempty" yaml:"name,omitempty"`
	Order         int                `json:"order" yaml:"order"`
	Role          RoleLevel          `json:"role" yaml:"role"`
	Mode          StepMode           `json:"mode" yaml:"mode"`
	Permissions   StepPermissions    `json:"permissions" yaml:"permissions"`
	SLA           SLAConfig          `json:"sla" yaml:"sla"`
	Escalation    EscalationConfig   `json:"escalation" yaml:"escalation"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
}

// NewStep returns a sequential step for role with every permission granted.
func NewStep(role RoleLevel) Step {
	return Step{
		ID:            uuid.NewString(),
		Role:          role,
		Mode:          ModeSequential,
		Permissions:   DefaultPermissions(),
		Notifications: NotificationConfig{InApp: true},
	}
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	c := s
	if s.SLA.AutoApproveAfterMinutes != nil {
		v := *s.SLA.AutoApproveAfterMinutes
		c.SLA.AutoApproveAfterMinutes = &v
	}
	if s.Escalation.EscalateToRole != nil {
		v := *s.Escalation.EscalateToRole
		c.Escalation.EscalateToRole = &v
	}
	return c
}

// StepPatch carries a partial update of a step. Nil fields are left untouched.
type StepPatch struct {
	Name                    *string             `json:"name,omitempty"`
	Role                    *RoleLevel          `json:"role,omitempty"`
	Mode                    *StepMode           `json:"mode,omitempty"`
	Permissions             *StepPermissions    `json:"permissions,omitempty"`
	TimeLimitMinutes        *int                `json:"timeLimitMinutes,omitempty"`
	AutoApproveAfterMinutes *int                `json:"autoApproveAfterMinutes,omitempty"`
	ClearAutoApprove        bool                `json:"clearAutoApprove,omitempty"`
	EscalateToRole          *RoleLevel          `json:"escalateToRole,omitempty"`
	ClearEscalation         bool                `json:"clearEscalation,omitempty"`
	EscalateAfterMinutes    *int                `json:"escalateAfterMinutes,omitempty"`
	Notifications           *NotificationConfig `json:"notifications,omitempty"`
}

// Apply writes the non-nil fields of p onto s.
func (p StepPatch) Apply(s *Step) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Role != nil {
		s.Role = *p.Role
	}
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.Permissions != nil {
		s.Permissions = *p.Permissions
	}
	if p.TimeLimitMinutes != nil {
		s.SLA.TimeLimitMinutes = *p.TimeLimitMinutes
	}
	if p.ClearAutoApprove {
		s.SLA.AutoApproveAfterMinutes = nil
	} else if p.AutoApproveAfterMinutes != nil {
		v := *p.AutoApproveAfterMinutes
		s.SLA.AutoApproveAfterMinutes = &v
	}
	if p.ClearEscalation {
		s.Escalation.EscalateToRole = nil
	} else if p.EscalateToRole != nil {
		v := *p.EscalateToRole
		s.Escalation.EscalateToRole = &v
	}
	if p.EscalateAfterMinutes != nil {
		s.Escalation.EscalateAfterMinutes = *p.EscalateAfterMinutes
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
}

// WorkflowDefinition is the template approval instances are created from.
//
// Version is the optimistic-concurrency counter and moves on every write;
// VersionMajor/VersionMinor are the published revision shown to users.
type WorkflowDefinition struct {
	ID                   string           `json:"id" yaml:"id,omitempty"`
	Tenant               string           `json:"tenant" yaml:"tenant,omitempty"`
	WorkflowName         string           `json:"workflowName" yaml:"workflowName"`
	Description          string           `json:"description,omitempty" yaml:"description,omitempty"`
	AppliesTo            string           `json:"appliesTo" yaml:"appliesTo"`
	RequesterRole        RoleLevel        `json:"requesterRole" yaml:"requesterRole"`
	Status               DefinitionStatus `json:"status" yaml:"status,omitempty"`
	EffectiveDate        *time.Time       `json:"effectiveDate,omitempty" yaml:"effectiveDate,omitempty"`
	AutoArchiveAfterDays *int             `json:"autoArchiveAfterDays,omitempty" yaml:"autoArchiveAfterDays,omitempty"`
	VersionMajor         int              `json:"versionMajor" yaml:"versionMajor"`
	VersionMinor         int              `json:"versionMinor" yaml:"versionMinor"`
	Version              int              `json:"version" yaml:"-"`
	Steps                []Step           `json:"steps" yaml:"steps"`
	CreatedBy            string           `json:"createdBy,omitempty" yaml:"-"`
	CreatedAt            time.Time        `json:"createdAt" yaml:"-"`
	UpdatedAt            time.Time        `json:"updatedAt" yaml:"-"`
	PublishedAt          *time.Time       `json:"publishedAt,omitempty" yaml:"-"`
}

// NewDefinition returns a draft definition with a single step for the lowest approver role above requester.
func NewDefinition(name, appliesTo string, requester RoleLevel) *WorkflowDefinition {
	first := RoleHR
	if requester.Rank() >= RoleHR.Rank() {
		first = RoleManager
	}
	def := &WorkflowDefinition{
		WorkflowName:  name,
		AppliesTo:     appliesTo,
		RequesterRole: requester,
		Status:        DefinitionDraft,
		VersionMajor:  1,
		Steps:         []Step{NewStep(first)},
	}
	def.reindex()
	return def
}

// RevisionLabel renders the published revision as "major.minor".
func (d *WorkflowDefinition) RevisionLabel() string {
	return fmt.Sprintf("%d.%d", d.VersionMajor, d.VersionMinor)
}

// Clone returns a deep copy, used for instance snapshots and diffing.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	c := *d
	c.Steps = CloneSteps(d.Steps)
	if d.EffectiveDate != nil {
		t := *d.EffectiveDate
		c.EffectiveDate = &t
	}
	if d.AutoArchiveAfterDays != nil {
		v := *d.AutoArchiveAfterDays
		c.AutoArchiveAfterDays = &v
	}
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// CloneSteps deep-copies a step slice.
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// ArchiveDue returns the moment an active definition auto-archives, or nil when it never does.
func (d *WorkflowDefinition) ArchiveDue() *time.Time {
	if d.EffectiveDate == nil || d.AutoArchiveAfterDays == nil {
		return nil
	}
	due := d.EffectiveDate.AddDate(0, 0, *d.AutoArchiveAfterDays)
	return &due
}

// IsEffective reports whether the definition may start new instances at now.
func (d *WorkflowDefinition) IsEffective(now time.Time) bool {
	if d.Status != DefinitionActive {
		return false
	}
	return d.EffectiveDate == nil || !now.Before(*d.EffectiveDate)
}

// ==================== Builder operations ====================
//
// Every builder operation keeps Order dense (1..N matching position)
// and never leaves the step list empty.

// AddStep appends step and returns its index. A missing ID is generated.
func (d *WorkflowDefinition) AddStep(step Step) int {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	d.Steps = append(d.Steps, step)
	d.reindex()
	return len(d.Steps) - 1
}

// RemoveStep deletes the step at index. Removing the last remaining step is
// refused by returning false; it is a builder constraint, not an error.
func (d *WorkflowDefinition) RemoveStep(index int) (bool, error) {
	if err := d.checkIndex(index); err != nil {
		return false, err
	}
	if len(d.Steps) == 1 {
		return false, nil
	}
	d.Steps = append(d.Steps[:index], d.Steps[index+1:]...)
	d.reindex()
	return true, nil
}

// MoveStep moves the step at from so that it ends up at position to.
func (d *WorkflowDefinition) MoveStep(from, to int) error {
	if err := d.checkIndex(from); err != nil {
		return err
	}
	if err := d.checkIndex(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	step := d.Steps[from]
	rest := append(d.Steps[:from:from], d.Steps[from+1:]...)
	moved := make([]Step, 0, len(d.Steps))
	moved = append(moved, rest[:to]...)
	moved = append(moved, step)
	moved = append(moved, rest[to:]...)
	d.Steps = moved
	d.reindex()
	return nil
}

// DuplicateStep inserts a copy of the step at index right after it, with a fresh ID.
// It returns the index of the copy.
func (d *WorkflowDefinition) DuplicateStep(index int) (int, error) {
	if err := d.checkIndex(index); err != nil {
		return 0, err
	}
	dup := d.Steps[index].Clone()
	dup.ID = uuid.NewString()
	steps := make([]Step, 0, len(d.Steps)+1)
	steps = append(steps, d.Steps[:index+1]...)
	steps = append(steps, dup)
	steps = append(steps, d.Steps[index+1:]...)
	d.Steps = steps
	d.reindex()
	return index + 1, nil
}

// UpdateStep applies patch to the step at index.
func (d *WorkflowDefinition) UpdateStep(index int, patch StepPatch) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	patch.Apply(&d.Steps[index])
	d.reindex()
	return nil
}

// Normalize re-derives Order from position and fills missing step IDs.
// Used at the boundary on definitions arriving from callers.
func (d *WorkflowDefinition) Normalize() {
	for i := range d.Steps {
		if d.Steps[i].ID == "" {
			d.Steps[i].ID = uuid.NewString()
		}
		if d.Steps[i].Mode == "" {
			d.Steps[i].Mode = ModeSequential
		}
	}
	d.reindex()
}

func (d *WorkflowDefinition) reindex() {
	for i := range d.Steps {
		d.Steps[i].Order = i + 1
	}
}

func (d *WorkflowDefinition) checkIndex(index int) error {
	if index < 0 || index >= len(d.Steps) {
		return fmt.Errorf("%w: step index %d out of range [0,%d)", ErrInvalidInput, index, len(d.Steps))
	}
	return nil
}

// StepsEqual reports whether two step lists describe the same flow, ignoring IDs.
func StepsEqual(a, b []Step) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i].Clone(), b[i].Clone()
		x.ID, y.ID = "", ""
		if !stepEqual(x, y) {
			return false
		}
	}
	return true
}

func stepEqual(a, b Step) bool {
	if a.Name != b.Name || a.Order != b.Order || a.Role != b.Role || a.Mode != b.Mode ||
		a.Permissions != b.Permissions || a.Notifications != b.Notifications ||
		a.SLA.TimeLimitMinutes != b.SLA.TimeLimitMinutes ||
		a.Escalation.EscalateAfterMinutes != b.Escalation.EscalateAfterMinutes {
		return false
	}
	if !intPtrEqual(a.SLA.AutoApproveAfterMinutes, b.SLA.AutoApproveAfterMinutes) {
		return false
	}
	ra, rb := a.Escalation.EscalateToRole, b.Escalation.EscalateToRole
	if (ra == nil) != (rb == nil) {
		return false
	}
	return ra == nil || *ra == *rb
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
