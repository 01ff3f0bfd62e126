package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AuditTarget is the kind of record an audit entry is attached to.
type AuditTarget string

const (
	AuditTargetDefinition AuditTarget = "workflow_definition"
	AuditTargetInstance   AuditTarget = "approval_instance"
	AuditTargetDelegation AuditTarget = "delegation"
)

// Audit actions recorded for definitions and delegations. Instance entries
// use the InstanceAction that caused them.
const (
	AuditCreated    = "created"
	AuditUpdated    = "updated"
	AuditPublished  = "published"
	AuditArchived   = "archived"
	AuditDuplicated = "duplicated"
	AuditImported   = "imported"
	AuditDeleted    = "deleted"
	// AuditDelegationOverlap records a tie-break between overlapping delegations.
	AuditDelegationOverlap = "delegation_overlap"
)

// FieldChange is one old/new pair in an audit diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// AuditEntry is an immutable record of one edit or transition.
type AuditEntry struct {
	ID          string         `json:"id"`
	Tenant      string         `json:"tenant"`
	TargetType  AuditTarget    `json:"targetType"`
	TargetID    string         `json:"targetId"`
	Action      string         `json:"action"`
	Timestamp   time.Time      `json:"timestamp"`
	PerformedBy string         `json:"performedBy"`
	Changes     map[string]any `json:"changes,omitempty"`
}

// NewAuditEntry stamps a fresh entry.
func NewAuditEntry(tenant string, target AuditTarget, targetID, action, actor string, at time.Time, changes map[string]any) AuditEntry {
	return AuditEntry{
		ID:          uuid.NewString(),
		Tenant:      tenant,
		TargetType:  target,
		TargetID:    targetID,
		Action:      action,
		Timestamp:   at,
		PerformedBy: actor,
		Changes:     changes,
	}
}

// TransitionEntry records one applied instance action.
func TransitionEntry(inst *ApprovalInstance, res ActionResult, at time.Time, comments string) AuditEntry {
	changes := map[string]any{
		"outcome": res.Outcome,
		"status":  FieldChange{Old: res.FromStatus, New: res.ToStatus},
	}
	if res.FromStepIndex != res.ToStepIndex {
		changes["currentStepIndex"] = FieldChange{Old: res.FromStepIndex, New: res.ToStepIndex}
	}
	if len(res.OnBehalfOf) > 0 {
		changes["onBehalfOf"] = res.OnBehalfOf
	}
	if comments != "" {
		changes["comments"] = comments
	}
	if len(res.Warnings) > 0 {
		changes["warnings"] = res.Warnings
	}
	actor := res.ActorID
	if actor == "" {
		actor = SystemActor
	}
	return NewAuditEntry(inst.Tenant, AuditTargetInstance, inst.ID, string(res.Action), actor, at, changes)
}

// DiffDefinitions returns the changed fields between two versions of a definition.
// Steps are compared as a whole; a changed flow records both step lists.
func DiffDefinitions(before, after *WorkflowDefinition) map[string]any {
	changes := make(map[string]any)
	if before == nil {
		before = &WorkflowDefinition{}
	}
	if before.WorkflowName != after.WorkflowName {
		changes["workflowName"] = FieldChange{Old: before.WorkflowName, New: after.WorkflowName}
	}
	if before.Description != after.Description {
		changes["description"] = FieldChange{Old: before.Description, New: after.Description}
	}
	if before.AppliesTo != after.AppliesTo {
		changes["appliesTo"] = FieldChange{Old: before.AppliesTo, New: after.AppliesTo}
	}
	if before.RequesterRole != after.RequesterRole {
		changes["requesterRole"] = FieldChange{Old: before.RequesterRole, New: after.RequesterRole}
	}
	if before.Status != after.Status {
		changes["status"] = FieldChange{Old: before.Status, New: after.Status}
	}
	if !timePtrEqual(before.EffectiveDate, after.EffectiveDate) {
		changes["effectiveDate"] = FieldChange{Old: before.EffectiveDate, New: after.EffectiveDate}
	}
	if !intPtrEqual(before.AutoArchiveAfterDays, after.AutoArchiveAfterDays) {
		changes["autoArchiveAfterDays"] = FieldChange{Old: before.AutoArchiveAfterDays, New: after.AutoArchiveAfterDays}
	}
	if before.RevisionLabel() != after.RevisionLabel() {
		changes["revision"] = FieldChange{Old: before.RevisionLabel(), New: after.RevisionLabel()}
	}
	if !StepsEqual(before.Steps, after.Steps) {
		changes["steps"] = FieldChange{Old: before.Steps, New: after.Steps}
	}
	return changes
}

// MetadataChanged reports whether any non-step field differs.
func MetadataChanged(before, after *WorkflowDefinition) bool {
	return before.WorkflowName != after.WorkflowName ||
		before.Description != after.Description ||
		before.AppliesTo != after.AppliesTo ||
		before.RequesterRole != after.RequesterRole ||
		!timePtrEqual(before.EffectiveDate, after.EffectiveDate) ||
		!intPtrEqual(before.AutoArchiveAfterDays, after.AutoArchiveAfterDays)
}

// SortNewestFirst orders entries for history views. Entries with the same
// timestamp keep their append order reversed.
func SortNewestFirst(entries []AuditEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
