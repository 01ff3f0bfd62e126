package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffDefinitions(t *testing.T) {
	before := activeDefinition(NewStep(RoleHR))
	after := before.Clone()
	after.WorkflowName = "Leave approval v2"
	after.VersionMinor = 1

	changes := DiffDefinitions(before, after)
	assert.Equal(t, FieldChange{Old: "Leave approval", New: "Leave approval v2"}, changes["workflowName"])
	assert.Equal(t, FieldChange{Old: "1.0", New: "1.1"}, changes["revision"])
	assert.NotContains(t, changes, "steps")
	assert.True(t, MetadataChanged(before, after))

	after.AddStep(NewStep(RoleManager))
	changes = DiffDefinitions(before, after)
	assert.Contains(t, changes, "steps")

	created := DiffDefinitions(nil, before)
	assert.Contains(t, created, "workflowName")
	assert.Contains(t, created, "steps")
}

func TestTransitionEntry(t *testing.T) {
	inst := &ApprovalInstance{ID: "inst-1", Tenant: "acme"}
	res := ActionResult{
		Action:        ActionApprove,
		Outcome:       OutcomeStepApproved,
		ActorID:       "dana",
		OnBehalfOf:    []string{"hannah"},
		FromStatus:    StatusPending,
		ToStatus:      StatusPending,
		FromStepIndex: 0,
		ToStepIndex:   1,
	}
	entry := TransitionEntry(inst, res, t0, "looks fine")

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, AuditTargetInstance, entry.TargetType)
	assert.Equal(t, "approve", entry.Action)
	assert.Equal(t, "dana", entry.PerformedBy)
	assert.Equal(t, FieldChange{Old: 0, New: 1}, entry.Changes["currentStepIndex"])
	assert.Equal(t, []string{"hannah"}, entry.Changes["onBehalfOf"])
	assert.Equal(t, "looks fine", entry.Changes["comments"])

	res.ActorID = ""
	assert.Equal(t, SystemActor, TransitionEntry(inst, res, t0, "").PerformedBy)
}

func TestSortNewestFirst(t *testing.T) {
	entries := []AuditEntry{
		{ID: "a", Timestamp: t0},
		{ID: "b", Timestamp: t0.Add(time.Minute)},
		{ID: "c", Timestamp: t0.Add(time.Minute)},
		{ID: "d", Timestamp: t0.Add(-time.Minute)},
	}
	SortNewestFirst(entries)

	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	require.Len(t, ids, 4)
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}
