package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDenseOrder(t *testing.T, def *WorkflowDefinition) {
	t.Helper()
	require.NotEmpty(t, def.Steps)
	for i, s := range def.Steps {
		assert.Equal(t, i+1, s.Order, "step at index %d", i)
	}
}

func TestNewDefinition(t *testing.T) {
	def := NewDefinition("Expenses", "expense_claim", RoleEmployee)
	assert.Equal(t, DefinitionDraft, def.Status)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, RoleHR, def.Steps[0].Role)
	assert.Equal(t, "1.0", def.RevisionLabel())
	assertDenseOrder(t, def)

	def = NewDefinition("Expenses", "expense_claim", RoleHR)
	assert.Equal(t, RoleManager, def.Steps[0].Role)
}

func TestBuilder_AddAndRemove(t *testing.T) {
	def := NewDefinition("Leave", leaveRequest, RoleEmployee)
	idx := def.AddStep(Step{Role: RoleManager, Mode: ModeSequential})
	assert.Equal(t, 1, idx)
	assert.NotEmpty(t, def.Steps[1].ID)
	assertDenseOrder(t, def)

	removed, err := def.RemoveStep(0)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, RoleManager, def.Steps[0].Role)
	assertDenseOrder(t, def)

	// The last step stays.
	removed, err = def.RemoveStep(0)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Len(t, def.Steps, 1)

	_, err = def.RemoveStep(3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuilder_MoveStep(t *testing.T) {
	def := activeDefinition(NewStep(RoleHR), NewStep(RoleManager), NewStep(RoleAdmin))
	ids := []string{def.Steps[0].ID, def.Steps[1].ID, def.Steps[2].ID}

	tests := []struct {
		name     string
		from, to int
		want     []string
	}{
		{"first to last", 0, 2, []string{ids[1], ids[2], ids[0]}},
		{"last to first", 2, 0, []string{ids[2], ids[0], ids[1]}},
		{"middle down", 1, 2, []string{ids[0], ids[2], ids[1]}},
		{"same position", 1, 1, ids},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := def.Clone()
			require.NoError(t, d.MoveStep(tc.from, tc.to))
			var got []string
			for _, s := range d.Steps {
				got = append(got, s.ID)
			}
			assert.Equal(t, tc.want, got)
			assertDenseOrder(t, d)
		})
	}

	assert.ErrorIs(t, def.MoveStep(0, 5), ErrInvalidInput)
	assert.ErrorIs(t, def.MoveStep(-1, 0), ErrInvalidInput)
}

func TestBuilder_DuplicateStep(t *testing.T) {
	s := NewStep(RoleHR)
	s.Escalation.EscalateToRole = roleRef(RoleManager)
	s.SLA.AutoApproveAfterMinutes = intRef(90)
	def := activeDefinition(s, NewStep(RoleAdmin))

	idx, err := def.DuplicateStep(0)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	require.Len(t, def.Steps, 3)
	assertDenseOrder(t, def)

	orig, dup := def.Steps[0], def.Steps[1]
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, orig.Role, dup.Role)
	assert.Equal(t, RoleManager, *dup.Escalation.EscalateToRole)

	// The copy does not share pointers with the original.
	*dup.SLA.AutoApproveAfterMinutes = 5
	assert.Equal(t, 90, *def.Steps[0].SLA.AutoApproveAfterMinutes)
}

func TestBuilder_UpdateStep(t *testing.T) {
	def := activeDefinition(NewStep(RoleHR))
	name := "HR check"
	mode := ModeAnyOne
	limit := 120

	err := def.UpdateStep(0, StepPatch{
		Name:             &name,
		Mode:             &mode,
		TimeLimitMinutes: &limit,
		EscalateToRole:   roleRef(RoleAdmin),
	})
	require.NoError(t, err)
	got := def.Steps[0]
	assert.Equal(t, "HR check", got.Name)
	assert.Equal(t, ModeAnyOne, got.Mode)
	assert.Equal(t, 120, got.SLA.TimeLimitMinutes)
	assert.Equal(t, RoleAdmin, *got.Escalation.EscalateToRole)
	assert.Equal(t, RoleHR, got.Role)

	require.NoError(t, def.UpdateStep(0, StepPatch{ClearEscalation: true}))
	assert.False(t, def.Steps[0].Escalation.Configured())

	assert.ErrorIs(t, def.UpdateStep(1, StepPatch{}), ErrInvalidInput)
}

func TestStepsEqual_IgnoresIDs(t *testing.T) {
	a := activeDefinition(NewStep(RoleHR), NewStep(RoleManager))
	b := a.Clone()
	for i := range b.Steps {
		b.Steps[i].ID = "other"
	}
	assert.True(t, StepsEqual(a.Steps, b.Steps))

	b.Steps[1].SLA.AutoApproveAfterMinutes = intRef(30)
	assert.False(t, StepsEqual(a.Steps, b.Steps))
	assert.False(t, StepsEqual(a.Steps, a.Steps[:1]))
}

func TestDefinition_EffectiveAndArchiveDue(t *testing.T) {
	def := activeDefinition(NewStep(RoleHR))
	assert.True(t, def.IsEffective(t0))
	assert.Nil(t, def.ArchiveDue())

	eff := t0.Add(48 * time.Hour)
	def.EffectiveDate = &eff
	def.AutoArchiveAfterDays = intRef(10)
	assert.False(t, def.IsEffective(t0))
	assert.True(t, def.IsEffective(eff))
	assert.Equal(t, eff.AddDate(0, 0, 10), *def.ArchiveDue())

	def.Status = DefinitionDraft
	assert.False(t, def.IsEffective(eff))
}
