package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SequentialHappyPath(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := &staticResolver{users: map[RoleLevel][]string{RoleHR: {"hannah"}, RoleManager: {"mike"}}}
	def := activeDefinition(step(RoleHR, ModeSequential, 24*60), step(RoleManager, ModeSequential, 24*60))

	inst, err := startInstance(e, def, r)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, inst.Status)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, "1.0", inst.DefinitionRevision)
	assert.Equal(t, []string{"hannah"}, inst.PerStepState[0].EligibleActorIDs)
	assert.Equal(t, t0.Add(24*time.Hour), *inst.PerStepState[0].DeadlineAt)

	res, err := e.Apply(inst, act(ActionApprove, "hannah", t0.Add(time.Hour)), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepApproved, res.Outcome)
	assert.Equal(t, 1, inst.CurrentStepIndex)
	assert.Equal(t, StatusPending, inst.Status)
	assert.Equal(t, DecisionApproved, inst.PerStepState[0].Decision)
	assert.Equal(t, []string{"hannah"}, inst.PerStepState[0].ApprovedBy)
	assert.Equal(t, "mike", inst.PerStepState[1].EffectiveActorID)

	res, err = e.Apply(inst, act(ActionApprove, "mike", t0.Add(2*time.Hour)), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, StatusCompleted, inst.Status)
	require.NotNil(t, inst.CompletedAt)
}

func TestEngine_SnapshotIsolatedFromDefinition(t *testing.T) {
	e := NewEngine(RejectFailFast)
	def := activeDefinition(step(RoleHR, ModeSequential, 60))
	inst, err := startInstance(e, def, newResolver())
	require.NoError(t, err)

	def.Steps[0].Role = RoleAdmin
	def.AddStep(NewStep(RoleAdmin))
	assert.Equal(t, RoleHR, inst.Steps[0].Role)
	assert.Len(t, inst.Steps, 1)
}

func TestEngine_StartRejections(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()

	draft := activeDefinition(NewStep(RoleHR))
	draft.Status = DefinitionDraft
	_, err := startInstance(e, draft, r)
	assert.ErrorIs(t, err, ErrInvalidState)

	other := activeDefinition(NewStep(RoleHR))
	other.AppliesTo = "expense_claim"
	_, err = startInstance(e, other, r)
	assert.ErrorIs(t, err, ErrInvalidInput)

	empty := &staticResolver{users: map[RoleLevel][]string{}}
	_, err = startInstance(e, activeDefinition(NewStep(RoleHR)), empty)
	assert.ErrorIs(t, err, ErrNoApprovers)
}

func TestEngine_SequentialUsesFirstResolvedApprover(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR), NewStep(RoleManager)), r)
	require.NoError(t, err)

	_, err = e.Apply(inst, act(ActionApprove, "harry", t0), r)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, inst.CurrentStepIndex)
}

func TestEngine_AnyOneIsIdempotent(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeAnyOne, 0), NewStep(RoleManager)), r)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hannah", "harry", "hugo"}, inst.PerStepState[0].EligibleActorIDs)

	first := act(ActionApprove, "harry", t0.Add(time.Minute))
	first.ExpectedStepIndex = intRef(0)
	res, err := e.Apply(inst, first, r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepApproved, res.Outcome)
	assert.Equal(t, 1, inst.CurrentStepIndex)

	before := inst.Clone()
	second := act(ActionApprove, "hannah", t0.Add(2*time.Minute))
	second.ExpectedStepIndex = intRef(0)
	res, err = e.Apply(inst, second, r)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, OutcomeAlreadyResolved, res.Outcome)
	assert.Equal(t, before, inst)

	// Someone who was never eligible is still refused.
	stranger := act(ActionApprove, "mike", t0.Add(3*time.Minute))
	stranger.ExpectedStepIndex = intRef(0)
	_, err = e.Apply(inst, stranger, r)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A rejection of the resolved step is no longer possible.
	late := act(ActionReject, "hannah", t0.Add(4*time.Minute))
	late.ExpectedStepIndex = intRef(0)
	_, err = e.Apply(inst, late, r)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEngine_TerminalImmutability(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeAnyOne, 0)), r)
	require.NoError(t, err)

	_, err = e.Apply(inst, act(ActionApprove, "hugo", t0), r)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, inst.Status)

	before := inst.Clone()
	for _, a := range []InstanceAction{ActionApprove, ActionReject, ActionSendBack, ActionEscalate, ActionAutoApprove, ActionCancel, ActionSubmit} {
		_, err := e.Apply(inst, act(a, "hannah", t0.Add(time.Hour)), r)
		assert.ErrorIs(t, err, ErrInvalidState, "action %s", a)
	}
	assert.Equal(t, before, inst)
}

func TestEngine_ParallelRequiresEveryApprover(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := &staticResolver{users: map[RoleLevel][]string{RoleHR: {"hannah", "harry"}, RoleManager: {"mike"}}}
	inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeParallel, 0), NewStep(RoleManager)), r)
	require.NoError(t, err)

	res, err := e.Apply(inst, act(ActionApprove, "hannah", t0), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVoteRecorded, res.Outcome)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, DecisionPending, inst.PerStepState[0].Decision)

	res, err = e.Apply(inst, act(ActionApprove, "hannah", t0.Add(time.Minute)), r)
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	res, err = e.Apply(inst, act(ActionApprove, "harry", t0.Add(2*time.Minute)), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStepApproved, res.Outcome)
	assert.Equal(t, 1, inst.CurrentStepIndex)
	assert.ElementsMatch(t, []string{"hannah", "harry"}, inst.PerStepState[0].ApprovedBy)
}

func TestEngine_ParallelRejectPolicies(t *testing.T) {
	r := newResolver() // three hr approvers

	t.Run("fail fast", func(t *testing.T) {
		e := NewEngine(RejectFailFast)
		inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeParallel, 0)), r)
		require.NoError(t, err)
		_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
		require.NoError(t, err)

		res, err := e.Apply(inst, act(ActionReject, "harry", t0), r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, res.Outcome)
		assert.Equal(t, StatusRejected, inst.Status)
	})

	t.Run("majority", func(t *testing.T) {
		e := NewEngine(RejectMajority)
		inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeParallel, 0)), r)
		require.NoError(t, err)

		res, err := e.Apply(inst, act(ActionReject, "harry", t0), r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeVoteRecorded, res.Outcome)
		assert.Equal(t, StatusPending, inst.Status)

		res, err = e.Apply(inst, act(ActionReject, "hugo", t0), r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, res.Outcome)
		assert.Equal(t, StatusRejected, inst.Status)
		assert.ElementsMatch(t, []string{"harry", "hugo"}, inst.PerStepState[0].RejectedBy)
	})

	t.Run("majority minority reject still completes", func(t *testing.T) {
		e := NewEngine(RejectMajority)
		inst, err := startInstance(e, activeDefinition(step(RoleHR, ModeParallel, 0)), r)
		require.NoError(t, err)

		_, err = e.Apply(inst, act(ActionReject, "harry", t0), r)
		require.NoError(t, err)
		_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
		require.NoError(t, err)
		res, err := e.Apply(inst, act(ActionApprove, "hugo", t0), r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, res.Outcome)
	})
}

func TestEngine_DelegationSubstitution(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := &staticResolver{
		users:       map[RoleLevel][]string{RoleHR: {"hannah"}, RoleManager: {"mike"}},
		delegations: []Delegation{delegation("d1", "hannah", "dana", leaveRequest, t0, t0.AddDate(0, 0, 2))},
	}
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR), NewStep(RoleManager)), r)
	require.NoError(t, err)
	assert.Equal(t, "dana", inst.PerStepState[0].EffectiveActorID)

	_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := e.Apply(inst, act(ActionApprove, "dana", t0), r)
	require.NoError(t, err)
	assert.Equal(t, []string{"hannah"}, res.OnBehalfOf)
	assert.Equal(t, []string{"hannah"}, inst.PerStepState[0].ApprovedBy)
	assert.Equal(t, "dana", inst.PerStepState[0].ActedBy)
}

func TestEngine_DelegationReResolvedPerAction(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := &staticResolver{
		users:       map[RoleLevel][]string{RoleHR: {"hannah"}},
		delegations: []Delegation{delegation("d1", "hannah", "dana", leaveRequest, t0, t0)},
	}
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR)), r)
	require.NoError(t, err)

	// The delegation expired overnight; hannah is the approver again.
	_, err = e.Apply(inst, act(ActionApprove, "dana", t0.AddDate(0, 0, 1)), r)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Apply(inst, act(ActionApprove, "hannah", t0.AddDate(0, 0, 1)), r)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, inst.Status)
}

func TestEngine_DelegateAction(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR)), r)
	require.NoError(t, err)

	req := act(ActionDelegate, "hannah", t0)
	req.DelegateTo = "dana"
	res, err := e.Apply(inst, req, r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelegated, res.Outcome)
	assert.Equal(t, StatusPending, inst.Status)
	assert.Equal(t, []string{"dana"}, inst.PerStepState[0].EligibleActorIDs)

	_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Apply(inst, act(ActionApprove, "dana", t0), r)
	require.NoError(t, err)

	self := act(ActionDelegate, "hannah", t0)
	self.DelegateTo = "hannah"
	inst2, err := startInstance(e, activeDefinition(NewStep(RoleHR)), r)
	require.NoError(t, err)
	_, err = e.Apply(inst2, self, r)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngine_AvailableActions(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	first := step(RoleHR, ModeSequential, 60)
	first.Permissions.CanDelegate = false
	inst, err := startInstance(e, activeDefinition(first, NewStep(RoleManager)), r)
	require.NoError(t, err)

	assert.Equal(t, []InstanceAction{ActionApprove, ActionReject, ActionSendBack, ActionCancel}, e.AvailableActions(inst))

	_, err = e.Apply(inst, act(ActionSendBack, "hannah", t0), r)
	require.NoError(t, err)
	require.Equal(t, RequesterStepIndex, inst.CurrentStepIndex)
	assert.Equal(t, []InstanceAction{ActionSubmit, ActionCancel}, e.AvailableActions(inst))

	_, err = e.Apply(inst, act(ActionCancel, "ada", t0), r)
	require.NoError(t, err)
	assert.Empty(t, e.AvailableActions(inst))
}

func TestEngine_SendBack(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	def := activeDefinition(step(RoleHR, ModeSequential, 60), NewStep(RoleManager), NewStep(RoleAdmin))

	t.Run("to earlier step", func(t *testing.T) {
		inst, err := startInstance(e, def, r)
		require.NoError(t, err)
		_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
		require.NoError(t, err)

		back := act(ActionSendBack, "mike", t0.Add(time.Hour))
		back.TargetStepIndex = intRef(0)
		back.Comments = "missing receipt"
		res, err := e.Apply(inst, back, r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSentBack, res.Outcome)
		assert.Equal(t, StatusSentBack, inst.Status)
		assert.Equal(t, 0, inst.CurrentStepIndex)

		rec := inst.PerStepState[0]
		assert.Equal(t, DecisionPending, rec.Decision)
		assert.Empty(t, rec.ApprovedBy)
		assert.Equal(t, t0.Add(time.Hour), *rec.StartedAt, "SLA clock restarts")
		assert.Equal(t, t0.Add(2*time.Hour), *rec.DeadlineAt)

		_, err = e.Apply(inst, act(ActionApprove, "hannah", t0.Add(2*time.Hour)), r)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, inst.Status)
		assert.Equal(t, 1, inst.CurrentStepIndex)
	})

	t.Run("to requester", func(t *testing.T) {
		inst, err := startInstance(e, def, r)
		require.NoError(t, err)
		_, err = e.Apply(inst, act(ActionSendBack, "hannah", t0), r)
		require.NoError(t, err)
		assert.Equal(t, RequesterStepIndex, inst.CurrentStepIndex)
		assert.Nil(t, inst.CurrentStep())

		_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
		assert.ErrorIs(t, err, ErrInvalidState)
		_, err = e.Apply(inst, act(ActionSubmit, "mike", t0), r)
		assert.ErrorIs(t, err, ErrUnauthorized)

		res, err := e.Apply(inst, act(ActionSubmit, "erin", t0.Add(time.Hour)), r)
		require.NoError(t, err)
		assert.Equal(t, OutcomeResubmitted, res.Outcome)
		assert.Equal(t, StatusPending, inst.Status)
		assert.Equal(t, 0, inst.CurrentStepIndex)
	})

	t.Run("forward target refused", func(t *testing.T) {
		inst, err := startInstance(e, def, r)
		require.NoError(t, err)
		back := act(ActionSendBack, "hannah", t0)
		back.TargetStepIndex = intRef(1)
		_, err = e.Apply(inst, back, r)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, StatusPending, inst.Status)
	})
}

func TestEngine_StepPermissions(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	s := NewStep(RoleHR)
	s.Permissions = StepPermissions{}
	inst, err := startInstance(e, activeDefinition(s), r)
	require.NoError(t, err)

	for _, a := range []InstanceAction{ActionReject, ActionSendBack} {
		_, err := e.Apply(inst, act(a, "hannah", t0), r)
		assert.ErrorIs(t, err, ErrUnauthorized, "action %s", a)
	}
	d := act(ActionDelegate, "hannah", t0)
	d.DelegateTo = "dana"
	_, err = e.Apply(inst, d, r)
	assert.ErrorIs(t, err, ErrUnauthorized)

	withComment := act(ActionApprove, "hannah", t0)
	withComment.Comments = "ok"
	_, err = e.Apply(inst, withComment, r)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.Apply(inst, act(ActionApprove, "hannah", t0), r)
	require.NoError(t, err)
}

func TestEngine_Cancel(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR)), r)
	require.NoError(t, err)

	res, err := e.Apply(inst, act(ActionCancel, "ada", t0), r)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, inst.Status.IsTerminal())
}

func TestEngine_ApplyRequiresTimeAndActor(t *testing.T) {
	e := NewEngine(RejectFailFast)
	r := newResolver()
	inst, err := startInstance(e, activeDefinition(NewStep(RoleHR)), r)
	require.NoError(t, err)

	_, err = e.Apply(inst, ActionRequest{Action: ActionApprove, ActorID: "hannah"}, r)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Apply(inst, act(ActionApprove, "", t0), r)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseRejectPolicy(t *testing.T) {
	p, err := ParseRejectPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RejectFailFast, p)
	p, err = ParseRejectPolicy("Majority")
	require.NoError(t, err)
	assert.Equal(t, RejectMajority, p)
	_, err = ParseRejectPolicy("quorum")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
