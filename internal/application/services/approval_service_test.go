package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/auth"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
)

func approve(stepIndex int) ActRequest {
	return ActRequest{Action: domain.ActionApprove, ExpectedStepIndex: expectStep(stepIndex)}
}

func TestApprovalService_SequentialHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60), step(domain.RoleManager, domain.ModeSequential, 60))

	inst := h.submit(t, "L-1")
	assert.Equal(t, domain.StatusPending, inst.Status)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, "hannah", inst.PerStepState[0].EffectiveActorID)
	assert.Equal(t, "1.0", inst.DefinitionRevision)

	h.clock.Advance(time.Minute)
	_, err := h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	assert.True(t, apperrors.IsUnauthorized(err), "sequential steps wait for the first approver only")

	res, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: domain.ActionApprove, Comments: "ok", ExpectedStepIndex: expectStep(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStepApproved, res.Result.Outcome)
	assert.Equal(t, 1, res.Instance.CurrentStepIndex)
	assert.Equal(t, 2, res.Instance.Version)

	h.clock.Advance(time.Minute)
	res, err = h.sm.Approvals.Act(ctx, mike, inst.ID, approve(1))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Result.Outcome)
	assert.Equal(t, domain.StatusCompleted, res.Instance.Status)
	require.NotNil(t, res.Instance.CompletedAt)

	_, err = h.sm.Approvals.Act(ctx, mike, inst.ID, approve(1))
	assert.True(t, apperrors.IsInvalidState(err), "terminal instances never change")

	assert.Equal(t, []string{
		string(events.DefinitionPublished),
		string(events.InstanceSubmitted),
		string(events.InstanceApproved),
		string(events.InstanceApproved),
		string(events.InstanceCompleted),
	}, h.eventTypes())

	history, err := h.sm.Approvals.History(ctx, requester, inst.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "approve", history[0].Action)
	assert.Equal(t, "mike", history[0].PerformedBy)
	assert.Equal(t, "submit", history[2].Action)
	assert.Equal(t, "ok", history[1].Changes["comments"])

	view, err := h.sm.Approvals.Get(ctx, requester, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Annual leave, 3 days", view.EntityLabel)
}

func TestApprovalService_CreateRequiresActiveDefinition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sm.Approvals.Create(ctx, requester, CreateInstanceRequest{EntityType: "leave_request", EntityID: "L-1"})
	assert.True(t, apperrors.IsInvalidState(err))

	_, err = h.sm.Approvals.Create(ctx, requester, CreateInstanceRequest{EntityType: "leave_request"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.sm.Approvals.Create(ctx, nil, CreateInstanceRequest{EntityType: "leave_request", EntityID: "L-1"})
	assert.Equal(t, 401, apperrors.GetHTTPStatus(err))
}

func TestApprovalService_OneOpenInstancePerEntity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))

	first := h.submit(t, "L-1")
	_, err := h.sm.Approvals.Create(ctx, requester, CreateInstanceRequest{EntityType: "leave_request", EntityID: "L-1"})
	assert.True(t, apperrors.IsConflict(err))

	_, err = h.sm.Approvals.Cancel(ctx, requester, first.ID, "changed plans")
	assert.True(t, apperrors.IsUnauthorized(err))

	res, err := h.sm.Approvals.Cancel(ctx, admin, first.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Instance.Status)

	second := h.submit(t, "L-1")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestApprovalService_RejectEndsInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	res, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: domain.ActionReject, Comments: "no cover", ExpectedStepIndex: expectStep(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Instance.Status)
	assert.Equal(t, []string{"hannah"}, res.Instance.PerStepState[0].RejectedBy)
	assert.Contains(t, h.eventTypes(), string(events.InstanceRejected))

	_, err = h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: domain.ActionEscalate, ExpectedStepIndex: expectStep(0)})
	assert.True(t, apperrors.IsValidation(err), "system actions are not accepted from users")
}

func TestApprovalService_AnyOneStaleApproveIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeAnyOne, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")
	assert.ElementsMatch(t, []string{"hannah", "harry"}, inst.PerStepState[0].EligibleActorIDs)

	res, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)
	assert.True(t, res.Result.Changed())

	res, err = h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	require.NoError(t, err)
	assert.True(t, res.Result.NoOp)
	assert.Equal(t, domain.OutcomeAlreadyResolved, res.Result.Outcome)
	assert.Equal(t, 1, res.Instance.CurrentStepIndex)
	assert.Equal(t, 2, res.Instance.Version, "a no-op is not written")

	history, err := h.sm.Approvals.History(ctx, admin, inst.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestApprovalService_ActRequiresStepReference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeAnyOne, 60))
	inst := h.submit(t, "L-1")

	for _, action := range []domain.InstanceAction{domain.ActionApprove, domain.ActionReject, domain.ActionSendBack, domain.ActionDelegate} {
		_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: action})
		assert.True(t, apperrors.IsValidation(err), action)
		assert.Equal(t, 400, apperrors.GetHTTPStatus(err))
	}

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Version)
}

func TestApprovalService_LateAnyOneApproveAfterAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeAnyOne, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)

	res, err := h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	require.NoError(t, err, "harry is not an approver of the manager step but his approval already happened")
	assert.True(t, res.Result.NoOp)
	assert.Equal(t, domain.OutcomeAlreadyResolved, res.Result.Outcome)
	assert.Equal(t, 1, res.Instance.CurrentStepIndex)

	_, err = h.sm.Approvals.Act(ctx, mike, inst.ID, approve(0))
	assert.True(t, apperrors.IsUnauthorized(err), "mike was never eligible for the first step")
}

func TestApprovalService_LateAnyOneApproveLeavesNextStepAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t,
		step(domain.RoleHR, domain.ModeAnyOne, 60),
		step(domain.RoleHR, domain.ModeAnyOne, 60),
		step(domain.RoleManager, domain.ModeSequential, 60),
	)
	inst := h.submit(t, "L-1")

	_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)

	res, err := h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	require.NoError(t, err)
	assert.True(t, res.Result.NoOp)
	assert.Equal(t, 1, res.Instance.CurrentStepIndex)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Version)
	assert.Equal(t, 1, view.CurrentStepIndex)
	assert.Equal(t, domain.DecisionPending, view.PerStepState[1].Decision)
	assert.Empty(t, view.PerStepState[1].ApprovedBy)

	res, err = h.sm.Approvals.Act(ctx, harry, inst.ID, approve(1))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Instance.CurrentStepIndex)
	assert.Equal(t, []string{"harry"}, res.Instance.PerStepState[1].ApprovedBy)
}

func TestApprovalService_ConcurrentAnyOneApprovals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeAnyOne, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	var wg sync.WaitGroup
	results := make([]*InstanceResult, 2)
	errs := make([]error, 2)
	for i, actor := range []*auth.UserSession{hannah, harry} {
		wg.Add(1)
		go func(i int, actor *auth.UserSession) {
			defer wg.Done()
			results[i], errs[i] = h.sm.Approvals.Act(ctx, actor, inst.ID, approve(0))
		}(i, actor)
	}
	wg.Wait()

	changed := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Result.Changed() {
			changed++
		}
	}
	assert.Equal(t, 1, changed)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.CurrentStepIndex)
	assert.Len(t, view.PerStepState[0].ApprovedBy, 1)
}

func TestApprovalService_ParallelNeedsEveryApprover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeParallel, 60))
	inst := h.submit(t, "L-1")

	res, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeVoteRecorded, res.Result.Outcome)
	assert.Equal(t, domain.StatusPending, res.Instance.Status)

	res, err = h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)
	assert.True(t, res.Result.NoOp, "a second vote by the same approver changes nothing")

	res, err = h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Instance.Status)
}

func TestApprovalService_DelegateSubstitution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.Put(ports.User{ID: "dana", Name: "Dana", Role: domain.RoleEmployee, Tenant: tenant})
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))

	_, err := h.sm.Delegations.Create(ctx, hannah, DelegationInput{
		DelegatorID: "hannah", DelegateID: "dana", EntityType: "leave_request",
		StartDate: t0, EndDate: t0.AddDate(0, 0, 5),
	})
	require.NoError(t, err)

	inst := h.submit(t, "L-1")
	assert.Equal(t, "dana", inst.PerStepState[0].EffectiveActorID)

	_, err = h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	assert.True(t, apperrors.IsUnauthorized(err))

	res, err := h.sm.Approvals.Act(ctx, session("dana", domain.RoleEmployee), inst.ID, approve(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"hannah"}, res.Result.OnBehalfOf)
	assert.Equal(t, []string{"hannah"}, res.Instance.PerStepState[0].ApprovedBy)
	assert.Equal(t, domain.StatusCompleted, res.Instance.Status)
}

func TestApprovalService_OverlappingDelegationsAreAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dir.Put(ports.User{ID: "dana", Name: "Dana", Role: domain.RoleEmployee, Tenant: tenant})
	h.dir.Put(ports.User{ID: "dave", Name: "Dave", Role: domain.RoleEmployee, Tenant: tenant})
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))

	_, err := h.sm.Delegations.Create(ctx, hannah, DelegationInput{
		DelegatorID: "hannah", DelegateID: "dana", EntityType: "leave_request",
		StartDate: t0.AddDate(0, 0, -1), EndDate: t0.AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	later, err := h.sm.Delegations.Create(ctx, hannah, DelegationInput{
		DelegatorID: "hannah", DelegateID: "dave", EntityType: domain.AnyEntityType,
		StartDate: t0, EndDate: t0.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	assert.Len(t, later.Warnings, 1)

	inst := h.submit(t, "L-1")
	assert.Equal(t, "dave", inst.PerStepState[0].EffectiveActorID, "the latest start date wins")

	history, err := h.sm.Audit.History(ctx, domain.AuditTargetDelegation, later.Delegation.ID, 0)
	require.NoError(t, err)
	var resolved bool
	for _, e := range history {
		if e.Action == domain.AuditDelegationOverlap && e.Changes["instanceId"] == inst.ID {
			resolved = true
			assert.Equal(t, "system", e.PerformedBy)
			assert.ElementsMatch(t, []string{"dana", "dave"}, e.Changes["candidates"])
		}
	}
	assert.True(t, resolved, "the tie-break is recorded with the transition")
}

func TestApprovalService_SendBackAndResubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)

	res, err := h.sm.Approvals.Act(ctx, mike, inst.ID, ActRequest{Action: domain.ActionSendBack, Comments: "attach the form", ExpectedStepIndex: expectStep(1)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentBack, res.Instance.Status)
	assert.Equal(t, domain.RequesterStepIndex, res.Instance.CurrentStepIndex)
	assert.Empty(t, res.Instance.PerStepState[0].ApprovedBy)

	view, err := h.sm.Approvals.Get(ctx, requester, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.InstanceAction{domain.ActionSubmit}, view.AvailableActions)
	view, err = h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.InstanceAction{domain.ActionSubmit, domain.ActionCancel}, view.AvailableActions)

	mine, err := h.sm.Approvals.List(ctx, requester, ports.InstanceFilter{}, true)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, inst.ID, mine[0].ID)

	_, err = h.sm.Approvals.Resubmit(ctx, hannah, inst.ID, "")
	assert.True(t, apperrors.IsUnauthorized(err))

	res, err = h.sm.Approvals.Resubmit(ctx, requester, inst.ID, "form attached")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Instance.Status)
	assert.Equal(t, 0, res.Instance.CurrentStepIndex)
	assert.Equal(t, domain.OutcomeResubmitted, res.Result.Outcome)

	queue, err := h.sm.Approvals.List(ctx, hannah, ports.InstanceFilter{}, true)
	require.NoError(t, err)
	assert.Len(t, queue, 1)
	queue, err = h.sm.Approvals.List(ctx, mike, ports.InstanceFilter{}, true)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestApprovalService_SendBackToEarlierStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60), step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")
	_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	require.NoError(t, err)

	res, err := h.sm.Approvals.Act(ctx, mike, inst.ID, ActRequest{Action: domain.ActionSendBack, TargetStepIndex: expectStep(0), ExpectedStepIndex: expectStep(1)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Instance.CurrentStepIndex)
	assert.Equal(t, domain.DecisionPending, res.Instance.PerStepState[0].Decision)

	_, err = h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: domain.ActionSendBack, TargetStepIndex: expectStep(1), ExpectedStepIndex: expectStep(0)})
	assert.True(t, apperrors.IsValidation(err), "only earlier steps are valid targets")
}

func TestApprovalService_DelegateAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	res, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, ActRequest{Action: domain.ActionDelegate, DelegateTo: "harry", ExpectedStepIndex: expectStep(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDelegated, res.Result.Outcome)
	assert.Equal(t, "harry", res.Instance.PerStepState[0].EffectiveActorID)

	res, err = h.sm.Approvals.Act(ctx, harry, inst.ID, approve(0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Instance.Status)
	assert.Contains(t, h.eventTypes(), string(events.InstanceDelegated))
}

func TestApprovalService_TenantIsolation(t *testing.T) {
	h := newHarness(t)
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	outsider := session("hannah", domain.RoleHR)
	outsider.Tenant = "globex"
	_, err := h.sm.Approvals.Act(context.Background(), outsider, inst.ID, approve(0))
	assert.True(t, apperrors.IsNotFound(err))
}
