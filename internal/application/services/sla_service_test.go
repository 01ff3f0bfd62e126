package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
)

func escalatingStep() domain.Step {
	s := step(domain.RoleHR, domain.ModeSequential, 60)
	s.Escalation = domain.EscalationConfig{EscalateToRole: roleRef(domain.RoleManager), EscalateAfterMinutes: 30}
	return s
}

func TestSLAService_EscalatesOverdueStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, escalatingStep())
	inst := h.submit(t, "L-1")

	report, err := h.sm.SLA.ScanOverdueSteps(ctx, t0.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ScanReport{At: t0.Add(29 * time.Minute), Evaluated: 1}, report)

	h.clock.Advance(31 * time.Minute)
	report, err = h.sm.SLA.ScanOverdueSteps(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Escalated)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEscalated, view.Status)
	assert.Equal(t, "mike", view.PerStepState[0].EffectiveActorID)
	assert.Equal(t, domain.RoleHR, view.PerStepState[0].EscalatedFromRole)

	history, err := h.sm.Approvals.History(ctx, admin, inst.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.SystemActor, history[0].PerformedBy)
	assert.Equal(t, string(domain.ActionEscalate), history[0].Action)

	_, err = h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	assert.True(t, apperrors.IsUnauthorized(err))

	res, err := h.sm.Approvals.Act(ctx, mike, inst.ID, approve(0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Instance.Status)

	report, err = h.sm.SLA.ScanOverdueSteps(ctx, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Evaluated, "terminal instances are not scanned")
}

func TestSLAService_AutoApprovesAfterTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := step(domain.RoleHR, domain.ModeSequential, 60)
	first.SLA.AutoApproveAfterMinutes = intRef(60)
	h.publish(t, first, step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	report, err := h.sm.SLA.ScanOverdueSteps(ctx, t0.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutoApproved)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAutoApproved, view.Status)
	assert.Equal(t, 1, view.CurrentStepIndex)
	assert.Equal(t, domain.DecisionAutoApproved, view.PerStepState[0].Decision)
	assert.Contains(t, h.eventTypes(), string(events.InstanceAutoApproved))

	report, err = h.sm.SLA.ScanOverdueSteps(ctx, t0.Add(62*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.AutoApproved, "the next step runs its own clock")
}

// listThenRun runs fn once after the scan took its snapshot of open instances.
type listThenRun struct {
	ports.InstanceRepository
	fn func()
}

func (l *listThenRun) List(ctx context.Context, filter ports.InstanceFilter) ([]*domain.ApprovalInstance, error) {
	out, err := l.InstanceRepository.List(ctx, filter)
	if l.fn != nil {
		l.fn()
		l.fn = nil
	}
	return out, err
}

func TestSLAService_HumanDecisionWinsOverScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := step(domain.RoleHR, domain.ModeSequential, 60)
	first.SLA.AutoApproveAfterMinutes = intRef(60)
	h.publish(t, first, step(domain.RoleManager, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	h.clock.Advance(59 * time.Minute)
	h.sm.SLA.instances = &listThenRun{InstanceRepository: h.repos.Instances, fn: func() {
		_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
		require.NoError(t, err)
	}}

	report, err := h.sm.SLA.ScanOverdueSteps(ctx, t0.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.AutoApproved)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, view.PerStepState[0].Decision)
	assert.Equal(t, []string{"hannah"}, view.PerStepState[0].ApprovedBy)
	assert.Equal(t, 1, view.CurrentStepIndex)
	assert.Equal(t, 2, view.Version)

	history, err := h.sm.Approvals.History(ctx, admin, inst.ID, 0)
	require.NoError(t, err)
	for _, e := range history {
		assert.NotEqual(t, string(domain.ActionAutoApprove), e.Action)
	}
	assert.NotContains(t, h.eventTypes(), string(events.InstanceAutoApproved))
}

func TestSLAService_NothingConfiguredStaysOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))
	inst := h.submit(t, "L-1")

	report, err := h.sm.SLA.ScanOverdueSteps(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Overdue)
	assert.Zero(t, report.Escalated+report.AutoApproved+report.Skipped)

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Version)
	assert.Equal(t, domain.StatusPending, view.Status)
}

func TestSLAService_Summary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, step(domain.RoleHR, domain.ModeSequential, 100))

	h.submit(t, "L-1")
	h.clock.Advance(50 * time.Minute)
	h.submit(t, "L-2")

	sum, err := h.sm.SLA.Summary(ctx, hannah, "", t0.Add(80*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.SLASummary{OnTime: 1, AtRisk: 1, Total: 2}, sum)

	sum, err = h.sm.SLA.Summary(ctx, hannah, "leave_request", t0.Add(101*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.SLASummary{OnTime: 1, Breached: 1, Total: 2}, sum)

	sum, err = h.sm.SLA.Summary(ctx, hannah, "expense_claim", t0.Add(101*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
}

func TestApprovalService_ApplySLA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, escalatingStep())
	inst := h.submit(t, "L-1")

	outcome, applied, err := h.sm.Approvals.ApplySLA(ctx, inst.ID, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.SLANone, outcome)
	assert.False(t, applied)

	_, err = h.sm.Approvals.Cancel(ctx, admin, inst.ID, "")
	require.NoError(t, err)
	outcome, applied, err = h.sm.Approvals.ApplySLA(ctx, inst.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.SLANone, outcome)
	assert.False(t, applied)
}

func TestApprovalService_LateActionEscalatesFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.publish(t, escalatingStep())
	inst := h.submit(t, "L-1")

	h.clock.Advance(45 * time.Minute)
	_, err := h.sm.Approvals.Act(ctx, hannah, inst.ID, approve(0))
	assert.True(t, apperrors.IsUnauthorized(err), "the step moved to the escalation role before the approval")

	view, err := h.sm.Approvals.Get(ctx, admin, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEscalated, view.Status)
	assert.Equal(t, 2, view.Version)
	assert.Contains(t, h.eventTypes(), string(events.InstanceEscalated))
}
