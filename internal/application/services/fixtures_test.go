package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/directory"
	"github.com/nexuscrm/approvals/internal/infrastructure/memory"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/pkg/auth"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const tenant = "acme"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	sm     *ServiceManager
	repos  Repositories
	outbox *memory.OutboxRepository
	dir    *directory.Static
	clock  *fakeClock
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	dir := directory.NewStatic(
		ports.User{ID: "erin", Name: "Erin", Role: domain.RoleEmployee, Tenant: tenant},
		ports.User{ID: "hannah", Name: "Hannah", Role: domain.RoleHR, Tenant: tenant},
		ports.User{ID: "harry", Name: "Harry", Role: domain.RoleHR, Tenant: tenant},
		ports.User{ID: "mike", Name: "Mike", Role: domain.RoleManager, Tenant: tenant},
		ports.User{ID: "ada", Name: "Ada", Role: domain.RoleAdmin, Tenant: tenant},
	)
	dir.Describe("leave_request", "L-1", "Annual leave, 3 days")

	outbox := memory.NewOutboxRepository()
	repos := Repositories{
		Definitions: memory.NewDefinitionRepository(),
		Instances:   memory.NewInstanceRepository(),
		Delegations: memory.NewDelegationRepository(),
		Audit:       memory.NewAuditRepository(),
		Outbox:      outbox,
		TxManager:   memory.NewTransactionManager(),
	}
	opts := Options{
		DefaultTenant:   tenant,
		RejectPolicy:    domain.RejectFailFast,
		AtRiskFraction:  0.75,
		SLAScanSchedule: "@every 1m",
	}
	for _, fn := range configure {
		fn(&opts)
	}
	sm, err := NewServiceManager(repos, dir, metrics.New(), opts, zerolog.Nop())
	require.NoError(t, err)

	clock := &fakeClock{now: t0}
	sm.Workflows.now = clock.Now
	sm.Approvals.now = clock.Now
	sm.Delegations.now = clock.Now
	sm.Validation.now = clock.Now
	sm.Scheduler.now = clock.Now
	return &harness{sm: sm, repos: repos, outbox: outbox, dir: dir, clock: clock}
}

func session(id string, role domain.RoleLevel) *auth.UserSession {
	return &auth.UserSession{ID: id, Name: id, Role: string(role), Tenant: tenant}
}

var (
	admin     = session("ada", domain.RoleAdmin)
	requester = session("erin", domain.RoleEmployee)
	hannah    = session("hannah", domain.RoleHR)
	harry     = session("harry", domain.RoleHR)
	mike      = session("mike", domain.RoleManager)
)

func step(role domain.RoleLevel, mode domain.StepMode, limit int) domain.Step {
	s := domain.NewStep(role)
	s.Mode = mode
	s.SLA.TimeLimitMinutes = limit
	return s
}

func roleRef(r domain.RoleLevel) *domain.RoleLevel { return &r }

func intRef(v int) *int { return &v }

func leaveDefinition(steps ...domain.Step) *domain.WorkflowDefinition {
	def := domain.NewDefinition("Leave approval", "leave_request", domain.RoleEmployee)
	def.Steps = steps
	return def
}

// publish creates and activates a leave_request definition.
func (h *harness) publish(t *testing.T, steps ...domain.Step) *domain.WorkflowDefinition {
	t.Helper()
	ctx := context.Background()
	created, err := h.sm.Workflows.Create(ctx, admin, leaveDefinition(steps...))
	require.NoError(t, err)
	published, err := h.sm.Workflows.Publish(ctx, admin, created.Definition.ID, created.Definition.Version)
	require.NoError(t, err)
	return published.Definition
}

func (h *harness) submit(t *testing.T, entityID string) *domain.ApprovalInstance {
	t.Helper()
	res, err := h.sm.Approvals.Create(context.Background(), requester, CreateInstanceRequest{EntityType: "leave_request", EntityID: entityID})
	require.NoError(t, err)
	return res.Instance
}

func (h *harness) eventTypes() []string {
	var out []string
	for _, e := range h.outbox.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func expectStep(i int) *int { return &i }
