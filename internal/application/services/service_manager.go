package services

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
)

// Repositories bundles the storage adapters the services run on.
type Repositories struct {
	Definitions ports.DefinitionRepository
	Instances   ports.InstanceRepository
	Delegations ports.DelegationRepository
	Audit       ports.AuditRepository
	Outbox      ports.OutboxRepository
	TxManager   ports.TransactionManager
}

// Options carries the tunables of the service layer.
type Options struct {
	DefaultTenant      string
	RejectPolicy       domain.ParallelRejectPolicy
	AtRiskFraction     float64
	ValidationDebounce time.Duration
	SLAScanSchedule    string
	PolicyRules        []PolicyRule
}

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	EventBus    *EventBus
	Audit       *AuditService
	Outbox      *OutboxService
	Validation  *ValidationService
	Workflows   *WorkflowService
	Delegations *DelegationService
	Approvals   *ApprovalService
	SLA         *SLAService
	Scheduler   *SchedulerService
	Metrics     *metrics.Metrics
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(repos Repositories, directory ports.Directory, m *metrics.Metrics, opts Options, logger zerolog.Logger) (*ServiceManager, error) {
	sm := &ServiceManager{Metrics: m}

	// Initialize services in dependency order
	sm.EventBus = NewEventBus(logger)
	sm.Audit = NewAuditService(repos.Audit)
	sm.Outbox = NewOutboxService(repos.Outbox, repos.TxManager, sm.EventBus, m, logger)
	sm.Validation = NewValidationService(repos.Definitions, opts.PolicyRules, opts.ValidationDebounce, m, logger)
	sm.Workflows = NewWorkflowService(repos.Definitions, repos.TxManager, sm.Audit, sm.Outbox, sm.Validation, opts.DefaultTenant, logger)
	sm.Delegations = NewDelegationService(repos.Delegations, directory, repos.TxManager, sm.Audit, opts.DefaultTenant, logger)

	engine := domain.NewEngine(opts.RejectPolicy)
	sm.Approvals = NewApprovalService(
		repos.Definitions, repos.Instances, directory, sm.Delegations,
		repos.TxManager, sm.Audit, sm.Outbox, engine, m, opts.DefaultTenant, logger,
	)
	sm.SLA = NewSLAService(repos.Instances, sm.Approvals, m, opts.AtRiskFraction, opts.DefaultTenant, logger)

	scheduler, err := NewSchedulerService(opts.SLAScanSchedule, sm.SLA, sm.Workflows, sm.Outbox, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sm.Scheduler = scheduler

	return sm, nil
}

// Start launches the outbox worker and the scheduler.
func (sm *ServiceManager) Start(outboxInterval time.Duration) {
	sm.Outbox.StartWorker(outboxInterval)
	sm.Scheduler.Start()
}

// Stop shuts the background workers down.
func (sm *ServiceManager) Stop() {
	sm.Scheduler.Stop()
	sm.Outbox.StopWorker()
}
