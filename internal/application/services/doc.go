// Package services provides the business logic layer of the approvals service.
//
// This package contains the service implementations that handle:
//   - Workflow definition CRUD, builder operations, publish and archive (WorkflowService)
//   - Local and canonical validation with server policy rules (ValidationService)
//   - Approval instance lifecycle with per-instance critical sections (ApprovalService)
//   - Delegation records and resolution (DelegationService)
//   - SLA scanning, summaries and auto-archive (SLAService, SchedulerService)
//   - The audit trail (AuditService)
//   - Transactional event storage and delivery (OutboxService, EventBus)
//
// Services receive their repositories through the ports interfaces, so the
// same wiring runs against MySQL/TiDB or the in-memory store.
package services
