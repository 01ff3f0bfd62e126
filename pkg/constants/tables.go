package constants

// Table names of the approval schema.
const (
	TableWorkflowDefinition = "approval_workflow_definition"
	TableApprovalInstance   = "approval_instance"
	TableDelegation         = "approval_delegation"
	TableAuditLog           = "approval_audit_log"
	TableOutboxEvent        = "approval_outbox_event"
)

// Outbox event statuses
const (
	OutboxStatusPending   = "pending"
	OutboxStatusProcessed = "processed"
	OutboxStatusFailed    = "failed"
)

// OutboxMaxRetries is how often a failing event is retried before it is marked failed.
const OutboxMaxRetries = 5
