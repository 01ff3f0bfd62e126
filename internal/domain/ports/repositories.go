package ports

import (
	"context"
	"errors"
	"time"

	"github.com/nexuscrm/approvals/internal/domain"
)

// Repository errors. Adapters wrap these so services can tell them apart.
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a compare-and-set on Version fails.
	ErrVersionConflict = errors.New("version conflict")
)

// DefinitionFilter narrows definition listings. Empty fields match everything.
type DefinitionFilter struct {
	Tenant    string
	AppliesTo string
	Status    domain.DefinitionStatus
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	Create(ctx context.Context, def *domain.WorkflowDefinition) error
	// Update writes def when the stored Version equals expectedVersion and
	// stores it with def.Version. Otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, def *domain.WorkflowDefinition, expectedVersion int) error
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	List(ctx context.Context, filter DefinitionFilter) ([]*domain.WorkflowDefinition, error)
}

// InstanceFilter narrows instance listings. Empty fields match everything.
type InstanceFilter struct {
	Tenant     string
	EntityType string
	EntityID   string
	Status     domain.InstanceStatus
	// OpenOnly restricts the result to non-terminal instances.
	OpenOnly bool
}

// InstanceRepository stores approval instances.
type InstanceRepository interface {
	Create(ctx context.Context, inst *domain.ApprovalInstance) error
	// Update is a compare-and-set on Version like DefinitionRepository.Update.
	Update(ctx context.Context, inst *domain.ApprovalInstance, expectedVersion int) error
	Get(ctx context.Context, id string) (*domain.ApprovalInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*domain.ApprovalInstance, error)
}

// DelegationFilter narrows delegation listings.
type DelegationFilter struct {
	Tenant      string
	DelegatorID string
	ActiveOnly  bool
}

// DelegationRepository stores delegation records.
type DelegationRepository interface {
	Create(ctx context.Context, d *domain.Delegation) error
	Update(ctx context.Context, d *domain.Delegation) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Delegation, error)
	List(ctx context.Context, filter DelegationFilter) ([]domain.Delegation, error)
}

// AuditRepository is the append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, entries ...domain.AuditEntry) error
	// ListByTarget returns the entries of one target, newest first.
	ListByTarget(ctx context.Context, target domain.AuditTarget, targetID string, limit int) ([]domain.AuditEntry, error)
}

// OutboxEvent is a pending event written in the same transaction as the state change.
type OutboxEvent struct {
	ID          string     `json:"id"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// OutboxRepository persists events for at-least-once delivery.
type OutboxRepository interface {
	Enqueue(ctx context.Context, eventType string, payload interface{}) error
	GetPendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	// ClaimEvent locks a pending event for the current transaction; false means
	// another worker holds it or it is no longer pending.
	ClaimEvent(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id, status, lastError string) error
	IncrementRetry(ctx context.Context, id, lastError string) (int, error)
	CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TransactionManager runs fn in a storage transaction carried by the context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
