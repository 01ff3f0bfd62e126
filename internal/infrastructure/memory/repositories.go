// Package memory holds in-process implementations of the storage ports,
// used by tests and by STORAGE=memory deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
)

// DefinitionRepository keeps definitions in a map. Values are cloned on the
// way in and out so callers never share state with the store.
type DefinitionRepository struct {
	mu   sync.RWMutex
	defs map[string]*domain.WorkflowDefinition
}

func NewDefinitionRepository() *DefinitionRepository {
	return &DefinitionRepository{defs: make(map[string]*domain.WorkflowDefinition)}
}

var _ ports.DefinitionRepository = (*DefinitionRepository)(nil)

func (r *DefinitionRepository) Create(_ context.Context, def *domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.ID]; ok {
		return fmt.Errorf("workflow definition %s already exists", def.ID)
	}
	r.defs[def.ID] = def.Clone()
	return nil
}

func (r *DefinitionRepository) Update(_ context.Context, def *domain.WorkflowDefinition, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.defs[def.ID]
	if !ok {
		return fmt.Errorf("workflow definition %s: %w", def.ID, ports.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("workflow definition %s at version %d: %w", def.ID, cur.Version, ports.ErrVersionConflict)
	}
	r.defs[def.ID] = def.Clone()
	return nil
}

func (r *DefinitionRepository) Get(_ context.Context, id string) (*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("workflow definition %s: %w", id, ports.ErrNotFound)
	}
	return def.Clone(), nil
}

func (r *DefinitionRepository) List(_ context.Context, f ports.DefinitionFilter) ([]*domain.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.WorkflowDefinition
	for _, def := range r.defs {
		if f.Tenant != "" && def.Tenant != f.Tenant {
			continue
		}
		if f.AppliesTo != "" && def.AppliesTo != f.AppliesTo {
			continue
		}
		if f.Status != "" && def.Status != f.Status {
			continue
		}
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InstanceRepository keeps approval instances in a map.
type InstanceRepository struct {
	mu        sync.RWMutex
	instances map[string]*domain.ApprovalInstance
}

func NewInstanceRepository() *InstanceRepository {
	return &InstanceRepository{instances: make(map[string]*domain.ApprovalInstance)}
}

var _ ports.InstanceRepository = (*InstanceRepository)(nil)

func (r *InstanceRepository) Create(_ context.Context, inst *domain.ApprovalInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("approval instance %s already exists", inst.ID)
	}
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *InstanceRepository) Update(_ context.Context, inst *domain.ApprovalInstance, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[inst.ID]
	if !ok {
		return fmt.Errorf("approval instance %s: %w", inst.ID, ports.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("approval instance %s at version %d: %w", inst.ID, cur.Version, ports.ErrVersionConflict)
	}
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *InstanceRepository) Get(_ context.Context, id string) (*domain.ApprovalInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("approval instance %s: %w", id, ports.ErrNotFound)
	}
	return inst.Clone(), nil
}

func (r *InstanceRepository) List(_ context.Context, f ports.InstanceFilter) ([]*domain.ApprovalInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ApprovalInstance
	for _, inst := range r.instances {
		if f.Tenant != "" && inst.Tenant != f.Tenant {
			continue
		}
		if f.EntityID != "" && inst.EntityID != f.EntityID {
			continue
		}
		if f.EntityType != "" && inst.EntityType != f.EntityType {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		if f.OpenOnly && inst.Status.IsTerminal() {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DelegationRepository keeps delegation records in a map.
type DelegationRepository struct {
	mu          sync.RWMutex
	delegations map[string]domain.Delegation
}

func NewDelegationRepository() *DelegationRepository {
	return &DelegationRepository{delegations: make(map[string]domain.Delegation)}
}

var _ ports.DelegationRepository = (*DelegationRepository)(nil)

func (r *DelegationRepository) Create(_ context.Context, d *domain.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.delegations[d.ID]; ok {
		return fmt.Errorf("delegation %s already exists", d.ID)
	}
	r.delegations[d.ID] = *d
	return nil
}

func (r *DelegationRepository) Update(_ context.Context, d *domain.Delegation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.delegations[d.ID]; !ok {
		return fmt.Errorf("delegation %s: %w", d.ID, ports.ErrNotFound)
	}
	r.delegations[d.ID] = *d
	return nil
}

func (r *DelegationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.delegations[id]; !ok {
		return fmt.Errorf("delegation %s: %w", id, ports.ErrNotFound)
	}
	delete(r.delegations, id)
	return nil
}

func (r *DelegationRepository) Get(_ context.Context, id string) (*domain.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.delegations[id]
	if !ok {
		return nil, fmt.Errorf("delegation %s: %w", id, ports.ErrNotFound)
	}
	return &d, nil
}

func (r *DelegationRepository) List(_ context.Context, f ports.DelegationFilter) ([]domain.Delegation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Delegation
	for _, d := range r.delegations {
		if f.Tenant != "" && d.Tenant != f.Tenant {
			continue
		}
		if f.DelegatorID != "" && d.DelegatorID != f.DelegatorID {
			continue
		}
		if f.ActiveOnly && !d.IsActive {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AuditRepository is an append-only slice.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Append(_ context.Context, entries ...domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *AuditRepository) ListByTarget(_ context.Context, target domain.AuditTarget, targetID string, limit int) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	var out []domain.AuditEntry
	for _, e := range r.entries {
		if e.TargetType == target && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	domain.SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
