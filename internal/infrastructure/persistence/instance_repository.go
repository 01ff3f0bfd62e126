package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
)

const instanceColumns = "id, tenant, entity_type, entity_id, requester_id, workflow_definition_id, definition_revision, " +
	"steps, current_step_index, status, per_step_state, version, created_at, updated_at, completed_at"

// InstanceRepository stores approval instances. The definition snapshot and
// the execution records are JSON columns.
type InstanceRepository struct {
	db *sql.DB
}

// NewInstanceRepository creates a new InstanceRepository
func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

var _ ports.InstanceRepository = (*InstanceRepository)(nil)

func (r *InstanceRepository) Create(ctx context.Context, inst *domain.ApprovalInstance) error {
	steps, state, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		constants.TableApprovalInstance, instanceColumns)
	_, err = executor(ctx, r.db).ExecContext(ctx, query,
		inst.ID, inst.Tenant, inst.EntityType, inst.EntityID, inst.RequesterID, inst.WorkflowDefinitionID, inst.DefinitionRevision,
		steps, inst.CurrentStepIndex, string(inst.Status), state, inst.Version,
		inst.CreatedAt.UTC(), inst.UpdatedAt.UTC(), nullTime(inst.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert approval instance: %w", err)
	}
	return nil
}

func (r *InstanceRepository) Update(ctx context.Context, inst *domain.ApprovalInstance, expectedVersion int) error {
	_, state, err := encodeInstance(inst)
	if err != nil {
		return err
	}
	exec := executor(ctx, r.db)
	query := fmt.Sprintf(`UPDATE %s SET current_step_index = ?, status = ?, per_step_state = ?, version = ?,
		updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`, constants.TableApprovalInstance)
	res, err := exec.ExecContext(ctx, query,
		inst.CurrentStepIndex, string(inst.Status), state, inst.Version,
		inst.UpdatedAt.UTC(), nullTime(inst.CompletedAt),
		inst.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update approval instance: %w", err)
	}
	return casResult(ctx, exec, constants.TableApprovalInstance, inst.ID, res)
}

func (r *InstanceRepository) Get(ctx context.Context, id string) (*domain.ApprovalInstance, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", instanceColumns, constants.TableApprovalInstance)
	inst, err := scanInstance(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval instance %s: %w", id, ports.ErrNotFound)
	}
	return inst, err
}

func (r *InstanceRepository) List(ctx context.Context, filter ports.InstanceFilter) ([]*domain.ApprovalInstance, error) {
	var w whereBuilder
	if filter.Tenant != "" {
		w.add("tenant = ?", filter.Tenant)
	}
	if filter.EntityType != "" {
		w.add("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		w.add("entity_id = ?", filter.EntityID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	if filter.OpenOnly {
		w.addRaw(fmt.Sprintf("status NOT IN ('%s', '%s', '%s', '%s')",
			domain.StatusCompleted, domain.StatusApproved, domain.StatusRejected, domain.StatusCancelled))
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at ASC, id ASC",
		instanceColumns, constants.TableApprovalInstance, w.sql())

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval instances: %w", err)
	}
	defer rows.Close()

	var out []*domain.ApprovalInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func encodeInstance(inst *domain.ApprovalInstance) ([]byte, []byte, error) {
	steps, err := marshalJSON(inst.Steps)
	if err != nil {
		return nil, nil, err
	}
	state, err := marshalJSON(inst.PerStepState)
	if err != nil {
		return nil, nil, err
	}
	return steps, state, nil
}

func scanInstance(row rowScanner) (*domain.ApprovalInstance, error) {
	var (
		inst         domain.ApprovalInstance
		status       string
		steps, state []byte
		completed    sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.Tenant, &inst.EntityType, &inst.EntityID, &inst.RequesterID,
		&inst.WorkflowDefinitionID, &inst.DefinitionRevision, &steps, &inst.CurrentStepIndex, &status, &state,
		&inst.Version, &inst.CreatedAt, &inst.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &inst.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of instance %s: %w", inst.ID, err)
	}
	if err := json.Unmarshal(state, &inst.PerStepState); err != nil {
		return nil, fmt.Errorf("failed to decode step state of instance %s: %w", inst.ID, err)
	}
	inst.Status = domain.InstanceStatus(status)
	inst.CompletedAt = timeFromNull(completed)
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	return &inst, nil
}
