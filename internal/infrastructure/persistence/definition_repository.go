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

const definitionColumns = "id, tenant, workflow_name, description, applies_to, requester_role, status, " +
	"effective_date, auto_archive_after_days, version_major, version_minor, version, steps, " +
	"created_by, created_at, updated_at, published_at"

// DefinitionRepository stores workflow definitions in TiDB/MySQL.
type DefinitionRepository struct {
	db *sql.DB
}

// NewDefinitionRepository creates a new DefinitionRepository
func NewDefinitionRepository(db *sql.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

var _ ports.DefinitionRepository = (*DefinitionRepository)(nil)

func (r *DefinitionRepository) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	steps, err := marshalJSON(def.Steps)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		constants.TableWorkflowDefinition, definitionColumns)
	_, err = executor(ctx, r.db).ExecContext(ctx, query,
		def.ID, def.Tenant, def.WorkflowName, def.Description, def.AppliesTo, string(def.RequesterRole), string(def.Status),
		nullTime(def.EffectiveDate), nullInt(def.AutoArchiveAfterDays), def.VersionMajor, def.VersionMinor, def.Version, steps,
		def.CreatedBy, def.CreatedAt.UTC(), def.UpdatedAt.UTC(), nullTime(def.PublishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert workflow definition: %w", err)
	}
	return nil
}

func (r *DefinitionRepository) Update(ctx context.Context, def *domain.WorkflowDefinition, expectedVersion int) error {
	steps, err := marshalJSON(def.Steps)
	if err != nil {
		return err
	}
	exec := executor(ctx, r.db)
	query := fmt.Sprintf(`UPDATE %s SET workflow_name = ?, description = ?, applies_to = ?, requester_role = ?, status = ?,
		effective_date = ?, auto_archive_after_days = ?, version_major = ?, version_minor = ?, version = ?, steps = ?,
		updated_at = ?, published_at = ?
		WHERE id = ? AND version = ?`, constants.TableWorkflowDefinition)
	res, err := exec.ExecContext(ctx, query,
		def.WorkflowName, def.Description, def.AppliesTo, string(def.RequesterRole), string(def.Status),
		nullTime(def.EffectiveDate), nullInt(def.AutoArchiveAfterDays), def.VersionMajor, def.VersionMinor, def.Version, steps,
		def.UpdatedAt.UTC(), nullTime(def.PublishedAt),
		def.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update workflow definition: %w", err)
	}
	return casResult(ctx, exec, constants.TableWorkflowDefinition, def.ID, res)
}

func (r *DefinitionRepository) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", definitionColumns, constants.TableWorkflowDefinition)
	def, err := scanDefinition(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow definition %s: %w", id, ports.ErrNotFound)
	}
	return def, err
}

func (r *DefinitionRepository) List(ctx context.Context, filter ports.DefinitionFilter) ([]*domain.WorkflowDefinition, error) {
	var w whereBuilder
	if filter.Tenant != "" {
		w.add("tenant = ?", filter.Tenant)
	}
	if filter.AppliesTo != "" {
		w.add("applies_to = ?", filter.AppliesTo)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY created_at ASC, id ASC",
		definitionColumns, constants.TableWorkflowDefinition, w.sql())

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(row rowScanner) (*domain.WorkflowDefinition, error) {
	var (
		def                   domain.WorkflowDefinition
		requesterRole, status string
		effective, published  sql.NullTime
		archiveDays           sql.NullInt64
		steps                 []byte
	)
	err := row.Scan(&def.ID, &def.Tenant, &def.WorkflowName, &def.Description, &def.AppliesTo, &requesterRole, &status,
		&effective, &archiveDays, &def.VersionMajor, &def.VersionMinor, &def.Version, &steps,
		&def.CreatedBy, &def.CreatedAt, &def.UpdatedAt, &published)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of definition %s: %w", def.ID, err)
	}
	def.RequesterRole = domain.RoleLevel(requesterRole)
	def.Status = domain.DefinitionStatus(status)
	def.EffectiveDate = timeFromNull(effective)
	def.AutoArchiveAfterDays = intFromNull(archiveDays)
	def.PublishedAt = timeFromNull(published)
	def.CreatedAt = def.CreatedAt.UTC()
	def.UpdatedAt = def.UpdatedAt.UTC()
	return &def, nil
}
