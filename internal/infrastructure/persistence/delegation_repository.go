package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
)

const delegationColumns = "id, tenant, delegator_id, delegate_id, entity_type, start_date, end_date, " +
	"is_active, reason, created_by, created_at, updated_at"

// DelegationRepository stores delegation records.
type DelegationRepository struct {
	db *sql.DB
}

// NewDelegationRepository creates a new DelegationRepository
func NewDelegationRepository(db *sql.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

var _ ports.DelegationRepository = (*DelegationRepository)(nil)

func (r *DelegationRepository) Create(ctx context.Context, d *domain.Delegation) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		constants.TableDelegation, delegationColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		d.ID, d.Tenant, d.DelegatorID, d.DelegateID, d.EntityType, d.StartDate.UTC(), d.EndDate.UTC(),
		d.IsActive, d.Reason, d.CreatedBy, d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert delegation: %w", err)
	}
	return nil
}

func (r *DelegationRepository) Update(ctx context.Context, d *domain.Delegation) error {
	query := fmt.Sprintf(`UPDATE %s SET delegate_id = ?, entity_type = ?, start_date = ?, end_date = ?,
		is_active = ?, reason = ?, updated_at = ? WHERE id = ?`, constants.TableDelegation)
	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		d.DelegateID, d.EntityType, d.StartDate.UTC(), d.EndDate.UTC(), d.IsActive, d.Reason, d.UpdatedAt.UTC(), d.ID)
	if err != nil {
		return fmt.Errorf("failed to update delegation: %w", err)
	}
	return requireRow(res, "delegation", d.ID)
}

func (r *DelegationRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", constants.TableDelegation)
	res, err := executor(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete delegation: %w", err)
	}
	return requireRow(res, "delegation", id)
}

func (r *DelegationRepository) Get(ctx context.Context, id string) (*domain.Delegation, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", delegationColumns, constants.TableDelegation)
	d, err := scanDelegation(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delegation %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DelegationRepository) List(ctx context.Context, filter ports.DelegationFilter) ([]domain.Delegation, error) {
	var w whereBuilder
	if filter.Tenant != "" {
		w.add("tenant = ?", filter.Tenant)
	}
	if filter.DelegatorID != "" {
		w.add("delegator_id = ?", filter.DelegatorID)
	}
	if filter.ActiveOnly {
		w.add("is_active = ?", true)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY start_date ASC, id ASC",
		delegationColumns, constants.TableDelegation, w.sql())

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var out []domain.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelegation(row rowScanner) (domain.Delegation, error) {
	var d domain.Delegation
	err := row.Scan(&d.ID, &d.Tenant, &d.DelegatorID, &d.DelegateID, &d.EntityType, &d.StartDate, &d.EndDate,
		&d.IsActive, &d.Reason, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	d.StartDate = d.StartDate.UTC()
	d.EndDate = d.EndDate.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func requireRow(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ports.ErrNotFound)
	}
	return nil
}
