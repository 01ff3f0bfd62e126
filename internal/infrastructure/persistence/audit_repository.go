package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
)

// AuditRepository is the append-only audit log table.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

func (r *AuditRepository) Append(ctx context.Context, entries ...domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	exec := executor(ctx, r.db)
	query := fmt.Sprintf(`INSERT INTO %s (id, tenant, target_type, target_id, action, performed_by, changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, constants.TableAuditLog)
	for _, e := range entries {
		var changes []byte
		if len(e.Changes) > 0 {
			b, err := marshalJSON(e.Changes)
			if err != nil {
				return err
			}
			changes = b
		}
		_, err := exec.ExecContext(ctx, query,
			e.ID, e.Tenant, string(e.TargetType), e.TargetID, e.Action, e.PerformedBy, changes, e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
	}
	return nil
}

// ListByTarget orders by timestamp then insertion sequence, so entries
// written within the same instant keep their write order reversed.
func (r *AuditRepository) ListByTarget(ctx context.Context, target domain.AuditTarget, targetID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	query := fmt.Sprintf(`SELECT id, tenant, target_type, target_id, action, performed_by, changes, created_at
		FROM %s WHERE target_type = ? AND target_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, constants.TableAuditLog)

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, string(target), targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			targetType string
			changes    []byte
		)
		if err := rows.Scan(&e.ID, &e.Tenant, &targetType, &e.TargetID, &e.Action, &e.PerformedBy, &changes, &e.Timestamp); err != nil {
			return nil, err
		}
		e.TargetType = domain.AuditTarget(targetType)
		e.Timestamp = e.Timestamp.UTC()
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode audit changes of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
