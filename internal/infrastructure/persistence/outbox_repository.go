package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// OutboxRepository handles database operations for the outbox pattern
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

// Enqueue inserts a new event into the outbox, inside the caller's transaction when there is one.
func (r *OutboxRepository) Enqueue(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, payload, status, retry_count, created_date, last_modified_date)
		VALUES (?, ?, ?, ?, 0, NOW(), NOW())
	`, constants.TableOutboxEvent)

	_, err = executor(ctx, r.db).ExecContext(ctx, query, utils.GenerateID(), eventType, payloadJSON, constants.OutboxStatusPending)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// GetPendingEvents retrieves pending events ordered by creation time
func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]ports.OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, event_type, payload, retry_count, created_date
		FROM %s
		WHERE status = ?
		ORDER BY created_date ASC
		LIMIT ?
	`, constants.TableOutboxEvent)

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, constants.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []ports.OutboxEvent
	for rows.Next() {
		e := ports.OutboxEvent{Status: constants.OutboxStatusPending}
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ClaimEvent attempts to lock a specific event for processing
func (r *OutboxRepository) ClaimEvent(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE id = ? AND status = ?
		FOR UPDATE SKIP LOCKED
	`, constants.TableOutboxEvent)

	var claimedID string
	err := executor(ctx, r.db).QueryRowContext(ctx, query, id, constants.OutboxStatusPending).Scan(&claimedID)
	if err == sql.ErrNoRows {
		return false, nil // Already claimed
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStatus updates the status and related fields of an event
func (r *OutboxRepository) UpdateStatus(ctx context.Context, id, status, lastError string) error {
	var query string
	var args []interface{}

	switch status {
	case constants.OutboxStatusProcessed:
		query = fmt.Sprintf(`
			UPDATE %s
			SET status = ?, processed_date = NOW(), last_modified_date = NOW()
			WHERE id = ?
		`, constants.TableOutboxEvent)
		args = []interface{}{status, id}
	case constants.OutboxStatusFailed:
		query = fmt.Sprintf(`
			UPDATE %s
			SET status = ?, error_message = ?, last_modified_date = NOW()
			WHERE id = ?
		`, constants.TableOutboxEvent)
		args = []interface{}{status, lastError, id}
	default:
		return fmt.Errorf("unsupported status update: %s", status)
	}

	_, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	return err
}

// IncrementRetry bumps the retry count, records the error and returns the new count.
func (r *OutboxRepository) IncrementRetry(ctx context.Context, id, lastError string) (int, error) {
	exec := executor(ctx, r.db)
	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1, error_message = ?, last_modified_date = NOW()
		WHERE id = ?
	`, constants.TableOutboxEvent)

	if _, err := exec.ExecContext(ctx, query, lastError, id); err != nil {
		return 0, err
	}

	var count int
	err := exec.QueryRowContext(ctx, fmt.Sprintf("SELECT retry_count FROM %s WHERE id = ?", constants.TableOutboxEvent), id).Scan(&count)
	return count, err
}

// CleanupProcessed deletes processed events older than olderThan
func (r *OutboxRepository) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = ? AND processed_date < ?
	`, constants.TableOutboxEvent)

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := executor(ctx, r.db).ExecContext(ctx, query, constants.OutboxStatusProcessed, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
