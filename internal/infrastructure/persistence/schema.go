package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexuscrm/approvals/pkg/constants"
)

// schemaStatements creates the approval tables. JSON columns hold the
// step lists and execution records so a definition snapshot is stored as one value.
var schemaStatements = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	tenant VARCHAR(64) NOT NULL,
	workflow_name VARCHAR(50) NOT NULL,
	description VARCHAR(200) NOT NULL DEFAULT '',
	applies_to VARCHAR(100) NOT NULL,
	requester_role VARCHAR(20) NOT NULL,
	status VARCHAR(20) NOT NULL,
	effective_date DATETIME NULL,
	auto_archive_after_days INT NULL,
	version_major INT NOT NULL DEFAULT 1,
	version_minor INT NOT NULL DEFAULT 0,
	version INT NOT NULL DEFAULT 1,
	steps JSON NOT NULL,
	created_by VARCHAR(64) NOT NULL DEFAULT '',
	created_at DATETIME(3) NOT NULL,
	updated_at DATETIME(3) NOT NULL,
	published_at DATETIME(3) NULL,
	KEY idx_definition_scope (tenant, applies_to, status)
)`, constants.TableWorkflowDefinition),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	tenant VARCHAR(64) NOT NULL,
	entity_type VARCHAR(100) NOT NULL,
	entity_id VARCHAR(100) NOT NULL,
	requester_id VARCHAR(64) NOT NULL,
	workflow_definition_id VARCHAR(36) NOT NULL,
	definition_revision VARCHAR(20) NOT NULL,
	steps JSON NOT NULL,
	current_step_index INT NOT NULL,
	status VARCHAR(20) NOT NULL,
	per_step_state JSON NOT NULL,
	version INT NOT NULL DEFAULT 1,
	created_at DATETIME(3) NOT NULL,
	updated_at DATETIME(3) NOT NULL,
	completed_at DATETIME(3) NULL,
	KEY idx_instance_scope (tenant, entity_type, status)
)`, constants.TableApprovalInstance),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	tenant VARCHAR(64) NOT NULL,
	delegator_id VARCHAR(64) NOT NULL,
	delegate_id VARCHAR(64) NOT NULL,
	entity_type VARCHAR(100) NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	reason VARCHAR(255) NOT NULL DEFAULT '',
	created_by VARCHAR(64) NOT NULL DEFAULT '',
	created_at DATETIME(3) NOT NULL,
	updated_at DATETIME(3) NOT NULL,
	KEY idx_delegation_delegator (tenant, delegator_id)
)`, constants.TableDelegation),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	tenant VARCHAR(64) NOT NULL,
	target_type VARCHAR(32) NOT NULL,
	target_id VARCHAR(36) NOT NULL,
	action VARCHAR(32) NOT NULL,
	performed_by VARCHAR(64) NOT NULL,
	changes JSON NULL,
	created_at DATETIME(6) NOT NULL,
	seq BIGINT NOT NULL AUTO_INCREMENT,
	UNIQUE KEY uk_audit_seq (seq),
	KEY idx_audit_target (target_type, target_id, created_at)
)`, constants.TableAuditLog),

	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	event_type VARCHAR(64) NOT NULL,
	payload JSON NOT NULL,
	status VARCHAR(20) NOT NULL,
	retry_count INT NOT NULL DEFAULT 0,
	error_message TEXT NULL,
	created_date DATETIME(3) NOT NULL,
	processed_date DATETIME(3) NULL,
	last_modified_date DATETIME(3) NOT NULL,
	KEY idx_outbox_status (status, created_date)
)`, constants.TableOutboxEvent),
}

// EnsureSchema creates any missing table.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
