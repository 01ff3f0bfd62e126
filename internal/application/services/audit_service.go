package services

import (
	"context"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
)

// AuditService appends and reads the audit trail.
type AuditService struct {
	repo ports.AuditRepository
}

// NewAuditService creates a new AuditService
func NewAuditService(repo ports.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Record appends entries. Called inside the transaction of the change they describe.
func (s *AuditService) Record(ctx context.Context, entries ...domain.AuditEntry) error {
	return s.repo.Append(ctx, entries...)
}

// History returns the entries of one target, newest first.
func (s *AuditService) History(ctx context.Context, target domain.AuditTarget, targetID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > constants.DefaultHistoryLimit {
		limit = constants.DefaultHistoryLimit
	}
	entries, err := s.repo.ListByTarget(ctx, target, targetID, limit)
	if err != nil {
		return nil, translate(err, string(target), targetID)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}
