package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// DelegationInput carries the editable fields of a delegation. IsActive
// defaults to true on create and is left untouched on update when nil.
type DelegationInput struct {
	DelegatorID string    `json:"delegatorId"`
	DelegateID  string    `json:"delegateId"`
	EntityType  string    `json:"entityType"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	IsActive    *bool     `json:"isActive,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// DelegationResult reports a stored delegation and any overlap it created.
type DelegationResult struct {
	Delegation *domain.Delegation `json:"delegation"`
	Warnings   []string           `json:"warnings"`
}

// DelegationService manages delegation records and resolves effective approvers.
type DelegationService struct {
	repo          ports.DelegationRepository
	directory     ports.Directory
	txManager     ports.TransactionManager
	audit         *AuditService
	logger        zerolog.Logger
	defaultTenant string
	now           func() time.Time
}

// NewDelegationService creates a new DelegationService
func NewDelegationService(repo ports.DelegationRepository, directory ports.Directory, txManager ports.TransactionManager, audit *AuditService, defaultTenant string, logger zerolog.Logger) *DelegationService {
	return &DelegationService{
		repo:          repo,
		directory:     directory,
		txManager:     txManager,
		audit:         audit,
		logger:        logger.With().Str("component", "delegations").Logger(),
		defaultTenant: defaultTenant,
		now:           time.Now,
	}
}

// List returns delegations of the actor's tenant. Non-admins only see their own.
func (s *DelegationService) List(ctx context.Context, actor *auth.UserSession, filter ports.DelegationFilter) ([]domain.Delegation, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.Tenant = tenantOf(actor, s.defaultTenant)
	if !actor.IsAdmin() {
		filter.DelegatorID = actor.ID
	}
	out, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, translate(err, resourceDelegation, "")
	}
	if out == nil {
		out = []domain.Delegation{}
	}
	return out, nil
}

// Create stores a delegation. Overlapping delegations are accepted with a
// warning; the resolver's tie-break decides between them.
func (s *DelegationService) Create(ctx context.Context, actor *auth.UserSession, in DelegationInput) (*DelegationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := authorizeDelegator(actor, in.DelegatorID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d := domain.Delegation{
		ID:          utils.GenerateID(),
		Tenant:      tenantOf(actor, s.defaultTenant),
		DelegatorID: in.DelegatorID,
		DelegateID:  in.DelegateID,
		EntityType:  in.EntityType,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		IsActive:    in.IsActive == nil || *in.IsActive,
		Reason:      in.Reason,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.Validate(); err != nil {
		return nil, translate(err, resourceDelegation, "")
	}

	var warnings []string
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if warnings, err = s.overlapWarnings(ctx, d, actor.ID, now); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, &d); err != nil {
			return err
		}
		return s.audit.Record(ctx, domain.NewAuditEntry(d.Tenant, domain.AuditTargetDelegation, d.ID, domain.AuditCreated, actor.ID, now, delegationChanges(nil, &d)))
	})
	if err != nil {
		return nil, translate(err, resourceDelegation, d.ID)
	}
	return &DelegationResult{Delegation: &d, Warnings: warnings}, nil
}

// Update replaces the fields of a delegation.
func (s *DelegationService) Update(ctx context.Context, actor *auth.UserSession, id string, in DelegationInput) (*DelegationResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var result *DelegationResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := authorizeDelegator(actor, current.DelegatorID); err != nil {
			return err
		}
		if err := authorizeDelegator(actor, in.DelegatorID); err != nil {
			return err
		}

		now := s.now().UTC()
		d := *current
		d.DelegatorID = in.DelegatorID
		d.DelegateID = in.DelegateID
		d.EntityType = in.EntityType
		d.StartDate = in.StartDate
		d.EndDate = in.EndDate
		d.Reason = in.Reason
		if in.IsActive != nil {
			d.IsActive = *in.IsActive
		}
		d.UpdatedAt = now
		if err := d.Validate(); err != nil {
			return translate(err, resourceDelegation, id)
		}

		warnings, err := s.overlapWarnings(ctx, d, actor.ID, now)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, &d); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, domain.NewAuditEntry(d.Tenant, domain.AuditTargetDelegation, id, domain.AuditUpdated, actor.ID, now, delegationChanges(current, &d))); err != nil {
			return err
		}
		result = &DelegationResult{Delegation: &d, Warnings: warnings}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceDelegation, id)
	}
	return result, nil
}

// Delete removes a delegation. The next action on any instance resolves without it.
func (s *DelegationService) Delete(ctx context.Context, actor *auth.UserSession, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if err := authorizeDelegator(actor, current.DelegatorID); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, domain.NewAuditEntry(current.Tenant, domain.AuditTargetDelegation, id, domain.AuditDeleted, actor.ID, s.now().UTC(), delegationChanges(current, nil)))
	})
	return translate(err, resourceDelegation, id)
}

// Resolve returns who acts for nominal (a user ID or a role name) on
// entityType at asOf.
func (s *DelegationService) Resolve(ctx context.Context, actor *auth.UserSession, nominal, entityType string, asOf time.Time) (domain.DelegationResolution, error) {
	if err := requireActor(actor); err != nil {
		return domain.DelegationResolution{}, err
	}
	if nominal == "" || entityType == "" {
		return domain.DelegationResolution{}, apperrors.NewValidationError("", "nominal and entity type are required")
	}
	active, err := s.repo.List(ctx, ports.DelegationFilter{Tenant: tenantOf(actor, s.defaultTenant), ActiveOnly: true})
	if err != nil {
		return domain.DelegationResolution{}, translate(err, resourceDelegation, "")
	}
	return domain.ResolveDelegate(active, nominal, entityType, asOf), nil
}

// resolverFor loads the tenant's active delegations once for one action.
func (s *DelegationService) resolverFor(ctx context.Context, tenant string) (*approverResolver, error) {
	active, err := s.repo.List(ctx, ports.DelegationFilter{Tenant: tenant, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	return &approverResolver{ctx: ctx, tenant: tenant, directory: s.directory, delegations: active}, nil
}

func (s *DelegationService) load(ctx context.Context, actor *auth.UserSession, id string) (*domain.Delegation, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, translate(err, resourceDelegation, id)
	}
	if d.Tenant != tenantOf(actor, s.defaultTenant) {
		return nil, apperrors.NewNotFoundError(resourceDelegation, id)
	}
	return d, nil
}

// overlapWarnings reports the active delegations d would overlap and
// records each overlap in the audit trail.
func (s *DelegationService) overlapWarnings(ctx context.Context, d domain.Delegation, actorID string, now time.Time) ([]string, error) {
	warnings := []string{}
	if !d.IsActive {
		return warnings, nil
	}
	existing, err := s.repo.List(ctx, ports.DelegationFilter{Tenant: d.Tenant, DelegatorID: d.DelegatorID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	for _, o := range existing {
		if !d.Overlaps(o) {
			continue
		}
		msg := fmt.Sprintf("overlaps delegation %s to %s (%s..%s); the latest start date wins",
			o.ID, o.DelegateID, o.StartDate.Format(time.DateOnly), o.EndDate.Format(time.DateOnly))
		warnings = append(warnings, msg)
		s.logger.Warn().Str("delegator", d.DelegatorID).Str("delegation_id", d.ID).Str("overlaps", o.ID).Msg("overlapping delegation")
		entry := domain.NewAuditEntry(d.Tenant, domain.AuditTargetDelegation, d.ID, domain.AuditDelegationOverlap, actorID, now, map[string]any{
			"delegatorId": d.DelegatorID,
			"entityType":  d.EntityType,
			"overlapsId":  o.ID,
		})
		if err := s.audit.Record(ctx, entry); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

// authorizeDelegator allows users to manage their own delegations and
// admins to manage any, including role-level ones.
func authorizeDelegator(actor *auth.UserSession, delegatorID string) error {
	if actor.IsAdmin() {
		return nil
	}
	if _, err := domain.ParseRole(delegatorID); err == nil {
		return apperrors.NewUnauthorizedError("only administrators can delegate a whole role")
	}
	if delegatorID != actor.ID {
		return apperrors.NewUnauthorizedError("users can only delegate their own approvals")
	}
	return nil
}

func delegationChanges(before, after *domain.Delegation) map[string]any {
	changes := make(map[string]any)
	var b, a domain.Delegation
	if before != nil {
		b = *before
	}
	if after != nil {
		a = *after
	}
	if b.DelegatorID != a.DelegatorID {
		changes["delegatorId"] = domain.FieldChange{Old: b.DelegatorID, New: a.DelegatorID}
	}
	if b.DelegateID != a.DelegateID {
		changes["delegateId"] = domain.FieldChange{Old: b.DelegateID, New: a.DelegateID}
	}
	if b.EntityType != a.EntityType {
		changes["entityType"] = domain.FieldChange{Old: b.EntityType, New: a.EntityType}
	}
	if !b.StartDate.Equal(a.StartDate) {
		changes["startDate"] = domain.FieldChange{Old: b.StartDate, New: a.StartDate}
	}
	if !b.EndDate.Equal(a.EndDate) {
		changes["endDate"] = domain.FieldChange{Old: b.EndDate, New: a.EndDate}
	}
	if b.IsActive != a.IsActive {
		changes["isActive"] = domain.FieldChange{Old: b.IsActive, New: a.IsActive}
	}
	if b.Reason != a.Reason {
		changes["reason"] = domain.FieldChange{Old: b.Reason, New: a.Reason}
	}
	return changes
}

// approverResolver turns roles into approvers for one action: a role-level
// delegation replaces the whole role, otherwise every directory user of the
// role is resolved through their own delegations. Overlap tie-breaks are
// collected so the caller can audit them with the transition.
type approverResolver struct {
	ctx         context.Context
	tenant      string
	directory   ports.Directory
	delegations []domain.Delegation
	overlaps    []domain.DelegationResolution
}

func (r *approverResolver) ResolveApprovers(role domain.RoleLevel, entityType string, asOf time.Time) ([]domain.Approver, error) {
	if res := domain.ResolveDelegate(r.delegations, string(role), entityType, asOf); res.Delegated() {
		r.note(res)
		return []domain.Approver{{NominalID: string(role), ActorID: res.EffectiveID, Delegated: true, Overlap: res.Overlap}}, nil
	}

	users, err := r.directory.UsersInRole(r.ctx, r.tenant, role)
	if err != nil {
		return nil, err
	}
	approvers := make([]domain.Approver, 0, len(users))
	for _, u := range users {
		res := domain.ResolveDelegate(r.delegations, u.ID, entityType, asOf)
		r.note(res)
		approvers = append(approvers, domain.Approver{
			NominalID: u.ID,
			ActorID:   res.EffectiveID,
			Delegated: res.Delegated(),
			Overlap:   res.Overlap,
		})
	}
	return approvers, nil
}

func (r *approverResolver) note(res domain.DelegationResolution) {
	if !res.Overlap {
		return
	}
	for _, o := range r.overlaps {
		if o.NominalID == res.NominalID && o.EffectiveID == res.EffectiveID {
			return
		}
	}
	r.overlaps = append(r.overlaps, res)
}

// overlapEntries turns the collected tie-breaks into audit entries.
func (r *approverResolver) overlapEntries(inst *domain.ApprovalInstance, at time.Time) []domain.AuditEntry {
	entries := make([]domain.AuditEntry, 0, len(r.overlaps))
	for _, o := range r.overlaps {
		targetID := inst.ID
		target := domain.AuditTargetInstance
		if o.Delegation != nil {
			target, targetID = domain.AuditTargetDelegation, o.Delegation.ID
		}
		entries = append(entries, domain.NewAuditEntry(inst.Tenant, target, targetID, domain.AuditDelegationOverlap, constants.SystemUserName, at, map[string]any{
			"instanceId":  inst.ID,
			"nominalId":   o.NominalID,
			"effectiveId": o.EffectiveID,
			"candidates":  o.Candidates,
			"entityType":  inst.EntityType,
		}))
	}
	return entries
}
