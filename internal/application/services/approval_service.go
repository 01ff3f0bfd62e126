package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/pkg/auth"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// CreateInstanceRequest starts an approval for one business entity.
type CreateInstanceRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Comments   string `json:"comments,omitempty"`
}

// ActRequest is a human action on the current step. ExpectedStepIndex names
// the step the actor is deciding and is required: an approval that arrives
// after its any_one step was resolved is answered against that step.
type ActRequest struct {
	Action            domain.InstanceAction `json:"action"`
	Comments          string                `json:"comments,omitempty"`
	TargetStepIndex   *int                  `json:"targetStepIndex,omitempty"`
	ExpectedStepIndex *int                  `json:"expectedStepIndex"`
	DelegateTo        string                `json:"delegateTo,omitempty"`
}

// InstanceResult is an instance after an action, with what the action did.
type InstanceResult struct {
	Instance *domain.ApprovalInstance `json:"instance"`
	Result   domain.ActionResult      `json:"result"`
}

// InstanceView decorates an instance with display data from master data and
// the actions the viewer may offer.
type InstanceView struct {
	*domain.ApprovalInstance
	EntityLabel      string                  `json:"entityLabel,omitempty"`
	AvailableActions []domain.InstanceAction `json:"availableActions"`
}

// ApprovalService runs approval instances through the engine. Mutations of
// one instance are serialized in-process and guarded by a compare-and-set on
// Version in storage.
type ApprovalService struct {
	definitions   ports.DefinitionRepository
	instances     ports.InstanceRepository
	directory     ports.Directory
	delegations   *DelegationService
	txManager     ports.TransactionManager
	audit         *AuditService
	outbox        *OutboxService
	engine        *domain.Engine
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	locks         *keyedMutex
	defaultTenant string
	now           func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	definitions ports.DefinitionRepository,
	instances ports.InstanceRepository,
	directory ports.Directory,
	delegations *DelegationService,
	txManager ports.TransactionManager,
	audit *AuditService,
	outbox *OutboxService,
	engine *domain.Engine,
	m *metrics.Metrics,
	defaultTenant string,
	logger zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		definitions:   definitions,
		instances:     instances,
		directory:     directory,
		delegations:   delegations,
		txManager:     txManager,
		audit:         audit,
		outbox:        outbox,
		engine:        engine,
		metrics:       m,
		logger:        logger.With().Str("component", "approvals").Logger(),
		locks:         newKeyedMutex(),
		defaultTenant: defaultTenant,
		now:           time.Now,
	}
}

// Create starts an instance for the actor's request against the active
// definition of the entity type.
func (s *ApprovalService) Create(ctx context.Context, actor *auth.UserSession, req CreateInstanceRequest) (*InstanceResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.EntityType) == "" || strings.TrimSpace(req.EntityID) == "" {
		return nil, apperrors.NewValidationError("", "entityType and entityId are required")
	}
	tenant := tenantOf(actor, s.defaultTenant)
	unlock := s.locks.Lock(fmt.Sprintf("entity:%s:%s:%s", tenant, req.EntityType, req.EntityID))
	defer unlock()

	now := s.now().UTC()
	var result *InstanceResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		open, err := s.instances.List(ctx, ports.InstanceFilter{Tenant: tenant, EntityType: req.EntityType, EntityID: req.EntityID, OpenOnly: true})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return apperrors.NewConflictError(resourceInstance, "entityId", req.EntityID)
		}

		def, err := s.activeDefinition(ctx, tenant, req.EntityType, now)
		if err != nil {
			return err
		}
		resolver, err := s.delegations.resolverFor(ctx, tenant)
		if err != nil {
			return err
		}
		inst, res, err := s.engine.Start(def, domain.NewInstanceParams{
			ID:          utils.GenerateID(),
			Tenant:      tenant,
			EntityType:  req.EntityType,
			EntityID:    req.EntityID,
			RequesterID: actor.ID,
		}, resolver, now)
		if err != nil {
			return translate(err, resourceInstance, "")
		}
		if err := s.instances.Create(ctx, inst); err != nil {
			return err
		}
		if err := s.record(ctx, inst, res, req.Comments, resolver, now); err != nil {
			return err
		}
		result = &InstanceResult{Instance: inst, Result: res}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceInstance, "")
	}
	s.observe(result.Instance, result.Result)
	return result, nil
}

// activeDefinition picks the effective active definition of tenant + entityType.
func (s *ApprovalService) activeDefinition(ctx context.Context, tenant, entityType string, now time.Time) (*domain.WorkflowDefinition, error) {
	defs, err := s.definitions.List(ctx, ports.DefinitionFilter{Tenant: tenant, AppliesTo: entityType, Status: domain.DefinitionActive})
	if err != nil {
		return nil, err
	}
	var pick *domain.WorkflowDefinition
	for _, d := range defs {
		if !d.IsEffective(now) {
			continue
		}
		if pick == nil || (d.PublishedAt != nil && pick.PublishedAt != nil && d.PublishedAt.After(*pick.PublishedAt)) {
			pick = d
		}
	}
	if pick == nil {
		return nil, apperrors.NewInvalidStateError(resourceDefinition, fmt.Sprintf("no active workflow applies to %q", entityType))
	}
	return pick, nil
}

// Act applies approve, reject, sendBack or delegate from the actor. An SLA
// transition that fell due before the action is applied first.
func (s *ApprovalService) Act(ctx context.Context, actor *auth.UserSession, id string, req ActRequest) (*InstanceResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	switch req.Action {
	case domain.ActionApprove, domain.ActionReject, domain.ActionSendBack, domain.ActionDelegate:
	default:
		return nil, apperrors.NewValidationError("action", fmt.Sprintf("unsupported action %q", req.Action))
	}
	if req.ExpectedStepIndex == nil {
		return nil, apperrors.NewValidationError("expectedStepIndex", "the step being decided is required")
	}
	return s.apply(ctx, actor, id, domain.ActionRequest{
		Action:            req.Action,
		ActorID:           actor.ID,
		Comments:          req.Comments,
		TargetStepIndex:   req.TargetStepIndex,
		ExpectedStepIndex: req.ExpectedStepIndex,
		DelegateTo:        req.DelegateTo,
	})
}

// Resubmit restarts an instance that was sent back to its requester.
func (s *ApprovalService) Resubmit(ctx context.Context, actor *auth.UserSession, id, comments string) (*InstanceResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, id, domain.ActionRequest{Action: domain.ActionSubmit, ActorID: actor.ID, Comments: comments})
}

// Cancel stops an instance administratively.
func (s *ApprovalService) Cancel(ctx context.Context, actor *auth.UserSession, id, reason string) (*InstanceResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.apply(ctx, actor, id, domain.ActionRequest{Action: domain.ActionCancel, ActorID: actor.ID, Comments: reason})
}

func (s *ApprovalService) apply(ctx context.Context, actor *auth.UserSession, id string, req domain.ActionRequest) (*InstanceResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var (
		result    *InstanceResult
		actionErr error
		ticked    *InstanceResult
	)
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		inst, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		req.At = now
		resolver, err := s.delegations.resolverFor(ctx, inst.Tenant)
		if err != nil {
			return err
		}

		expected := inst.Version
		if !inst.Status.IsTerminal() && req.Action != domain.ActionCancel {
			_, tick, err := s.engine.Tick(inst, resolver, now)
			if err != nil {
				return translate(err, resourceInstance, id)
			}
			if tick.Outcome != "" && tick.Changed() {
				if err := s.persist(ctx, inst, expected, tick, "", resolver, now); err != nil {
					return err
				}
				expected = inst.Version
				ticked = &InstanceResult{Instance: inst.Clone(), Result: tick}
			}
		}

		res, err := s.engine.Apply(inst, req, resolver)
		if err != nil {
			// A due SLA transition stays applied even when the action is refused.
			actionErr = translate(err, resourceInstance, id)
			if ticked != nil {
				return nil
			}
			return actionErr
		}
		if res.Changed() {
			if err := s.persist(ctx, inst, expected, res, req.Comments, resolver, now); err != nil {
				return err
			}
		}
		result = &InstanceResult{Instance: inst, Result: res}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceInstance, id)
	}
	if ticked != nil {
		s.observe(ticked.Instance, ticked.Result)
	}
	if actionErr != nil {
		return nil, actionErr
	}
	if result.Result.Changed() {
		s.observe(result.Instance, result.Result)
	}
	return result, nil
}

// ApplySLA runs the SLA clock on one instance under its lock. applied is
// false when nothing was due or another writer won the race.
func (s *ApprovalService) ApplySLA(ctx context.Context, id string, now time.Time) (domain.SLAOutcome, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	outcome := domain.SLANone
	var result *InstanceResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		inst, err := s.instances.Get(ctx, id)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return nil
		}
		resolver, err := s.delegations.resolverFor(ctx, inst.Tenant)
		if err != nil {
			return err
		}
		expected := inst.Version
		got, res, err := s.engine.Tick(inst, resolver, now)
		if err != nil {
			return err
		}
		outcome = got
		if res.Outcome == "" || !res.Changed() {
			return nil
		}
		if err := s.persist(ctx, inst, expected, res, "", resolver, now); err != nil {
			return err
		}
		result = &InstanceResult{Instance: inst, Result: res}
		return nil
	})
	if errors.Is(err, ports.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidState) {
		s.logger.Debug().Str("instance_id", id).Msg("sla transition lost the race, skipped")
		return domain.SLANone, false, nil
	}
	if err != nil {
		return domain.SLANone, false, err
	}
	if result == nil {
		return outcome, false, nil
	}
	s.observe(result.Instance, result.Result)
	return outcome, true, nil
}

// persist writes inst with a bumped Version and records the transition.
func (s *ApprovalService) persist(ctx context.Context, inst *domain.ApprovalInstance, expected int, res domain.ActionResult, comments string, resolver *approverResolver, at time.Time) error {
	inst.Version = expected + 1
	if err := s.instances.Update(ctx, inst, expected); err != nil {
		return err
	}
	return s.record(ctx, inst, res, comments, resolver, at)
}

// record appends the audit entries and enqueues the events of one transition.
func (s *ApprovalService) record(ctx context.Context, inst *domain.ApprovalInstance, res domain.ActionResult, comments string, resolver *approverResolver, at time.Time) error {
	entries := []domain.AuditEntry{domain.TransitionEntry(inst, res, at, comments)}
	if resolver != nil && len(resolver.overlaps) > 0 {
		for _, o := range resolver.overlaps {
			s.logger.Warn().Str("instance_id", inst.ID).Str("nominal", o.NominalID).
				Str("effective", o.EffectiveID).Strs("candidates", o.Candidates).Msg("overlapping delegations, latest start date chosen")
		}
		entries = append(entries, resolver.overlapEntries(inst, at)...)
		resolver.overlaps = nil
	}
	if err := s.audit.Record(ctx, entries...); err != nil {
		return err
	}
	for _, et := range transitionEvents(res) {
		if err := s.outbox.Enqueue(ctx, et, instanceEvent(inst, res, comments)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ApprovalService) observe(inst *domain.ApprovalInstance, res domain.ActionResult) {
	s.metrics.ObserveTransition(string(res.Action))
	s.logger.Info().
		Str("instance_id", inst.ID).
		Str("action", string(res.Action)).
		Str("outcome", string(res.Outcome)).
		Str("actor", res.ActorID).
		Str("from", string(res.FromStatus)).
		Str("to", string(res.ToStatus)).
		Int("step", res.ToStepIndex).
		Msg("instance transition")
	for _, w := range res.Warnings {
		s.logger.Warn().Str("instance_id", inst.ID).Msg(w)
	}
}

// List returns instances of the actor's tenant. assignedToMe keeps only
// instances whose current step the actor may act on.
func (s *ApprovalService) List(ctx context.Context, actor *auth.UserSession, filter ports.InstanceFilter, assignedToMe bool) ([]*domain.ApprovalInstance, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.Tenant = tenantOf(actor, s.defaultTenant)
	list, err := s.instances.List(ctx, filter)
	if err != nil {
		return nil, translate(err, resourceInstance, "")
	}
	out := make([]*domain.ApprovalInstance, 0, len(list))
	for _, inst := range list {
		if assignedToMe && !awaits(inst, actor.ID) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func awaits(inst *domain.ApprovalInstance, actorID string) bool {
	if inst.Status.IsTerminal() {
		return false
	}
	if inst.CurrentStepIndex == domain.RequesterStepIndex {
		return inst.RequesterID == actorID
	}
	rec := inst.CurrentRecord()
	if rec == nil {
		return false
	}
	for _, id := range rec.EligibleActorIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

// Get returns one instance with its entity label.
func (s *ApprovalService) Get(ctx context.Context, actor *auth.UserSession, id string) (*InstanceView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	inst, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	view := &InstanceView{ApprovalInstance: inst, AvailableActions: []domain.InstanceAction{}}
	for _, a := range s.engine.AvailableActions(inst) {
		if a == domain.ActionCancel && requireAdmin(actor) != nil {
			continue
		}
		view.AvailableActions = append(view.AvailableActions, a)
	}
	if s.directory != nil {
		label, err := s.directory.DescribeEntity(ctx, inst.EntityType, inst.EntityID)
		if err != nil {
			s.logger.Debug().Err(err).Str("instance_id", id).Msg("entity lookup failed")
		}
		view.EntityLabel = label
	}
	return view, nil
}

// History returns the audit trail of an instance, newest first.
func (s *ApprovalService) History(ctx context.Context, actor *auth.UserSession, id string, limit int) ([]domain.AuditEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, domain.AuditTargetInstance, id, limit)
}

func (s *ApprovalService) load(ctx context.Context, actor *auth.UserSession, id string) (*domain.ApprovalInstance, error) {
	inst, err := s.instances.Get(ctx, id)
	if err != nil {
		return nil, translate(err, resourceInstance, id)
	}
	if inst.Tenant != tenantOf(actor, s.defaultTenant) {
		return nil, apperrors.NewNotFoundError(resourceInstance, id)
	}
	return inst, nil
}

// transitionEvents maps an applied action onto the events it publishes.
func transitionEvents(res domain.ActionResult) []events.EventType {
	switch res.Outcome {
	case domain.OutcomeStarted, domain.OutcomeResubmitted:
		return []events.EventType{events.InstanceSubmitted}
	case domain.OutcomeStepApproved, domain.OutcomeVoteRecorded:
		return []events.EventType{events.InstanceApproved}
	case domain.OutcomeCompleted:
		switch res.Action {
		case domain.ActionApprove, domain.ActionReject:
			return []events.EventType{events.InstanceApproved, events.InstanceCompleted}
		case domain.ActionAutoApprove:
			return []events.EventType{events.InstanceAutoApproved, events.InstanceCompleted}
		}
		return []events.EventType{events.InstanceCompleted}
	case domain.OutcomeRejected:
		return []events.EventType{events.InstanceRejected}
	case domain.OutcomeSentBack:
		return []events.EventType{events.InstanceSentBack}
	case domain.OutcomeDelegated:
		return []events.EventType{events.InstanceDelegated}
	case domain.OutcomeEscalated:
		return []events.EventType{events.InstanceEscalated}
	case domain.OutcomeAutoApproved:
		return []events.EventType{events.InstanceAutoApproved}
	case domain.OutcomeCancelled:
		return []events.EventType{events.InstanceCancelled}
	}
	return nil
}

// instanceEvent builds the payload. Recipients are whoever must act next,
// or the requester once the instance left the approvers.
func instanceEvent(inst *domain.ApprovalInstance, res domain.ActionResult, comments string) events.InstanceEvent {
	ev := events.InstanceEvent{
		InstanceID:  inst.ID,
		Tenant:      inst.Tenant,
		EntityType:  inst.EntityType,
		EntityID:    inst.EntityID,
		RequesterID: inst.RequesterID,
		ActorID:     res.ActorID,
		Action:      string(res.Action),
		Outcome:     string(res.Outcome),
		FromStatus:  string(res.FromStatus),
		ToStatus:    string(res.ToStatus),
		StepIndex:   inst.CurrentStepIndex,
		Comments:    comments,
	}

	step := inst.CurrentStep()
	if step == nil && res.FromStepIndex >= 0 && res.FromStepIndex < len(inst.Steps) {
		step = &inst.Steps[res.FromStepIndex]
	}
	if step != nil {
		ev.Notifications = events.Notifications{Email: step.Notifications.Email, InApp: step.Notifications.InApp, SMS: step.Notifications.SMS}
	}

	if rec := inst.CurrentRecord(); rec != nil && !inst.Status.IsTerminal() {
		ev.Recipients = append([]string(nil), rec.EligibleActorIDs...)
	} else {
		ev.Recipients = []string{inst.RequesterID}
	}
	return ev
}
