package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/auth"
	"github.com/nexuscrm/approvals/pkg/constants"
	apperrors "github.com/nexuscrm/approvals/pkg/errors"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// exportKind tags exported definition documents.
const exportKind = "approvals/workflow-definition"

// MutationResult is the outcome of a definition write. Applied is false when
// the operation was a no-op, such as removing the only step.
type MutationResult struct {
	Definition *domain.WorkflowDefinition `json:"definition"`
	Applied    bool                       `json:"applied"`
	Index      *int                       `json:"index,omitempty"`
	Warnings   []domain.Issue             `json:"warnings"`
}

// ExportDocument is the structured document definitions are exported as.
type ExportDocument struct {
	Kind       string                     `json:"kind" yaml:"kind"`
	ExportedAt time.Time                  `json:"exportedAt" yaml:"exportedAt"`
	Definition *domain.WorkflowDefinition `json:"definition" yaml:"definition"`
}

// WorkflowService manages workflow definitions. Every write is a critical
// section per definition and a compare-and-set on Version.
type WorkflowService struct {
	definitions   ports.DefinitionRepository
	txManager     ports.TransactionManager
	audit         *AuditService
	outbox        *OutboxService
	validation    *ValidationService
	logger        zerolog.Logger
	locks         *keyedMutex
	defaultTenant string
	now           func() time.Time
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	definitions ports.DefinitionRepository,
	txManager ports.TransactionManager,
	audit *AuditService,
	outbox *OutboxService,
	validation *ValidationService,
	defaultTenant string,
	logger zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		definitions:   definitions,
		txManager:     txManager,
		audit:         audit,
		outbox:        outbox,
		validation:    validation,
		logger:        logger.With().Str("component", "workflows").Logger(),
		locks:         newKeyedMutex(),
		defaultTenant: defaultTenant,
		now:           time.Now,
	}
}

// List returns the definitions of the actor's tenant.
func (s *WorkflowService) List(ctx context.Context, actor *auth.UserSession, filter ports.DefinitionFilter) ([]*domain.WorkflowDefinition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	filter.Tenant = tenantOf(actor, s.defaultTenant)
	defs, err := s.definitions.List(ctx, filter)
	if err != nil {
		return nil, translate(err, resourceDefinition, "")
	}
	if defs == nil {
		defs = []*domain.WorkflowDefinition{}
	}
	return defs, nil
}

// Get returns one definition.
func (s *WorkflowService) Get(ctx context.Context, actor *auth.UserSession, id string) (*domain.WorkflowDefinition, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.load(ctx, actor, id)
}

// Create stores a new draft. Drafts may carry hierarchy errors but never a
// malformed shape.
func (s *WorkflowService) Create(ctx context.Context, actor *auth.UserSession, input *domain.WorkflowDefinition) (*MutationResult, error) {
	return s.create(ctx, actor, input, domain.AuditCreated, nil)
}

// Duplicate copies a definition into a new draft with fresh step identities.
func (s *WorkflowService) Duplicate(ctx context.Context, actor *auth.UserSession, id string) (*MutationResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	src, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	cp := src.Clone()
	cp.WorkflowName = copyName(src.WorkflowName)
	for i := range cp.Steps {
		cp.Steps[i].ID = ""
	}
	return s.create(ctx, actor, cp, domain.AuditDuplicated, map[string]any{"sourceId": src.ID, "sourceRevision": src.RevisionLabel()})
}

func copyName(name string) string {
	out := "Copy of " + name
	if utf8.RuneCountInString(out) <= domain.MaxWorkflowNameLength {
		return out
	}
	return string([]rune(out)[:domain.MaxWorkflowNameLength])
}

func (s *WorkflowService) create(ctx context.Context, actor *auth.UserSession, input *domain.WorkflowDefinition, action string, extra map[string]any) (*MutationResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, apperrors.NewValidationError("definition", "definition is required")
	}

	now := s.now().UTC()
	def := input.Clone()
	def.ID = utils.GenerateID()
	def.Tenant = tenantOf(actor, s.defaultTenant)
	def.Status = domain.DefinitionDraft
	def.VersionMajor, def.VersionMinor = 1, 0
	def.Version = 1
	def.CreatedBy = actor.ID
	def.CreatedAt, def.UpdatedAt = now, now
	def.PublishedAt = nil
	if len(def.Steps) == 0 {
		def.Steps = domain.NewDefinition(def.WorkflowName, def.AppliesTo, def.RequesterRole).Steps
	}
	def.Normalize()

	res := s.validation.Local(def)
	if shape := structuralErrors(res); !shape.Valid() {
		return nil, validationFailure(shape)
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.definitions.Create(ctx, def); err != nil {
			return err
		}
		changes := domain.DiffDefinitions(nil, def)
		for k, v := range extra {
			changes[k] = v
		}
		return s.audit.Record(ctx, domain.NewAuditEntry(def.Tenant, domain.AuditTargetDefinition, def.ID, action, actor.ID, now, changes))
	})
	if err != nil {
		return nil, translate(err, resourceDefinition, def.ID)
	}
	s.logger.Info().Str("definition_id", def.ID).Str("action", action).Str("actor", actor.ID).Msg("definition created")
	return &MutationResult{Definition: def, Applied: true, Warnings: allIssues(res)}, nil
}

// Update replaces the editable fields of a definition. Steps are replaced
// only when input carries any.
func (s *WorkflowService) Update(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int, input *domain.WorkflowDefinition) (*MutationResult, error) {
	if input == nil {
		return nil, apperrors.NewValidationError("definition", "definition is required")
	}
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		if def.Status == domain.DefinitionActive && input.AppliesTo != def.AppliesTo {
			return false, nil, apperrors.NewInvalidStateError(resourceDefinition, "appliesTo of an active definition cannot change")
		}
		def.WorkflowName = input.WorkflowName
		def.Description = input.Description
		def.AppliesTo = input.AppliesTo
		def.RequesterRole = input.RequesterRole
		def.EffectiveDate = input.EffectiveDate
		def.AutoArchiveAfterDays = input.AutoArchiveAfterDays
		if len(input.Steps) > 0 {
			def.Steps = domain.CloneSteps(input.Steps)
		}
		return true, nil, nil
	})
}

// AddStep appends a step.
func (s *WorkflowService) AddStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int, step domain.Step) (*MutationResult, error) {
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		if step.Mode == "" {
			step.Mode = domain.ModeSequential
		}
		idx := def.AddStep(step)
		return true, &idx, nil
	})
}

// RemoveStep deletes a step. Removing the only step is a no-op result.
func (s *WorkflowService) RemoveStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int) (*MutationResult, error) {
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		applied, err := def.RemoveStep(index)
		return applied, nil, err
	})
}

// MoveStep moves the step at from to position to.
func (s *WorkflowService) MoveStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, from, to int) (*MutationResult, error) {
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		if err := def.MoveStep(from, to); err != nil {
			return false, nil, err
		}
		return true, &to, nil
	})
}

// DuplicateStep inserts a copy of a step right after it.
func (s *WorkflowService) DuplicateStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int) (*MutationResult, error) {
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		idx, err := def.DuplicateStep(index)
		if err != nil {
			return false, nil, err
		}
		return true, &idx, nil
	})
}

// UpdateStep applies a partial update to a step.
func (s *WorkflowService) UpdateStep(ctx context.Context, actor *auth.UserSession, id string, expectedVersion, index int, patch domain.StepPatch) (*MutationResult, error) {
	return s.mutate(ctx, actor, id, expectedVersion, func(def *domain.WorkflowDefinition) (bool, *int, error) {
		if err := def.UpdateStep(index, patch); err != nil {
			return false, nil, err
		}
		return true, &index, nil
	})
}

type mutation func(def *domain.WorkflowDefinition) (applied bool, index *int, err error)

// mutate runs fn on a copy of the stored definition and writes the result
// when it changed anything.
func (s *WorkflowService) mutate(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int, fn mutation) (*MutationResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := checkVersion(expectedVersion); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	var result *MutationResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return apperrors.NewVersionConflictError(resourceDefinition, expectedVersion, current.Version)
		}
		if current.Status == domain.DefinitionArchived {
			return apperrors.NewInvalidStateError(resourceDefinition, fmt.Sprintf("definition %s is archived", id))
		}

		work := current.Clone()
		applied, index, err := fn(work)
		if err != nil {
			return translate(err, resourceDefinition, id)
		}
		work.Normalize()
		changes := domain.DiffDefinitions(current, work)
		if !applied || len(changes) == 0 {
			result = &MutationResult{Definition: current, Applied: false, Index: index, Warnings: allIssues(s.validation.Local(current))}
			return nil
		}

		res := s.validation.Local(work)
		if shape := structuralErrors(res); !shape.Valid() {
			return validationFailure(shape)
		}
		if work.Status == domain.DefinitionActive {
			if res, err = s.validation.Check(ctx, work); err != nil {
				return err
			}
			if !res.Valid() {
				return validationFailure(res)
			}
			if !domain.StepsEqual(current.Steps, work.Steps) {
				work.VersionMajor++
				work.VersionMinor = 0
			} else if domain.MetadataChanged(current, work) {
				work.VersionMinor++
			}
			changes = domain.DiffDefinitions(current, work)
		}

		now := s.now().UTC()
		work.Version = current.Version + 1
		work.UpdatedAt = now
		if err := s.definitions.Update(ctx, work, current.Version); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, domain.NewAuditEntry(work.Tenant, domain.AuditTargetDefinition, id, domain.AuditUpdated, actor.ID, now, changes)); err != nil {
			return err
		}
		result = &MutationResult{Definition: work, Applied: true, Index: index, Warnings: allIssues(res)}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceDefinition, id)
	}
	return result, nil
}

// Publish activates a draft that passes the canonical check with zero
// errors. Other active definitions for the same entity type are archived.
func (s *WorkflowService) Publish(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int) (*MutationResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := checkVersion(expectedVersion); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	var result *MutationResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return apperrors.NewVersionConflictError(resourceDefinition, expectedVersion, current.Version)
		}
		if current.Status != domain.DefinitionDraft {
			return apperrors.NewInvalidStateError(resourceDefinition, fmt.Sprintf("only drafts can be published, definition %s is %s", id, current.Status))
		}

		res, err := s.validation.Check(ctx, current)
		if err != nil {
			return err
		}
		if !res.Valid() {
			return validationFailure(res)
		}

		now := s.now().UTC()
		others, err := s.definitions.List(ctx, ports.DefinitionFilter{Tenant: current.Tenant, AppliesTo: current.AppliesTo, Status: domain.DefinitionActive})
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID == id {
				continue
			}
			if err := s.archive(ctx, other, actor.ID, now, map[string]any{"supersededBy": id}); err != nil {
				return err
			}
		}

		work := current.Clone()
		work.Status = domain.DefinitionActive
		work.PublishedAt = &now
		work.Version = current.Version + 1
		work.UpdatedAt = now
		if err := s.definitions.Update(ctx, work, current.Version); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, domain.NewAuditEntry(work.Tenant, domain.AuditTargetDefinition, id, domain.AuditPublished, actor.ID, now, domain.DiffDefinitions(current, work))); err != nil {
			return err
		}
		if err := s.outbox.Enqueue(ctx, events.DefinitionPublished, definitionEvent(work, actor.ID)); err != nil {
			return err
		}
		result = &MutationResult{Definition: work, Applied: true, Warnings: res.Warnings}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceDefinition, id)
	}
	s.logger.Info().Str("definition_id", id).Str("revision", result.Definition.RevisionLabel()).Str("actor", actor.ID).Msg("definition published")
	return result, nil
}

// Archive retires a draft or active definition. Running instances keep
// their snapshot.
func (s *WorkflowService) Archive(ctx context.Context, actor *auth.UserSession, id string, expectedVersion int) (*MutationResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := checkVersion(expectedVersion); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	var result *MutationResult
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return apperrors.NewVersionConflictError(resourceDefinition, expectedVersion, current.Version)
		}
		if current.Status == domain.DefinitionArchived {
			return apperrors.NewInvalidStateError(resourceDefinition, fmt.Sprintf("definition %s is already archived", id))
		}
		work := current.Clone()
		if err := s.archive(ctx, work, actor.ID, s.now().UTC(), nil); err != nil {
			return err
		}
		result = &MutationResult{Definition: work, Applied: true, Warnings: []domain.Issue{}}
		return nil
	})
	if err != nil {
		return nil, translate(err, resourceDefinition, id)
	}
	return result, nil
}

// archive marks def archived in place and records it. Runs inside a transaction.
func (s *WorkflowService) archive(ctx context.Context, def *domain.WorkflowDefinition, actorID string, now time.Time, extra map[string]any) error {
	before := def.Clone()
	def.Status = domain.DefinitionArchived
	def.Version = before.Version + 1
	def.UpdatedAt = now
	if err := s.definitions.Update(ctx, def, before.Version); err != nil {
		return err
	}
	changes := domain.DiffDefinitions(before, def)
	for k, v := range extra {
		changes[k] = v
	}
	if err := s.audit.Record(ctx, domain.NewAuditEntry(def.Tenant, domain.AuditTargetDefinition, def.ID, domain.AuditArchived, actorID, now, changes)); err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, events.DefinitionArchived, definitionEvent(def, actorID))
}

// ArchiveExpired archives every active definition whose auto-archive moment
// has passed, across tenants. It returns how many were archived.
func (s *WorkflowService) ArchiveExpired(ctx context.Context, now time.Time) (int, error) {
	active, err := s.definitions.List(ctx, ports.DefinitionFilter{Status: domain.DefinitionActive})
	if err != nil {
		return 0, translate(err, resourceDefinition, "")
	}

	archived := 0
	for _, def := range active {
		due := def.ArchiveDue()
		if due == nil || due.After(now) {
			continue
		}
		ok, err := s.archiveIfDue(ctx, def.ID, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("definition_id", def.ID).Msg("auto-archive failed")
			continue
		}
		if ok {
			archived++
		}
	}
	if archived > 0 {
		s.logger.Info().Int("count", archived).Msg("expired definitions archived")
	}
	return archived, nil
}

func (s *WorkflowService) archiveIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	archived := false
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		def, err := s.definitions.Get(ctx, id)
		if err != nil {
			return err
		}
		due := def.ArchiveDue()
		if def.Status != domain.DefinitionActive || due == nil || due.After(now) {
			return nil
		}
		if err := s.archive(ctx, def, constants.SystemUserName, now.UTC(), map[string]any{"reason": "autoArchiveAfterDays elapsed"}); err != nil {
			return err
		}
		archived = true
		return nil
	})
	if errors.Is(err, ports.ErrVersionConflict) {
		return false, nil
	}
	return archived, err
}

// Export renders a definition as a JSON or YAML document.
func (s *WorkflowService) Export(ctx context.Context, actor *auth.UserSession, id, format string) ([]byte, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	def, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	doc := ExportDocument{Kind: exportKind, ExportedAt: s.now().UTC(), Definition: def}
	switch normalizeFormat(format) {
	case constants.FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case constants.FormatYAML:
		return yaml.Marshal(doc)
	}
	return nil, apperrors.NewValidationError(constants.ParamFormat, fmt.Sprintf("unsupported format %q", format))
}

// Import creates a new draft from an exported document.
func (s *WorkflowService) Import(ctx context.Context, actor *auth.UserSession, data []byte, format string) (*MutationResult, error) {
	var doc ExportDocument
	var err error
	switch normalizeFormat(format) {
	case constants.FormatJSON:
		err = json.Unmarshal(data, &doc)
	case constants.FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, apperrors.NewValidationError(constants.ParamFormat, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, apperrors.NewValidationError("document", fmt.Sprintf("cannot parse document: %v", err))
	}
	if doc.Definition == nil {
		return nil, apperrors.NewValidationError("definition", "document carries no definition")
	}
	return s.create(ctx, actor, doc.Definition, domain.AuditImported, map[string]any{"importedId": doc.Definition.ID})
}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "", constants.FormatJSON:
		return constants.FormatJSON
	case constants.FormatYAML, "yml":
		return constants.FormatYAML
	}
	return f
}

// History returns the audit trail of a definition, newest first.
func (s *WorkflowService) History(ctx context.Context, actor *auth.UserSession, id string, limit int) ([]domain.AuditEntry, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, domain.AuditTargetDefinition, id, limit)
}

// load fetches a definition of the actor's tenant. Other tenants' records read as missing.
func (s *WorkflowService) load(ctx context.Context, actor *auth.UserSession, id string) (*domain.WorkflowDefinition, error) {
	def, err := s.definitions.Get(ctx, id)
	if err != nil {
		return nil, translate(err, resourceDefinition, id)
	}
	if def.Tenant != tenantOf(actor, s.defaultTenant) {
		return nil, apperrors.NewNotFoundError(resourceDefinition, id)
	}
	return def, nil
}

// checkVersion refuses writes that do not name the version they were read at.
func checkVersion(expected int) error {
	if expected < 1 {
		return apperrors.NewValidationError("expectedVersion", "must be a positive integer")
	}
	return nil
}

func definitionEvent(def *domain.WorkflowDefinition, actorID string) events.DefinitionEvent {
	return events.DefinitionEvent{
		DefinitionID: def.ID,
		Tenant:       def.Tenant,
		AppliesTo:    def.AppliesTo,
		Revision:     def.RevisionLabel(),
		ActorID:      actorID,
	}
}

// structuralErrors keeps only the shape errors that make a record unstorable.
func structuralErrors(res domain.ValidationResult) domain.ValidationResult {
	out := domain.NewValidationResult()
	for _, i := range res.Errors {
		if i.Rule == domain.RuleStructure {
			out.Add(i)
		}
	}
	return out
}

// allIssues flattens a result for responses that report without blocking.
func allIssues(res domain.ValidationResult) []domain.Issue {
	out := make([]domain.Issue, 0, len(res.Errors)+len(res.Warnings))
	out = append(out, res.Errors...)
	return append(out, res.Warnings...)
}
