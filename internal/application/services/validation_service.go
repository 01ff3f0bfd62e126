package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/pkg/expression"
)

// Validation modes, used as the metrics label.
const (
	ValidationModeLocal     = "local"
	ValidationModeCanonical = "canonical"
)

// sessionTTL is how long an idle validation session's revision is remembered.
const sessionTTL = 30 * time.Minute

// PolicyRule is a server-side rule. A rule whose expression evaluates to
// false produces an issue with Message.
type PolicyRule struct {
	Name       string          `yaml:"name" json:"name"`
	Expression string          `yaml:"expression" json:"expression"`
	Message    string          `yaml:"message" json:"message"`
	Severity   domain.Severity `yaml:"severity" json:"severity"`
}

type policyFile struct {
	Rules []PolicyRule `yaml:"rules"`
}

// LoadPolicy reads policy rules from a YAML file.
func LoadPolicy(path string) ([]PolicyRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and compiles policy rules.
func ParsePolicy(data []byte) ([]PolicyRule, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	engine := expression.NewEngine()
	sample := policyEnv(domain.NewDefinition("sample", "sample", domain.RoleEmployee))
	for i, r := range f.Rules {
		if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Expression) == "" {
			return nil, fmt.Errorf("policy rule %d needs a name and an expression", i+1)
		}
		if r.Severity == "" {
			f.Rules[i].Severity = domain.SeverityError
		} else if r.Severity != domain.SeverityError && r.Severity != domain.SeverityWarning {
			return nil, fmt.Errorf("policy rule %s has unknown severity %q", r.Name, r.Severity)
		}
		if err := engine.Validate(r.Expression, sample); err != nil {
			return nil, fmt.Errorf("policy rule %s does not compile: %w", r.Name, err)
		}
	}
	return f.Rules, nil
}

// CanonicalRequest is one server-side validation call. SessionID and
// Revision are optional; when set, responses older than the newest revision
// seen for the session are marked stale.
type CanonicalRequest struct {
	Definition *domain.WorkflowDefinition
	SessionID  string
	Revision   int64
}

// CanonicalResponse carries the result of a canonical check. A stale response
// has no issues and must not be applied by the caller.
type CanonicalResponse struct {
	Valid     bool           `json:"valid"`
	Errors    []domain.Issue `json:"errors"`
	Warnings  []domain.Issue `json:"warnings"`
	Stale     bool           `json:"stale"`
	SessionID string         `json:"sessionId,omitempty"`
	Revision  int64          `json:"revision,omitempty"`
}

// Result returns the issues as a ValidationResult.
func (r CanonicalResponse) Result() domain.ValidationResult {
	return domain.ValidationResult{Errors: r.Errors, Warnings: r.Warnings}
}

type sessionState struct {
	revision int64
	seen     time.Time
}

// ValidationService runs the local rules, the server policy and the
// cross-definition check.
type ValidationService struct {
	definitions ports.DefinitionRepository
	engine      *expression.Engine
	rules       []PolicyRule
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	debouncer   *Debouncer[CanonicalResponse]
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]sessionState
}

// NewValidationService creates a ValidationService.
func NewValidationService(definitions ports.DefinitionRepository, rules []PolicyRule, debounce time.Duration, m *metrics.Metrics, logger zerolog.Logger) *ValidationService {
	return &ValidationService{
		definitions: definitions,
		engine:      expression.NewEngine(),
		rules:       rules,
		metrics:     m,
		logger:      logger.With().Str("component", "validation").Logger(),
		debouncer:   NewDebouncer[CanonicalResponse](debounce),
		now:         time.Now,
		sessions:    make(map[string]sessionState),
	}
}

// Local runs the structural and hierarchy rules only. It needs no I/O.
func (s *ValidationService) Local(def *domain.WorkflowDefinition) domain.ValidationResult {
	res := domain.Validate(def)
	s.metrics.ObserveValidation(ValidationModeLocal, res.Valid())
	return res
}

// Check runs the canonical rule set without any session bookkeeping. Publish
// and updates of active definitions gate on it.
func (s *ValidationService) Check(ctx context.Context, def *domain.WorkflowDefinition) (domain.ValidationResult, error) {
	res := domain.Validate(def)
	if def == nil {
		return res, nil
	}
	res.Merge(s.evaluatePolicy(def))

	conflicts, err := s.activeConflicts(ctx, def)
	if err != nil {
		return res, err
	}
	res.Merge(conflicts)
	s.metrics.ObserveValidation(ValidationModeCanonical, res.Valid())
	return res, nil
}

// Canonical runs Check behind the revision gate.
func (s *ValidationService) Canonical(ctx context.Context, req CanonicalRequest) (CanonicalResponse, error) {
	if req.SessionID != "" && !s.admit(req.SessionID, req.Revision) {
		s.logger.Debug().Str("session", req.SessionID).Int64("revision", req.Revision).Msg("discarding stale validation request")
		return staleResponse(req), nil
	}

	res, err := s.Check(ctx, req.Definition)
	if err != nil {
		return CanonicalResponse{}, translate(err, resourceDefinition, "")
	}

	if req.SessionID != "" && s.superseded(req.SessionID, req.Revision) {
		s.logger.Debug().Str("session", req.SessionID).Int64("revision", req.Revision).Msg("discarding superseded validation response")
		return staleResponse(req), nil
	}
	return CanonicalResponse{
		Valid:     res.Valid(),
		Errors:    res.Errors,
		Warnings:  res.Warnings,
		SessionID: req.SessionID,
		Revision:  req.Revision,
	}, nil
}

// CanonicalDebounced coalesces requests of one session within the debounce
// window; every request but the latest is answered stale.
func (s *ValidationService) CanonicalDebounced(ctx context.Context, req CanonicalRequest) (CanonicalResponse, error) {
	if req.SessionID == "" {
		return s.Canonical(ctx, req)
	}
	resp, superseded, err := s.debouncer.Do(ctx, req.SessionID, func(ctx context.Context) (CanonicalResponse, error) {
		return s.Canonical(ctx, req)
	})
	if err != nil {
		return CanonicalResponse{}, err
	}
	if superseded {
		return staleResponse(req), nil
	}
	return resp, nil
}

func staleResponse(req CanonicalRequest) CanonicalResponse {
	return CanonicalResponse{
		Stale:     true,
		Errors:    []domain.Issue{},
		Warnings:  []domain.Issue{},
		SessionID: req.SessionID,
		Revision:  req.Revision,
	}
}

// admit records revision for session unless a newer one was already seen.
func (s *ValidationService) admit(session string, revision int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	st, ok := s.sessions[session]
	if ok && revision < st.revision {
		return false
	}
	s.sessions[session] = sessionState{revision: revision, seen: now}
	return true
}

func (s *ValidationService) superseded(session string, revision int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[session].revision > revision
}

func (s *ValidationService) pruneLocked(now time.Time) {
	for k, st := range s.sessions {
		if now.Sub(st.seen) > sessionTTL {
			delete(s.sessions, k)
		}
	}
}

func (s *ValidationService) evaluatePolicy(def *domain.WorkflowDefinition) domain.ValidationResult {
	res := domain.NewValidationResult()
	if len(s.rules) == 0 {
		return res
	}
	env := policyEnv(def)
	for _, rule := range s.rules {
		ok, err := s.engine.EvaluateBool(rule.Expression, env)
		if err != nil {
			s.logger.Warn().Err(err).Str("rule", rule.Name).Msg("policy rule failed to evaluate")
			res.Add(domain.Issue{
				Rule:      domain.RulePolicy,
				Severity:  domain.SeverityWarning,
				StepIndex: domain.DefinitionLevel,
				Field:     rule.Name,
				Message:   fmt.Sprintf("policy rule %s could not be evaluated", rule.Name),
			})
			continue
		}
		if !ok {
			res.Add(domain.Issue{
				Rule:      domain.RulePolicy,
				Severity:  rule.Severity,
				StepIndex: domain.DefinitionLevel,
				Field:     rule.Name,
				Message:   rule.Message,
			})
		}
	}
	return res
}

// activeConflicts warns when publishing def would archive another active definition.
func (s *ValidationService) activeConflicts(ctx context.Context, def *domain.WorkflowDefinition) (domain.ValidationResult, error) {
	res := domain.NewValidationResult()
	if s.definitions == nil || strings.TrimSpace(def.AppliesTo) == "" {
		return res, nil
	}
	active, err := s.definitions.List(ctx, ports.DefinitionFilter{
		Tenant:    def.Tenant,
		AppliesTo: def.AppliesTo,
		Status:    domain.DefinitionActive,
	})
	if err != nil {
		return res, err
	}
	for _, other := range active {
		if other.ID == def.ID {
			continue
		}
		res.Add(domain.Issue{
			Rule:      domain.RuleActiveConflict,
			Severity:  domain.SeverityWarning,
			StepIndex: domain.DefinitionLevel,
			Field:     "appliesTo",
			Message: fmt.Sprintf("definition %q (%s) is active for %s and will be archived on publish",
				other.WorkflowName, other.RevisionLabel(), other.AppliesTo),
		})
	}
	return res, nil
}

// policyEnv is the variable set policy expressions see. Types stay the same
// for every definition so compiled programs can be cached.
func policyEnv(def *domain.WorkflowDefinition) map[string]interface{} {
	steps := make([]interface{}, 0, len(def.Steps))
	roles := make([]interface{}, 0, len(def.Steps))
	for _, st := range def.Steps {
		autoApprove := 0
		if st.SLA.AutoApproveAfterMinutes != nil {
			autoApprove = *st.SLA.AutoApproveAfterMinutes
		}
		escalateTo := ""
		if st.Escalation.Configured() {
			escalateTo = string(*st.Escalation.EscalateToRole)
		}
		steps = append(steps, map[string]interface{}{
			"order":                   st.Order,
			"name":                    st.Name,
			"role":                    string(st.Role),
			"rank":                    st.Role.Rank(),
			"mode":                    string(st.Mode),
			"timeLimitMinutes":        st.SLA.TimeLimitMinutes,
			"autoApproveAfterMinutes": autoApprove,
			"escalateToRole":          escalateTo,
			"escalateAfterMinutes":    st.Escalation.EscalateAfterMinutes,
			"canReject":               st.Permissions.CanReject,
			"canSendBack":             st.Permissions.CanSendBack,
			"canDelegate":             st.Permissions.CanDelegate,
		})
		roles = append(roles, string(st.Role))
	}
	return map[string]interface{}{
		"name":          def.WorkflowName,
		"appliesTo":     def.AppliesTo,
		"requesterRole": string(def.RequesterRole),
		"stepCount":     len(def.Steps),
		"steps":         steps,
		"roles":         roles,
	}
}
