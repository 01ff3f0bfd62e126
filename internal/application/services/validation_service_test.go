package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/infrastructure/memory"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
)

const samplePolicy = `
rules:
  - name: max-steps
    expression: stepCount <= 3
    message: workflows may have at most three steps
  - name: admin-last
    expression: 'COUNT(roles, "admin") == 0 || roles[stepCount - 1] == "admin"'
    message: an admin step must come last
    severity: warning
`

func TestParsePolicy(t *testing.T) {
	rules, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, domain.SeverityError, rules[0].Severity)
	assert.Equal(t, domain.SeverityWarning, rules[1].Severity)

	tests := []struct {
		name string
		doc  string
	}{
		{"missing expression", "rules:\n  - name: x\n"},
		{"bad severity", "rules:\n  - {name: x, expression: 'true', severity: fatal}\n"},
		{"does not compile", "rules:\n  - {name: x, expression: 'stepCount >'}\n"},
		{"not yaml", "rules: ["},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func newValidation(t *testing.T, debounce time.Duration) *ValidationService {
	t.Helper()
	rules, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)
	return NewValidationService(memory.NewDefinitionRepository(), rules, debounce, metrics.New(), zerolog.Nop())
}

func TestValidationService_PolicyRules(t *testing.T) {
	v := newValidation(t, 0)
	ctx := context.Background()

	def := leaveDefinition(
		step(domain.RoleHR, domain.ModeSequential, 60),
		step(domain.RoleManager, domain.ModeSequential, 60),
		step(domain.RoleAdmin, domain.ModeSequential, 60),
	)
	def.Normalize()
	res, err := v.Check(ctx, def)
	require.NoError(t, err)
	assert.True(t, res.Valid())

	def.AddStep(step(domain.RoleAdmin, domain.ModeParallel, 60))
	res, err = v.Check(ctx, def)
	require.NoError(t, err)
	require.False(t, res.Valid())
	var policy []domain.Issue
	for _, i := range res.Errors {
		if i.Rule == domain.RulePolicy {
			policy = append(policy, i)
		}
	}
	require.Len(t, policy, 1)
	assert.Equal(t, "max-steps", policy[0].Field)
	assert.Equal(t, domain.DefinitionLevel, policy[0].StepIndex)

	local := v.Local(def)
	for _, i := range local.Errors {
		assert.NotEqual(t, domain.RulePolicy, i.Rule, "local validation skips server policy")
	}
}

func TestValidationService_CanonicalRevisionGate(t *testing.T) {
	v := newValidation(t, 0)
	ctx := context.Background()
	def := leaveDefinition(step(domain.RoleHR, domain.ModeSequential, 60))

	resp, err := v.Canonical(ctx, CanonicalRequest{Definition: def, SessionID: "s1", Revision: 2})
	require.NoError(t, err)
	assert.False(t, resp.Stale)
	assert.True(t, resp.Valid)
	assert.Equal(t, int64(2), resp.Revision)

	resp, err = v.Canonical(ctx, CanonicalRequest{Definition: def, SessionID: "s1", Revision: 1})
	require.NoError(t, err)
	assert.True(t, resp.Stale, "an older revision never overwrites a newer result")
	assert.Empty(t, resp.Errors)

	resp, err = v.Canonical(ctx, CanonicalRequest{Definition: def, SessionID: "s2", Revision: 1})
	require.NoError(t, err)
	assert.False(t, resp.Stale, "sessions are independent")

	resp, err = v.Canonical(ctx, CanonicalRequest{Definition: def})
	require.NoError(t, err)
	assert.False(t, resp.Stale)
}

func TestValidationService_CanonicalDebounced(t *testing.T) {
	v := newValidation(t, 100*time.Millisecond)
	ctx := context.Background()
	def := leaveDefinition(step(domain.RoleHR, domain.ModeSequential, 60))

	var wg sync.WaitGroup
	responses := make([]CanonicalResponse, 3)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			resp, err := v.CanonicalDebounced(ctx, CanonicalRequest{Definition: def, SessionID: "s1", Revision: int64(i + 1)})
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	assert.True(t, responses[0].Stale)
	assert.True(t, responses[1].Stale)
	assert.False(t, responses[2].Stale)
	assert.Equal(t, int64(3), responses[2].Revision)
}

func TestDebouncer_ContextCancel(t *testing.T) {
	d := NewDebouncer[int](time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, superseded, err := d.Do(ctx, "k", func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, superseded)

	d = NewDebouncer[int](0)
	v, superseded, err := d.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, superseded)
	assert.Equal(t, 7, v)
}

func TestValidationService_ActiveConflictWarning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	active := h.publish(t, step(domain.RoleHR, domain.ModeSequential, 60))

	res, err := h.sm.Validation.Check(ctx, active)
	require.NoError(t, err)
	for _, w := range res.Warnings {
		assert.NotEqual(t, domain.RuleActiveConflict, w.Rule, "a definition never conflicts with itself")
	}

	draft := leaveDefinition(step(domain.RoleManager, domain.ModeSequential, 60))
	draft.Tenant = tenant
	res, err = h.sm.Validation.Check(ctx, draft)
	require.NoError(t, err)
	assert.True(t, res.Valid(), "conflicts only warn")
	var found bool
	for _, w := range res.Warnings {
		found = found || w.Rule == domain.RuleActiveConflict
	}
	assert.True(t, found)
}
