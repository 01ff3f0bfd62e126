package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/pkg/auth"
)

// ScanReport counts what one scanOverdueSteps pass did.
type ScanReport struct {
	At           time.Time `json:"at"`
	Evaluated    int       `json:"evaluated"`
	Escalated    int       `json:"escalated"`
	AutoApproved int       `json:"autoApproved"`
	Overdue      int       `json:"overdue"`
	Skipped      int       `json:"skipped"`
}

// SLAService drives the SLA clock over open instances and reports SLA health.
type SLAService struct {
	instances      ports.InstanceRepository
	approvals      *ApprovalService
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	atRiskFraction float64
	defaultTenant  string
}

// NewSLAService creates a new SLAService
func NewSLAService(instances ports.InstanceRepository, approvals *ApprovalService, m *metrics.Metrics, atRiskFraction float64, defaultTenant string, logger zerolog.Logger) *SLAService {
	if atRiskFraction <= 0 || atRiskFraction > 1 {
		atRiskFraction = domain.DefaultAtRiskFraction
	}
	return &SLAService{
		instances:      instances,
		approvals:      approvals,
		metrics:        m,
		logger:         logger.With().Str("component", "sla").Logger(),
		atRiskFraction: atRiskFraction,
		defaultTenant:  defaultTenant,
	}
}

// ScanOverdueSteps escalates or auto-approves every open step whose SLA
// demands it at now. A step a human resolved in the meantime is skipped.
func (s *SLAService) ScanOverdueSteps(ctx context.Context, now time.Time) (ScanReport, error) {
	report := ScanReport{At: now}
	open, err := s.instances.List(ctx, ports.InstanceFilter{OpenOnly: true})
	if err != nil {
		return report, translate(err, resourceInstance, "")
	}

	for _, inst := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		step, rec := inst.CurrentStep(), inst.CurrentRecord()
		if step == nil || rec == nil {
			continue
		}
		report.Evaluated++

		switch domain.EvaluateSLA(*step, *rec, now) {
		case domain.SLANone:
			continue
		case domain.SLAOverdue:
			report.Overdue++
			s.metrics.ObserveSLAScan(string(domain.SLAOverdue))
			continue
		}

		outcome, applied, err := s.approvals.ApplySLA(ctx, inst.ID, now)
		if err != nil {
			report.Skipped++
			s.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("sla transition failed")
			continue
		}
		if !applied {
			report.Skipped++
			s.metrics.ObserveSLAScan("skipped")
			continue
		}
		switch outcome {
		case domain.SLAEscalate:
			report.Escalated++
		case domain.SLAAutoApprove:
			report.AutoApproved++
		}
		s.metrics.ObserveSLAScan(string(outcome))
	}

	if report.Escalated+report.AutoApproved+report.Skipped > 0 {
		s.logger.Info().
			Int("evaluated", report.Evaluated).
			Int("escalated", report.Escalated).
			Int("auto_approved", report.AutoApproved).
			Int("overdue", report.Overdue).
			Int("skipped", report.Skipped).
			Msg("sla scan finished")
	}
	return report, nil
}

// Summary counts the open steps of the actor's tenant by SLA health.
// An empty entityType covers every entity type.
func (s *SLAService) Summary(ctx context.Context, actor *auth.UserSession, entityType string, now time.Time) (domain.SLASummary, error) {
	var sum domain.SLASummary
	if err := requireActor(actor); err != nil {
		return sum, err
	}
	open, err := s.instances.List(ctx, ports.InstanceFilter{
		Tenant:     tenantOf(actor, s.defaultTenant),
		EntityType: entityType,
		OpenOnly:   true,
	})
	if err != nil {
		return sum, translate(err, resourceInstance, "")
	}
	for _, inst := range open {
		rec := inst.CurrentRecord()
		if rec == nil {
			continue
		}
		sum.Add(domain.AssessSLA(*rec, now, s.atRiskFraction))
	}
	return sum, nil
}
