package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Outbox retention and its cleanup schedule.
const (
	outboxRetention       = 7 * 24 * time.Hour
	outboxCleanupSchedule = "@daily"
	schedulerJobTimeout   = 5 * time.Minute
)

// SchedulerService runs the SLA scan and definition auto-archive on a cron
// schedule, plus the daily outbox cleanup.
type SchedulerService struct {
	cron      *cron.Cron
	sla       *SLAService
	workflows *WorkflowService
	outbox    *OutboxService
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	last    ScanReport
}

// NewSchedulerService registers the jobs. schedule is a cron expression or a
// descriptor such as "@every 1m".
func NewSchedulerService(schedule string, sla *SLAService, workflows *WorkflowService, outbox *OutboxService, logger zerolog.Logger) (*SchedulerService, error) {
	s := &SchedulerService{
		sla:       sla,
		workflows: workflows,
		outbox:    outbox,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid SLA scan schedule %q: %w", schedule, err)
	}
	if outbox != nil {
		if _, err := s.cron.AddFunc(outboxCleanupSchedule, s.cleanupOutbox); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins running scheduled jobs in the background.
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunOnce performs one SLA scan and one auto-archive pass at the current time.
func (s *SchedulerService) RunOnce(ctx context.Context) (ScanReport, error) {
	now := s.now().UTC()
	report, err := s.sla.ScanOverdueSteps(ctx, now)
	if err != nil {
		return report, err
	}
	if _, err := s.workflows.ArchiveExpired(ctx, now); err != nil {
		return report, err
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// LastReport returns the report of the most recent scan.
func (s *SchedulerService) LastReport() ScanReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *SchedulerService) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), schedulerJobTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled sla scan failed")
	}
}

func (s *SchedulerService) cleanupOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), schedulerJobTimeout)
	defer cancel()
	n, err := s.outbox.Cleanup(ctx, outboxRetention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("outbox cleanup failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("removed", n).Msg("processed outbox events cleaned up")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
