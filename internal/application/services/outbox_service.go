package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexuscrm/approvals/internal/domain/events"
	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/internal/infrastructure/metrics"
	"github.com/nexuscrm/approvals/pkg/constants"
)

// outboxBatchSize bounds one ProcessOutbox pass.
const outboxBatchSize = 100

// OutboxService handles transactional event storage and async publishing.
// It implements the Outbox Pattern for guaranteed event delivery.
type OutboxService struct {
	repo      ports.OutboxRepository
	txManager ports.TransactionManager
	publisher ports.EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// Worker control
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutboxService creates a new OutboxService
func NewOutboxService(repo ports.OutboxRepository, txManager ports.TransactionManager, publisher ports.EventPublisher, m *metrics.Metrics, logger zerolog.Logger) *OutboxService {
	return &OutboxService{
		repo:      repo,
		txManager: txManager,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox").Logger(),
		stopCh:    make(chan struct{}),
	}
}

// Enqueue stores an event within the transaction carried by ctx, so it is
// persisted atomically with the business change.
func (os *OutboxService) Enqueue(ctx context.Context, eventType events.EventType, payload interface{}) error {
	if err := os.repo.Enqueue(ctx, string(eventType), payload); err != nil {
		return err
	}
	os.logger.Debug().Str("event", string(eventType)).Msg("event enqueued")
	return nil
}

// StartWorker starts the background worker that processes pending outbox events.
// The worker polls with the specified interval.
func (os *OutboxService) StartWorker(interval time.Duration) {
	os.wg.Add(1)
	go func() {
		defer os.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		os.logger.Info().Dur("interval", interval).Msg("outbox worker started")

		for {
			select {
			case <-os.stopCh:
				os.logger.Info().Msg("outbox worker stopping")
				return
			case <-ticker.C:
				if _, err := os.ProcessOutbox(context.Background()); err != nil {
					os.logger.Warn().Err(err).Msg("outbox worker error")
				}
			}
		}
	}()
}

// StopWorker stops the background worker gracefully
func (os *OutboxService) StopWorker() {
	os.stopOnce.Do(func() {
		close(os.stopCh)
	})
	os.wg.Wait()
}

// ProcessOutbox publishes pending events in creation order and returns how
// many were delivered. Each event is handled in its own transaction.
func (os *OutboxService) ProcessOutbox(ctx context.Context) (int, error) {
	pending, err := os.repo.GetPendingEvents(ctx, outboxBatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range pending {
		ok, err := os.processEventAtomic(ctx, e)
		if err != nil {
			os.logger.Warn().Err(err).Str("event_id", e.ID).Msg("failed to process outbox event")
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// processEventAtomic claims an event, publishes it, and updates its status in one transaction.
func (os *OutboxService) processEventAtomic(ctx context.Context, e ports.OutboxEvent) (bool, error) {
	delivered := false
	err := os.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		claimed, err := os.repo.ClaimEvent(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("failed to claim event: %w", err)
		}
		if !claimed {
			return nil // Already processed/locked
		}

		if !json.Valid(e.Payload) {
			os.metrics.ObserveOutbox(constants.OutboxStatusFailed)
			return os.repo.UpdateStatus(ctx, e.ID, constants.OutboxStatusFailed, "invalid payload")
		}

		if pubErr := os.publisher.Publish(ctx, events.EventType(e.EventType), json.RawMessage(e.Payload)); pubErr != nil {
			count, err := os.repo.IncrementRetry(ctx, e.ID, pubErr.Error())
			if err != nil {
				return fmt.Errorf("failed to update retry count: %w", err)
			}
			if count >= constants.OutboxMaxRetries {
				os.metrics.ObserveOutbox(constants.OutboxStatusFailed)
				os.logger.Warn().Err(pubErr).Str("event_id", e.ID).Msg("outbox event failed permanently")
				return os.repo.UpdateStatus(ctx, e.ID, constants.OutboxStatusFailed, fmt.Sprintf("max retries exceeded: %v", pubErr))
			}
			os.logger.Warn().Err(pubErr).Str("event_id", e.ID).
				Int("attempt", count).Int("max", constants.OutboxMaxRetries).Msg("outbox event delivery failed")
			return nil
		}

		if err := os.repo.UpdateStatus(ctx, e.ID, constants.OutboxStatusProcessed, ""); err != nil {
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		os.metrics.ObserveOutbox(constants.OutboxStatusProcessed)
		delivered = true
		return nil
	})
	return delivered, err
}

// Cleanup removes processed events older than retention.
func (os *OutboxService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return os.repo.CleanupProcessed(ctx, retention)
}
