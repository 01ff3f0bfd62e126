package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscrm/approvals/internal/domain/ports"
	"github.com/nexuscrm/approvals/pkg/constants"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// OutboxRepository keeps outbox events in memory.
type OutboxRepository struct {
	mu     sync.Mutex
	events map[string]*ports.OutboxEvent
	order  []string
	now    func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{events: make(map[string]*ports.OutboxEvent), now: time.Now}
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) Enqueue(_ context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := utils.GenerateID()
	r.events[id] = &ports.OutboxEvent{
		ID:        id,
		EventType: eventType,
		Payload:   data,
		Status:    constants.OutboxStatusPending,
		CreatedAt: r.now().UTC(),
	}
	r.order = append(r.order, id)
	return nil
}

func (r *OutboxRepository) GetPendingEvents(_ context.Context, limit int) ([]ports.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.OutboxEvent
	for _, id := range r.order {
		if e := r.events[id]; e.Status == constants.OutboxStatusPending {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimEvent reports whether the event is still pending. The in-memory
// TransactionManager serializes workers, so no row lock is needed.
func (r *OutboxRepository) ClaimEvent(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	return ok && e.Status == constants.OutboxStatusPending, nil
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id, status, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("outbox event %s: %w", id, ports.ErrNotFound)
	}
	switch status {
	case constants.OutboxStatusProcessed:
		now := r.now().UTC()
		e.ProcessedAt = &now
	case constants.OutboxStatusFailed:
		e.LastError = lastError
	default:
		return fmt.Errorf("unsupported status update: %s", status)
	}
	e.Status = status
	return nil
}

func (r *OutboxRepository) IncrementRetry(_ context.Context, id, lastError string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return 0, fmt.Errorf("outbox event %s: %w", id, ports.ErrNotFound)
	}
	e.RetryCount++
	e.LastError = lastError
	return e.RetryCount, nil
}

func (r *OutboxRepository) CleanupProcessed(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().UTC().Add(-olderThan)
	var n int64
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.events[id]
		if e.Status == constants.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			delete(r.events, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return n, nil
}

// Events returns a copy of every stored event, for inspection in tests and the admin API.
func (r *OutboxRepository) Events() []ports.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.events[id])
	}
	return out
}

// TransactionManager serializes units of work. It gives isolation between
// concurrent callers but no rollback; callers validate before writing.
type TransactionManager struct {
	mu sync.Mutex
}

func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

var _ ports.TransactionManager = (*TransactionManager)(nil)

type txKey struct{}

func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}
