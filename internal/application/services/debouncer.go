package services

import (
	"context"
	"sync"
	"time"
)

// Debouncer coalesces calls per key. Every call waits out the window; only
// the latest call for a key runs, and its result is delivered only if no newer
// call arrived while it ran. Superseded callers get superseded=true.
type Debouncer[T any] struct {
	window time.Duration
	mu     sync.Mutex
	seq    map[string]uint64
}

// NewDebouncer creates a Debouncer with the given window.
func NewDebouncer[T any](window time.Duration) *Debouncer[T] {
	return &Debouncer[T]{window: window, seq: make(map[string]uint64)}
}

// Do submits fn under key.
func (d *Debouncer[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (result T, superseded bool, err error) {
	d.mu.Lock()
	d.seq[key]++
	mine := d.seq[key]
	d.mu.Unlock()

	if d.window > 0 {
		timer := time.NewTimer(d.window)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.release(key, mine)
			return result, false, ctx.Err()
		case <-timer.C:
		}
	}

	if !d.latest(key, mine) {
		return result, true, nil
	}
	v, err := fn(ctx)
	if !d.latest(key, mine) {
		return result, true, nil
	}
	d.release(key, mine)
	return v, false, err
}

func (d *Debouncer[T]) latest(key string, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq[key] == seq
}

// release forgets key once its latest call is done.
func (d *Debouncer[T]) release(key string, seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seq[key] == seq {
		delete(d.seq, key)
	}
}
