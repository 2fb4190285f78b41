package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Capacity keys shared by the pipeline and the HTTP surface
const (
	KeySource = "source"
	KeyLLM    = "llm"
)

// Quota defines the allowance for one capacity key
type Quota struct {
	Requests int
	Window   time.Duration
}

// Window is a process-wide sliding-window rate limiter shared across all
// jobs targeting the same external API. Acquire never drops a request, it
// only delays the caller until a slot frees inside the rolling window.
type Window struct {
	mu     sync.Mutex
	quotas map[string]Quota
	grants map[string][]time.Time
	now    func() time.Time
}

// NewWindow creates a limiter with the given per-key quotas
func NewWindow(quotas map[string]Quota) *Window {
	w := &Window{
		quotas: make(map[string]Quota, len(quotas)),
		grants: make(map[string][]time.Time),
		now:    time.Now,
	}
	for key, q := range quotas {
		w.quotas[key] = q
	}
	return w
}

// SetQuota registers or replaces the quota for a capacity key
func (w *Window) SetQuota(key string, requests int, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.quotas[key] = Quota{Requests: requests, Window: window}
}

// Acquire blocks until the key has a free slot in its rolling window or the
// context is cancelled. Keys without a registered quota are unlimited.
func (w *Window) Acquire(ctx context.Context, key string) error {
	for {
		w.mu.Lock()
		quota, ok := w.quotas[key]
		if !ok {
			w.mu.Unlock()
			return nil
		}

		now := w.now()
		w.prune(key, quota, now)

		if len(w.grants[key]) < quota.Requests {
			w.grants[key] = append(w.grants[key], now)
			w.mu.Unlock()
			return nil
		}

		// Oldest grant leaving the window frees the next slot
		wait := w.grants[key][0].Add(quota.Window).Sub(now)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait for %q interrupted: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Remaining reports how many acquisitions the key has left in the current
// window and when the window resets (when the oldest grant expires).
func (w *Window) Remaining(key string) (int, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	quota, ok := w.quotas[key]
	if !ok {
		return -1, time.Time{}
	}

	now := w.now()
	w.prune(key, quota, now)

	remaining := quota.Requests - len(w.grants[key])
	var reset time.Time
	if len(w.grants[key]) > 0 {
		reset = w.grants[key][0].Add(quota.Window)
	}
	return remaining, reset
}

// prune drops grants that have left the rolling window. Caller holds the lock.
func (w *Window) prune(key string, quota Quota, now time.Time) {
	grants := w.grants[key]
	cutoff := now.Add(-quota.Window)
	i := 0
	for i < len(grants) && !grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants[key] = append(grants[:0], grants[i:]...)
	}
}
