// Package ratelimit throttles calls to the outbound email transport.
//
// SlidingWindow admits at most N calls in any trailing window and is safe for
// concurrent callers within one process. RedisWindow enforces the same
// ceiling across every process that shares a Redis instance.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLimit is the SES sending ceiling per window.
	DefaultLimit = 14
	// DefaultWindow is the trailing window the limit applies to.
	DefaultWindow = time.Second
	// Margin is added to every computed sleep so the oldest admission has
	// definitely left the window when the caller wakes up.
	Margin = 10 * time.Millisecond
)

// Limiter gates a single outbound call.
type Limiter interface {
	// Wait blocks until a slot is reserved for the caller or ctx is done.
	Wait(ctx context.Context) error
}

// Clock abstracts time so window tests run without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SlidingWindow keeps the timestamps of recent admissions and admits a call
// only while fewer than limit of them fall inside the trailing window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  Clock
	stamps []time.Time
}

// NewSlidingWindow builds a limiter. Non-positive arguments fall back to the
// defaults and a nil clock means the wall clock.
func NewSlidingWindow(limit int, window time.Duration, clock Clock) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		stamps: make([]time.Time, 0, limit),
	}
}

// Wait reserves a slot. The admission decision is made under the lock and
// the sleep happens outside it, so concurrent callers loop until one of
// them finds room.
func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay, ok := w.tryAdmit()
		if ok {
			return nil
		}
		if err := w.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *SlidingWindow) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	keep := w.stamps[:0]
	for _, t := range w.stamps {
		if now.Sub(t) < w.window {
			keep = append(keep, t)
		}
	}
	w.stamps = keep

	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0, true
	}
	return w.window - now.Sub(w.stamps[0]) + Margin, false
}

// Reset forgets every recorded admission.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	w.stamps = w.stamps[:0]
	w.mu.Unlock()
}

// InFlight reports how many admissions are inside the current window.
func (w *SlidingWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	n := 0
	for _, t := range w.stamps {
		if now.Sub(t) < w.window {
			n++
		}
	}
	return n
}
