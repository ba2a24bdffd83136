package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Window is a sliding-window admission controller bounding calls per rolling
// interval. It is a courtesy limiter protecting against provider-side
// throttling, scoped to this process — not a hard quota.
type Window struct {
	mu       sync.Mutex
	max      int
	interval time.Duration
	stamps   []time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewWindow creates a limiter admitting at most maxPerMinute calls in any
// rolling 60-second window. maxPerMinute <= 0 disables limiting.
func NewWindow(maxPerMinute int) *Window {
	return newWindow(maxPerMinute, time.Minute)
}

func newWindow(max int, interval time.Duration) *Window {
	return &Window{max: max, interval: interval, nowFunc: time.Now}
}

// Admit blocks the caller until admission is safe or ctx is done. If the
// window is full, the caller sleeps until the oldest timestamp leaves the
// window; the window is then reset and the call recorded.
func (w *Window) Admit(ctx context.Context) error {
	if w.max <= 0 {
		return ctx.Err()
	}

	w.mu.Lock()
	now := w.nowFunc()
	w.prune(now)

	if len(w.stamps) < w.max {
		w.stamps = append(w.stamps, now)
		w.mu.Unlock()
		return nil
	}

	wait := w.interval - now.Sub(w.stamps[0])
	w.mu.Unlock()

	if wait > 0 {
		zap.L().Debug("ratelimit: window full, waiting",
			zap.Duration("wait", wait),
			zap.Int("max_per_window", w.max),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.mu.Lock()
	w.stamps = w.stamps[:0]
	w.stamps = append(w.stamps, w.nowFunc())
	w.mu.Unlock()
	return nil
}

// Pending returns how many admissions remain in the current window.
func (w *Window) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.nowFunc())
	n := w.max - len(w.stamps)
	if n < 0 {
		n = 0
	}
	return n
}

// prune drops timestamps older than the window. Caller holds w.mu.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.interval)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
