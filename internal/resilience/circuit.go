package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrModelUnavailable is returned when a call is rejected because the
// model's breaker is open.
var ErrModelUnavailable = eris.New("model circuit open")

// BreakerConfig controls when a model is taken out of rotation.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// breaker opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// probe call. Default: 30s.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults for provider calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// ModelBreakers tracks consecutive provider failures per model so that a
// dead primary is skipped quickly (straight to fallback) instead of paying
// the full retry schedule on every extraction.
type ModelBreakers struct {
	cfg BreakerConfig

	mu     sync.Mutex
	states map[string]*breakerState

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// NewModelBreakers creates a per-model breaker registry.
func NewModelBreakers(cfg BreakerConfig) *ModelBreakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &ModelBreakers{
		cfg:     cfg,
		states:  make(map[string]*breakerState),
		nowFunc: time.Now,
	}
}

// Allow reports whether a call to the model may proceed. An open breaker
// admits a single probe once ResetTimeout has elapsed.
func (b *ModelBreakers) Allow(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[model]
	if !ok {
		return true
	}
	if st.openUntil.IsZero() {
		return true
	}
	if b.nowFunc().Before(st.openUntil) {
		return false
	}
	// Probe window: allow one call, re-open on its failure via Record.
	st.openUntil = time.Time{}
	return true
}

// Record feeds a call outcome back into the model's breaker.
func (b *ModelBreakers) Record(model string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[model]
	if !ok {
		st = &breakerState{}
		b.states[model] = st
	}

	if err == nil {
		st.consecutiveFailures = 0
		st.openUntil = time.Time{}
		return
	}

	st.consecutiveFailures++
	if st.consecutiveFailures >= b.cfg.FailureThreshold {
		st.openUntil = b.nowFunc().Add(b.cfg.ResetTimeout)
	}
}

// Failures returns the consecutive failure count for a model.
func (b *ModelBreakers) Failures(model string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[model]; ok {
		return st.consecutiveFailures
	}
	return 0
}
