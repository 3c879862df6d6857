package leg

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrTickMismatch is returned when legs disagree on the plan tick.
var ErrTickMismatch = errors.New("plan tick mismatch")

// DefaultPlanTick is used by simulated legs when no hardware set the tick.
const DefaultPlanTick = 0.025

// tickTolerance is how far a later leg's tick may differ from the first.
const tickTolerance = 1e-9

// Timing holds the plan tick shared by every leg: the period, in seconds, at
// which leg controllers advance matrix plans. It starts unresolved; the first
// leg to report resolves it and every later report must agree.
type Timing struct {
	mu       sync.RWMutex
	tick     float64
	resolved bool
}

// NewTiming returns an unresolved Timing.
func NewTiming() *Timing {
	return &Timing{}
}

// Resolve records a leg's tick. The first call rounds seed to the nearest
// millisecond and fixes the tick. Later calls fail unless their raw seed
// matches the fixed tick.
func (t *Timing) Resolve(seed float64) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.resolved {
		t.tick = math.Round(seed*1000) / 1000
		t.resolved = true
		return t.tick, nil
	}
	if math.Abs(seed-t.tick) > tickTolerance {
		return t.tick, fmt.Errorf("%w: leg reports %g, expected %g", ErrTickMismatch, seed, t.tick)
	}
	return t.tick, nil
}

// Tick returns the tick in seconds and whether it has been resolved.
func (t *Timing) Tick() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tick, t.resolved
}

// Duration returns the resolved tick as a duration, or zero.
func (t *Timing) Duration() time.Duration {
	tick, _ := t.Tick()
	return time.Duration(tick * float64(time.Second))
}
