// Package gait coordinates the feet of the walker. The Body decides which
// foot may lift from the restriction each foot reports, keeping lifted feet
// apart so the machine stays statically stable.
package gait

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/robot"
)

var log = logrus.WithField("pkg", "gait")

var ErrNoFeet = errors.New("no feet")

// restrictionQueue is the capacity of the arbitration queue.
const restrictionQueue = 256

type restrictionSample struct {
	leg int
	r   float64
}

// Body arbitrates lifting across all feet. Arbitration and operator calls
// are serialized by one mutex.
type Body struct {
	clock     clock.Clock
	feet      map[int]Foot
	ids       []int
	neighbors map[int][]int
	events    listeners[BodyEvent]
	queue     chan restrictionSample
	cancels   []func()
	dropped   atomic.Int64

	mu      sync.Mutex
	cfg     Config
	enabled bool
	halted  bool
	target  Target
	preHalt Target
}

// NewBody builds a disabled body over feet and subscribes to their
// restriction events.
func NewBody(feet map[int]Foot, cfg Config, clk clock.Clock) (*Body, error) {
	if len(feet) == 0 {
		return nil, ErrNoFeet
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	ids := make([]int, 0, len(feet))
	for n := range feet {
		ids = append(ids, n)
	}
	slices.Sort(ids)

	b := &Body{
		clock:     clk,
		feet:      feet,
		ids:       ids,
		neighbors: ringNeighbors(ids),
		queue:     make(chan restrictionSample, restrictionQueue),
		cfg:       cfg,
	}
	for _, n := range ids {
		b.cancels = append(b.cancels, feet[n].Subscribe(func(e FootEvent) {
			if e.Kind == FootRestriction {
				b.Notify(e.Leg, e.Restriction)
			}
		}))
	}
	b.Disable()
	return b, nil
}

// ringNeighbors pairs each id with the ids before and after it in sorted
// order, wrapping around.
func ringNeighbors(ids []int) map[int][]int {
	out := make(map[int][]int, len(ids))
	if len(ids) < 2 {
		return out
	}
	for i, n := range ids {
		prev := ids[(i+len(ids)-1)%len(ids)]
		next := ids[(i+1)%len(ids)]
		if prev == next {
			out[n] = []int{prev}
		} else {
			out[n] = []int{prev, next}
		}
	}
	return out
}

// Neighbors returns the ring neighbors of a leg.
func (b *Body) Neighbors(n int) []int {
	return slices.Clone(b.neighbors[n])
}

// Feet returns the feet by leg number.
func (b *Body) Feet() map[int]Foot {
	return b.feet
}

// Subscribe registers fn for body events.
func (b *Body) Subscribe(fn func(BodyEvent)) func() {
	return b.events.add(fn)
}

// Close stops listening to the feet.
func (b *Body) Close() {
	for _, c := range b.cancels {
		c()
	}
}

func (b *Body) emit(kind BodyEventKind) {
	b.events.emit(BodyEvent{Kind: kind, Time: b.clock.Now(), Target: b.target})
}

// Enable starts arbitration. Feet take the given states; feet not listed
// start in stance.
func (b *Body) Enable(states map[int]State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log.Debug("enable")
	b.enabled = true
	b.halted = false
	for _, n := range b.ids {
		s, ok := states[n]
		if !ok || s == StateNone {
			s = StateStance
		}
		b.feet[n].SetState(s)
	}
	b.emit(BodyEnabled)
}

// Disable stops arbitration and leaves every foot undriven.
func (b *Body) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	log.Debug("disable")
	b.enabled = false
	for _, n := range b.ids {
		b.feet[n].SetState(StateNone)
	}
	b.emit(BodyDisabled)
}

// SetTarget requests a new body motion. While halted the target is kept for
// when the body unhalts and the feet hold still.
func (b *Body) SetTarget(t Target, updateSwing bool) error {
	if err := t.Valid(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setTarget(t, updateSwing)
	return nil
}

// setTarget is called with b.mu held.
func (b *Body) setTarget(t Target, updateSwing bool) {
	log.WithFields(logrus.Fields{"target": t, "update_swing": updateSwing}).Debug("set target")
	if b.halted {
		log.Debug("set target while halted")
		b.preHalt = t
		t = Zero()
		updateSwing = false
	}
	b.target = t
	b.sendTarget(updateSwing)
	b.emit(BodyTarget)
}

// sendTarget forwards the effective target to every foot, scaled by the
// speed scalar. Called with b.mu held.
func (b *Body) sendTarget(updateSwing bool) {
	scaled := b.target.Scaled(b.cfg.SpeedScalar)
	for _, n := range b.ids {
		b.feet[n].SetTarget(scaled, updateSwing)
	}
}

// SetSpeed changes the speed scalar and re-sends the current target.
func (b *Body) SetSpeed(scalar float64) error {
	if scalar < 0 || math.IsNaN(scalar) || math.IsInf(scalar, 0) {
		return ErrInvalidConfig
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.SpeedScalar = scalar
	b.sendTarget(!b.halted)
	return nil
}

// Halt stops the stance without disturbing swinging feet. Halting twice is
// the same as halting once.
func (b *Body) Halt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halt()
}

// halt is called with b.mu held.
func (b *Body) halt() {
	if b.halted {
		return
	}
	log.WithFields(logrus.Fields{
		"restriction": b.restrictions(),
		"states":      b.states(),
		"pre_halt":    b.target,
	}).Info("halt")
	b.preHalt = b.target
	b.setTarget(Zero(), false)
	b.halted = true
	b.emit(BodyHalted)
}

func (b *Body) unhalt() {
	log.WithFields(logrus.Fields{
		"restriction": b.restrictions(),
		"states":      b.states(),
		"pre_halt":    b.preHalt,
	}).Info("unhalt")
	b.halted = false
	b.setTarget(b.preHalt, false)
	b.emit(BodyUnhalted)
}

// Notify queues a restriction sample for Run. Samples are dropped when the
// queue is full; the next sample from the same foot supersedes them anyway.
func (b *Body) Notify(leg int, r float64) {
	select {
	case b.queue <- restrictionSample{leg: leg, r: r}:
	default:
		if dropped := b.dropped.Add(1); dropped%restrictionQueue == 1 {
			log.WithFields(logrus.Fields{"leg": leg, "dropped": dropped}).Warn("restriction queue full")
		}
	}
}

// Run arbitrates queued restriction samples until ctx is done.
func (b *Body) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-b.queue:
			b.OnRestriction(s.leg, s.r)
		}
	}
}

// OnRestriction arbitrates one restriction sample r from leg.
func (b *Body) OnRestriction(leg int, r float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	foot, ok := b.feet[leg]
	if !ok || !b.enabled {
		return
	}

	if b.halted && r < b.cfg.RMax {
		maxed := false
		for _, n := range b.ids {
			f := b.feet[n]
			if s := f.State(); s == StateSwing || s == StateLower {
				continue
			}
			if f.Restriction() > b.cfg.RMax {
				maxed = true
			}
		}
		if !maxed {
			b.unhalt()
			return
		}
	}

	if r > b.cfg.RMax && !b.halted {
		b.halt()
		return
	}

	if r <= b.cfg.RThresh || foot.State() != StateStance {
		return
	}

	states := b.states()
	nUp := 0
	for _, s := range states {
		if s.Airborne() {
			nUp++
		}
	}
	neighbors := b.neighbors[leg]
	if len(neighbors) == 0 {
		return
	}
	for _, n := range neighbors {
		if states[n].Airborne() {
			return
		}
	}
	if nUp >= b.cfg.MaxFeetUp {
		return
	}

	// Every supporting foot past the threshold competes for the budget.
	eligible := []int{leg}
	for _, n := range b.ids {
		if n == leg || !states[n].Supporting() {
			continue
		}
		if b.feet[n].Restriction() > b.cfg.RThresh {
			eligible = append(eligible, n)
		}
	}
	budget := b.cfg.MaxFeetUp - nUp
	if len(eligible) > budget {
		// Least recently lifted first. The allowance is budget+1 ranks.
		slices.SortStableFunc(eligible, func(x, y int) int {
			if c := b.feet[x].LastLiftTime().Compare(b.feet[y].LastLiftTime()); c != 0 {
				return c
			}
			return x - y
		})
		if !slices.Contains(eligible[:min(budget+1, len(eligible))], leg) {
			return
		}
	}
	log.WithFields(logrus.Fields{"leg": robot.LegName(leg), "r": r, "n_up": nUp}).Info("lift")
	foot.SetState(StateLift)
}

// states snapshots every foot's state. Called with b.mu held.
func (b *Body) states() map[int]State {
	out := make(map[int]State, len(b.feet))
	for n, f := range b.feet {
		out[n] = f.State()
	}
	return out
}

func (b *Body) restrictions() map[int]float64 {
	out := make(map[int]float64, len(b.feet))
	for n, f := range b.feet {
		out[n] = f.Restriction()
	}
	return out
}

// SpeedByRestriction is the headroom left before the most restricted
// supporting foot reaches 1, clamped to [0, 1].
func (b *Body) SpeedByRestriction() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speedByRestriction()
}

func (b *Body) speedByRestriction() float64 {
	rmax := 0.0
	for _, f := range b.feet {
		if s := f.State(); s == StateSwing || s == StateLower {
			continue
		}
		rmax = math.Max(rmax, f.Restriction())
	}
	return math.Max(0, math.Min(1, 1-rmax))
}

// CalcStanceSpeed converts a joystick magnitude into a body angular speed
// about center. The furthest foot from center moves at magnitude times the
// stance speed; the result is limited to MaxAngularSpeed.
func (b *Body) CalcStanceSpeed(center [2]float64, magnitude float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	speed := magnitude * b.cfg.StanceSpeed
	c := r3.Vec{X: center[0], Y: center[1]}
	mr := 0.0
	for _, n := range b.ids {
		mr = math.Max(mr, r3.Norm(robot.BodyToLeg(n, c)))
	}
	if mr == 0 {
		return 0
	}
	rspeed := speed / mr
	if math.Abs(rspeed) > b.cfg.MaxAngularSpeed {
		log.WithField("speed", rspeed).Debug("limiting angular speed")
		rspeed = math.Copysign(b.cfg.MaxAngularSpeed, rspeed)
	}
	if b.cfg.SpeedByRestriction {
		rspeed *= b.speedByRestriction()
	}
	return rspeed
}

// FootStatus is one foot's part of a Snapshot.
type FootStatus struct {
	State        State
	Restriction  float64
	LastLiftTime time.Time
}

// Snapshot is a consistent view of the body for displays.
type Snapshot struct {
	Enabled bool
	Halted  bool
	Target  Target
	PreHalt Target
	Config  Config
	Feet    map[int]FootStatus
}

func (b *Body) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Enabled: b.enabled,
		Halted:  b.halted,
		Target:  b.target,
		PreHalt: b.preHalt,
		Config:  b.cfg,
		Feet:    make(map[int]FootStatus, len(b.feet)),
	}
	for n, f := range b.feet {
		s.Feet[n] = FootStatus{State: f.State(), Restriction: f.Restriction(), LastLiftTime: f.LastLiftTime()}
	}
	return s
}
