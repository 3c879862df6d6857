package gait

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/plan"
	"github.com/gwillem/stompy/pkg/robot"
)

// Foot is the per-leg side of the gait: it measures restriction and follows
// the state the Body assigns it.
type Foot interface {
	Number() int
	Restriction() float64
	State() State
	LastLiftTime() time.Time

	SetState(s State)
	// SetTarget changes the stance motion. Swinging feet only re-aim when
	// updateSwing is set.
	SetTarget(t Target, updateSwing bool)

	Subscribe(fn func(FootEvent)) (cancel func())
}

// swingTolerance is how close a swinging foot must get to its target before
// it is lowered.
const swingTolerance = 0.25

// LegFoot drives one leg controller through the step cycle. Lift, swing and
// lower advance on their own from telemetry; only lifting is decided by the
// Body.
type LegFoot struct {
	ctl    leg.Controller
	cfg    Config
	timing *leg.Timing
	clock  clock.Clock
	log    *logrus.Entry
	home   r3.Vec
	events listeners[FootEvent]
	cancel func()

	mu          sync.Mutex
	state       State
	restriction float64
	xyz         r3.Vec
	calf        float64
	target      Target
	swingTarget r3.Vec
	lastLift    time.Time
	waitStart   time.Time
}

var _ Foot = (*LegFoot)(nil)

// NewLegFoot attaches a foot to ctl. The foot starts undriven.
func NewLegFoot(ctl leg.Controller, cfg Config, timing *leg.Timing, clk clock.Clock) *LegFoot {
	if clk == nil {
		clk = clock.Real{}
	}
	f := &LegFoot{
		ctl:    ctl,
		cfg:    cfg.WithDefaults(),
		timing: timing,
		clock:  clk,
		log:    log.WithField("leg", ctl.Name()),
		home:   robot.HomePosition,
		xyz:    robot.HomePosition,
	}
	f.cancel = ctl.Subscribe(f.onLegEvent, leg.EventADC, leg.EventXYZ)
	return f
}

// Detach stops listening to the leg.
func (f *LegFoot) Detach() {
	f.cancel()
}

// Number is the leg number of the foot.
func (f *LegFoot) Number() int { return f.ctl.Number() }

// Restriction returns the last computed restriction.
func (f *LegFoot) Restriction() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restriction
}

// State returns the current foot state.
func (f *LegFoot) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastLiftTime is when the foot last entered lift, zero if never.
func (f *LegFoot) LastLiftTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLift
}

// Subscribe registers fn for foot events and returns a function that
// unregisters it.
func (f *LegFoot) Subscribe(fn func(FootEvent)) func() {
	return f.events.add(fn)
}

// SetState enters s and sends the plan belonging to it.
func (f *LegFoot) SetState(s State) {
	f.mu.Lock()
	prev := f.state
	f.enter(s)
	f.mu.Unlock()
	f.emitState(prev, s)
}

// SetTarget changes the body target. Feet in stance or wait follow it at
// once; a swinging foot is re-aimed only when updateSwing is set.
func (f *LegFoot) SetTarget(t Target, updateSwing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = t
	switch f.state {
	case StateStance, StateWait:
		f.send(f.stancePlan())
	case StateSwing:
		if updateSwing {
			f.aimSwing()
		}
	}
}

// Restriction maps a leg frame foot position to its restriction: the
// horizontal distance from home in units of FootRadius.
func Restriction(xyz, home r3.Vec, radius float64) float64 {
	return math.Hypot(xyz.X-home.X, xyz.Y-home.Y) / radius
}

func (f *LegFoot) onLegEvent(e leg.Event) {
	switch e.Kind {
	case leg.EventADC:
		f.mu.Lock()
		f.calf = float64(e.ADC.Calf)
		f.mu.Unlock()
	case leg.EventXYZ:
		f.mu.Lock()
		f.xyz = e.XYZ
		f.restriction = Restriction(e.XYZ, f.home, f.cfg.FootRadius)
		r := f.restriction
		prev := f.state
		next := f.advance(e.Time)
		f.mu.Unlock()

		f.emitState(prev, next)
		f.events.emit(FootEvent{Kind: FootRestriction, Leg: f.Number(), Time: e.Time, Restriction: r})
	}
}

// advance moves through the parts of the cycle that end on their own and
// returns the resulting state. Called with f.mu held.
func (f *LegFoot) advance(now time.Time) State {
	switch f.state {
	case StateLift:
		if f.xyz.Z >= f.home.Z+f.cfg.LiftHeight {
			f.enter(StateSwing)
		}
	case StateSwing:
		if r3.Norm(r3.Sub(f.swingTarget, f.xyz)) <= swingTolerance {
			f.enter(StateLower)
		}
	case StateLower:
		if f.calf >= f.cfg.LoadedCalf || f.xyz.Z <= f.home.Z-f.cfg.LowerDepth+swingTolerance {
			f.enter(StateWait)
		}
	case StateWait:
		if now.Sub(f.waitStart) >= f.cfg.WaitTime {
			f.enter(StateStance)
		}
	}
	return f.state
}

// enter switches to s and sends the plan that starts it. Called with f.mu held.
func (f *LegFoot) enter(s State) {
	f.state = s
	switch s {
	case StateNone:
		f.send(plan.Stop())
	case StateStance:
		f.send(f.stancePlan())
	case StateWait:
		f.waitStart = f.clock.Now()
		f.send(f.stancePlan())
	case StateLift:
		f.lastLift = f.clock.Now()
		p, err := plan.Velocity(plan.FrameLeg, r3.Vec{Z: 1}, f.cfg.LiftSpeed)
		f.sendBuilt(p, err)
	case StateSwing:
		f.aimSwing()
	case StateLower:
		down := r3.Vec{X: f.swingTarget.X, Y: f.swingTarget.Y, Z: f.home.Z - f.cfg.LowerDepth}
		p, err := plan.Target(plan.FrameLeg, down, f.cfg.LowerSpeed)
		f.sendBuilt(p, err)
	}
	f.log.WithField("state", s).Debug("foot state")
}

// aimSwing places the swing target ahead of home along the stance motion and
// sends the foot there at lift height. Called with f.mu held.
func (f *LegFoot) aimSwing() {
	center := robot.BodyToLeg(f.Number(), f.target.Center())
	ahead := robot.RotationAboutPoint(center, f.target.Speed*f.cfg.SwingLead).Apply(f.home)
	ahead.Z = f.home.Z + f.cfg.LiftHeight
	f.swingTarget = ahead
	p, err := plan.Target(plan.FrameLeg, ahead, f.cfg.SwingSpeed)
	f.sendBuilt(p, err)
}

// stancePlan carries the foot opposite the body motion: per plan tick, a
// rotation about the target center by -Speed*tick and a drop of DZ*tick.
func (f *LegFoot) stancePlan() plan.Plan {
	if f.target.IsZero() {
		return plan.Stop()
	}
	tick, ok := f.timing.Tick()
	if !ok || tick <= 0 {
		tick = leg.DefaultPlanTick
	}
	center := robot.BodyToLeg(f.Number(), f.target.Center())
	m := robot.Translation(r3.Vec{Z: -f.target.DZ * tick}).
		Mul(robot.RotationAboutPoint(center, -f.target.Speed*tick))
	p, err := plan.Transform(plan.FrameLeg, m, 1)
	if err != nil {
		return plan.Stop()
	}
	return p
}

func (f *LegFoot) sendBuilt(p plan.Plan, err error) {
	if err != nil {
		f.log.WithError(err).Error("build plan")
		return
	}
	f.send(p)
}

func (f *LegFoot) send(p plan.Plan) {
	if err := f.ctl.SendPlan(p); err != nil {
		f.log.WithError(err).WithField("plan", p).Error("send plan")
	}
}

func (f *LegFoot) emitState(prev, next State) {
	if prev == next {
		return
	}
	f.log.WithFields(logrus.Fields{"from": prev, "to": next}).Info("foot state changed")
	f.events.emit(FootEvent{
		Kind:     FootState,
		Leg:      f.Number(),
		Time:     f.clock.Now(),
		State:    next,
		Previous: prev,
	})
}
