package leg

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gwillem/stompy/pkg/plan"
	"github.com/gwillem/stompy/pkg/robot"
)

// SimPeriod is the simulator's update cadence.
const SimPeriod = 100 * time.Millisecond

// targetSnap is the distance under which a target plan jumps onto its target.
const targetSnap = 0.01

// Sim is a kinematic stand-in for a leg. It follows plans in the leg frame,
// respects joint limits and reports telemetry like the firmware does.
type Sim struct {
	base
	timing *Timing
	limits robot.Limits
	noise  *distuv.Uniform

	xyz        r3.Vec
	angles     robot.Angles
	lastUpdate time.Time
	// ddt carries the part of a plan tick not yet applied by a matrix plan.
	ddt float64
}

var _ Controller = (*Sim)(nil)

// NewSim returns a simulated leg standing at the home position.
func NewSim(number int, opts Options) (*Sim, error) {
	if !robot.ValidLeg(number) {
		return nil, fmt.Errorf("%w: %d", plan.ErrInvalidLeg, number)
	}
	opts = opts.withDefaults()

	angles, err := robot.PointToAngles(robot.HomePosition)
	if err != nil {
		return nil, err
	}
	s := &Sim{
		timing: opts.Timing,
		limits: robot.LimitsFor(number),
		xyz:    robot.HomePosition,
		angles: angles,
	}
	s.init(number, opts.Clock)
	s.log = s.log.WithField("sim", true)
	s.lastUpdate = s.clock.Now()
	if opts.Noise > 0 {
		s.noise = &distuv.Uniform{
			Min: -opts.Noise,
			Max: opts.Noise,
			Src: rand.NewPCG(opts.Seed, uint64(number)),
		}
	}
	if _, ok := s.timing.Tick(); !ok {
		if _, err := s.timing.Resolve(DefaultPlanTick); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Position returns the simulated foot position in the leg frame.
func (s *Sim) Position() r3.Vec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xyz
}

func (s *Sim) SetEstop(level Estop) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidEstop, level)
	}
	s.updateEstop(level)
	return nil
}

func (s *Sim) EnablePID(bool) error {
	return nil
}

func (s *Sim) SetPWM(hip, thigh, knee float64) error {
	s.emit(Event{Kind: EventSetPWM, SetPWM: [3]float64{hip, thigh, knee}})
	return nil
}

// SendPlan adopts p. Only leg frame plans can be followed; a moving body
// frame plan is rejected.
func (s *Sim) SendPlan(p plan.Plan) error {
	if _, err := plan.Pack(p, s.number); err != nil {
		return err
	}
	if !p.IsStop() && p.Frame() != plan.FrameLeg {
		return fmt.Errorf("%w: simulator follows %s frame plans only, got %s",
			ErrUnsupportedFrame, plan.FrameLeg, p.Frame())
	}
	s.acceptPlan(p)
	return nil
}

func (s *Sim) Stop() error {
	return s.SendPlan(plan.Stop())
}

func (s *Sim) Close() error {
	return s.Stop()
}

// Update steps the simulation when at least SimPeriod has passed since the
// last step, then reports telemetry.
func (s *Sim) Update() error {
	s.mu.Lock()
	now := s.clock.Now()
	elapsed := now.Sub(s.lastUpdate)
	if elapsed < SimPeriod {
		s.mu.Unlock()
		return nil
	}
	s.lastUpdate = now
	dt := elapsed.Seconds()

	hold := false
	if s.estop == EstopOff && !s.plan.IsStop() {
		hold = s.step(dt)
	}
	events := s.telemetryEvents(now)
	s.mu.Unlock()

	if hold {
		s.log.WithField("xyz", s.Position()).Warn("joint limit reached")
		s.updateEstop(EstopHold)
	}
	for _, e := range events {
		s.emit(e)
	}
	return nil
}

// step advances the foot along the active plan. It returns true when a joint
// limit stopped the motion. Called with s.mu held.
func (s *Sim) step(dt float64) bool {
	p := s.plan
	next := s.xyz
	switch p.Mode() {
	case plan.ModeVelocity:
		next = r3.Add(next, r3.Scale(p.Speed()*dt, p.Linear()))
	case plan.ModeTarget:
		d := r3.Sub(p.Linear(), next)
		l := r3.Norm(d)
		if l < p.Speed()*dt || l < targetSnap {
			next = p.Linear()
		} else {
			next = r3.Add(next, r3.Scale(p.Speed()*dt/l, d))
		}
	case plan.ModeArc:
		next = robot.RotateAbout(next, p.Linear(), r3.Scale(p.Speed()*dt, p.Angular()))
	case plan.ModeMatrix:
		tick, _ := s.timing.Tick()
		if tick <= 0 {
			tick = DefaultPlanTick
		}
		s.ddt += dt
		n := math.Floor(s.ddt/tick + 1e-9)
		s.ddt = math.Max(0, s.ddt-n*tick)
		m := p.Matrix()
		for range int(n) {
			next = m.Apply(next)
		}
	}

	if s.noise != nil {
		next = r3.Add(next, r3.Vec{X: s.noise.Rand(), Y: s.noise.Rand(), Z: s.noise.Rand()})
	}

	angles, err := robot.PointToAngles(next)
	if err != nil {
		s.xyz = robot.AnglesToPoint(s.angles)
		return true
	}
	clamped, hit := s.limits.Clamp(angles)
	s.angles = clamped
	if hit {
		s.xyz = robot.AnglesToPoint(clamped)
		return true
	}
	s.xyz = next
	return false
}

// telemetryEvents snapshots the simulated readings. Called with s.mu held.
func (s *Sim) telemetryEvents(now time.Time) []Event {
	adc := ADC{Calf: uint32(simCalfLoad(s.xyz.Z))}
	angles := Angles{Angles: s.angles, Calf: robot.CalfAngle(s.angles), Valid: true}

	t := &s.telemetry
	t.ADC = Stamped[ADC]{Value: adc, Time: now}
	t.PWM = Stamped[PWM]{Time: now}
	t.PID = Stamped[PID]{Time: now}
	t.Angles = Stamped[Angles]{Value: angles, Time: now}
	t.XYZ = Stamped[r3.Vec]{Value: s.xyz, Time: now}

	return []Event{
		{Kind: EventADC, Time: now, ADC: adc},
		{Kind: EventPWM, Time: now},
		{Kind: EventPID, Time: now},
		{Kind: EventAngles, Time: now, Angles: angles},
		{Kind: EventXYZ, Time: now, XYZ: s.xyz},
	}
}

// simCalfLoad fakes the calf load cell: the foot takes load once it is
// pressed below 40 inches, saturating at 45.
func simCalfLoad(z float64) float64 {
	zl := math.Max(-45, math.Min(-40, z))
	return -(zl + 40) * 400
}
