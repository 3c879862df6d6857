// Package leg talks to the leg controllers: the serial client for real
// hardware and a kinematic simulator that stands in for it.
package leg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/plan"
	"github.com/gwillem/stompy/pkg/robot"
)

var log = logrus.WithField("pkg", "leg")

var (
	ErrInvalidEstop     = errors.New("invalid estop level")
	ErrUnsupportedFrame = errors.New("unsupported plan frame")
	ErrNoTelemetry      = errors.New("no telemetry received")
)

// Controller is the contract shared by hardware and simulated legs. Callers
// never need to know which one they hold.
type Controller interface {
	Number() int
	Name() string

	Estop() Estop
	SetEstop(level Estop) error
	EnablePID(enabled bool) error
	SetPWM(hip, thigh, knee float64) error

	// SendPlan replaces the active plan.
	SendPlan(p plan.Plan) error
	// Stop sends the stop plan.
	Stop() error
	// Plan returns the last plan sent.
	Plan() plan.Plan

	// Update advances the controller: it processes incoming telemetry or steps
	// the simulation. It never blocks for long.
	Update() error

	Telemetry() Telemetry
	Subscribe(h Handler, kinds ...EventKind) (cancel func())

	// Close stops the leg and releases its transport.
	Close() error
}

// base holds what every controller tracks: identity, estop, the active plan
// and the telemetry snapshot.
type base struct {
	number int
	name   string
	clock  clock.Clock
	log    *logrus.Entry
	events hub

	mu        sync.Mutex
	estop     Estop
	plan      plan.Plan
	telemetry Telemetry
}

func (b *base) init(number int, clk clock.Clock) {
	b.number = number
	b.name = robot.LegName(number)
	b.clock = clk
	b.estop = EstopDefault
	b.plan = plan.Stop()
	b.log = log.WithFields(logrus.Fields{"leg": b.name, "leg_number": number})
}

func (b *base) Number() int { return b.number }
func (b *base) Name() string {
	if b.name == "" {
		return fmt.Sprintf("leg%d", b.number)
	}
	return b.name
}

func (b *base) Estop() Estop {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.estop
}

func (b *base) Plan() plan.Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plan
}

func (b *base) Telemetry() Telemetry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.telemetry
}

func (b *base) Subscribe(h Handler, kinds ...EventKind) func() {
	return b.events.subscribe(h, kinds...)
}

// updateEstop records a new level and emits an estop event only when it changed.
func (b *base) updateEstop(level Estop) {
	b.mu.Lock()
	changed := b.estop != level
	b.estop = level
	b.mu.Unlock()

	if changed {
		b.log.WithField("estop", level).Info("estop changed")
		b.emit(Event{Kind: EventEstop, Estop: level})
	}
}

// acceptPlan records p as active and emits a plan event.
func (b *base) acceptPlan(p plan.Plan) {
	b.mu.Lock()
	b.plan = p
	b.mu.Unlock()
	b.log.WithField("plan", p).Debug("plan")
	b.emit(Event{Kind: EventPlan, Plan: p})
}

// emit stamps and dispatches e. It must be called without b.mu held since
// handlers may call back into the controller.
func (b *base) emit(e Event) {
	e.Leg = b.number
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	b.events.emit(e)
}
