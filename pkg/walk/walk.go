// Package walk runs the walker: one update loop per leg, the gait
// arbitration loop and the operator controls.
package walk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/robot"
)

var log = logrus.WithField("pkg", "walk")

var ErrRunning = errors.New("already running")

// LegState is one leg's part of a State.
type LegState struct {
	Name        string
	Estop       leg.Estop
	Foot        gait.State
	Restriction float64
	XYZ         leg.Stamped[r3.Vec]
	Errors      int
	Stopped     bool
}

// State is a snapshot of the walker published after each update round.
type State struct {
	Body      gait.Snapshot
	Legs      map[int]LegState
	Timestamp time.Time
	Error     error
}

// Config holds configuration for the controller.
type Config struct {
	// Hz is the per-leg update rate.
	Hz int
	// MaxUpdateErrors is how many consecutive update errors a leg may have
	// before it is estopped and its loop stops.
	MaxUpdateErrors int
	Gait            gait.Config
	Clock           clock.Clock
	// Timing is the plan tick the legs resolved.
	Timing *leg.Timing
}

// Controller manages the walker control loops.
type Controller struct {
	legs      map[int]leg.Controller
	feet      map[int]*gait.LegFoot
	body      *gait.Body
	clock     clock.Clock
	hz        int
	maxErrors int

	mu      sync.RWMutex
	running bool
	errors  map[int]int
	stopped map[int]bool
	stateCh chan State
	logCh   chan string
}

// NewController builds the feet and the body over legs.
func NewController(legs map[int]leg.Controller, cfg Config) (*Controller, error) {
	if len(legs) == 0 {
		return nil, leg.ErrNoLegs
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 50
	}
	if cfg.MaxUpdateErrors <= 0 {
		cfg.MaxUpdateErrors = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Timing == nil {
		cfg.Timing = leg.NewTiming()
	}

	feet := make(map[int]*gait.LegFoot, len(legs))
	asFeet := make(map[int]gait.Foot, len(legs))
	for n, l := range legs {
		f := gait.NewLegFoot(l, cfg.Gait, cfg.Timing, cfg.Clock)
		feet[n] = f
		asFeet[n] = f
	}
	body, err := gait.NewBody(asFeet, cfg.Gait, cfg.Clock)
	if err != nil {
		for _, f := range feet {
			f.Detach()
		}
		return nil, fmt.Errorf("create body: %w", err)
	}

	c := &Controller{
		legs:      legs,
		feet:      feet,
		body:      body,
		clock:     cfg.Clock,
		hz:        cfg.Hz,
		maxErrors: cfg.MaxUpdateErrors,
		errors:    make(map[int]int),
		stopped:   make(map[int]bool),
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 64),
	}
	body.Subscribe(func(e gait.BodyEvent) {
		switch e.Kind {
		case gait.BodyHalted:
			c.log("Body halted")
		case gait.BodyUnhalted:
			c.log("Body unhalted, resuming %s", e.Target)
		}
	})
	return c, nil
}

// Body returns the gait coordinator.
func (c *Controller) Body() *gait.Body {
	return c.body
}

// Legs returns the leg controllers by number.
func (c *Controller) Legs() map[int]leg.Controller {
	return c.legs
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

func (c *Controller) log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Info(line)
	msg := fmt.Sprintf("[%s] %s", c.clock.Now().Format("15:04:05"), line)
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Enable releases the estop on every leg and starts the gait with every
// foot in stance.
func (c *Controller) Enable() error {
	if err := c.SetEstop(leg.EstopOff); err != nil {
		return err
	}
	c.body.Enable(nil)
	c.log("Gait enabled")
	return nil
}

// Disable stops the gait and leaves every leg holding still.
func (c *Controller) Disable() {
	c.body.Disable()
	c.log("Gait disabled")
}

// SetTarget forwards an operator target to the body.
func (c *Controller) SetTarget(t gait.Target) error {
	return c.body.SetTarget(t, true)
}

// Halt stops the body motion.
func (c *Controller) Halt() {
	c.body.Halt()
}

// SetSpeed scales every target sent to the feet.
func (c *Controller) SetSpeed(scalar float64) error {
	if err := c.body.SetSpeed(scalar); err != nil {
		return err
	}
	c.log("Speed scalar %.2f", scalar)
	return nil
}

// SetEstop sets the level on every leg, returning the first error.
func (c *Controller) SetEstop(level leg.Estop) error {
	var first error
	for _, n := range c.legNumbers() {
		if err := c.legs[n].SetEstop(level); err != nil {
			c.log("Leg %s: set estop %s: %v", robot.LegName(n), level, err)
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		c.log("Estop %s", level)
	}
	return first
}

func (c *Controller) legNumbers() []int {
	nums := make([]int, 0, len(c.legs))
	for n := range c.legs {
		nums = append(nums, n)
	}
	return robot.SortedLegs(nums)
}

// Start runs the leg loops and the arbitration loop until ctx is done, then
// stops and closes every leg.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.mu.Unlock()

	c.log("Walking %d legs at %d Hz", len(c.legs), c.hz)

	var wg sync.WaitGroup
	for _, n := range c.legNumbers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runLeg(ctx, n)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.body.Run(ctx)
	}()

	// Publish state
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.sendState(c.Snapshot())
		}
	}
}

// runLeg drives one leg's Update at the control rate, so a stalled port only
// stalls its own leg.
func (c *Controller) runLeg(ctx context.Context, n int) {
	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.step(n) {
				return
			}
		}
	}
}

// step updates leg n once. It returns false once the leg was given up on.
func (c *Controller) step(n int) bool {
	l := c.legs[n]
	err := l.Update()

	c.mu.Lock()
	if err == nil {
		c.errors[n] = 0
		c.mu.Unlock()
		return true
	}
	c.errors[n]++
	count := c.errors[n]
	giveUp := count >= c.maxErrors
	if giveUp {
		c.stopped[n] = true
	}
	c.mu.Unlock()

	c.log("Leg %s: update error (%d): %v", l.Name(), count, err)
	if giveUp {
		c.log("Leg %s: %d consecutive errors, estop %s", l.Name(), count, leg.EstopHard)
		if err := l.SetEstop(leg.EstopHard); err != nil {
			c.log("Leg %s: set estop: %v", l.Name(), err)
		}
		c.body.Halt()
		c.sendState(State{Body: c.body.Snapshot(), Timestamp: c.clock.Now(), Error: err})
		return false
	}
	return true
}

// Snapshot collects the current state of the body and every leg.
func (c *Controller) Snapshot() State {
	s := State{
		Body:      c.body.Snapshot(),
		Legs:      make(map[int]LegState, len(c.legs)),
		Timestamp: c.clock.Now(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for n, l := range c.legs {
		fs := s.Body.Feet[n]
		s.Legs[n] = LegState{
			Name:        l.Name(),
			Estop:       l.Estop(),
			Foot:        fs.State,
			Restriction: fs.Restriction,
			XYZ:         l.Telemetry().XYZ,
			Errors:      c.errors[n],
			Stopped:     c.stopped[n],
		}
	}
	return s
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

// shutdown stops every leg and then closes it.
func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.body.Disable()
	c.body.Close()
	for _, f := range c.feet {
		f.Detach()
	}
	for _, n := range c.legNumbers() {
		l := c.legs[n]
		if err := l.Stop(); err != nil {
			c.log("Leg %s: stop: %v", l.Name(), err)
		}
		if err := l.Close(); err != nil {
			c.log("Leg %s: close: %v", l.Name(), err)
		}
	}
	c.log("Walk stopped")
}
