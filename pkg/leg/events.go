package leg

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/plan"
)

// EventKind identifies what changed on a leg.
type EventKind uint8

const (
	EventEstop EventKind = iota
	EventPlan
	EventSetPWM
	EventADC
	EventPID
	EventPWM
	EventAngles
	EventXYZ
	EventLoopTime
)

var eventNames = [...]string{
	EventEstop:    "estop",
	EventPlan:     "plan",
	EventSetPWM:   "set_pwm",
	EventADC:      "adc",
	EventPID:      "pid",
	EventPWM:      "pwm",
	EventAngles:   "angles",
	EventXYZ:      "xyz",
	EventLoopTime: "loop_time",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "event?"
}

// Event carries one change. Only the field matching Kind is set.
type Event struct {
	Kind EventKind
	Leg  int
	Time time.Time

	Estop    Estop
	Plan     plan.Plan
	SetPWM   [3]float64
	ADC      ADC
	PID      PID
	PWM      PWM
	Angles   Angles
	XYZ      r3.Vec
	LoopTime uint32
}

// Handler receives events on the goroutine that produced them, in order.
type Handler func(Event)

type subscription struct {
	id    string
	kinds uint32
	fn    Handler
}

// hub dispatches events to subscribers in subscription order.
type hub struct {
	mu   sync.RWMutex
	subs []subscription
}

func kindMask(kinds []EventKind) uint32 {
	if len(kinds) == 0 {
		return ^uint32(0)
	}
	var m uint32
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

// subscribe registers fn for the given kinds, or all kinds when none are given.
// The returned function removes the subscription.
func (h *hub) subscribe(fn Handler, kinds ...EventKind) func() {
	s := subscription{id: uuid.NewString(), kinds: kindMask(kinds), fn: fn}
	h.mu.Lock()
	h.subs = append(h.subs, s)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subs {
			if sub.id == s.id {
				h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

func (h *hub) emit(e Event) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, s := range subs {
		if s.kinds&(1<<e.Kind) != 0 {
			s.fn(e)
		}
	}
}
