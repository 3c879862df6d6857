package gait

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a foot's place in the step cycle. The empty state means the foot
// is not being driven.
type State string

const (
	StateNone   State = ""
	StateStance State = "stance"
	StateWait   State = "wait"
	StateLift   State = "lift"
	StateSwing  State = "swing"
	StateLower  State = "lower"
)

// Supporting reports whether a foot in this state carries the body.
func (s State) Supporting() bool {
	return s == StateStance || s == StateWait
}

// Airborne reports whether a foot in this state counts against the lift budget.
func (s State) Airborne() bool {
	return !s.Supporting()
}

func (s State) String() string {
	if s == StateNone {
		return "none"
	}
	return string(s)
}

// FootEventKind distinguishes foot events.
type FootEventKind uint8

const (
	FootRestriction FootEventKind = iota
	FootState
)

// FootEvent reports a new restriction sample or a state change of one foot.
type FootEvent struct {
	Kind        FootEventKind
	Leg         int
	Time        time.Time
	Restriction float64
	State       State
	Previous    State
}

// BodyEventKind distinguishes body events.
type BodyEventKind uint8

const (
	BodyEnabled BodyEventKind = iota
	BodyDisabled
	BodyHalted
	BodyUnhalted
	BodyTarget
)

var bodyEventNames = [...]string{
	BodyEnabled:  "enabled",
	BodyDisabled: "disabled",
	BodyHalted:   "halted",
	BodyUnhalted: "unhalted",
	BodyTarget:   "target",
}

func (k BodyEventKind) String() string {
	if int(k) < len(bodyEventNames) {
		return bodyEventNames[k]
	}
	return "body?"
}

// BodyEvent reports a change of the coordinator. Target is the effective
// target after the change.
type BodyEvent struct {
	Kind   BodyEventKind
	Time   time.Time
	Target Target
}

type listener[E any] struct {
	id string
	fn func(E)
}

// listeners dispatches events synchronously in subscription order.
type listeners[E any] struct {
	mu   sync.RWMutex
	list []listener[E]
}

func (l *listeners[E]) add(fn func(E)) func() {
	id := uuid.NewString()
	l.mu.Lock()
	l.list = append(l.list, listener[E]{id: id, fn: fn})
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.list {
			if s.id == id {
				l.list = append(l.list[:i:i], l.list[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[E]) emit(e E) {
	l.mu.RLock()
	list := l.list
	l.mu.RUnlock()
	for _, s := range list {
		s.fn(e)
	}
}
