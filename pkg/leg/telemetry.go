package leg

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/robot"
)

// Joint indexes the actuated joints of a leg.
type Joint uint8

const (
	Hip Joint = iota
	Thigh
	Knee
)

// Joints lists the actuated joints in firmware order.
var Joints = []Joint{Hip, Thigh, Knee}

func (j Joint) String() string {
	switch j {
	case Hip:
		return "hip"
	case Thigh:
		return "thigh"
	case Knee:
		return "knee"
	}
	return "joint?"
}

// ADC holds raw sensor readings.
type ADC struct {
	Hip   uint32
	Thigh uint32
	Knee  uint32
	Calf  uint32
}

// PID holds the controller state of each joint, indexed by Joint.
type PID struct {
	Output   [3]float64
	SetPoint [3]float64
	Error    [3]float64
}

// PWM holds the duty cycle applied to each joint valve, indexed by Joint.
type PWM [3]int32

// Angles are the measured joint angles plus the derived calf angle.
type Angles struct {
	robot.Angles
	Calf  float64
	Valid bool
}

// Stamped pairs a reading with its local receive time.
type Stamped[T any] struct {
	Value T
	Time  time.Time
}

// Received reports whether a reading has arrived.
func (s Stamped[T]) Received() bool {
	return !s.Time.IsZero()
}

// Telemetry is the latest snapshot of every report. Readings are overwritten
// in place; no history is kept.
type Telemetry struct {
	ADC      Stamped[ADC]
	PID      Stamped[PID]
	PWM      Stamped[PWM]
	Angles   Stamped[Angles]
	XYZ      Stamped[r3.Vec]
	LoopTime Stamped[uint32]
}
