package plan

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/robot"
)

// Packed is the wire layout of a plan: mode and frame bytes followed by a
// mode-dependent list of floats.
//
//	stop:            speed
//	target/velocity: lx ly lz speed
//	arc:             lx ly lz ax ay az speed
//	matrix:          m00 m01 m02 m03 m10 .. m23 speed
type Packed struct {
	Mode   Mode
	Frame  Frame
	Values []float64
}

// ValueCount returns the number of floats a packed plan of mode carries.
func ValueCount(m Mode) int {
	switch m {
	case ModeStop:
		return 1
	case ModeVelocity, ModeTarget:
		return 4
	case ModeArc:
		return 7
	case ModeMatrix:
		return 13
	}
	return 0
}

// Pack lays out a plan for the given leg. Plans keep their frame on the wire.
func Pack(p Plan, leg int) (Packed, error) {
	if !robot.ValidLeg(leg) {
		return Packed{}, fmt.Errorf("%w: %d", ErrInvalidLeg, leg)
	}
	if !p.mode.Valid() {
		return Packed{}, fmt.Errorf("%w: %d", ErrInvalidMode, p.mode)
	}
	if !p.frame.Valid() {
		return Packed{}, fmt.Errorf("%w: %d", ErrInvalidFrame, p.frame)
	}

	values := make([]float64, 0, ValueCount(p.mode))
	switch p.mode {
	case ModeVelocity, ModeTarget:
		values = append(values, p.linear.X, p.linear.Y, p.linear.Z)
	case ModeArc:
		values = append(values,
			p.linear.X, p.linear.Y, p.linear.Z,
			p.angular.X, p.angular.Y, p.angular.Z)
	case ModeMatrix:
		for _, row := range p.matrix[:3] {
			values = append(values, row[:]...)
		}
	}
	values = append(values, p.speed)
	return Packed{Mode: p.mode, Frame: p.frame, Values: values}, nil
}

// Unpack parses a packed plan back into a Plan.
func Unpack(pk Packed) (Plan, error) {
	if !pk.Mode.Valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidMode, pk.Mode)
	}
	if want := ValueCount(pk.Mode); len(pk.Values) != want {
		return Plan{}, fmt.Errorf("%w: %s plan has %d values, want %d",
			ErrMissingField, pk.Mode, len(pk.Values), want)
	}

	v := pk.Values
	speed := WithSpeed(v[len(v)-1])
	switch pk.Mode {
	case ModeVelocity, ModeTarget:
		return New(pk.Mode, pk.Frame, WithLinear(r3.Vec{X: v[0], Y: v[1], Z: v[2]}), speed)
	case ModeArc:
		return New(pk.Mode, pk.Frame,
			WithLinear(r3.Vec{X: v[0], Y: v[1], Z: v[2]}),
			WithAngular(r3.Vec{X: v[3], Y: v[4], Z: v[5]}),
			speed)
	case ModeMatrix:
		m := robot.Identity()
		for i := range 3 {
			copy(m[i][:], v[i*4:i*4+4])
		}
		return New(pk.Mode, pk.Frame, WithMatrix(m), speed)
	}
	return New(pk.Mode, pk.Frame, speed)
}
