package gait

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var ErrInvalidTarget = errors.New("invalid body target")

// Target is the motion requested of the body: a rotation about a point in the
// body frame plus a vertical rate. A straight walk is a rotation about a
// distant center.
type Target struct {
	RotationCenter [2]float64
	// Speed is the body's angular speed in rad/s, signed.
	Speed float64
	// DZ is the body's height rate in in/s.
	DZ float64
}

// Zero returns the target that holds the body still.
func Zero() Target {
	return Target{}
}

// IsZero reports whether t requests no motion.
func (t Target) IsZero() bool {
	return t.Speed == 0 && t.DZ == 0
}

// Valid returns ErrInvalidTarget when any field is NaN or infinite.
func (t Target) Valid() error {
	for _, v := range []float64{t.RotationCenter[0], t.RotationCenter[1], t.Speed, t.DZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidTarget, t)
		}
	}
	return nil
}

// Scaled returns t with its rates multiplied by s.
func (t Target) Scaled(s float64) Target {
	t.Speed *= s
	t.DZ *= s
	return t
}

// Center returns the rotation center as a body frame point on the ground plane.
func (t Target) Center() r3.Vec {
	return r3.Vec{X: t.RotationCenter[0], Y: t.RotationCenter[1]}
}

func (t Target) String() string {
	return fmt.Sprintf("target(center=(%g, %g), speed=%g, dz=%g)",
		t.RotationCenter[0], t.RotationCenter[1], t.Speed, t.DZ)
}
