// Package plan describes the motion plans sent to legs and their wire layout.
package plan

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/robot"
)

// Mode selects how a leg follows a plan.
type Mode uint8

// Mode values as understood by the leg firmware.
const (
	ModeStop     Mode = 0
	ModeVelocity Mode = 1
	ModeArc      Mode = 2
	ModeTarget   Mode = 3
	ModeMatrix   Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeStop:
		return "stop"
	case ModeVelocity:
		return "velocity"
	case ModeArc:
		return "arc"
	case ModeTarget:
		return "target"
	case ModeMatrix:
		return "matrix"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m <= ModeMatrix
}

// Frame is the coordinate frame a plan is expressed in.
type Frame uint8

// Frame values as understood by the leg firmware. The sensor and joint frames
// (0 and 1) exist on the firmware but are never produced by the host.
const (
	FrameLeg  Frame = 2
	FrameBody Frame = 3
)

func (f Frame) String() string {
	switch f {
	case FrameLeg:
		return "leg"
	case FrameBody:
		return "body"
	}
	return fmt.Sprintf("frame(%d)", uint8(f))
}

// Valid reports whether f is a frame the host may use.
func (f Frame) Valid() bool {
	return f == FrameLeg || f == FrameBody
}

var (
	ErrInvalidMode  = errors.New("invalid plan mode")
	ErrInvalidFrame = errors.New("invalid plan frame")
	ErrMissingField = errors.New("plan field missing")
	ErrInvalidLeg   = errors.New("invalid leg number")
)

// Plan is an immutable motion instruction for one leg.
type Plan struct {
	mode    Mode
	frame   Frame
	linear  r3.Vec
	angular r3.Vec
	matrix  robot.Matrix
	speed   float64
}

// Option sets one field of a plan under construction.
type Option func(*builder)

type builder struct {
	p          Plan
	hasLinear  bool
	hasAngular bool
	hasMatrix  bool
}

// WithLinear sets the linear vector: a velocity direction, a target point or an
// arc's rotation center depending on mode.
func WithLinear(v r3.Vec) Option {
	return func(b *builder) { b.p.linear = v; b.hasLinear = true }
}

// WithAngular sets the rotation vector of an arc.
func WithAngular(v r3.Vec) Option {
	return func(b *builder) { b.p.angular = v; b.hasAngular = true }
}

// WithMatrix sets the per-tick transform of a matrix plan.
func WithMatrix(m robot.Matrix) Option {
	return func(b *builder) { b.p.matrix = m; b.hasMatrix = true }
}

// WithSpeed sets the plan speed.
func WithSpeed(s float64) Option {
	return func(b *builder) { b.p.speed = s }
}

// New builds a plan, checking that the fields required by mode are present.
func New(mode Mode, frame Frame, opts ...Option) (Plan, error) {
	if !mode.Valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	if !frame.Valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidFrame, frame)
	}
	b := builder{p: Plan{mode: mode, frame: frame}}
	for _, o := range opts {
		o(&b)
	}
	switch mode {
	case ModeVelocity, ModeTarget:
		if !b.hasLinear {
			return Plan{}, fmt.Errorf("%w: %s plan needs linear", ErrMissingField, mode)
		}
	case ModeArc:
		if !b.hasLinear || !b.hasAngular {
			return Plan{}, fmt.Errorf("%w: arc plan needs linear and angular", ErrMissingField)
		}
	case ModeMatrix:
		if !b.hasMatrix {
			return Plan{}, fmt.Errorf("%w: matrix plan needs matrix", ErrMissingField)
		}
	}
	return b.p, nil
}

// Stop returns the leg-frame stop plan.
func Stop() Plan {
	return Plan{mode: ModeStop, frame: FrameLeg}
}

// Target returns a plan moving the foot to point at speed.
func Target(frame Frame, point r3.Vec, speed float64) (Plan, error) {
	return New(ModeTarget, frame, WithLinear(point), WithSpeed(speed))
}

// Velocity returns a plan moving the foot along direction scaled by speed.
func Velocity(frame Frame, direction r3.Vec, speed float64) (Plan, error) {
	return New(ModeVelocity, frame, WithLinear(direction), WithSpeed(speed))
}

// Arc returns a plan rotating the foot about center.
func Arc(frame Frame, center, angular r3.Vec, speed float64) (Plan, error) {
	return New(ModeArc, frame, WithLinear(center), WithAngular(angular), WithSpeed(speed))
}

// Transform returns a plan applying m to the foot once per plan tick.
func Transform(frame Frame, m robot.Matrix, speed float64) (Plan, error) {
	return New(ModeMatrix, frame, WithMatrix(m), WithSpeed(speed))
}

func (p Plan) Mode() Mode           { return p.mode }
func (p Plan) Frame() Frame         { return p.frame }
func (p Plan) Linear() r3.Vec       { return p.linear }
func (p Plan) Angular() r3.Vec      { return p.angular }
func (p Plan) Matrix() robot.Matrix { return p.matrix }
func (p Plan) Speed() float64       { return p.speed }
func (p Plan) IsStop() bool         { return p.mode == ModeStop }

func (p Plan) String() string {
	switch p.mode {
	case ModeStop:
		return fmt.Sprintf("stop(%s)", p.frame)
	case ModeArc:
		return fmt.Sprintf("arc(%s, center=%v, angular=%v, speed=%g)", p.frame, p.linear, p.angular, p.speed)
	case ModeMatrix:
		return fmt.Sprintf("matrix(%s, speed=%g)", p.frame, p.speed)
	}
	return fmt.Sprintf("%s(%s, %v, speed=%g)", p.mode, p.frame, p.linear, p.speed)
}
