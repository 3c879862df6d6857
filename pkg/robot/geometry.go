package robot

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Mount locates a leg's hip on the body: position in the body frame (x forward,
// y left) and the yaw of the leg frame's x axis.
type Mount struct {
	X     float64
	Y     float64
	Angle float64
}

var mounts = map[int]Mount{
	FrontRight:  {X: 60, Y: -26, Angle: DegreesToRadians(-55)},
	MiddleRight: {X: 0, Y: -36, Angle: DegreesToRadians(-90)},
	RearRight:   {X: -60, Y: -26, Angle: DegreesToRadians(-125)},
	RearLeft:    {X: -60, Y: 26, Angle: DegreesToRadians(125)},
	MiddleLeft:  {X: 0, Y: 36, Angle: DegreesToRadians(90)},
	FrontLeft:   {X: 60, Y: 26, Angle: DegreesToRadians(55)},
}

// HomePosition is the neutral standing foot position in the leg frame.
var HomePosition = r3.Vec{X: 45, Y: 0, Z: -42}

// MountFor returns the mount of a leg. Unknown legs get the zero mount.
func MountFor(leg int) Mount {
	return mounts[leg]
}

// LegToBodyMatrix maps leg frame points into the body frame.
func LegToBodyMatrix(leg int) Matrix {
	m := MountFor(leg)
	return Translation(r3.Vec{X: m.X, Y: m.Y}).Mul(RotationZ(m.Angle))
}

// BodyToLegMatrix maps body frame points into the leg frame.
func BodyToLegMatrix(leg int) Matrix {
	m := MountFor(leg)
	return RotationZ(-m.Angle).Mul(Translation(r3.Vec{X: -m.X, Y: -m.Y}))
}

// BodyToLeg converts a body frame point into the leg frame.
func BodyToLeg(leg int, p r3.Vec) r3.Vec {
	return BodyToLegMatrix(leg).Apply(p)
}

// LegToBody converts a leg frame point into the body frame.
func LegToBody(leg int, p r3.Vec) r3.Vec {
	return LegToBodyMatrix(leg).Apply(p)
}
