package robot

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Link lengths in inches.
const (
	HipLength   = 11.0
	ThighLength = 54.0
	KneeLength  = 72.0
)

// ErrUnreachable is returned when no joint solution reaches a point.
var ErrUnreachable = errors.New("point out of reach")

// Angles holds joint angles in radians. Knee is measured so that zero puts the
// calf perpendicular to the thigh.
type Angles struct {
	Hip   float64
	Thigh float64
	Knee  float64
}

// Limit is an inclusive joint range in radians.
type Limit struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the limit.
func (l Limit) Contains(v float64) bool {
	return v >= l.Min && v <= l.Max
}

// Clamp returns v restricted to the limit.
func (l Limit) Clamp(v float64) float64 {
	return math.Max(l.Min, math.Min(l.Max, v))
}

// Limits holds the range of every joint of one leg.
type Limits struct {
	Hip   Limit
	Thigh Limit
	Knee  Limit
}

// DegreesToRadians converts degrees to radians.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

var (
	hipLimit       = Limit{Min: DegreesToRadians(-40), Max: DegreesToRadians(40)}
	middleHipLimit = Limit{Min: DegreesToRadians(-26), Max: DegreesToRadians(26)}
	thighLimit     = Limit{Min: DegreesToRadians(-20), Max: DegreesToRadians(90)}
	kneeLimit      = Limit{Min: DegreesToRadians(-85), Max: DegreesToRadians(15)}
)

// LimitsFor returns the joint limits of the given leg.
func LimitsFor(leg int) Limits {
	l := Limits{Hip: hipLimit, Thigh: thighLimit, Knee: kneeLimit}
	if IsMiddle(leg) {
		l.Hip = middleHipLimit
	}
	return l
}

// Clamp restricts the angles to the limits and reports whether any joint was out of range.
func (l Limits) Clamp(a Angles) (Angles, bool) {
	out := Angles{
		Hip:   l.Hip.Clamp(a.Hip),
		Thigh: l.Thigh.Clamp(a.Thigh),
		Knee:  l.Knee.Clamp(a.Knee),
	}
	return out, out != a
}

// Contains reports whether all angles are within the limits.
func (l Limits) Contains(a Angles) bool {
	return l.Hip.Contains(a.Hip) && l.Thigh.Contains(a.Thigh) && l.Knee.Contains(a.Knee)
}

// PointToAngles solves the inverse kinematics for a foot position in the leg
// frame. The knee always bends downward.
func PointToAngles(p r3.Vec) (Angles, error) {
	hip := math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y) - HipLength
	d := (r*r + p.Z*p.Z - ThighLength*ThighLength - KneeLength*KneeLength) /
		(2 * ThighLength * KneeLength)
	if d < -1 || d > 1 || math.IsNaN(d) {
		return Angles{}, ErrUnreachable
	}
	q := -math.Acos(d)
	sq, cq := math.Sincos(q)
	thigh := math.Atan2(p.Z, r) - math.Atan2(KneeLength*sq, ThighLength+KneeLength*cq)
	return Angles{Hip: hip, Thigh: thigh, Knee: q + math.Pi/2}, nil
}

// AnglesToPoint is the forward kinematics: the foot position in the leg frame.
func AnglesToPoint(a Angles) r3.Vec {
	q := a.Knee - math.Pi/2
	r := HipLength + ThighLength*math.Cos(a.Thigh) + KneeLength*math.Cos(a.Thigh+q)
	z := ThighLength*math.Sin(a.Thigh) + KneeLength*math.Sin(a.Thigh+q)
	sh, ch := math.Sincos(a.Hip)
	return r3.Vec{X: r * ch, Y: r * sh, Z: z}
}

// CalfAngle is the calf elevation relative to the ground plane.
func CalfAngle(a Angles) float64 {
	return a.Thigh + a.Knee - math.Pi/2
}
