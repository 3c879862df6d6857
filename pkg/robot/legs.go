// Package robot describes the physical walker: leg numbering, link geometry,
// joint limits and the kinematics that map between foot positions and joint angles.
package robot

import "slices"

// Leg numbers as reported by each leg's microcontroller.
const (
	FrontRight  = 1
	MiddleRight = 2
	RearRight   = 3
	RearLeft    = 4
	MiddleLeft  = 5
	FrontLeft   = 6
)

var legNames = map[int]string{
	FrontRight:  "fr",
	MiddleRight: "mr",
	RearRight:   "rr",
	RearLeft:    "rl",
	MiddleLeft:  "ml",
	FrontLeft:   "fl",
}

// AllLegs returns all leg numbers in order, walking the ring around the body.
func AllLegs() []int {
	return []int{
		FrontRight,
		MiddleRight,
		RearRight,
		RearLeft,
		MiddleLeft,
		FrontLeft,
	}
}

// ValidLeg reports whether n is a leg number.
func ValidLeg(n int) bool {
	_, ok := legNames[n]
	return ok
}

// LegName returns the short name ("fr", "mr", ...) of a leg, or "" for unknown numbers.
func LegName(n int) string {
	return legNames[n]
}

// LegNumber is the inverse of LegName.
func LegNumber(name string) (int, bool) {
	for n, v := range legNames {
		if v == name {
			return n, true
		}
	}
	return 0, false
}

// IsMiddle reports whether the leg sits in the middle of the body. Middle legs
// have a narrower hip range so they don't collide with their neighbours.
func IsMiddle(n int) bool {
	return n == MiddleRight || n == MiddleLeft
}

// SortedLegs returns the given leg numbers in ascending order.
func SortedLegs(legs []int) []int {
	out := slices.Clone(legs)
	slices.Sort(out)
	return out
}
