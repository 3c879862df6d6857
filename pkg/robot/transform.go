package robot

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Matrix is a homogeneous 4x4 transform acting on column vectors.
type Matrix [4][4]float64

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Translation returns a transform that moves points by v.
func Translation(v r3.Vec) Matrix {
	m := Identity()
	m[0][3] = v.X
	m[1][3] = v.Y
	m[2][3] = v.Z
	return m
}

// RotationZ returns a rotation of angle radians about the z axis.
func RotationZ(angle float64) Matrix {
	s, c := math.Sincos(angle)
	return Matrix{
		{c, -s, 0, 0},
		{s, c, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// RotationAboutPoint rotates by angle radians about a vertical axis through center.
func RotationAboutPoint(center r3.Vec, angle float64) Matrix {
	return Translation(center).
		Mul(RotationZ(angle)).
		Mul(Translation(r3.Scale(-1, center)))
}

func (m Matrix) dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for _, row := range m {
		data = append(data, row[:]...)
	}
	return mat.NewDense(4, 4, data)
}

func fromDense(d mat.Matrix) Matrix {
	var m Matrix
	for i := range 4 {
		for j := range 4 {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// Mul returns m·n, so n is applied first.
func (m Matrix) Mul(n Matrix) Matrix {
	var out mat.Dense
	out.Mul(m.dense(), n.dense())
	return fromDense(&out)
}

// Inverse returns the inverse transform. Singular matrices yield an error.
func (m Matrix) Inverse() (Matrix, error) {
	var out mat.Dense
	if err := out.Inverse(m.dense()); err != nil {
		return Matrix{}, err
	}
	return fromDense(&out), nil
}

// Apply transforms point p.
func (m Matrix) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// RotateAbout rotates p about center by the rotation vector angles: the
// direction is the axis and the norm is the angle in radians.
func RotateAbout(p, center, angles r3.Vec) r3.Vec {
	angle := r3.Norm(angles)
	if angle == 0 {
		return p
	}
	rel := r3.Sub(p, center)
	return r3.Add(center, r3.Rotate(rel, angle, r3.Unit(angles)))
}
