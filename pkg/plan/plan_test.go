package plan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/robot"
)

func mustPlan(t *testing.T) func(p Plan, err error) Plan {
	return func(p Plan, err error) Plan {
		t.Helper()
		require.NoError(t, err)
		return p
	}
}

func TestPack_Layout(t *testing.T) {
	m := robot.Translation(r3.Vec{X: 1, Y: 2, Z: 3}).Mul(robot.RotationZ(0.5))

	tests := []struct {
		name string
		plan Plan
		want Packed
	}{
		{
			name: "stop",
			plan: Stop(),
			want: Packed{Mode: ModeStop, Frame: FrameLeg, Values: []float64{0}},
		},
		{
			name: "target",
			plan: mustPlan(t)(Target(FrameLeg, r3.Vec{X: 1, Y: 2, Z: 3}, 4)),
			want: Packed{Mode: ModeTarget, Frame: FrameLeg, Values: []float64{1, 2, 3, 4}},
		},
		{
			name: "velocity body frame",
			plan: mustPlan(t)(Velocity(FrameBody, r3.Vec{Z: -1}, 0.5)),
			want: Packed{Mode: ModeVelocity, Frame: FrameBody, Values: []float64{0, 0, -1, 0.5}},
		},
		{
			name: "arc",
			plan: mustPlan(t)(Arc(FrameLeg, r3.Vec{X: 10}, r3.Vec{Z: 1}, 0.1)),
			want: Packed{Mode: ModeArc, Frame: FrameLeg, Values: []float64{10, 0, 0, 0, 0, 1, 0.1}},
		},
		{
			name: "matrix",
			plan: mustPlan(t)(Transform(FrameLeg, m, 1)),
			want: Packed{Mode: ModeMatrix, Frame: FrameLeg, Values: []float64{
				m[0][0], m[0][1], m[0][2], m[0][3],
				m[1][0], m[1][1], m[1][2], m[1][3],
				m[2][0], m[2][1], m[2][2], m[2][3],
				1,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pack(tt.plan, robot.FrontRight)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Pack() mismatch (-want +got):\n%s", diff)
			}
			assert.Len(t, got.Values, ValueCount(tt.plan.Mode()))
		})
	}
}

func TestPack_RoundTrip(t *testing.T) {
	plans := []Plan{
		Stop(),
		mustPlan(t)(New(ModeStop, FrameBody, WithSpeed(2))),
		mustPlan(t)(Target(FrameLeg, r3.Vec{X: 45, Y: -3, Z: -42}, 6)),
		mustPlan(t)(Velocity(FrameLeg, r3.Vec{X: 0.5, Y: 0.5}, 3)),
		mustPlan(t)(Arc(FrameBody, r3.Vec{Y: 1000}, r3.Vec{Z: -1}, 0.01)),
		mustPlan(t)(Transform(FrameLeg, robot.RotationAboutPoint(r3.Vec{X: 30}, 0.01), 1)),
	}

	for _, p := range plans {
		t.Run(p.String(), func(t *testing.T) {
			pk, err := Pack(p, robot.MiddleLeft)
			require.NoError(t, err)
			got, err := Unpack(pk)
			require.NoError(t, err)

			assert.Equal(t, p.Mode(), got.Mode())
			assert.Equal(t, p.Frame(), got.Frame())
			assert.InDelta(t, p.Speed(), got.Speed(), 1e-9)
			approx := cmpopts.EquateApprox(0, 1e-9)
			if diff := cmp.Diff(p.Linear(), got.Linear(), approx); diff != "" {
				t.Errorf("linear mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(p.Angular(), got.Angular(), approx); diff != "" {
				t.Errorf("angular mismatch (-want +got):\n%s", diff)
			}
			if p.Mode() == ModeMatrix {
				if diff := cmp.Diff(p.Matrix(), got.Matrix(), approx); diff != "" {
					t.Errorf("matrix mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestNew_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		opts []Option
	}{
		{"target without point", ModeTarget, []Option{WithSpeed(1)}},
		{"velocity without direction", ModeVelocity, nil},
		{"arc without angular", ModeArc, []Option{WithLinear(r3.Vec{X: 1})}},
		{"arc without center", ModeArc, []Option{WithAngular(r3.Vec{Z: 1})}},
		{"matrix without matrix", ModeMatrix, []Option{WithSpeed(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mode, FrameLeg, tt.opts...)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}

	_, err := New(ModeStop, FrameLeg)
	assert.NoError(t, err, "stop needs no fields")
}

func TestNew_InvalidModeFrame(t *testing.T) {
	_, err := New(Mode(9), FrameLeg)
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = New(ModeStop, Frame(0))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestPack_InvalidLeg(t *testing.T) {
	for _, leg := range []int{0, 7, -1} {
		_, err := Pack(Stop(), leg)
		assert.ErrorIs(t, err, ErrInvalidLeg, "leg %d", leg)
	}
}

func TestUnpack_WrongLength(t *testing.T) {
	_, err := Unpack(Packed{Mode: ModeTarget, Frame: FrameLeg, Values: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrMissingField)
}
