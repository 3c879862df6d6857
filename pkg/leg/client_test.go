package leg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/comando"
	"github.com/gwillem/stompy/pkg/plan"
)

func TestClient_Handshake(t *testing.T) {
	fw := newFirmware(3, 0.025)
	opts := testOptions(clock.NewMock(epoch))
	opts.Calibration = map[int][]Write{
		3: {{Command: cmdCalfScale, Args: []float64{2, 5}}},
		4: {{Command: cmdCalfScale, Args: []float64{9, 9}}},
	}

	c := connectFirmware(t, fw, opts)

	assert.Equal(t, 3, c.Number())
	assert.Equal(t, "rr", c.Name())
	assert.Equal(t, EstopHard, c.Estop())

	// leg_number, calibration, estop, pid_seed_time, heartbeat
	assert.Equal(t, []byte{6, 9, 1, 11, 0}, fw.Commands())
	assert.Equal(t, [2]float64{2, 5}, fw.calf)
	estops := fw.sent(t, cmdEstop)
	require.Len(t, estops, 1)
	assert.Equal(t, int(EstopDefault), estops[0][0].Int())

	tick, ok := c.timing.Tick()
	assert.True(t, ok)
	assert.Equal(t, 0.025, tick)
	assert.Equal(t, []Write{{Command: cmdCalfScale, Args: []float64{2, 5}}}, c.Calibration())
}

func TestClient_TickSharedAcrossLegs(t *testing.T) {
	opts := testOptions(clock.NewMock(epoch))
	opts.Timing = NewTiming()

	connectFirmware(t, newFirmware(1, 0.025), opts)
	connectFirmware(t, newFirmware(2, 0.025), opts)

	_, err := NewClient(context.Background(), newFirmware(3, 0.05), opts)
	assert.ErrorIs(t, err, ErrTickMismatch)
}

func TestClient_QueryTimeout(t *testing.T) {
	port := newFirmware(1, 0.025)
	port.OnFrame(nil)
	opts := testOptions(clock.NewMock(epoch))
	opts.QueryTimeout = 20 * time.Millisecond

	_, err := NewClient(context.Background(), port, opts)
	assert.ErrorIs(t, err, comando.ErrTimeout)
}

func TestClient_Heartbeat(t *testing.T) {
	clk := clock.NewMock(epoch)
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clk))
	fw.Reset()

	require.NoError(t, c.Update())
	clk.Advance(400 * time.Millisecond)
	require.NoError(t, c.Update())
	assert.Empty(t, fw.Commands(), "no heartbeat before the period elapsed")

	clk.Advance(200 * time.Millisecond)
	require.NoError(t, c.Update())
	assert.Equal(t, []byte{0}, fw.Commands())

	fw.Reset()
	clk.Advance(100 * time.Millisecond)
	require.NoError(t, c.Update())
	assert.Empty(t, fw.Commands())
}

func TestClient_EstopEvents(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))

	var got []Estop
	c.Subscribe(func(e Event) { got = append(got, e.Estop) }, EventEstop)

	// The firmware repeats the level it already has: no event.
	require.NoError(t, fw.InjectCommand(1, comando.ByteValue(2)))
	require.NoError(t, c.Update())
	assert.Empty(t, got)

	require.NoError(t, fw.InjectCommand(1, comando.ByteValue(0)))
	require.NoError(t, c.Update())
	assert.Equal(t, []Estop{EstopOff}, got)
	assert.Equal(t, EstopOff, c.Estop())

	require.NoError(t, c.SetEstop(EstopSoft))
	assert.Equal(t, []Estop{EstopOff, EstopSoft}, got)
	sent := fw.sent(t, cmdEstop)
	assert.Equal(t, int(EstopSoft), sent[len(sent)-1][0].Int())

	assert.ErrorIs(t, c.SetEstop(Estop(9)), ErrInvalidEstop)
}

func TestClient_Telemetry(t *testing.T) {
	clk := clock.NewMock(epoch)
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clk))

	var kinds []EventKind
	var xyz r3.Vec
	c.Subscribe(func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventXYZ {
			xyz = e.XYZ
		}
	})

	u := comando.Uint32Value
	f := comando.FloatValue
	require.NoError(t, fw.InjectCommand(21, u(1), u(2), u(3), u(4)))
	require.NoError(t, fw.InjectCommand(24, f(45), f(-2), f(-40)))
	require.NoError(t, fw.InjectCommand(25, f(0.1), f(0.5), f(-0.7), f(-1.2), comando.BoolValue(true)))
	require.NoError(t, fw.InjectCommand(23, comando.Int32Value(-5), comando.Int32Value(0), comando.Int32Value(7)))
	require.NoError(t, fw.InjectCommand(22, f(1), f(2), f(3), f(4), f(5), f(6), f(7), f(8), f(9)))
	require.NoError(t, fw.InjectCommand(26, u(900)))
	clk.Advance(10 * time.Millisecond)
	require.NoError(t, c.Update())

	assert.Equal(t, []EventKind{EventADC, EventXYZ, EventAngles, EventPWM, EventPID, EventLoopTime}, kinds)
	assert.Equal(t, r3.Vec{X: 45, Y: -2, Z: -40}, xyz)

	tel := c.Telemetry()
	assert.Equal(t, ADC{Hip: 1, Thigh: 2, Knee: 3, Calf: 4}, tel.ADC.Value)
	assert.Equal(t, clk.Now(), tel.ADC.Time)
	assert.True(t, tel.Angles.Value.Valid)
	assert.InDelta(t, 0.5, tel.Angles.Value.Thigh, 1e-6)
	assert.Equal(t, PWM{-5, 0, 7}, tel.PWM.Value)
	assert.InDelta(t, 4, tel.PID.Value.SetPoint[0], 1e-6)
	assert.InDelta(t, 9, tel.PID.Value.Error[2], 1e-6)
	assert.Equal(t, uint32(900), tel.LoopTime.Value)
}

func TestClient_StreamError(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))

	frame, err := comando.CommandFrame(24, comando.FloatValue(1), comando.FloatValue(2), comando.FloatValue(3))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff
	fw.Inject(frame)

	err = c.Update()
	assert.ErrorIs(t, err, comando.ErrChecksum)
	assert.False(t, c.Telemetry().XYZ.Received())

	// The next good frame is processed normally.
	require.NoError(t, fw.InjectCommand(24, comando.FloatValue(1), comando.FloatValue(2), comando.FloatValue(3)))
	assert.NoError(t, c.Update())
	assert.True(t, c.Telemetry().XYZ.Received())
}

func TestClient_SendPlan(t *testing.T) {
	fw := newFirmware(2, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))

	var plans []plan.Plan
	c.Subscribe(func(e Event) { plans = append(plans, e.Plan) }, EventPlan)

	p, err := plan.Target(plan.FrameLeg, r3.Vec{X: 40, Y: 1, Z: -42}, 5)
	require.NoError(t, err)
	require.NoError(t, c.SendPlan(p))

	sent := fw.sent(t, cmdPlan)
	require.Len(t, sent, 1)
	got := make([]float64, len(sent[0]))
	for i, v := range sent[0] {
		got[i] = v.Float()
	}
	assert.Equal(t, []float64{float64(plan.ModeTarget), float64(plan.FrameLeg), 40, 1, -42, 5}, got)
	assert.Equal(t, []plan.Plan{p}, plans)
	assert.Equal(t, p, c.Plan())

	require.NoError(t, c.Close())
	assert.True(t, fw.Closed())
	assert.Len(t, fw.sent(t, cmdPlan), 2, "close sends a stop plan")
	assert.True(t, c.Plan().IsStop())
}

func TestClient_ReadBack(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))
	ctx := context.Background()

	cfg, err := c.ReadJointConfig(ctx, Knee)
	require.NoError(t, err)
	assert.Equal(t, JointConfig{
		Joint:          Knee,
		PID:            PIDConfig{P: 1, I: 2, D: 3, Min: -100, Max: 100},
		PWMLimits:      PWMLimits{ExtendMin: 10, ExtendMax: 200, RetractMin: -10, RetractMax: -200},
		ADCLimits:      ADCLimits{Min: 100, Max: 900},
		FollowingError: 0.5,
	}, cfg)

	d, err := c.ReadDither(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dither{Period: 50, Amplitude: 3}, d)

	tick, err := c.ReadPlanTick(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.025, tick, 1e-6)
}

func TestClient_WriteJointConfig(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))
	fw.Reset()

	cfg := JointConfig{Joint: Thigh, PID: PIDConfig{P: 4}, FollowingError: 0.2}
	require.NoError(t, c.WriteJointConfig(cfg, true))
	assert.Equal(t, []byte{5, 7, 8, 14}, fw.Commands())

	// Writing again replaces the merged entries instead of growing the list.
	require.NoError(t, c.WriteJointConfig(cfg, true))
	assert.Len(t, c.Calibration(), 4)
}

func TestClient_ComputeCalfZero(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))
	ctx := context.Background()

	_, err := c.ComputeCalfZero(ctx, 0, true)
	assert.ErrorIs(t, err, ErrNoTelemetry)

	u := comando.Uint32Value
	require.NoError(t, fw.InjectCommand(21, u(0), u(0), u(0), u(120)))
	require.NoError(t, c.Update())

	scale, err := c.ComputeCalfZero(ctx, 0, true)
	require.NoError(t, err)
	assert.Equal(t, CalfScale{Slope: 1, Offset: -120}, scale)
	assert.Equal(t, [2]float64{1, -120}, fw.calf)
	assert.Equal(t, []Write{scale.Write()}, c.Calibration())
}

func TestClient_LoopTimeStats(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))

	_, _, n := c.LoopTimeStats()
	assert.Zero(t, n)

	for _, v := range []uint32{900, 1100, 1000} {
		require.NoError(t, fw.InjectCommand(26, comando.Uint32Value(v)))
	}
	require.NoError(t, c.Update())

	mean, std, n := c.LoopTimeStats()
	assert.Equal(t, 3, n)
	assert.InDelta(t, 1000, mean, 1e-9)
	assert.InDelta(t, 100, std, 1e-9)
}

func TestClient_CommandReplies(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))

	var pwm [][3]float64
	c.Subscribe(func(e Event) { pwm = append(pwm, e.SetPWM) }, EventSetPWM)

	// The firmware echoes both commands; the replies are not stream errors.
	require.NoError(t, c.EnablePID(true))
	require.NoError(t, c.Update())
	require.NoError(t, c.SetPWM(0.5, -0.25, 1))
	require.NoError(t, c.Update())

	enable := fw.sent(t, cmdEnablePID)
	require.Len(t, enable, 1)
	assert.True(t, enable[0][0].Bool())
	sent := fw.sent(t, cmdPWM)
	require.Len(t, sent, 1)
	assert.InDelta(t, -0.25, sent[0][1].Float(), 1e-6)
	assert.Equal(t, [][3]float64{{0.5, -0.25, 1}}, pwm)
}

func TestClient_HeartbeatDespiteStreamError(t *testing.T) {
	clk := clock.NewMock(epoch)
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clk))
	fw.Reset()

	frame, err := comando.CommandFrame(26, comando.Uint32Value(900))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff
	fw.Inject(frame)
	clk.Advance(600 * time.Millisecond)

	assert.ErrorIs(t, c.Update(), comando.ErrChecksum)
	assert.Equal(t, []byte{0}, fw.Commands())
}

func TestClient_Settings(t *testing.T) {
	fw := newFirmware(1, 0.025)
	c := connectFirmware(t, fw, testOptions(clock.NewMock(epoch)))
	fw.Reset()

	require.NoError(t, c.SetReportTime(50))
	require.NoError(t, c.ResetPIDs(true))
	assert.Equal(t, []byte{10, 12}, fw.Commands())

	rt := fw.sent(t, cmdReportTime)
	require.Len(t, rt, 1)
	assert.Equal(t, 50, rt[0][0].Int())
	reset := fw.sent(t, cmdResetPIDs)
	require.Len(t, reset, 1)
	assert.True(t, reset[0][0].Bool(), "integrators only")
}
