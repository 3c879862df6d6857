package leg

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/gwillem/stompy/pkg/comando"
	"github.com/gwillem/stompy/pkg/plan"
	"github.com/gwillem/stompy/pkg/robot"
)

// loopWindow is how many loop time reports the statistics cover.
const loopWindow = 100

// Client controls a leg over its serial link.
type Client struct {
	base
	conn   *comando.Conn
	closer io.Closer
	timing *Timing
	opts   Options

	calMu       sync.Mutex
	calibration []Write

	hbMu          sync.Mutex
	lastHeartbeat time.Time

	statMu    sync.Mutex
	loopTimes []float64
}

var _ Controller = (*Client)(nil)

// Dial opens a serial port and connects to the leg behind it.
func Dial(ctx context.Context, port string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	rw, err := opts.Dial(ctx, port)
	if err != nil {
		return nil, err
	}
	c, err := NewClient(ctx, rw, opts)
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("%s: %w", port, err)
	}
	c.log = c.log.WithField("port", port)
	return c, nil
}

// NewClient runs the connection handshake over rw: it learns the leg number,
// replays calibration, puts the leg in the default estop, agrees on the plan
// tick and starts the heartbeat.
func NewClient(ctx context.Context, rw io.ReadWriteCloser, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{
		conn:   comando.NewConn(rw, Commands),
		closer: rw,
		timing: opts.Timing,
		opts:   opts,
	}

	vals, err := c.query(ctx, cmdLegNumber)
	if err != nil {
		return nil, err
	}
	number := vals[0].Int()
	if !robot.ValidLeg(number) {
		return nil, fmt.Errorf("%w: %d", plan.ErrInvalidLeg, number)
	}
	c.base.init(number, opts.Clock)
	c.conn.OnText(func(msg string) { c.log.WithField("text", msg).Debug("firmware message") })

	c.calibration = append([]Write(nil), opts.Calibration[number]...)
	for _, w := range c.calibration {
		if err := c.write(w); err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
	}

	if err := c.conn.On(cmdEstop, func(args []comando.Value) {
		c.updateEstop(Estop(args[0].Int()))
	}); err != nil {
		return nil, err
	}
	if err := c.conn.Trigger(cmdEstop, comando.ByteValue(uint8(EstopDefault))); err != nil {
		return nil, err
	}

	vals, err = c.query(ctx, cmdPIDSeedTime)
	if err != nil {
		return nil, err
	}
	tick, err := c.timing.Resolve(vals[0].Float())
	if err != nil {
		return nil, fmt.Errorf("leg %d: %w", number, err)
	}

	if err := c.heartbeat(); err != nil {
		return nil, err
	}
	if err := c.registerReports(); err != nil {
		return nil, err
	}

	c.log.WithField("plan_tick", tick).Info("leg connected")
	return c, nil
}

func (c *Client) query(ctx context.Context, name string, args ...comando.Value) ([]comando.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.QueryTimeout)
	defer cancel()
	vals, err := c.conn.BlockingTrigger(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	return vals, nil
}

func (c *Client) write(w Write) error {
	vals, err := w.Values()
	if err != nil {
		return err
	}
	return c.conn.Trigger(w.Command, vals...)
}

func (c *Client) heartbeat() error {
	if err := c.conn.Trigger(cmdHeartbeat); err != nil {
		return err
	}
	c.hbMu.Lock()
	c.lastHeartbeat = c.clock.Now()
	c.hbMu.Unlock()
	return nil
}

func (c *Client) registerReports() error {
	handlers := map[string]comando.Handler{
		cmdReportADC: func(a []comando.Value) {
			v := ADC{
				Hip:   uint32(a[0].Int()),
				Thigh: uint32(a[1].Int()),
				Knee:  uint32(a[2].Int()),
				Calf:  uint32(a[3].Int()),
			}
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.ADC = Stamped[ADC]{Value: v, Time: now}
			c.mu.Unlock()
			c.emit(Event{Kind: EventADC, Time: now, ADC: v})
		},
		cmdReportPID: func(a []comando.Value) {
			var v PID
			for i := range 3 {
				v.Output[i] = a[i].Float()
				v.SetPoint[i] = a[3+i].Float()
				v.Error[i] = a[6+i].Float()
			}
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.PID = Stamped[PID]{Value: v, Time: now}
			c.mu.Unlock()
			c.emit(Event{Kind: EventPID, Time: now, PID: v})
		},
		cmdReportPWM: func(a []comando.Value) {
			v := PWM{int32(a[0].Int()), int32(a[1].Int()), int32(a[2].Int())}
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.PWM = Stamped[PWM]{Value: v, Time: now}
			c.mu.Unlock()
			c.emit(Event{Kind: EventPWM, Time: now, PWM: v})
		},
		cmdReportXYZ: func(a []comando.Value) {
			v := r3.Vec{X: a[0].Float(), Y: a[1].Float(), Z: a[2].Float()}
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.XYZ = Stamped[r3.Vec]{Value: v, Time: now}
			c.mu.Unlock()
			c.emit(Event{Kind: EventXYZ, Time: now, XYZ: v})
		},
		cmdReportAngles: func(a []comando.Value) {
			v := Angles{
				Angles: robot.Angles{Hip: a[0].Float(), Thigh: a[1].Float(), Knee: a[2].Float()},
				Calf:   a[3].Float(),
				Valid:  a[4].Bool(),
			}
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.Angles = Stamped[Angles]{Value: v, Time: now}
			c.mu.Unlock()
			c.emit(Event{Kind: EventAngles, Time: now, Angles: v})
		},
		cmdReportLoopTime: func(a []comando.Value) {
			v := uint32(a[0].Int())
			now := c.clock.Now()
			c.mu.Lock()
			c.telemetry.LoopTime = Stamped[uint32]{Value: v, Time: now}
			c.mu.Unlock()
			c.recordLoopTime(v)
			c.emit(Event{Kind: EventLoopTime, Time: now, LoopTime: v})
		},
	}
	for name, h := range handlers {
		if err := c.conn.On(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Update processes the telemetry buffered on the port, then sends a heartbeat
// if one is due. The heartbeat goes out even when the stream is broken. Stream
// errors are logged with the leg's context and returned.
func (c *Client) Update() error {
	streamErr := c.conn.HandleStream()
	if streamErr != nil {
		c.log.WithError(streamErr).WithFields(logrus.Fields{
			"buffered": fmt.Sprintf("% x", c.conn.Buffered()),
			"estop":    c.Estop(),
		}).Error("stream error")
		streamErr = fmt.Errorf("leg %s: %w", c.Name(), streamErr)
	}

	c.hbMu.Lock()
	due := c.clock.Since(c.lastHeartbeat) > HeartbeatPeriod
	c.hbMu.Unlock()
	if due {
		if err := c.heartbeat(); err != nil && streamErr == nil {
			return err
		}
	}
	return streamErr
}

// SetEstop sends the level to the leg and records it locally.
func (c *Client) SetEstop(level Estop) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidEstop, level)
	}
	if err := c.conn.Trigger(cmdEstop, comando.ByteValue(uint8(level))); err != nil {
		return err
	}
	c.updateEstop(level)
	return nil
}

func (c *Client) EnablePID(enabled bool) error {
	return c.conn.Trigger(cmdEnablePID, comando.BoolValue(enabled))
}

func (c *Client) SetPWM(hip, thigh, knee float64) error {
	if err := c.conn.Trigger(cmdPWM,
		comando.FloatValue(hip), comando.FloatValue(thigh), comando.FloatValue(knee)); err != nil {
		return err
	}
	c.emit(Event{Kind: EventSetPWM, SetPWM: [3]float64{hip, thigh, knee}})
	return nil
}

// SendPlan packs p for this leg and sends it.
func (c *Client) SendPlan(p plan.Plan) error {
	pk, err := plan.Pack(p, c.number)
	if err != nil {
		return err
	}
	args := make([]comando.Value, 0, 2+len(pk.Values))
	args = append(args, comando.ByteValue(uint8(pk.Mode)), comando.ByteValue(uint8(pk.Frame)))
	for _, v := range pk.Values {
		args = append(args, comando.FloatValue(v))
	}
	if err := c.conn.Trigger(cmdPlan, args...); err != nil {
		return err
	}
	c.acceptPlan(p)
	return nil
}

func (c *Client) Stop() error {
	return c.SendPlan(plan.Stop())
}

// Close sends the stop plan and closes the port.
func (c *Client) Close() error {
	stopErr := c.Stop()
	if err := c.closer.Close(); err != nil {
		return err
	}
	return stopErr
}

func (c *Client) recordLoopTime(v uint32) {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	c.loopTimes = append(c.loopTimes, float64(v))
	if len(c.loopTimes) > loopWindow {
		c.loopTimes = c.loopTimes[len(c.loopTimes)-loopWindow:]
	}
}

// LoopTimeStats returns the mean and standard deviation of the recently
// reported firmware loop times, in microseconds.
func (c *Client) LoopTimeStats() (mean, std float64, n int) {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	n = len(c.loopTimes)
	switch n {
	case 0:
		return 0, 0, 0
	case 1:
		return c.loopTimes[0], 0, 1
	}
	mean, std = stat.MeanStdDev(c.loopTimes, nil)
	return mean, std, n
}

// Calibration returns the writes replayed at connect plus any merged since.
func (c *Client) Calibration() []Write {
	c.calMu.Lock()
	defer c.calMu.Unlock()
	return append([]Write(nil), c.calibration...)
}

// Apply sends a calibration write. When merge is set it also becomes part
// of the leg's calibration.
func (c *Client) Apply(w Write, merge bool) error {
	if err := c.write(w); err != nil {
		return err
	}
	if merge {
		c.calMu.Lock()
		c.calibration = MergeCalibration(c.calibration, w)
		c.calMu.Unlock()
	}
	return nil
}

// ResetPIDs clears the PID integrators, or all PID state when integratorOnly is false.
func (c *Client) ResetPIDs(integratorOnly bool) error {
	return c.conn.Trigger(cmdResetPIDs, comando.BoolValue(integratorOnly))
}

// SetReportTime sets the telemetry report period in milliseconds.
func (c *Client) SetReportTime(ms uint32) error {
	return c.conn.Trigger(cmdReportTime, comando.Uint32Value(ms))
}

// ReadCalfScale reads the calf scale back from the leg.
func (c *Client) ReadCalfScale(ctx context.Context) (CalfScale, error) {
	v, err := c.query(ctx, cmdCalfScale)
	if err != nil {
		return CalfScale{}, err
	}
	return CalfScale{Slope: v[0].Float(), Offset: v[1].Float()}, nil
}

// ComputeCalfZero rescales the calf sensor so the current reading counts as
// load. With merge the new scale is kept in the leg's calibration.
func (c *Client) ComputeCalfZero(ctx context.Context, load float64, merge bool) (CalfScale, error) {
	adc := c.Telemetry().ADC
	if !adc.Received() {
		return CalfScale{}, ErrNoTelemetry
	}
	scale, err := c.ReadCalfScale(ctx)
	if err != nil {
		return CalfScale{}, err
	}
	scale = scale.ZeroAt(float64(adc.Value.Calf), load)
	if err := c.Apply(scale.Write(), merge); err != nil {
		return CalfScale{}, err
	}
	c.log.WithFields(logrus.Fields{"slope": scale.Slope, "offset": scale.Offset}).Info("calf zeroed")
	return scale, nil
}
