package leg

import (
	"context"
	"fmt"

	"github.com/gwillem/stompy/pkg/comando"
)

// PIDConfig holds the gains and output clamp of one joint's PID controller.
type PIDConfig struct {
	P   float64
	I   float64
	D   float64
	Min float64
	Max float64
}

// PWMLimits bounds the valve duty cycle when extending and retracting.
type PWMLimits struct {
	ExtendMin  int32
	ExtendMax  int32
	RetractMin int32
	RetractMax int32
}

// ADCLimits bounds the usable sensor range of a joint.
type ADCLimits struct {
	Min float64
	Max float64
}

// JointConfig is the full configuration of one joint as read from the leg.
type JointConfig struct {
	Joint          Joint
	PID            PIDConfig
	PWMLimits      PWMLimits
	ADCLimits      ADCLimits
	FollowingError float64
}

// Dither is the valve dither applied to all joints.
type Dither struct {
	Period    uint32
	Amplitude int32
}

func jointValue(j Joint) comando.Value {
	return comando.ByteValue(uint8(j))
}

// ReadJointConfig reads back everything configurable on one joint. It blocks
// and must not run concurrently with Update.
func (c *Client) ReadJointConfig(ctx context.Context, j Joint) (JointConfig, error) {
	cfg := JointConfig{Joint: j}

	v, err := c.query(ctx, cmdPIDConfig, jointValue(j))
	if err != nil {
		return cfg, err
	}
	cfg.PID = PIDConfig{P: v[1].Float(), I: v[2].Float(), D: v[3].Float(), Min: v[4].Float(), Max: v[5].Float()}

	if v, err = c.query(ctx, cmdFollowingError, jointValue(j)); err != nil {
		return cfg, err
	}
	cfg.FollowingError = v[1].Float()

	if v, err = c.query(ctx, cmdPWMLimits, jointValue(j)); err != nil {
		return cfg, err
	}
	cfg.PWMLimits = PWMLimits{
		ExtendMin:  int32(v[1].Int()),
		ExtendMax:  int32(v[2].Int()),
		RetractMin: int32(v[3].Int()),
		RetractMax: int32(v[4].Int()),
	}

	if v, err = c.query(ctx, cmdADCLimits, jointValue(j)); err != nil {
		return cfg, err
	}
	cfg.ADCLimits = ADCLimits{Min: v[1].Float(), Max: v[2].Float()}
	return cfg, nil
}

// ReadDither reads the valve dither settings.
func (c *Client) ReadDither(ctx context.Context) (Dither, error) {
	v, err := c.query(ctx, cmdDither)
	if err != nil {
		return Dither{}, err
	}
	return Dither{Period: uint32(v[0].Int()), Amplitude: int32(v[1].Int())}, nil
}

// ReadPlanTick asks the leg for its PID tick in seconds.
func (c *Client) ReadPlanTick(ctx context.Context) (float64, error) {
	v, err := c.query(ctx, cmdPIDSeedTime)
	if err != nil {
		return 0, err
	}
	return v[0].Float(), nil
}

// PIDWrite builds the calibration write setting a joint's PID configuration.
func PIDWrite(j Joint, p PIDConfig) Write {
	return Write{Command: cmdPIDConfig, Args: []float64{float64(j), p.P, p.I, p.D, p.Min, p.Max}}
}

// PWMLimitsWrite builds the calibration write setting a joint's PWM limits.
func PWMLimitsWrite(j Joint, l PWMLimits) Write {
	return Write{Command: cmdPWMLimits, Args: []float64{
		float64(j), float64(l.ExtendMin), float64(l.ExtendMax), float64(l.RetractMin), float64(l.RetractMax),
	}}
}

// ADCLimitsWrite builds the calibration write setting a joint's ADC limits.
func ADCLimitsWrite(j Joint, l ADCLimits) Write {
	return Write{Command: cmdADCLimits, Args: []float64{float64(j), l.Min, l.Max}}
}

// FollowingErrorWrite builds the calibration write setting a joint's
// following error threshold.
func FollowingErrorWrite(j Joint, threshold float64) Write {
	return Write{Command: cmdFollowingError, Args: []float64{float64(j), threshold}}
}

// DitherWrite builds the calibration write setting the valve dither.
func DitherWrite(d Dither) Write {
	return Write{Command: cmdDither, Args: []float64{float64(d.Period), float64(d.Amplitude)}}
}

// WriteJointConfig sends a full joint configuration, merging it into the
// leg's calibration when merge is set.
func (c *Client) WriteJointConfig(cfg JointConfig, merge bool) error {
	writes := []Write{
		PIDWrite(cfg.Joint, cfg.PID),
		PWMLimitsWrite(cfg.Joint, cfg.PWMLimits),
		ADCLimitsWrite(cfg.Joint, cfg.ADCLimits),
		FollowingErrorWrite(cfg.Joint, cfg.FollowingError),
	}
	for _, w := range writes {
		if err := c.Apply(w, merge); err != nil {
			return fmt.Errorf("%s %s: %w", cfg.Joint, w.Command, err)
		}
	}
	return nil
}
