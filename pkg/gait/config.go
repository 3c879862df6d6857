package gait

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid gait config")

// Config tunes the restriction gait. Distances are in inches, linear speeds in
// inches per second and angular speeds in radians per second.
type Config struct {
	// MaxFeetUp is how many feet may be off the ground at once.
	MaxFeetUp int `yaml:"max_feet_up"`
	// RMax halts the body when any supporting foot exceeds it.
	RMax float64 `yaml:"r_max"`
	// RThresh makes a stance foot eligible for lifting.
	RThresh float64 `yaml:"r_thresh"`
	// SpeedScalar scales every target sent to the feet.
	SpeedScalar float64 `yaml:"speed_scalar"`
	// SpeedByRestriction slows the stance as the most restricted foot nears RMax.
	SpeedByRestriction bool `yaml:"speed_by_restriction"`

	// FootRadius is the distance from home at which restriction reaches 1.
	FootRadius float64 `yaml:"foot_radius"`
	LiftHeight float64 `yaml:"lift_height"`
	LowerDepth float64 `yaml:"lower_depth"`
	// SwingLead is how far ahead, in seconds of stance motion, a swinging
	// foot is placed.
	SwingLead float64 `yaml:"swing_lead"`

	LiftSpeed       float64 `yaml:"lift_speed"`
	SwingSpeed      float64 `yaml:"swing_speed"`
	LowerSpeed      float64 `yaml:"lower_speed"`
	StanceSpeed     float64 `yaml:"stance_speed"`
	MaxAngularSpeed float64 `yaml:"max_angular_speed"`

	// LoadedCalf is the calf load at which a lowering foot counts as planted.
	LoadedCalf float64 `yaml:"loaded_calf"`
	// WaitTime is how long a planted foot waits before it may lift again.
	WaitTime time.Duration `yaml:"wait_time"`
}

// DefaultConfig returns the tuning used on the walker.
func DefaultConfig() Config {
	return Config{
		MaxFeetUp:       1,
		RMax:            0.9,
		RThresh:         0.5,
		SpeedScalar:     1,
		FootRadius:      12,
		LiftHeight:      6,
		LowerDepth:      2,
		SwingLead:       1,
		LiftSpeed:       6,
		SwingSpeed:      12,
		LowerSpeed:      4,
		StanceSpeed:     6,
		MaxAngularSpeed: 0.1,
		LoadedCalf:      400,
		WaitTime:        200 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxFeetUp == 0 {
		c.MaxFeetUp = d.MaxFeetUp
	}
	if c.RMax == 0 {
		c.RMax = d.RMax
	}
	if c.RThresh == 0 {
		c.RThresh = d.RThresh
	}
	if c.SpeedScalar == 0 {
		c.SpeedScalar = d.SpeedScalar
	}
	if c.FootRadius == 0 {
		c.FootRadius = d.FootRadius
	}
	if c.LiftHeight == 0 {
		c.LiftHeight = d.LiftHeight
	}
	if c.LowerDepth == 0 {
		c.LowerDepth = d.LowerDepth
	}
	if c.SwingLead == 0 {
		c.SwingLead = d.SwingLead
	}
	if c.LiftSpeed == 0 {
		c.LiftSpeed = d.LiftSpeed
	}
	if c.SwingSpeed == 0 {
		c.SwingSpeed = d.SwingSpeed
	}
	if c.LowerSpeed == 0 {
		c.LowerSpeed = d.LowerSpeed
	}
	if c.StanceSpeed == 0 {
		c.StanceSpeed = d.StanceSpeed
	}
	if c.MaxAngularSpeed == 0 {
		c.MaxAngularSpeed = d.MaxAngularSpeed
	}
	if c.LoadedCalf == 0 {
		c.LoadedCalf = d.LoadedCalf
	}
	if c.WaitTime == 0 {
		c.WaitTime = d.WaitTime
	}
	return c
}

// Validate checks that the thresholds are ordered and the speeds usable.
func (c Config) Validate() error {
	switch {
	case c.MaxFeetUp < 1:
		return fmt.Errorf("%w: max_feet_up %d must be at least 1", ErrInvalidConfig, c.MaxFeetUp)
	case c.RThresh <= 0 || c.RThresh >= c.RMax:
		return fmt.Errorf("%w: need 0 < r_thresh (%g) < r_max (%g)", ErrInvalidConfig, c.RThresh, c.RMax)
	case c.FootRadius <= 0:
		return fmt.Errorf("%w: foot_radius %g must be positive", ErrInvalidConfig, c.FootRadius)
	case c.SpeedScalar < 0:
		return fmt.Errorf("%w: speed_scalar %g is negative", ErrInvalidConfig, c.SpeedScalar)
	case c.LiftSpeed <= 0 || c.SwingSpeed <= 0 || c.LowerSpeed <= 0:
		return fmt.Errorf("%w: lift, swing and lower speeds must be positive", ErrInvalidConfig)
	}
	return nil
}
