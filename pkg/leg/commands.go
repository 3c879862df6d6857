package leg

import (
	c "github.com/gwillem/stompy/pkg/comando"
)

// Command names of the leg firmware.
const (
	cmdHeartbeat      = "heartbeat"
	cmdEstop          = "estop"
	cmdPWM            = "pwm"
	cmdPlan           = "plan"
	cmdEnablePID      = "enable_pid"
	cmdPIDConfig      = "pid_config"
	cmdLegNumber      = "leg_number"
	cmdPWMLimits      = "pwm_limits"
	cmdADCLimits      = "adc_limits"
	cmdCalfScale      = "calf_scale"
	cmdReportTime     = "report_time"
	cmdPIDSeedTime    = "pid_seed_time"
	cmdResetPIDs      = "reset_pids"
	cmdDither         = "dither"
	cmdFollowingError = "following_error_threshold"
	cmdReportADC      = "report_adc"
	cmdReportPID      = "report_pid"
	cmdReportPWM      = "report_pwm"
	cmdReportXYZ      = "report_xyz"
	cmdReportAngles   = "report_angles"
	cmdReportLoopTime = "report_loop_time"
)

var (
	f3 = []c.Type{c.Float, c.Float, c.Float}
	f9 = []c.Type{c.Float, c.Float, c.Float, c.Float, c.Float, c.Float, c.Float, c.Float, c.Float}
)

// Commands is the command table of the leg firmware. Setters answer queries
// sent with only their leading (joint) argument.
var Commands = c.MustTable(
	c.Command{ID: 0, Name: cmdHeartbeat},
	c.Command{ID: 1, Name: cmdEstop, Args: []c.Type{c.Byte}, Returns: []c.Type{c.Byte}},
	c.Command{ID: 2, Name: cmdPWM, Args: f3, Returns: f3},
	c.Command{ID: 3, Name: cmdPlan, Args: []c.Type{c.Byte, c.Byte}, Variadic: true, Rest: c.Float},
	c.Command{ID: 4, Name: cmdEnablePID, Args: []c.Type{c.Bool}, Returns: []c.Type{c.Bool}},
	c.Command{ID: 5, Name: cmdPIDConfig,
		Args:    []c.Type{c.Byte, c.Float, c.Float, c.Float, c.Float, c.Float},
		Returns: []c.Type{c.Byte, c.Float, c.Float, c.Float, c.Float, c.Float}},
	c.Command{ID: 6, Name: cmdLegNumber, Args: []c.Type{c.Byte}, Returns: []c.Type{c.Byte}},
	c.Command{ID: 7, Name: cmdPWMLimits,
		Args:    []c.Type{c.Byte, c.Int32, c.Int32, c.Int32, c.Int32},
		Returns: []c.Type{c.Byte, c.Int32, c.Int32, c.Int32, c.Int32}},
	c.Command{ID: 8, Name: cmdADCLimits,
		Args:    []c.Type{c.Byte, c.Float, c.Float},
		Returns: []c.Type{c.Byte, c.Float, c.Float}},
	c.Command{ID: 9, Name: cmdCalfScale, Args: []c.Type{c.Float, c.Float}, Returns: []c.Type{c.Float, c.Float}},
	c.Command{ID: 10, Name: cmdReportTime, Args: []c.Type{c.Uint32}, Returns: []c.Type{c.Uint32}},
	c.Command{ID: 11, Name: cmdPIDSeedTime, Returns: []c.Type{c.Float}},
	c.Command{ID: 12, Name: cmdResetPIDs, Args: []c.Type{c.Bool}},
	c.Command{ID: 13, Name: cmdDither, Args: []c.Type{c.Uint32, c.Int32}, Returns: []c.Type{c.Uint32, c.Int32}},
	c.Command{ID: 14, Name: cmdFollowingError,
		Args:    []c.Type{c.Byte, c.Float},
		Returns: []c.Type{c.Byte, c.Float}},
	c.Command{ID: 21, Name: cmdReportADC, Returns: []c.Type{c.Uint32, c.Uint32, c.Uint32, c.Uint32}},
	c.Command{ID: 22, Name: cmdReportPID, Returns: f9},
	c.Command{ID: 23, Name: cmdReportPWM, Returns: []c.Type{c.Int32, c.Int32, c.Int32}},
	c.Command{ID: 24, Name: cmdReportXYZ, Returns: f3},
	c.Command{ID: 25, Name: cmdReportAngles, Returns: []c.Type{c.Float, c.Float, c.Float, c.Float, c.Bool}},
	c.Command{ID: 26, Name: cmdReportLoopTime, Returns: []c.Type{c.Uint32}},
)
