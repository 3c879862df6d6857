package leg

import (
	"fmt"

	"github.com/gwillem/stompy/pkg/comando"
)

// Write is one calibration command replayed to a leg at startup, such as
// {calf_scale, [slope, offset]} or {pid_config, [joint, p, i, d, min, max]}.
type Write struct {
	Command string    `yaml:"command"`
	Args    []float64 `yaml:"args"`
}

// Values converts the arguments to the command's wire types.
func (w Write) Values() ([]comando.Value, error) {
	cmd, err := Commands.Lookup(w.Command)
	if err != nil {
		return nil, err
	}
	if len(w.Args) != len(cmd.Args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d",
			comando.ErrBadArgs, w.Command, len(cmd.Args), len(w.Args))
	}
	vals := make([]comando.Value, len(w.Args))
	for i, a := range w.Args {
		v, err := comando.Convert(cmd.Args[i], a)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", w.Command, i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// key identifies what a write configures: the command plus the joint for
// per-joint commands.
func (w Write) key() string {
	cmd, err := Commands.Lookup(w.Command)
	if err == nil && len(cmd.Args) > 0 && cmd.Args[0] == comando.Byte && len(w.Args) > 0 {
		return fmt.Sprintf("%s/%d", w.Command, int(w.Args[0]))
	}
	return w.Command
}

// MergeCalibration appends w to writes, dropping earlier writes that
// configure the same thing.
func MergeCalibration(writes []Write, w Write) []Write {
	out := make([]Write, 0, len(writes)+1)
	for _, old := range writes {
		if old.key() != w.key() {
			out = append(out, old)
		}
	}
	return append(out, w)
}

// CalfScale converts the calf ADC reading into load: load = slope*adc + offset.
type CalfScale struct {
	Slope  float64
	Offset float64
}

// Load returns the load for a raw reading.
func (s CalfScale) Load(adc float64) float64 {
	return s.Slope*adc + s.Offset
}

// ZeroAt returns the scale with its offset moved so that adc reads as load.
func (s CalfScale) ZeroAt(adc, load float64) CalfScale {
	return CalfScale{Slope: s.Slope, Offset: load - s.Slope*adc}
}

// Write returns the calibration write that applies s.
func (s CalfScale) Write() Write {
	return Write{Command: cmdCalfScale, Args: []float64{s.Slope, s.Offset}}
}
