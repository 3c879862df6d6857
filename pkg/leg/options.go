package leg

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/gwillem/stompy/pkg/clock"
)

// PortOptions describes the serial connection parameters of a leg port.
type PortOptions struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
// The legs enumerate as USB CDC devices, so the baud rate is nominal.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens ports with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Dialer opens the transport of a leg port.
type Dialer func(ctx context.Context, port string) (io.ReadWriteCloser, error)

// Options configures leg controllers.
type Options struct {
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Timing is the plan tick shared by all legs; a fresh one is created if nil.
	Timing *Timing

	Port PortOptions
	// ReadTimeout bounds each serial read so Update never blocks for long.
	ReadTimeout time.Duration
	// QueryTimeout bounds blocking queries made while connecting.
	QueryTimeout time.Duration
	// Dial replaces opening a real serial port.
	Dial Dialer

	// Calibration lists the writes replayed to each leg, by leg number.
	Calibration map[int][]Write

	// Simulate falls back to six simulated legs when no port is given.
	Simulate bool
	// Noise is the simulator's jitter amplitude in inches. Negative disables it.
	Noise float64
	// Seed seeds the simulator jitter.
	Seed uint64
}

// DefaultNoise is the simulator jitter amplitude when Options.Noise is zero.
const DefaultNoise = 0.05

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Timing == nil {
		o.Timing = NewTiming()
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Millisecond
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 2 * time.Second
	}
	if o.Noise == 0 {
		o.Noise = DefaultNoise
	}
	if o.Noise < 0 {
		o.Noise = 0
	}
	if o.Dial == nil {
		o.Dial = o.openSerial
	}
	return o
}

func (o Options) openSerial(_ context.Context, path string) (io.ReadWriteCloser, error) {
	mode, err := o.Port.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(o.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}
