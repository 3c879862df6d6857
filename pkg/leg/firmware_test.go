package leg

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/comando"
	"github.com/gwillem/stompy/pkg/comando/comandotest"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// firmware answers the queries a leg controller answers, over an in-memory port.
type firmware struct {
	*comandotest.Port
	number uint8
	seed   float64
	calf   [2]float64
}

func newFirmware(number uint8, seed float64) *firmware {
	fw := &firmware{
		Port:   comandotest.NewPort(),
		number: number,
		seed:   seed,
		calf:   [2]float64{1, 0},
	}
	fw.OnFrame(fw.handle)
	return fw
}

func (f *firmware) handle(payload []byte) {
	if payload[0] != comando.ProtocolCommand {
		return
	}
	cmd, err := Commands.ByID(payload[1])
	if err != nil {
		return
	}
	argc := len(payload) - 2
	b := comando.ByteValue
	fl := comando.FloatValue
	switch cmd.Name {
	case cmdLegNumber:
		if argc == 0 {
			f.InjectCommand(cmd.ID, b(f.number))
		}
	case cmdPIDSeedTime:
		f.InjectCommand(cmd.ID, fl(f.seed))
	case cmdCalfScale:
		if argc == 0 {
			f.InjectCommand(cmd.ID, fl(f.calf[0]), fl(f.calf[1]))
			return
		}
		args, _ := comando.DecodeArgs(cmd.Args, payload[2:])
		f.calf = [2]float64{args[0].Float(), args[1].Float()}
	case cmdPIDConfig:
		if argc == 1 {
			f.InjectCommand(cmd.ID, b(payload[2]), fl(1), fl(2), fl(3), fl(-100), fl(100))
		}
	case cmdFollowingError:
		if argc == 1 {
			f.InjectCommand(cmd.ID, b(payload[2]), fl(0.5))
		}
	case cmdPWMLimits:
		if argc == 1 {
			i := comando.Int32Value
			f.InjectCommand(cmd.ID, b(payload[2]), i(10), i(200), i(-10), i(-200))
		}
	case cmdADCLimits:
		if argc == 1 {
			f.InjectCommand(cmd.ID, b(payload[2]), fl(100), fl(900))
		}
	case cmdPWM, cmdEnablePID:
		// Both echo what was applied.
		args, err := comando.DecodeArgs(cmd.Args, payload[2:])
		if err == nil {
			f.InjectCommand(cmd.ID, args...)
		}
	case cmdDither:
		if argc == 0 {
			f.InjectCommand(cmd.ID, comando.Uint32Value(50), comando.Int32Value(3))
		}
	}
}

// sent returns the frames the host wrote for the named command, decoded.
func (f *firmware) sent(t *testing.T, name string) [][]comando.Value {
	t.Helper()
	cmd, err := Commands.Lookup(name)
	require.NoError(t, err)
	var out [][]comando.Value
	for _, p := range f.Frames() {
		if p[0] != comando.ProtocolCommand || p[1] != cmd.ID {
			continue
		}
		types := cmd.Args
		if cmd.Variadic {
			types = append([]comando.Type(nil), cmd.Args...)
			for range (len(p) - 2 - 2) / 4 {
				types = append(types, cmd.Rest)
			}
		}
		n, size := 0, 0
		for n < len(types) && size < len(p)-2 {
			size += types[n].Size()
			n++
		}
		vals, err := comando.DecodeArgs(types[:n], p[2:])
		require.NoError(t, err)
		out = append(out, vals)
	}
	return out
}

func testOptions(clk clock.Clock) Options {
	return Options{
		Clock:        clk,
		QueryTimeout: time.Second,
		Noise:        -1,
	}
}

func connectFirmware(t *testing.T, fw *firmware, opts Options) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), fw, opts)
	require.NoError(t, err)
	return c
}

func dialer(ports map[string]*firmware) Dialer {
	return func(_ context.Context, name string) (io.ReadWriteCloser, error) {
		fw, ok := ports[name]
		if !ok {
			return nil, io.ErrUnexpectedEOF
		}
		return fw, nil
	}
}
