package leg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/stompy/pkg/clock"
	"github.com/gwillem/stompy/pkg/robot"
)

func TestConnect_Hardware(t *testing.T) {
	ports := map[string]*firmware{
		"/dev/ttyACM0": newFirmware(6, 0.025),
		"/dev/ttyACM1": newFirmware(1, 0.025),
	}
	opts := testOptions(clock.NewMock(epoch))
	opts.Dial = dialer(ports)

	legs, err := Connect(context.Background(), []string{"/dev/ttyACM0", "/dev/ttyACM1"}, opts)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "fl", legs[6].Name())
	assert.Equal(t, "fr", legs[1].Name())

	require.NoError(t, Close(legs))
	for _, fw := range ports {
		assert.True(t, fw.Closed())
	}
}

func TestConnect_DuplicateLeg(t *testing.T) {
	ports := map[string]*firmware{
		"a": newFirmware(2, 0.025),
		"b": newFirmware(2, 0.025),
	}
	opts := testOptions(clock.NewMock(epoch))
	opts.Dial = dialer(ports)

	_, err := Connect(context.Background(), []string{"a", "b"}, opts)
	assert.ErrorIs(t, err, ErrDuplicateLeg)
	assert.True(t, ports["a"].Closed())
	assert.True(t, ports["b"].Closed())
}

func TestConnect_TickMismatch(t *testing.T) {
	ports := map[string]*firmware{
		"a": newFirmware(1, 0.025),
		"b": newFirmware(2, 0.030),
	}
	opts := testOptions(clock.NewMock(epoch))
	opts.Dial = dialer(ports)

	_, err := Connect(context.Background(), []string{"a", "b"}, opts)
	assert.ErrorIs(t, err, ErrTickMismatch)
	assert.True(t, ports["a"].Closed())
}

func TestConnect_Simulate(t *testing.T) {
	opts := testOptions(clock.NewMock(epoch))

	_, err := Connect(context.Background(), nil, opts)
	assert.ErrorIs(t, err, ErrNoLegs)

	opts.Simulate = true
	legs, err := Connect(context.Background(), nil, opts)
	require.NoError(t, err)
	require.Len(t, legs, 6)
	for _, n := range robot.AllLegs() {
		_, ok := legs[n].(*Sim)
		assert.True(t, ok, "leg %d is simulated", n)
		assert.Equal(t, robot.LegName(n), legs[n].Name())
	}
}
