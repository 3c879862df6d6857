package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stompy.yaml")
	cfg := Default()
	cfg.Legs = map[int]string{1: "/dev/ttyACM0", 6: "/dev/ttyACM5"}
	cfg.Serial = leg.PortOptions{BaudRate: 9600}
	cfg.Gait.WaitTime = 350 * time.Millisecond
	cfg.Calibration = map[int][]leg.Write{
		1: {{Command: "calf_scale", Args: []float64{1.5, -20}}},
	}
	require.NoError(t, cfg.SaveTo(path))

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM5"}, got.Ports())
	assert.True(t, got.IsCalibrated(1))
	assert.False(t, got.IsCalibrated(6))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "wait_time: 350ms")
}

func TestLoadFrom_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stompy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("legs:\n  2: /dev/ttyACM1\ngait:\n  r_max: 0.8\ntelemetry:\n  listen: \":8080\"\n  interval: 250ms\n"), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultHz, cfg.Hz)
	assert.Equal(t, 0.8, cfg.Gait.RMax)
	assert.Equal(t, gait.DefaultConfig().RThresh, cfg.Gait.RThresh)
	assert.Equal(t, gait.DefaultConfig().WaitTime, cfg.Gait.WaitTime)
	assert.Equal(t, map[int]string{2: "/dev/ttyACM1"}, cfg.Legs)
	assert.Equal(t, ":8080", cfg.Telemetry.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.Interval)
	assert.True(t, cfg.Telemetry.Enabled())
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"leg number", "legs:\n  7: /dev/ttyACM0\n"},
		{"empty port", "legs:\n  1: \"\"\n"},
		{"parity", "serial:\n  parity: mark\n"},
		{"thresholds", "gait:\n  r_thresh: 0.95\n"},
		{"syntax", "legs: [\n"},
		{"telemetry interval", "telemetry:\n  interval: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stompy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadFrom(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFrom_Missing(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLegOptions(t *testing.T) {
	cfg := Default()
	cfg.Simulate = true
	cfg.Serial.Parity = "E"
	opts := cfg.LegOptions()
	assert.True(t, opts.Simulate)
	assert.Equal(t, "E", opts.Port.Parity)
	assert.Equal(t, "3 (rr)", LegLabel(3))
}
