package gait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{MaxFeetUp: 2, RMax: 0.8, WaitTime: time.Second}.WithDefaults()
	want := DefaultConfig()
	want.MaxFeetUp = 2
	want.RMax = 0.8
	want.WaitTime = time.Second
	assert.Equal(t, want, got)
	assert.NoError(t, got.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no feet up", func(c *Config) { c.MaxFeetUp = 0 }},
		{"thresh above max", func(c *Config) { c.RThresh = 0.95 }},
		{"zero thresh", func(c *Config) { c.RThresh = 0 }},
		{"foot radius", func(c *Config) { c.FootRadius = -1 }},
		{"negative scalar", func(c *Config) { c.SpeedScalar = -0.5 }},
		{"swing speed", func(c *Config) { c.SwingSpeed = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}
