// Package telemetry publishes the walker state to remote monitors: a
// websocket feed for browsers and MQTT topics for everything else.
package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/robot"
	"github.com/gwillem/stompy/pkg/walk"
)

var log = logrus.WithField("pkg", "telemetry")

// DefaultInterval is how often the state is published.
const DefaultInterval = 100 * time.Millisecond

// Config selects the telemetry outputs. Empty fields disable them.
type Config struct {
	// Listen is the address of the websocket feed, e.g. ":8080".
	Listen string `yaml:"listen,omitempty"`
	// Broker is the MQTT broker URL, e.g. "tcp://localhost:1883".
	Broker string `yaml:"broker,omitempty"`
	// Topic prefixes every MQTT topic.
	Topic    string        `yaml:"topic,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Enabled reports whether any output is configured.
func (c Config) Enabled() bool {
	return c.Listen != "" || c.Broker != ""
}

// Target is the body target as published.
type Target struct {
	Center [2]float64 `json:"center"`
	Speed  float64    `json:"speed"`
	DZ     float64    `json:"dz"`
}

// Leg is one leg's part of a Message.
type Leg struct {
	Number      int        `json:"number"`
	Name        string     `json:"name"`
	Estop       string     `json:"estop"`
	Foot        string     `json:"foot"`
	Restriction float64    `json:"restriction"`
	XYZ         [3]float64 `json:"xyz"`
	Errors      int        `json:"errors"`
	Stopped     bool       `json:"stopped,omitempty"`
}

// Message is the published walker state.
type Message struct {
	Timestamp float64 `json:"timestamp"`
	Enabled   bool    `json:"enabled"`
	Halted    bool    `json:"halted"`
	Target    Target  `json:"target"`
	Legs      []Leg   `json:"legs"`
	Error     string  `json:"error,omitempty"`
}

// FootMessage is a foot state change.
type FootMessage struct {
	Timestamp float64 `json:"timestamp"`
	Leg       int     `json:"leg"`
	State     string  `json:"state"`
	Previous  string  `json:"previous"`
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromTarget(t gait.Target) Target {
	return Target{Center: t.RotationCenter, Speed: t.Speed, DZ: t.DZ}
}

// FromState converts a walk state. Legs are listed in ring order.
func FromState(s walk.State) Message {
	m := Message{
		Timestamp: seconds(s.Timestamp),
		Enabled:   s.Body.Enabled,
		Halted:    s.Body.Halted,
		Target:    fromTarget(s.Body.Target),
	}
	if s.Error != nil {
		m.Error = s.Error.Error()
	}
	nums := make([]int, 0, len(s.Legs))
	for n := range s.Legs {
		nums = append(nums, n)
	}
	for _, n := range robot.SortedLegs(nums) {
		ls := s.Legs[n]
		xyz := ls.XYZ.Value
		m.Legs = append(m.Legs, Leg{
			Number:      n,
			Name:        ls.Name,
			Estop:       ls.Estop.String(),
			Foot:        ls.Foot.String(),
			Restriction: ls.Restriction,
			XYZ:         [3]float64{xyz.X, xyz.Y, xyz.Z},
			Errors:      ls.Errors,
			Stopped:     ls.Stopped,
		})
	}
	return m
}

// FromFootEvent converts a foot state change.
func FromFootEvent(e gait.FootEvent) FootMessage {
	return FootMessage{
		Timestamp: seconds(e.Time),
		Leg:       e.Leg,
		State:     e.State.String(),
		Previous:  e.Previous.String(),
	}
}

// Sink receives published states.
type Sink interface {
	Send(m Message) error
}

// Run publishes snapshot() to every sink each interval until ctx is done.
// A failing sink is logged and keeps receiving.
func Run(ctx context.Context, interval time.Duration, snapshot func() walk.State, sinks ...Sink) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m := FromState(snapshot())
			for _, s := range sinks {
				if err := s.Send(m); err != nil {
					log.WithError(err).Warn("publish")
				}
			}
		}
	}
}
