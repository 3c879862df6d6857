package leg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/gwillem/stompy/pkg/robot"
)

var (
	ErrDuplicateLeg = errors.New("duplicate leg number")
	ErrNoLegs       = errors.New("no legs found")
)

// teensyVID is the USB vendor id of the leg microcontrollers.
const teensyVID = "16C0"

// Discover lists the serial ports that look like leg controllers.
func Discover() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	var out []string
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, teensyVID) {
			out = append(out, p.Name)
		}
	}
	return out, nil
}

// Connect opens every port and returns the legs by number. A leg number seen
// twice is fatal. With no ports, six simulated legs are returned if
// opts.Simulate is set. On error every leg opened so far is closed.
func Connect(ctx context.Context, ports []string, opts Options) (map[int]Controller, error) {
	opts = opts.withDefaults()
	legs := make(map[int]Controller)

	if len(ports) == 0 {
		if !opts.Simulate {
			return nil, ErrNoLegs
		}
		log.Info("no leg ports, simulating all legs")
		for _, n := range robot.AllLegs() {
			s, err := NewSim(n, opts)
			if err != nil {
				return nil, err
			}
			legs[n] = s
		}
		return legs, nil
	}

	fail := func(err error) (map[int]Controller, error) {
		for _, l := range legs {
			l.Close()
		}
		return nil, err
	}
	for _, port := range ports {
		c, err := Dial(ctx, port, opts)
		if err != nil {
			return fail(err)
		}
		if prev, ok := legs[c.Number()]; ok {
			c.Close()
			return fail(fmt.Errorf("%w: %d on %s and an earlier port (%s)", ErrDuplicateLeg, c.Number(), port, prev.Name()))
		}
		legs[c.Number()] = c
	}
	return legs, nil
}

// Close closes every leg, returning the first error.
func Close(legs map[int]Controller) error {
	var first error
	for _, n := range robot.SortedLegs(keys(legs)) {
		if err := legs[n].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func keys(legs map[int]Controller) []int {
	out := make([]int, 0, len(legs))
	for n := range legs {
		out = append(out, n)
	}
	return out
}
