package leg

import (
	"fmt"
	"time"
)

// Estop is the emergency stop level of a leg.
type Estop uint8

const (
	EstopOff  Estop = 0
	EstopSoft Estop = 1
	EstopHard Estop = 2
	// EstopHold freezes the leg in place, raised when a joint limit is hit.
	EstopHold Estop = 3

	EstopDefault = EstopHard
)

func (e Estop) String() string {
	switch e {
	case EstopOff:
		return "off"
	case EstopSoft:
		return "soft"
	case EstopHard:
		return "hard"
	case EstopHold:
		return "hold"
	}
	return fmt.Sprintf("estop(%d)", uint8(e))
}

// Valid reports whether e is a known level.
func (e Estop) Valid() bool {
	return e <= EstopHold
}

// ParseEstop parses a level name as returned by String.
func ParseEstop(s string) (Estop, error) {
	for e := EstopOff; e <= EstopHold; e++ {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEstop, s)
}

// UnmarshalFlag lets a level be given by name on the command line.
func (e *Estop) UnmarshalFlag(s string) error {
	v, err := ParseEstop(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// The firmware raises a hard estop when no heartbeat arrives within
// HeartbeatTimeout. The host sends one every HeartbeatPeriod.
const (
	HeartbeatTimeout = time.Second
	HeartbeatPeriod  = HeartbeatTimeout / 2
)
