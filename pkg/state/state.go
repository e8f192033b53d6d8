package state

import (
	"fmt"
	"strings"
)

const (
	Off State = false
	On  State = true
)

// State is the logical heater state. The physical pin/coil level is derived
// from it by applying the polarity flag, see Level.
type State bool

func Parse(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1", "TRUE":
		return On, nil
	case "OFF", "0", "FALSE":
		return Off, nil
	}
	return Off, fmt.Errorf("unknown switch state %q", s)
}

func (s State) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// Level returns the output level to drive for this state.
func (s State) Level(reversePolarity bool) bool {
	if reversePolarity {
		return !bool(s)
	}
	return bool(s)
}
