// Turret sequencer states
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package turret

// State identifies one step of the turret sequencer. The numeric values
// are part of the HAL status word and must not be reordered.
type State int

const (
	StateStart State = iota + 1
	StateHomeSearching
	StateHomeBackOff
	StateHomeLatching
	StateHomeMoveToZero
	StateMovingForward
	StateMovingBackward
	StateReady
	StateError
)

var stateNames = map[State]string{
	StateStart:          "START",
	StateHomeSearching:  "HOME_SEARCHING",
	StateHomeBackOff:    "HOME_BACK_OFF",
	StateHomeLatching:   "HOME_LATCHING",
	StateHomeMoveToZero: "HOME_MOVE_TO_ZERO",
	StateMovingForward:  "MOVING_FORWARD",
	StateMovingBackward: "MOVING_BACKWARD",
	StateReady:          "READY",
	StateError:          "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Homing reports whether the state is part of the homing cycle.
func (s State) Homing() bool {
	return s >= StateHomeSearching && s <= StateHomeMoveToZero
}

// Moving reports whether the state is part of a tool change move.
func (s State) Moving() bool {
	return s == StateMovingForward || s == StateMovingBackward
}
