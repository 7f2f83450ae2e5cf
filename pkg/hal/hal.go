// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package hal exposes the host-facing pin surface of a turret axis:
// boolean command pins in, decoded handshake pins out. The decode rules
// match the original register-level driver so existing integrations see
// the same behavior.
package hal

import (
	"toolerator-go/pkg/errors"
	"toolerator-go/pkg/turret"
)

// Pins is the per-axis pin block, refreshed once per servo tick.
//
// Inputs are written by the integration (motion controller, test rig);
// outputs are written by Update. ToolChanged implements the completion
// handshake: it follows ToolChange while the axis sits in READY and
// drops as soon as a move or homing cycle starts, so the caller sees a
// falling edge for the duration of every change.
type Pins struct {
	// Inputs
	Enable     bool
	Reset      bool
	HomeStart  bool
	ToolChange bool
	ToolNumber int

	// Outputs
	Status      uint32 // raw sequencer state code
	Error       bool
	Homing      bool
	Homed       bool
	ToolChanged bool
	CurrentTool int
}

// Interface mediates between a pin block and one turret axis.
type Interface struct {
	toolCount int
	pins      Pins
}

// New creates the pin interface for an axis with the given station
// count.
func New(toolCount int) (*Interface, error) {
	if toolCount < 1 || toolCount > 255 {
		return nil, errors.ConfigValidationError("hal", "tool_count", "must be in 1..255")
	}
	return &Interface{toolCount: toolCount}, nil
}

// Pins returns a snapshot of the pin block.
func (h *Interface) Pins() Pins {
	return h.pins
}

// SetInputs replaces the input pins, leaving outputs untouched.
func (h *Interface) SetInputs(enable, reset, homeStart, toolChange bool, toolNumber int) {
	h.pins.Enable = enable
	h.pins.Reset = reset
	h.pins.HomeStart = homeStart
	h.pins.ToolChange = toolChange
	h.pins.ToolNumber = toolNumber
}

// Command derives the per-tick axis command from the input pins. A
// tool number outside 1..toolCount is dropped rather than forwarded;
// the axis would ignore it anyway and the pin surface reports the
// rejection by never raising ToolChanged.
func (h *Interface) Command() turret.Command {
	cmd := turret.Command{
		Enable:      h.pins.Enable,
		Reset:       h.pins.Reset,
		HomeRequest: h.pins.HomeStart,
	}
	if h.pins.ToolChange {
		if n := h.pins.ToolNumber; n >= 1 && n <= h.toolCount {
			cmd.CommandedTool = n
		}
	}
	return cmd
}

// Update decodes the axis state into the output pins.
func (h *Interface) Update(state turret.State, homed bool, currentTool int) {
	h.pins.Status = uint32(state)
	h.pins.Homed = homed
	h.pins.CurrentTool = currentTool
	h.pins.Homing = state.Homing()

	switch {
	case state.Homing(), state.Moving():
		h.pins.ToolChanged = false
	case state == turret.StateReady:
		// Completion handshake: READY plus a still-raised request
		// means the change has finished.
		h.pins.ToolChanged = h.pins.ToolChange
		h.pins.Error = false
	case state == turret.StateError:
		h.pins.ToolChanged = false
		h.pins.Error = true
	default:
		h.pins.ToolChanged = false
	}
}
