// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package hal

import (
	"fmt"

	"toolerator-go/pkg/turret"
)

// The register bank moves one 4-byte word per direction per axis per
// cycle. Byte 0 is padding in both directions.

// CommandWord is the host-to-core word.
type CommandWord struct {
	Enable     bool
	ToolChange bool
	ToolNumber uint8
}

// StatusWord is the core-to-host word.
type StatusWord struct {
	ToolNumber uint8
	Homed      bool
	Status     uint8
}

// WordSize is the fixed size of both words on the wire.
const WordSize = 4

// Marshal packs the command word.
func (w CommandWord) Marshal() [WordSize]byte {
	var out [WordSize]byte
	if w.Enable {
		out[1] = 1
	}
	if w.ToolChange {
		out[2] = 1
	}
	out[3] = w.ToolNumber
	return out
}

// UnmarshalCommand unpacks a command word.
func UnmarshalCommand(buf []byte) (CommandWord, error) {
	if len(buf) != WordSize {
		return CommandWord{}, fmt.Errorf("command word: want %d bytes, got %d", WordSize, len(buf))
	}
	return CommandWord{
		Enable:     buf[1] != 0,
		ToolChange: buf[2] != 0,
		ToolNumber: buf[3],
	}, nil
}

// Marshal packs the status word.
func (w StatusWord) Marshal() [WordSize]byte {
	var out [WordSize]byte
	out[1] = w.ToolNumber
	if w.Homed {
		out[2] = 1
	}
	out[3] = w.Status
	return out
}

// UnmarshalStatus unpacks a status word.
func UnmarshalStatus(buf []byte) (StatusWord, error) {
	if len(buf) != WordSize {
		return StatusWord{}, fmt.Errorf("status word: want %d bytes, got %d", WordSize, len(buf))
	}
	w := StatusWord{
		ToolNumber: buf[1],
		Homed:      buf[2] != 0,
		Status:     buf[3],
	}
	if w.Status < uint8(turret.StateStart) || w.Status > uint8(turret.StateError) {
		return StatusWord{}, fmt.Errorf("status word: unknown state code %d", w.Status)
	}
	return w, nil
}

// StatusOf builds the status word for a sequencer snapshot.
func StatusOf(state turret.State, homed bool, currentTool int) StatusWord {
	return StatusWord{
		ToolNumber: uint8(currentTool),
		Homed:      homed,
		Status:     uint8(state),
	}
}
