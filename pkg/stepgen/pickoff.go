// Fixed-point scale selection for the step pulse generator.
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepgen

import (
	"math"

	"toolerator-go/pkg/errors"
)

// MaxStepRate is the highest deliverable step rate in pulses per second.
// The velocity pick-off is widened until one velocity LSB per tick stays
// below this rate.
const MaxStepRate = 400e3

// positionPickOff is the number of fractional bits below one step edge.
const positionPickOff = 32

// PickOff holds the three fixed-point scales used by the generator: the
// number of fractional bits for position, velocity and acceleration
// quantities. One raw position unit of 1<<Pos equals one step edge.
type PickOff struct {
	Pos uint
	Vel uint
	Acc uint
}

// DerivePickOff computes the scale triple for a given tick frequency.
// The velocity scale is widened by the smallest shift that brings the
// maximum representable step rate under MaxStepRate; the acceleration
// scale is widened by the same amount again so that the per-tick velocity
// integral shifts down to exact position units.
func DerivePickOff(clockFrequency float64) (PickOff, error) {
	if clockFrequency <= 0 {
		return PickOff{}, errors.ConfigScaleError("clock frequency must be positive")
	}
	shift := uint(0)
	for clockFrequency/float64(uint64(1)<<shift) > MaxStepRate {
		shift++
	}
	p := PickOff{
		Pos: positionPickOff,
		Vel: positionPickOff + shift,
		Acc: positionPickOff + 2*shift,
	}
	// Keep headroom in the 64-bit registers for a full multi-revolution
	// move plus the widened velocity bits.
	if p.Acc > 52 {
		return PickOff{}, errors.ConfigScaleError("acceleration pick-off exceeds register width")
	}
	return p, nil
}

// ShiftAccVel returns the shift between the acceleration and velocity
// scales. This single value appears in every runtime scale conversion.
func (p PickOff) ShiftAccVel() uint {
	return p.Acc - p.Vel
}

// VelocityToFixed converts a physical velocity in pulses per second to the
// per-tick fixed-point velocity register value.
func (p PickOff) VelocityToFixed(pulsesPerSec, clockFrequency float64) int64 {
	return int64(math.Ldexp(pulsesPerSec, int(p.Vel)) / clockFrequency)
}

// AccelToFixed converts a physical acceleration in pulses per second
// squared to the per-tick velocity increment applied by the ramp.
func (p PickOff) AccelToFixed(pulsesPerSecSq, clockFrequency float64) int64 {
	return int64(math.Ldexp(pulsesPerSecSq, int(p.Vel)) / (clockFrequency * clockFrequency))
}

// PulsesToRaw converts a whole number of step pulses to raw position units.
func (p PickOff) PulsesToRaw(pulses int64) int64 {
	return pulses << p.Pos
}

// RawToPulses converts raw position units to whole step pulses, truncating
// the fractional bits.
func (p PickOff) RawToPulses(raw int64) int64 {
	return raw >> p.Pos
}

// DegreesToRaw converts an angle to raw position units for a turret with
// the given pulses per revolution.
func (p PickOff) DegreesToRaw(pulsesPerRev int, degrees float64) int64 {
	return int64(math.Ldexp(float64(pulsesPerRev), int(p.Pos)) * degrees / 360.0)
}

// NanosToTicks converts a duration in nanoseconds to whole clock ticks.
func NanosToTicks(ns, clockFrequency float64) uint32 {
	return uint32(ns * clockFrequency / 1e9)
}
