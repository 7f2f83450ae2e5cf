// Fixed-point step/dir pulse generator with trapezoidal velocity profile
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepgen

import (
	"fmt"

	"toolerator-go/pkg/errors"
)

// Timing register limits in clock ticks. The sums of consecutive limits
// bound the reload values of the three down-counters.
const (
	maxStepLenTicks  = 1<<10 - 1
	maxDirHoldTicks  = 1<<10 - 1
	maxDirSetupTicks = 1<<12 - 1
)

// Config holds the physical-unit parameters of one pulse generator.
// All values are converted to per-tick fixed-point registers at
// construction time; nothing in the tick path touches floating point.
type Config struct {
	Name           string
	ClockFrequency float64 // servo ticks per second

	MaxVelocity     float64 // pulses per second
	MaxAcceleration float64 // pulses per second^2, 0 disables ramping

	StepPulseNS float64 // minimum step pulse width
	DirHoldNS   float64 // step-to-direction-change hold time
	DirSetupNS  float64 // direction-change-to-step setup time

	// SoftStop keeps the position integrator running while disabled so
	// the axis ramps down instead of freezing mid-step.
	SoftStop bool
}

// DefaultConfig returns a generator configuration with conservative
// timing suitable for common external step drivers.
func DefaultConfig() Config {
	return Config{
		Name:            "stepgen",
		ClockFrequency:  1e6,
		MaxVelocity:     2000,
		MaxAcceleration: 20000,
		StepPulseNS:     5000,
		DirHoldNS:       10000,
		DirSetupNS:      10000,
		SoftStop:        true,
	}
}

// Generator produces step and direction outputs from position or velocity
// targets, one evaluation per clock tick. All registers are fixed-point:
// one step pulse corresponds to 1<<PickOff.Pos raw position units.
//
// A Generator is owned by a single servo goroutine and is not safe for
// concurrent use; snapshot access for status reporting goes through the
// owning axis.
type Generator struct {
	name    string
	pickOff PickOff
	shift   uint // pickOff.Acc - pickOff.Vel

	// Static registers, written at construction.
	maxSpeed     int64
	maxAccel     int64
	stepLenTime  uint32
	dirHoldTime  uint32
	dirSetupTime uint32
	softStop     bool

	// Command registers, written by the sequencer between ticks.
	enabled        bool
	positionMode   bool
	positionTarget int64
	speedTarget    int64

	// State registers, written only by Tick.
	position     int64
	speed        int64
	accDistance  int64
	accelerating bool

	stepPrev        bool
	wait            bool
	holdDDS         bool
	stepLenCounter  uint32
	dirHoldCounter  uint32
	dirSetupCounter uint32
	stepOut         bool
	dirOut          bool
}

// New builds a generator from physical units, deriving the fixed-point
// scales from the clock frequency and validating that every configured
// quantity is representable.
func New(cfg Config) (*Generator, error) {
	pickOff, err := DerivePickOff(cfg.ClockFrequency)
	if err != nil {
		return nil, err
	}
	if cfg.MaxVelocity <= 0 {
		return nil, errors.ConfigValidationError(cfg.Name, "max_velocity", "must be positive")
	}
	if cfg.MaxAcceleration < 0 {
		return nil, errors.ConfigValidationError(cfg.Name, "max_acceleration", "must not be negative")
	}
	maxSpeed := pickOff.VelocityToFixed(cfg.MaxVelocity, cfg.ClockFrequency)
	if maxSpeed <= 0 {
		return nil, errors.ConfigScaleError(fmt.Sprintf(
			"%s: max_velocity %g pulses/s rounds to zero at the derived scale", cfg.Name, cfg.MaxVelocity))
	}
	maxAccel := pickOff.AccelToFixed(cfg.MaxAcceleration, cfg.ClockFrequency)
	if cfg.MaxAcceleration > 0 && maxAccel <= 0 {
		return nil, errors.ConfigScaleError(fmt.Sprintf(
			"%s: max_acceleration %g pulses/s^2 rounds to zero at the derived scale", cfg.Name, cfg.MaxAcceleration))
	}
	stepLen := NanosToTicks(cfg.StepPulseNS, cfg.ClockFrequency)
	dirHold := NanosToTicks(cfg.DirHoldNS, cfg.ClockFrequency)
	dirSetup := NanosToTicks(cfg.DirSetupNS, cfg.ClockFrequency)
	if stepLen < 1 {
		return nil, errors.ConfigValidationError(cfg.Name, "step_pulse_ns", "shorter than one clock tick")
	}
	if stepLen > maxStepLenTicks {
		return nil, errors.ConfigValidationError(cfg.Name, "step_pulse_ns",
			fmt.Sprintf("exceeds %d clock ticks", maxStepLenTicks))
	}
	if dirHold > maxDirHoldTicks {
		return nil, errors.ConfigValidationError(cfg.Name, "dir_hold_ns",
			fmt.Sprintf("exceeds %d clock ticks", maxDirHoldTicks))
	}
	if dirSetup > maxDirSetupTicks {
		return nil, errors.ConfigValidationError(cfg.Name, "dir_setup_ns",
			fmt.Sprintf("exceeds %d clock ticks", maxDirSetupTicks))
	}
	return &Generator{
		name:         cfg.Name,
		pickOff:      pickOff,
		shift:        pickOff.ShiftAccVel(),
		maxSpeed:     maxSpeed,
		maxAccel:     maxAccel,
		stepLenTime:  stepLen,
		dirHoldTime:  dirHold,
		dirSetupTime: dirSetup,
		softStop:     cfg.SoftStop,
		// Direction output powers up asserted, matching the hardware
		// register reset value.
		dirOut: true,
	}, nil
}

// PickOff returns the derived fixed-point scales.
func (g *Generator) PickOff() PickOff { return g.pickOff }

// MaxSpeed returns the configured velocity limit as a fixed-point
// register value.
func (g *Generator) MaxSpeed() int64 { return g.maxSpeed }

// MaxAccelFixed returns the per-tick velocity increment register.
func (g *Generator) MaxAccelFixed() int64 { return g.maxAccel }

// Position returns the current raw position register.
func (g *Generator) Position() int64 { return g.position }

// Speed returns the current fixed-point velocity register.
func (g *Generator) Speed() int64 { return g.speed }

// PositionTarget returns the commanded raw position.
func (g *Generator) PositionTarget() int64 { return g.positionTarget }

// DistanceToGo returns the raw distance between target and position.
func (g *Generator) DistanceToGo() int64 { return g.positionTarget - g.position }

// PositionMode reports whether the generator follows the position target
// rather than the velocity target.
func (g *Generator) PositionMode() bool { return g.positionMode }

// Enabled reports whether motion is enabled.
func (g *Generator) Enabled() bool { return g.enabled }

// StepOutput returns the step pin level after the last tick.
func (g *Generator) StepOutput() bool { return g.stepOut }

// DirOutput returns the direction pin level after the last tick.
// Asserted means negative motion.
func (g *Generator) DirOutput() bool { return g.dirOut }

// SetEnabled sets the motion enable input for the next tick.
func (g *Generator) SetEnabled(enabled bool) { g.enabled = enabled }

// SetPositionMode selects between position and velocity control.
func (g *Generator) SetPositionMode(positionMode bool) { g.positionMode = positionMode }

// SetPositionTarget writes the raw position target register.
func (g *Generator) SetPositionTarget(target int64) { g.positionTarget = target }

// AddPositionTarget advances the raw position target by delta.
func (g *Generator) AddPositionTarget(delta int64) { g.positionTarget += delta }

// SetSpeedTarget writes the fixed-point velocity target register, used
// while in velocity mode.
func (g *Generator) SetSpeedTarget(target int64) { g.speedTarget = target }

// stoppedMargin is the raw position window within which the axis counts
// as settled: the distance covered in five ticks at one acceleration
// increment of speed.
func (g *Generator) stoppedMargin() int64 {
	return (5 * g.maxAccel) >> g.shift
}

// Stopped reports whether the axis is at rest on its position target:
// zero velocity with the remaining distance inside the settle window.
func (g *Generator) Stopped() bool {
	dtg := g.positionTarget - g.position
	margin := g.stoppedMargin()
	return g.speed == 0 && dtg < margin && dtg > -margin
}

// Tick advances the generator by one clock period. Every value read
// during the evaluation comes from the state before the call, mirroring
// a bank of registers clocked simultaneously. When reset is asserted the
// profile state is cleared and only the output timing counters keep
// running.
func (g *Generator) Tick(reset bool) {
	prev := *g

	// Free-running timing counters.
	if prev.stepLenCounter > 0 {
		g.stepLenCounter = prev.stepLenCounter - 1
	}
	if prev.dirHoldCounter > 0 {
		g.dirHoldCounter = prev.dirHoldCounter - 1
	}
	if prev.dirSetupCounter > 0 {
		g.dirSetupCounter = prev.dirSetupCounter - 1
	}

	if !reset && !prev.wait {
		g.updateRamp(&prev)
	}
	if !reset && prev.positionMode {
		g.updatePositionTarget(&prev)
	}
	if !reset && !prev.wait && !prev.enabled {
		// Disable always forces the velocity target to zero,
		// regardless of what the position algorithm picked.
		g.speedTarget = 0
	}

	// Position integration pauses while a step edge is held back and,
	// without soft stop, freezes the instant the axis is disabled.
	if !reset && !prev.wait && (prev.softStop || prev.enabled) {
		g.position = prev.position + (prev.speed >> prev.shift)
	}

	// A step edge is due whenever the step phase bit of the position
	// register toggles. While a direction change is in progress the edge
	// is deferred, not dropped: wait stalls the integrator above until
	// the hold clears.
	phase := (prev.position >> prev.pickOff.Pos) & 1
	phasePrev := int64(0)
	if prev.stepPrev {
		phasePrev = 1
	}
	if phase != phasePrev {
		if !prev.holdDDS {
			g.stepPrev = phase != 0
			g.wait = false
			g.stepLenCounter = prev.stepLenTime
			g.dirHoldCounter = prev.stepLenTime + prev.dirHoldTime
			g.dirSetupCounter = prev.stepLenTime + prev.dirHoldTime + prev.dirSetupTime
		} else {
			g.wait = true
		}
	}

	if prev.dirSetupCounter == 0 {
		g.holdDDS = false
	}

	// Direction changes wait out the hold counter before the pin flips
	// and arm the setup counter so the next step edge keeps its
	// distance from the flip.
	desiredDir := prev.speed < 0
	if desiredDir != prev.dirOut {
		g.holdDDS = true
		if prev.dirSetupCounter == 0 {
			g.dirSetupCounter = prev.dirSetupTime
		}
		if prev.dirHoldCounter == 0 {
			g.dirOut = desiredDir
		}
	}

	if reset {
		g.speed = 0
		g.speedTarget = 0
		g.position = 0
	}

	g.stepOut = g.stepLenCounter > 0
}

// updateRamp steps the velocity toward the target, accumulating the
// distance spent accelerating so the position algorithm knows how much
// room a symmetric stop needs. The integral uses round-half-up on the
// acceleration increment.
func (g *Generator) updateRamp(prev *Generator) {
	target := prev.speedTarget
	if !prev.enabled {
		target = 0
		g.speedTarget = 0
	}
	acc := prev.maxAccel
	switch {
	case acc == 0:
		g.speed = target
	case target >= prev.speed+acc:
		if prev.speed >= 0 {
			g.accDistance = prev.accDistance + ((prev.speed + acc>>1) >> prev.shift)
		} else {
			g.accDistance = prev.accDistance - ((prev.speed + acc>>1) >> prev.shift)
		}
		g.speed = prev.speed + acc
		g.accelerating = true
	case target <= prev.speed-acc:
		if prev.speed > 0 {
			g.accDistance = prev.accDistance - ((prev.speed - acc>>1) >> prev.shift)
		} else {
			g.accDistance = prev.accDistance + ((prev.speed - acc>>1) >> prev.shift)
		}
		g.speed = prev.speed - acc
		g.accelerating = true
	default:
		// The gap closes within one increment: snap to the target and
		// book the trapezoid sliver left over from the last full step.
		g.speed = target
		if prev.speed != target {
			if prev.speed >= 0 {
				g.accDistance = prev.accDistance + ((prev.speed + target) >> (prev.shift + 1))
			} else {
				g.accDistance = prev.accDistance - ((prev.speed + target) >> (prev.shift + 1))
			}
		}
		g.accelerating = false
		if target == 0 {
			g.accDistance = 0
		}
	}
}

// updatePositionTarget selects the velocity target from the remaining
// distance. The look-ahead term projects the stopping point a few ticks
// ahead so the deceleration command lands before the symmetric ramp
// distance is overrun.
func (g *Generator) updatePositionTarget(prev *Generator) {
	dtg := prev.positionTarget - prev.position
	margin := (5 * prev.maxAccel) >> prev.shift
	switch {
	case prev.accDistance == 0:
		if dtg > margin {
			g.speedTarget = prev.maxSpeed
		} else if dtg < -margin {
			g.speedTarget = -prev.maxSpeed
		}
	case prev.accDistance > 0:
		mult := int64(5)
		var bias int64
		if prev.accelerating {
			mult = 9
			bias = 8 * prev.maxAccel
		}
		lookahead := (mult*prev.speed + bias) >> (prev.shift + 1)
		if dtg-lookahead > prev.accDistance {
			g.speedTarget = prev.maxSpeed
		} else {
			g.speedTarget = 0
		}
	default:
		mult := int64(5)
		var bias int64
		if prev.accelerating {
			mult = 9
			bias = 8 * prev.maxAccel
		}
		lookahead := (mult*prev.speed - bias) >> (prev.shift + 1)
		if dtg-lookahead < prev.accDistance {
			g.speedTarget = -prev.maxSpeed
		} else {
			g.speedTarget = 0
		}
	}
}

// GetStatus returns a snapshot of the generator registers for status
// reporting.
func (g *Generator) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"position":        g.position,
		"position_pulses": g.pickOff.RawToPulses(g.position),
		"position_target": g.positionTarget,
		"speed":           g.speed,
		"speed_target":    g.speedTarget,
		"acc_distance":    g.accDistance,
		"enabled":         g.enabled,
		"position_mode":   g.positionMode,
		"stopped":         g.Stopped(),
		"step":            g.stepOut,
		"dir":             g.dirOut,
	}
}
