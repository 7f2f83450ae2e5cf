// Turret tool change sequencer
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package turret

import (
	"fmt"

	"toolerator-go/pkg/errors"
	"toolerator-go/pkg/stepgen"
)

// Config holds the physical parameters of one turret.
type Config struct {
	Name           string
	ClockFrequency float64 // servo ticks per second

	ToolCount    int
	PulsesPerRev int

	// OverTravelDeg is how far past a tool station the turret rotates
	// before reversing into the ratchet lock.
	OverTravelDeg float64

	MaxVelocity     float64 // pulses per second
	MaxAcceleration float64 // pulses per second^2

	StepPulseNS float64
	DirHoldNS   float64
	DirSetupNS  float64
	SoftStop    bool

	// HasHomeSensor selects sensor homing. Without a sensor the turret
	// is trusted to sit at tool 1 on power-up.
	HasHomeSensor bool

	// HomeBackOffDeg is the reverse travel after the first switch hit
	// before the slow latch pass. Zero selects OverTravelDeg.
	HomeBackOffDeg float64

	// HomeLatchVelocity is the slow pass speed in pulses per second.
	// Zero selects a tenth of MaxVelocity.
	HomeLatchVelocity float64

	// HomeOffsetDeg is the angle from the latched switch position
	// forward to the tool 1 lock position.
	HomeOffsetDeg float64
}

// DefaultConfig returns a turret configuration for a common six station
// tool post.
func DefaultConfig() Config {
	return Config{
		Name:            "tc0",
		ClockFrequency:  1e6,
		ToolCount:       6,
		PulsesPerRev:    1800,
		OverTravelDeg:   20,
		MaxVelocity:     2000,
		MaxAcceleration: 20000,
		StepPulseNS:     5000,
		DirHoldNS:       10000,
		DirSetupNS:      10000,
		SoftStop:        true,
	}
}

// Inputs carries the per-tick command and feedback pins into the
// sequencer.
type Inputs struct {
	Enable        bool
	Reset         bool
	HomeRequest   bool
	HomeTriggered bool
	CommandedTool int
}

// Sequencer drives a single turret through homing and tool changes by
// writing targets into its step generator once per tick. Like the
// generator it is owned by the servo goroutine and performs no
// allocation or locking on the tick path.
type Sequencer struct {
	name string
	gen  *stepgen.Generator

	toolCount     int
	stepsPerTool  int64 // raw position units per tool station
	overTravel    int64
	backOff       int64
	homeOffset    int64
	revolution    int64 // homing search guard distance
	latchSpeed    int64
	hasHomeSensor bool

	state         State
	homed         bool
	homePosition  int64
	currentTool   int
	commandedTool int
	movingToTool  int
	lastErr       *errors.HostError
}

// New validates the configuration and builds the sequencer together
// with its step generator.
func New(cfg Config) (*Sequencer, error) {
	if cfg.ToolCount < 1 || cfg.ToolCount > 255 {
		return nil, errors.ConfigValidationError(cfg.Name, "tool_count", "must be in 1..255")
	}
	if cfg.PulsesPerRev < cfg.ToolCount {
		return nil, errors.ConfigValidationError(cfg.Name, "pulses_per_rev", "fewer pulses than tool stations")
	}
	if cfg.PulsesPerRev%cfg.ToolCount != 0 {
		return nil, errors.ConfigValidationError(cfg.Name, "pulses_per_rev",
			fmt.Sprintf("not divisible by tool_count %d", cfg.ToolCount))
	}
	if cfg.OverTravelDeg <= 0 {
		return nil, errors.ConfigValidationError(cfg.Name, "over_travel", "must be positive")
	}
	if cfg.MaxAcceleration <= 0 {
		// The sequencer's settle detection needs a finite ramp.
		return nil, errors.ConfigValidationError(cfg.Name, "max_acceleration", "must be positive")
	}

	gen, err := stepgen.New(stepgen.Config{
		Name:            cfg.Name,
		ClockFrequency:  cfg.ClockFrequency,
		MaxVelocity:     cfg.MaxVelocity,
		MaxAcceleration: cfg.MaxAcceleration,
		StepPulseNS:     cfg.StepPulseNS,
		DirHoldNS:       cfg.DirHoldNS,
		DirSetupNS:      cfg.DirSetupNS,
		SoftStop:        cfg.SoftStop,
	})
	if err != nil {
		return nil, err
	}

	p := gen.PickOff()
	backOffDeg := cfg.HomeBackOffDeg
	if backOffDeg == 0 {
		backOffDeg = cfg.OverTravelDeg
	}
	latchVel := cfg.HomeLatchVelocity
	if latchVel == 0 {
		latchVel = cfg.MaxVelocity / 10
	}
	latchSpeed := p.VelocityToFixed(latchVel, cfg.ClockFrequency)
	if latchSpeed <= 0 {
		return nil, errors.ConfigScaleError(fmt.Sprintf(
			"%s: home_latch_velocity %g pulses/s rounds to zero at the derived scale", cfg.Name, latchVel))
	}
	if latchSpeed > gen.MaxSpeed() {
		latchSpeed = gen.MaxSpeed()
	}

	s := &Sequencer{
		name:          cfg.Name,
		gen:           gen,
		toolCount:     cfg.ToolCount,
		stepsPerTool:  p.PulsesToRaw(int64(cfg.PulsesPerRev)) / int64(cfg.ToolCount),
		overTravel:    p.DegreesToRaw(cfg.PulsesPerRev, cfg.OverTravelDeg),
		backOff:       p.DegreesToRaw(cfg.PulsesPerRev, backOffDeg),
		homeOffset:    p.DegreesToRaw(cfg.PulsesPerRev, cfg.HomeOffsetDeg),
		revolution:    p.PulsesToRaw(int64(cfg.PulsesPerRev) + 1),
		latchSpeed:    latchSpeed,
		hasHomeSensor: cfg.HasHomeSensor,
		state:         StateStart,
		homed:         !cfg.HasHomeSensor,
		currentTool:   1,
		commandedTool: 1,
		movingToTool:  1,
	}
	return s, nil
}

// Generator returns the underlying step generator.
func (s *Sequencer) Generator() *stepgen.Generator { return s.gen }

// State returns the current sequencer state.
func (s *Sequencer) State() State { return s.state }

// Homed reports whether the turret position is referenced.
func (s *Sequencer) Homed() bool { return s.homed }

// CurrentTool returns the station the turret is locked on.
func (s *Sequencer) CurrentTool() int { return s.currentTool }

// CommandedTool returns the last accepted tool command.
func (s *Sequencer) CommandedTool() int { return s.commandedTool }

// Err returns the latched error after an ERROR transition, nil
// otherwise.
func (s *Sequencer) Err() *errors.HostError { return s.lastErr }

// Tick advances the sequencer and its generator by one clock period.
// State transitions are decided from the generator outputs of the
// previous tick; the generator then consumes the freshly written
// targets within the same period.
func (s *Sequencer) Tick(in Inputs) {
	if in.Reset {
		s.gen.SetEnabled(false)
		s.gen.SetPositionMode(false)
		s.gen.SetSpeedTarget(0)
		s.gen.SetPositionTarget(0)
		s.state = StateStart
		s.homed = !s.hasHomeSensor
		s.currentTool = 1
		s.commandedTool = 1
		s.movingToTool = 1
		s.lastErr = nil
		s.gen.Tick(true)
		return
	}

	s.gen.SetEnabled(in.Enable)
	if in.CommandedTool >= 1 && in.CommandedTool <= s.toolCount {
		s.commandedTool = in.CommandedTool
	}

	stopped := s.gen.Stopped()
	pos := s.gen.Position()
	posMode := s.gen.PositionMode()

	switch s.state {
	case StateStart:
		if s.homed {
			s.gen.SetPositionMode(true)
			s.gen.SetPositionTarget(pos)
			s.state = StateReady
		} else if in.Enable && (in.HomeRequest || s.commandedTool != s.currentTool) {
			s.homePosition = pos
			s.gen.SetPositionMode(false)
			s.gen.SetSpeedTarget(s.gen.MaxSpeed())
			s.state = StateHomeSearching
		}

	case StateHomeSearching:
		if in.HomeTriggered {
			s.homePosition = pos
			s.gen.SetSpeedTarget(0)
			s.state = StateHomeBackOff
		} else if abs64(pos-s.homePosition) > s.revolution {
			s.gen.SetSpeedTarget(0)
			s.fail(errors.HomingNotFoundError(s.name))
		}

	case StateHomeBackOff:
		if !posMode {
			// Still braking from the search pass; chase the position
			// with the target so the settle window can close.
			s.gen.SetPositionTarget(pos)
			if stopped {
				s.gen.SetPositionMode(true)
				s.gen.SetPositionTarget(s.homePosition - s.backOff)
			}
		} else if stopped {
			s.homePosition = pos
			s.gen.SetPositionMode(false)
			s.gen.SetSpeedTarget(s.latchSpeed)
			s.state = StateHomeLatching
		}

	case StateHomeLatching:
		if in.HomeTriggered {
			s.homePosition = pos
			s.gen.SetSpeedTarget(0)
			s.homed = true
			s.state = StateHomeMoveToZero
		} else if abs64(pos-s.homePosition) > 2*s.backOff {
			s.gen.SetSpeedTarget(0)
			s.fail(errors.HomingOverrunError(s.name))
		}

	case StateHomeMoveToZero:
		if !posMode {
			s.gen.SetPositionTarget(pos)
			if stopped {
				s.gen.SetPositionMode(true)
				s.gen.SetPositionTarget(s.homePosition + s.homeOffset + s.overTravel)
				s.movingToTool = 1
			}
		} else if stopped {
			s.state = StateMovingForward
		}

	case StateMovingForward:
		if stopped {
			// Forward approach done; reverse into the lock.
			s.gen.AddPositionTarget(-s.overTravel)
			s.state = StateMovingBackward
		}

	case StateMovingBackward:
		if stopped {
			s.currentTool = s.movingToTool
			s.state = StateReady
		}

	case StateReady:
		if in.Enable && s.homed && s.commandedTool != s.currentTool {
			slots := s.commandedTool - s.currentTool
			if slots < 0 {
				slots += s.toolCount
			}
			s.gen.AddPositionTarget(int64(slots)*s.stepsPerTool + s.overTravel)
			s.movingToTool = s.commandedTool
			s.state = StateMovingForward
		}

	case StateError:
		// Latched until reset.
	}

	s.gen.Tick(false)
}

func (s *Sequencer) fail(err *errors.HostError) {
	s.lastErr = err
	s.state = StateError
}

// GetStatus returns a snapshot of the sequencer for status reporting.
func (s *Sequencer) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"state":          s.state.String(),
		"state_code":     int(s.state),
		"homed":          s.homed,
		"current_tool":   s.currentTool,
		"commanded_tool": s.commandedTool,
	}
	if s.lastErr != nil {
		status["error"] = s.lastErr.Error()
	}
	return status
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
