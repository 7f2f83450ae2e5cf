// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"strings"
	"time"

	"toolerator-go/pkg/endstop"
	"toolerator-go/pkg/turret"
)

// ServoSettings holds the [servo] section: the shared servo thread
// parameters for all turrets on this controller.
type ServoSettings struct {
	// ClockFrequency is the servo tick rate in Hz. All motion timing
	// and step pulse widths derive from it.
	ClockFrequency float64

	// TickBudget is the per-tick latency budget. Ticks that take
	// longer are counted as overruns.
	TickBudget time.Duration

	// CPUAffinity pins the servo thread to a CPU. Negative disables
	// pinning.
	CPUAffinity int

	// LockMemory requests mlockall to keep the servo loop out of swap.
	LockMemory bool
}

// TurretSettings holds one parsed [turret NAME] section.
type TurretSettings struct {
	Turret  turret.Config
	Endstop endstop.Config

	// StepPin and DirPin record the external pin binding. The servo
	// core does not drive pins itself; these are carried through to
	// status output for wiring checks.
	StepPin Pin
	DirPin  Pin

	// HomePin is the configured home switch pin, empty when the
	// turret has no sensor.
	HomePin Pin
}

// LoadServoSettings reads the [servo] section. A missing section
// yields the defaults.
func LoadServoSettings(cfg *Config) (ServoSettings, error) {
	settings := ServoSettings{
		ClockFrequency: 1e6,
		TickBudget:     500 * time.Microsecond,
		CPUAffinity:    -1,
	}

	sec := cfg.GetSectionOptional("servo")
	if sec == nil {
		return settings, nil
	}

	zero := 0.0
	clk, err := sec.GetFloatWithBounds("clock_frequency", FloatBounds{Above: &zero}, settings.ClockFrequency)
	if err != nil {
		return settings, err
	}
	settings.ClockFrequency = clk

	budgetUS, err := sec.GetInt("tick_budget_us", int(settings.TickBudget/time.Microsecond))
	if err != nil {
		return settings, err
	}
	if budgetUS < 0 {
		return settings, NewConfigError("servo", "tick_budget_us", "must not be negative")
	}
	settings.TickBudget = time.Duration(budgetUS) * time.Microsecond

	affinity, err := sec.GetInt("cpu_affinity", -1)
	if err != nil {
		return settings, err
	}
	settings.CPUAffinity = affinity

	lock, err := sec.GetBool("lock_memory", false)
	if err != nil {
		return settings, err
	}
	settings.LockMemory = lock

	return settings, nil
}

// LoadTurretSettings parses one [turret NAME] section into the turret
// and endstop configurations.
func LoadTurretSettings(sec *Section, servo ServoSettings) (TurretSettings, error) {
	name := strings.TrimSpace(strings.TrimPrefix(sec.GetName(), "turret"))
	if name == "" {
		return TurretSettings{}, NewConfigError(sec.GetName(), "", "turret section needs a name: [turret NAME]")
	}

	tc := turret.DefaultConfig()
	tc.Name = name
	tc.ClockFrequency = servo.ClockFrequency

	var err error
	one, zero := 1, 0.0

	if tc.ToolCount, err = sec.GetIntWithBounds("tool_count", &one, nil, tc.ToolCount); err != nil {
		return TurretSettings{}, err
	}
	if tc.PulsesPerRev, err = sec.GetIntWithBounds("pulses_per_rev", &one, nil, tc.PulsesPerRev); err != nil {
		return TurretSettings{}, err
	}
	if tc.OverTravelDeg, err = sec.GetFloatWithBounds("over_travel", FloatBounds{Above: &zero}, tc.OverTravelDeg); err != nil {
		return TurretSettings{}, err
	}
	if tc.MaxVelocity, err = sec.GetFloatWithBounds("max_velocity", FloatBounds{Above: &zero}, tc.MaxVelocity); err != nil {
		return TurretSettings{}, err
	}
	if tc.MaxAcceleration, err = sec.GetFloatWithBounds("max_acceleration", FloatBounds{Above: &zero}, tc.MaxAcceleration); err != nil {
		return TurretSettings{}, err
	}
	if tc.StepPulseNS, err = sec.GetFloatWithBounds("step_pulse_ns", FloatBounds{MinVal: &zero}, tc.StepPulseNS); err != nil {
		return TurretSettings{}, err
	}
	if tc.DirHoldNS, err = sec.GetFloatWithBounds("dir_hold_ns", FloatBounds{MinVal: &zero}, tc.DirHoldNS); err != nil {
		return TurretSettings{}, err
	}
	if tc.DirSetupNS, err = sec.GetFloatWithBounds("dir_setup_ns", FloatBounds{MinVal: &zero}, tc.DirSetupNS); err != nil {
		return TurretSettings{}, err
	}
	if tc.SoftStop, err = sec.GetBool("soft_stop", tc.SoftStop); err != nil {
		return TurretSettings{}, err
	}

	settings := TurretSettings{}
	if pin, err := sec.GetPinOptional("step_pin", PinOptions{CanInvert: true}); err != nil {
		return TurretSettings{}, err
	} else if pin != nil {
		settings.StepPin = *pin
	}
	if pin, err := sec.GetPinOptional("dir_pin", PinOptions{CanInvert: true}); err != nil {
		return TurretSettings{}, err
	} else if pin != nil {
		settings.DirPin = *pin
	}

	// Homing options are only meaningful with a home switch. A turret
	// without home_pin is trusted to power up locked at tool 1.
	homePin, err := sec.GetPinOptional("home_pin", PinOptions{CanInvert: true, CanPullup: true})
	if err != nil {
		return TurretSettings{}, err
	}
	tc.HasHomeSensor = homePin != nil
	if homePin != nil {
		settings.HomePin = *homePin

		invert, err := sec.GetBool("home_invert", homePin.Invert)
		if err != nil {
			return TurretSettings{}, err
		}

		if tc.HomeBackOffDeg, err = sec.GetFloatWithBounds("home_back_off", FloatBounds{MinVal: &zero}, tc.HomeBackOffDeg); err != nil {
			return TurretSettings{}, err
		}
		if tc.HomeLatchVelocity, err = sec.GetFloatWithBounds("home_latch_velocity", FloatBounds{MinVal: &zero}, tc.HomeLatchVelocity); err != nil {
			return TurretSettings{}, err
		}
		if tc.HomeOffsetDeg, err = sec.GetFloatWithBounds("home_offset", FloatBounds{MinVal: &zero}, tc.HomeOffsetDeg); err != nil {
			return TurretSettings{}, err
		}

		debounce, err := sec.GetInt("home_debounce_ticks", 0)
		if err != nil {
			return TurretSettings{}, err
		}
		settings.Endstop = endstop.Config{
			Name:          name,
			Invert:        invert,
			DebounceTicks: debounce,
		}
	}

	settings.Turret = tc
	return settings, nil
}

// MaxTurrets is the most [turret NAME] sections one controller drives.
// The original hardware exposed three channel register banks.
const MaxTurrets = 3

// LoadTurrets parses every [turret NAME] section in the config.
func LoadTurrets(cfg *Config, servo ServoSettings) ([]TurretSettings, error) {
	sections := cfg.GetPrefixSections("turret ")
	if len(sections) > MaxTurrets {
		return nil, NewConfigError("", "", "too many turret sections (limit 3)")
	}

	var out []TurretSettings
	for _, sec := range sections {
		ts, err := LoadTurretSettings(sec, servo)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, nil
}
