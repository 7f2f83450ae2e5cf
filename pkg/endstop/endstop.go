// Home switch input with polarity and tick-synchronous debounce
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package endstop

import (
	"toolerator-go/pkg/errors"
)

// Config holds the switch input parameters.
type Config struct {
	Name string

	// Invert treats a low pin level as triggered.
	Invert bool

	// DebounceTicks is how many consecutive servo ticks the pin must
	// hold a new level before the debounced state follows it. Zero
	// passes the level through unfiltered.
	DebounceTicks int
}

// Endstop filters a raw switch level into a debounced trigger signal.
// It is evaluated once per servo tick by the owning axis and keeps no
// locks of its own.
type Endstop struct {
	name     string
	invert   bool
	debounce int

	raw      bool // last sampled level, polarity applied
	state    bool // debounced level
	count    int  // ticks the raw level has disagreed with state
	triggers uint64
}

// New creates an endstop from its configuration.
func New(cfg Config) (*Endstop, error) {
	if cfg.DebounceTicks < 0 {
		return nil, errors.ConfigValidationError(cfg.Name, "home_debounce_ticks", "must not be negative")
	}
	return &Endstop{
		name:     cfg.Name,
		invert:   cfg.Invert,
		debounce: cfg.DebounceTicks,
	}, nil
}

// Tick samples the raw pin level for this servo period and returns the
// debounced trigger state.
func (e *Endstop) Tick(level bool) bool {
	raw := level != e.invert
	e.raw = raw

	if raw == e.state {
		e.count = 0
		return e.state
	}
	e.count++
	if e.count > e.debounce {
		e.state = raw
		e.count = 0
		if raw {
			e.triggers++
		}
	}
	return e.state
}

// Triggered returns the debounced state after the last Tick.
func (e *Endstop) Triggered() bool { return e.state }

// TriggerCount returns how many debounced rising edges have been seen.
func (e *Endstop) TriggerCount() uint64 { return e.triggers }

// GetStatus returns a snapshot for status reporting.
func (e *Endstop) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"name":      e.name,
		"raw":       e.raw,
		"triggered": e.state,
		"triggers":  e.triggers,
	}
}
