// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package servo runs the fixed-rate tick loop that drives the turret
// axes. The control core is written for one evaluation per clock tick;
// the loop wakes at a coarser host period and runs the elapsed number
// of core ticks in a batch, which preserves the core's semantics while
// keeping the goroutine schedulable.
package servo

import (
	"context"
	"sync/atomic"
	"time"

	"toolerator-go/pkg/errors"
	"toolerator-go/pkg/log"
	"toolerator-go/pkg/metrics"
)

// TickFunc runs n core ticks. It is called from the servo goroutine
// only.
type TickFunc func(n int)

// Config holds the servo loop parameters.
type Config struct {
	// ClockFrequency is the core tick rate in Hz.
	ClockFrequency float64

	// Period is the host wakeup interval. Each wakeup runs
	// ClockFrequency*Period core ticks.
	Period time.Duration

	// TickBudget is the per-wakeup latency budget; longer cycles are
	// counted as overruns.
	TickBudget time.Duration

	// CPUAffinity pins the servo thread to a CPU on Linux. Negative
	// disables pinning.
	CPUAffinity int

	// LockMemory locks the process address space into RAM on Linux.
	LockMemory bool
}

// DefaultConfig returns servo loop settings for a 1 MHz core clock.
func DefaultConfig() Config {
	return Config{
		ClockFrequency: 1e6,
		Period:         time.Millisecond,
		TickBudget:     500 * time.Microsecond,
		CPUAffinity:    -1,
	}
}

// Loop wakes at a fixed period and advances the control core.
type Loop struct {
	cfg           Config
	ticksPerCycle int
	tick          TickFunc
	logger        *log.Logger
	metrics       *metrics.TooleratorMetrics

	cycles    atomic.Uint64
	coreTicks atomic.Uint64
	overruns  atomic.Uint64
}

// New validates the configuration and builds the loop. The metrics
// sink may be nil.
func New(cfg Config, tick TickFunc, m *metrics.TooleratorMetrics) (*Loop, error) {
	if tick == nil {
		return nil, errors.ConfigValidationError("servo", "tick", "tick function required")
	}
	if cfg.ClockFrequency <= 0 {
		return nil, errors.ConfigValidationError("servo", "clock_frequency", "must be positive")
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Millisecond
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = cfg.Period / 2
	}

	ticksPerCycle := int(cfg.ClockFrequency * cfg.Period.Seconds())
	if ticksPerCycle < 1 {
		return nil, errors.ConfigValidationError("servo", "period",
			"shorter than one core tick at the configured clock")
	}

	return &Loop{
		cfg:           cfg,
		ticksPerCycle: ticksPerCycle,
		tick:          tick,
		logger:        log.GetLogger("servo"),
		metrics:       m,
	}, nil
}

// TicksPerCycle reports how many core ticks run per host wakeup.
func (l *Loop) TicksPerCycle() int {
	return l.ticksPerCycle
}

// Run drives the loop until the context is canceled. It applies the
// configured realtime tuning on entry; tuning failures are logged and
// the loop continues without them.
func (l *Loop) Run(ctx context.Context) error {
	applyRealtime(l.cfg, l.logger)

	l.logger.WithFields(log.Fields{
		"clock_frequency": l.cfg.ClockFrequency,
		"period":          l.cfg.Period.String(),
		"ticks_per_cycle": l.ticksPerCycle,
	}).Info("servo loop started")

	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.WithFields(log.Fields{
				"cycles":   l.cycles.Load(),
				"overruns": l.overruns.Load(),
			}).Info("servo loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.runCycle()
		}
	}
}

func (l *Loop) runCycle() {
	start := time.Now()
	l.tick(l.ticksPerCycle)
	elapsed := time.Since(start)

	l.cycles.Add(1)
	l.coreTicks.Add(uint64(l.ticksPerCycle))

	overrun := elapsed > l.cfg.TickBudget
	if overrun {
		n := l.overruns.Add(1)
		// Log the first overrun and then sample, so a saturated loop
		// does not flood the log.
		if n == 1 || n%1000 == 0 {
			l.logger.WithFields(log.Fields{
				"elapsed":  elapsed.String(),
				"budget":   l.cfg.TickBudget.String(),
				"overruns": n,
			}).Warn("servo cycle overran its budget")
		}
	}
	if l.metrics != nil {
		l.metrics.RecordServoTick(elapsed, overrun)
	}
}

// Cycles reports how many host wakeups have run.
func (l *Loop) Cycles() uint64 {
	return l.cycles.Load()
}

// CoreTicks reports how many core ticks have run.
func (l *Loop) CoreTicks() uint64 {
	return l.coreTicks.Load()
}

// Overruns reports how many cycles exceeded the budget.
func (l *Loop) Overruns() uint64 {
	return l.overruns.Load()
}
