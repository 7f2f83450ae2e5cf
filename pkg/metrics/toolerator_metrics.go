// Toolerator-specific metrics definitions
//
// Defines all metrics for the toolerator host including:
// - Turret motion and tool change metrics
// - Homing metrics
// - Servo loop timing metrics
// - System metrics
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// TooleratorMetrics holds all toolerator-specific metrics
type TooleratorMetrics struct {
	// Turret metrics
	TurretState     *Gauge
	TurretHomed     *Gauge
	CurrentTool     *Gauge
	CommandedTool   *Gauge
	TurretPosition  *Gauge
	TurretSpeed     *Gauge
	StepsTotal      *Counter
	ToolChanges     *Counter
	ToolChangeTime  *Histogram
	HomingAttempts  *Counter
	HomingFailures  *Counter
	HomingTime      *Histogram
	EndstopState    *Gauge
	EndstopTriggers *Counter

	// Servo loop metrics
	ServoTicks    *Counter
	ServoOverruns *Counter
	ServoJitter   *Histogram

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoMemoryAlloc *Gauge
	GoGCCycles    *Counter

	// Error metrics
	ErrorsTotal   *Counter
	WarningsTotal *Counter

	// Internal
	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewTooleratorMetrics creates and registers all toolerator metrics
func NewTooleratorMetrics() *TooleratorMetrics {
	tm := &TooleratorMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	// Turret metrics
	tm.TurretState = NewGauge("toolerator_turret_state",
		"Sequencer state code (1=START .. 8=READY, 9=ERROR)")
	tm.TurretHomed = NewGauge("toolerator_turret_homed",
		"Whether the turret position is referenced (1=homed)")
	tm.CurrentTool = NewGauge("toolerator_current_tool",
		"Tool station the turret is locked on")
	tm.CommandedTool = NewGauge("toolerator_commanded_tool",
		"Last accepted tool command")
	tm.TurretPosition = NewGauge("toolerator_turret_position_pulses",
		"Turret position in encoder pulses")
	tm.TurretSpeed = NewGauge("toolerator_turret_speed_pulses_per_s",
		"Turret speed in pulses per second")
	tm.StepsTotal = NewCounter("toolerator_steps_total",
		"Total step pulses emitted per turret")
	tm.ToolChanges = NewCounter("toolerator_tool_changes_total",
		"Total completed tool changes per turret")
	tm.ToolChangeTime = NewHistogram("toolerator_tool_change_seconds",
		"Time to complete a tool change", []float64{0.25, 0.5, 1, 2, 5, 10})
	tm.HomingAttempts = NewCounter("toolerator_homing_attempts_total",
		"Total homing cycles started per turret")
	tm.HomingFailures = NewCounter("toolerator_homing_failures_total",
		"Total homing cycles that ended in ERROR")
	tm.HomingTime = NewHistogram("toolerator_homing_seconds",
		"Time to complete a homing cycle", []float64{0.5, 1, 2, 5, 10, 30})
	tm.EndstopState = NewGauge("toolerator_endstop_triggered",
		"Home switch trigger state (1=triggered, 0=open)")
	tm.EndstopTriggers = NewCounter("toolerator_endstop_triggers_total",
		"Total debounced home switch rising edges")

	// Servo loop metrics
	tm.ServoTicks = NewCounter("toolerator_servo_ticks_total",
		"Total servo loop evaluations")
	tm.ServoOverruns = NewCounter("toolerator_servo_overruns_total",
		"Servo periods that finished late")
	tm.ServoJitter = NewHistogram("toolerator_servo_jitter_seconds",
		"Deviation from the nominal servo period",
		[]float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3})

	// System metrics
	tm.HostUptime = NewCounter("toolerator_host_uptime_seconds_total",
		"Total host uptime in seconds")
	tm.GoGoroutines = NewGauge("toolerator_go_goroutines",
		"Number of active goroutines")
	tm.GoMemoryHeap = NewGauge("toolerator_go_memory_heap_bytes",
		"Go heap memory in use")
	tm.GoMemoryAlloc = NewGauge("toolerator_go_memory_alloc_bytes",
		"Go total memory allocated")
	tm.GoGCCycles = NewCounter("toolerator_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	// Error metrics
	tm.ErrorsTotal = NewCounter("toolerator_errors_total",
		"Total errors by type")
	tm.WarningsTotal = NewCounter("toolerator_warnings_total",
		"Total warnings by type")

	// Register all metrics
	tm.registerAll()

	return tm
}

// registerAll registers all metrics with the internal registry
func (tm *TooleratorMetrics) registerAll() {
	metrics := []Metric{
		tm.TurretState, tm.TurretHomed, tm.CurrentTool, tm.CommandedTool,
		tm.TurretPosition, tm.TurretSpeed, tm.StepsTotal,
		tm.ToolChanges, tm.ToolChangeTime,
		tm.HomingAttempts, tm.HomingFailures, tm.HomingTime,
		tm.EndstopState, tm.EndstopTriggers,
		tm.ServoTicks, tm.ServoOverruns, tm.ServoJitter,
		tm.HostUptime, tm.GoGoroutines, tm.GoMemoryHeap, tm.GoMemoryAlloc,
		tm.GoGCCycles,
		tm.ErrorsTotal, tm.WarningsTotal,
	}
	for _, m := range metrics {
		tm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (tm *TooleratorMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	tm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	tm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	tm.GoMemoryAlloc.Set(nil, float64(m.Alloc))
	tm.GoGCCycles.Add(nil, uint64(m.NumGC)-tm.GoGCCycles.Get(nil))
	tm.HostUptime.Add(nil, uint64(time.Since(tm.startTime).Seconds())-tm.HostUptime.Get(nil))
}

// SetTurretStatus updates the per-turret gauges from a status snapshot
func (tm *TooleratorMetrics) SetTurretStatus(name string, state int, homed bool, currentTool, commandedTool int, positionPulses, speedPulsesPerSec float64) {
	labels := Labels{"turret": name}
	tm.TurretState.Set(labels, float64(state))
	homedVal := float64(0)
	if homed {
		homedVal = 1
	}
	tm.TurretHomed.Set(labels, homedVal)
	tm.CurrentTool.Set(labels, float64(currentTool))
	tm.CommandedTool.Set(labels, float64(commandedTool))
	tm.TurretPosition.Set(labels, positionPulses)
	tm.TurretSpeed.Set(labels, speedPulsesPerSec)
}

// SetEndstopStatus updates the home switch gauges
func (tm *TooleratorMetrics) SetEndstopStatus(name string, triggered bool, triggers uint64) {
	labels := Labels{"turret": name}
	triggeredVal := float64(0)
	if triggered {
		triggeredVal = 1
	}
	tm.EndstopState.Set(labels, triggeredVal)
	if current := tm.EndstopTriggers.Get(labels); triggers > current {
		tm.EndstopTriggers.Add(labels, triggers-current)
	}
}

// AddSteps accumulates emitted step pulses
func (tm *TooleratorMetrics) AddSteps(name string, steps uint64) {
	if steps > 0 {
		tm.StepsTotal.Add(Labels{"turret": name}, steps)
	}
}

// RecordToolChange records a completed tool change
func (tm *TooleratorMetrics) RecordToolChange(name string, duration time.Duration) {
	labels := Labels{"turret": name}
	tm.ToolChanges.Inc(labels)
	tm.ToolChangeTime.Observe(labels, duration.Seconds())
}

// RecordHomingStart records the start of a homing cycle
func (tm *TooleratorMetrics) RecordHomingStart(name string) {
	tm.HomingAttempts.Inc(Labels{"turret": name})
}

// RecordHomingResult records the end of a homing cycle
func (tm *TooleratorMetrics) RecordHomingResult(name string, duration time.Duration, ok bool) {
	labels := Labels{"turret": name}
	if ok {
		tm.HomingTime.Observe(labels, duration.Seconds())
	} else {
		tm.HomingFailures.Inc(labels)
	}
}

// RecordServoTick records one servo loop evaluation
func (tm *TooleratorMetrics) RecordServoTick(jitter time.Duration, overrun bool) {
	tm.ServoTicks.Inc(nil)
	tm.ServoJitter.Observe(nil, jitter.Seconds())
	if overrun {
		tm.ServoOverruns.Inc(nil)
	}
}

// RecordError records an error
func (tm *TooleratorMetrics) RecordError(errorType string) {
	tm.ErrorsTotal.Inc(Labels{"type": errorType})
}

// RecordWarning records a warning
func (tm *TooleratorMetrics) RecordWarning(warningType string) {
	tm.WarningsTotal.Inc(Labels{"type": warningType})
}

// Gather returns all metrics in Prometheus text format
func (tm *TooleratorMetrics) Gather() string {
	tm.UpdateSystemMetrics()
	return tm.registry.Gather()
}

// Registry returns the internal registry
func (tm *TooleratorMetrics) Registry() *Registry {
	return tm.registry
}

// Global metrics instance
var globalMetrics *TooleratorMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the global toolerator metrics instance
func GlobalMetrics() *TooleratorMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewTooleratorMetrics()
	})
	return globalMetrics
}
