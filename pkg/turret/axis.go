// Turret axis: sequencer, home switch and observability
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package turret

import (
	"math"
	"sync"
	"time"

	"toolerator-go/pkg/endstop"
	"toolerator-go/pkg/log"
	"toolerator-go/pkg/metrics"
)

// Command carries the per-tick operator inputs into an axis.
type Command struct {
	Enable        bool
	Reset         bool
	HomeRequest   bool
	CommandedTool int
}

// Axis couples one sequencer with its home switch and reports state
// changes through the logger and metrics. The servo loop calls Tick;
// other goroutines read snapshots through GetStatus.
type Axis struct {
	mu sync.RWMutex

	name    string
	seq     *Sequencer
	es      *endstop.Endstop
	logger  *log.Logger
	metrics *metrics.TooleratorMetrics

	clockFrequency float64
	tickCount      uint64
	stepCount      uint64
	stepsReported  uint64
	prevStep       bool
	prevState      State
	cycleStart     uint64 // tick the current homing or move cycle began
	inToolChange   bool
}

// NewAxis builds an axis from its turret and switch configuration.
// The metrics sink may be nil.
func NewAxis(cfg Config, esCfg endstop.Config, m *metrics.TooleratorMetrics) (*Axis, error) {
	seq, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if esCfg.Name == "" {
		esCfg.Name = cfg.Name
	}
	es, err := endstop.New(esCfg)
	if err != nil {
		return nil, err
	}
	return &Axis{
		name:           cfg.Name,
		seq:            seq,
		es:             es,
		logger:         log.GetLogger("turret." + cfg.Name),
		metrics:        m,
		clockFrequency: cfg.ClockFrequency,
		prevState:      seq.State(),
	}, nil
}

// Name returns the axis name.
func (a *Axis) Name() string { return a.name }

// Sequencer returns the underlying sequencer.
func (a *Axis) Sequencer() *Sequencer { return a.seq }

// Endstop returns the home switch input.
func (a *Axis) Endstop() *endstop.Endstop { return a.es }

// Tick advances the axis by one servo period: the raw home switch level
// is debounced, the sequencer and generator run, and step edges are
// counted.
func (a *Axis) Tick(cmd Command, homeLevel bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	triggered := a.es.Tick(homeLevel)
	a.seq.Tick(Inputs{
		Enable:        cmd.Enable,
		Reset:         cmd.Reset,
		HomeRequest:   cmd.HomeRequest,
		HomeTriggered: triggered,
		CommandedTool: cmd.CommandedTool,
	})
	a.tickCount++

	step := a.seq.Generator().StepOutput()
	if step && !a.prevStep {
		a.stepCount++
	}
	a.prevStep = step

	if state := a.seq.State(); state != a.prevState {
		a.onStateChange(a.prevState, state)
		a.prevState = state
	}
}

func (a *Axis) onStateChange(from, to State) {
	a.logger.WithFields(log.Fields{
		"from": from.String(),
		"to":   to.String(),
		"tool": a.seq.CurrentTool(),
	}).Debug("sequencer state change")

	switch {
	case to == StateHomeSearching:
		a.cycleStart = a.tickCount
		if a.metrics != nil {
			a.metrics.RecordHomingStart(a.name)
		}
		a.logger.Info("homing started")
	case to == StateMovingForward && from == StateReady:
		a.cycleStart = a.tickCount
		a.inToolChange = true
	case to == StateReady && from == StateMovingBackward:
		a.logger.WithField("tool", a.seq.CurrentTool()).Info("turret locked")
		if a.inToolChange {
			a.inToolChange = false
			if a.metrics != nil {
				a.metrics.RecordToolChange(a.name, a.cycleDuration())
			}
		}
	case to == StateHomeMoveToZero:
		if a.metrics != nil {
			a.metrics.RecordHomingResult(a.name, a.cycleDuration(), true)
		}
		a.logger.Info("home switch latched")
	case to == StateError:
		if a.metrics != nil {
			if from.Homing() {
				a.metrics.RecordHomingResult(a.name, a.cycleDuration(), false)
			}
			a.metrics.RecordError(string(a.seq.Err().Code))
		}
		a.logger.WithError(a.seq.Err()).Error("sequencer fault")
	}
}

func (a *Axis) cycleDuration() time.Duration {
	ticks := a.tickCount - a.cycleStart
	return time.Duration(float64(ticks) / a.clockFrequency * float64(time.Second))
}

// StepCount returns the number of step pulses emitted since startup.
func (a *Axis) StepCount() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stepCount
}

// PublishMetrics pushes the axis gauges to the metrics sink. Called
// periodically from outside the tick path.
func (a *Axis) PublishMetrics() {
	if a.metrics == nil {
		return
	}
	a.mu.Lock()
	gen := a.seq.Generator()
	state := a.seq.State()
	homed := a.seq.Homed()
	current := a.seq.CurrentTool()
	commanded := a.seq.CommandedTool()
	posPulses := float64(gen.PickOff().RawToPulses(gen.Position()))
	speed := math.Ldexp(float64(gen.Speed()), -int(gen.PickOff().Vel)) * a.clockFrequency
	esTriggered := a.es.Triggered()
	esTriggers := a.es.TriggerCount()
	steps := a.stepCount
	reported := a.stepsReported
	a.stepsReported = steps
	a.mu.Unlock()

	a.metrics.SetTurretStatus(a.name, int(state), homed, current, commanded, posPulses, speed)
	a.metrics.SetEndstopStatus(a.name, esTriggered, esTriggers)
	a.metrics.AddSteps(a.name, steps-reported)
}

// GetStatus returns a combined snapshot of the axis for status
// reporting.
func (a *Axis) GetStatus() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := a.seq.GetStatus()
	status["name"] = a.name
	status["steps"] = a.stepCount
	status["endstop"] = a.es.GetStatus()
	status["generator"] = a.seq.Generator().GetStatus()
	return status
}
