// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"sort"
	"sync"

	"toolerator-go/pkg/config"
	"toolerator-go/pkg/hal"
	"toolerator-go/pkg/log"
	"toolerator-go/pkg/metrics"
	"toolerator-go/pkg/safety"
	"toolerator-go/pkg/turret"
)

// turretUnit couples one turret axis with its host pin interface. The
// servo loop drives it once per cycle; the monitor and metrics servers
// read it from their own goroutines, so all access goes through mu.
type turretUnit struct {
	mu          sync.Mutex
	sectionName string
	servo       config.ServoSettings
	metrics     *metrics.TooleratorMetrics

	axis      *turret.Axis
	hal       *hal.Interface
	homeLevel bool

	// forcedOff overrides the enable pin after a safety shutdown.
	forcedOff bool
}

func newTurretUnit(sec *config.Section, servo config.ServoSettings, m *metrics.TooleratorMetrics) (*turretUnit, error) {
	ts, err := config.LoadTurretSettings(sec, servo)
	if err != nil {
		return nil, err
	}
	axis, err := turret.NewAxis(ts.Turret, ts.Endstop, m)
	if err != nil {
		return nil, err
	}
	h, err := hal.New(ts.Turret.ToolCount)
	if err != nil {
		return nil, err
	}
	return &turretUnit{
		sectionName: sec.GetName(),
		servo:       servo,
		metrics:     m,
		axis:        axis,
		hal:         h,
	}, nil
}

// GetName implements config.Module.
func (u *turretUnit) GetName() string { return u.sectionName }

// CanReload reports whether a config reload may rebuild this unit.
// Rebuilding discards the homed reference, so reloads are refused
// while the turret is moving or homing.
func (u *turretUnit) CanReload() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	state := u.axis.Sequencer().State()
	return !state.Homing() && !state.Moving()
}

// Reload implements config.Reloadable by rebuilding the axis from the
// new section. The turret must be re-homed afterwards.
func (u *turretUnit) Reload(sec *config.Section) error {
	ts, err := config.LoadTurretSettings(sec, u.servo)
	if err != nil {
		return err
	}
	axis, err := turret.NewAxis(ts.Turret, ts.Endstop, u.metrics)
	if err != nil {
		return err
	}
	h, err := hal.New(ts.Turret.ToolCount)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.axis = axis
	u.hal = h
	u.homeLevel = false
	u.mu.Unlock()
	return nil
}

// SetInputs latches the host-side command pins. They are sampled once
// per servo cycle.
func (u *turretUnit) SetInputs(enable, reset, homeStart, toolChange bool, toolNumber int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hal.SetInputs(enable, reset, homeStart, toolChange, toolNumber)
}

// SetHomeLevel latches the raw home switch level seen by the next
// servo cycle.
func (u *turretUnit) SetHomeLevel(level bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.homeLevel = level
}

// Pins returns a snapshot of the host pin surface.
func (u *turretUnit) Pins() hal.Pins {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hal.Pins()
}

// TurretName implements safety.TurretDisabler.
func (u *turretUnit) TurretName() string { return u.axis.Name() }

// DisableTurret implements safety.TurretDisabler. The enable pin is
// overridden until the process restarts.
func (u *turretUnit) DisableTurret() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.forcedOff = true
	return nil
}

// runCycle advances the axis by n core ticks with the currently
// latched pin levels, then refreshes the output pins.
func (u *turretUnit) runCycle(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmd := u.hal.Command()
	if u.forcedOff {
		cmd.Enable = false
	}
	for i := 0; i < n; i++ {
		u.axis.Tick(cmd, u.homeLevel)
	}
	seq := u.axis.Sequencer()
	u.hal.Update(seq.State(), seq.Homed(), seq.CurrentTool())
	u.axis.PublishMetrics()
}

func (u *turretUnit) status() map[string]interface{} {
	u.mu.Lock()
	h := u.hal
	axis := u.axis
	u.mu.Unlock()

	st := axis.GetStatus()
	pins := h.Pins()
	st["pins"] = map[string]interface{}{
		"enable":       pins.Enable,
		"tool_change":  pins.ToolChange,
		"tool_number":  pins.ToolNumber,
		"error":        pins.Error,
		"homing":       pins.Homing,
		"homed":        pins.Homed,
		"tool_changed": pins.ToolChanged,
		"current_tool": pins.CurrentTool,
	}
	return st
}

// daemon owns the turret units and feeds the servo loop. It also
// serves as the status source for the monitor server.
type daemon struct {
	mu     sync.RWMutex
	units  map[string]*turretUnit
	order  []string
	safety *safety.Manager
	logger *log.Logger
}

func newDaemon() *daemon {
	return &daemon{
		units:  make(map[string]*turretUnit),
		logger: log.GetLogger("daemon"),
	}
}

func (d *daemon) addUnit(u *turretUnit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := u.axis.Name()
	d.units[name] = u
	d.order = append(d.order, name)
	sort.Strings(d.order)
	d.logger.WithField("turret", name).Info("turret registered")
}

func (d *daemon) unit(name string) (*turretUnit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.units[name]
	if !ok {
		return nil, fmt.Errorf("unknown turret %q", name)
	}
	return u, nil
}

// tick is the servo loop callback: every unit advances by n core
// ticks per host cycle.
func (d *daemon) tick(n int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.safety != nil {
		d.safety.Heartbeat()
	}
	for _, name := range d.order {
		d.units[name].runCycle(n)
	}
}

// AxisNames implements monitor.StatusSource.
func (d *daemon) AxisNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.order))
	copy(names, d.order)
	return names
}

// AxisStatus implements monitor.StatusSource.
func (d *daemon) AxisStatus(name string) map[string]interface{} {
	d.mu.RLock()
	u, ok := d.units[name]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return u.status()
}
