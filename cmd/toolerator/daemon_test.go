// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"testing"

	"toolerator-go/pkg/config"
	"toolerator-go/pkg/turret"
)

func testServoSettings() config.ServoSettings {
	return config.ServoSettings{
		ClockFrequency: 1e6,
		CPUAffinity:    -1,
	}
}

func loadTestSection(t *testing.T, text, name string) *config.Section {
	t.Helper()
	cfg, err := config.LoadString(text)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	sec, err := cfg.GetSection(name)
	if err != nil {
		t.Fatalf("GetSection(%s): %v", name, err)
	}
	return sec
}

const smallTurretCfg = `
[turret tc0]
tool_count: 4
pulses_per_rev: 800
over_travel: 4.5
max_velocity: 2000
max_acceleration: 40000
`

func TestTurretUnitToolChange(t *testing.T) {
	sec := loadTestSection(t, smallTurretCfg, "turret tc0")
	unit, err := newTurretUnit(sec, testServoSettings(), nil)
	if err != nil {
		t.Fatalf("newTurretUnit: %v", err)
	}

	// No home sensor: enabling leaves the turret homed at tool 1.
	unit.SetInputs(true, false, false, false, 0)
	unit.runCycle(10)
	pins := unit.Pins()
	if !pins.Homed || pins.Status != uint32(turret.StateReady) {
		t.Fatalf("expected homed READY after enable, got %+v", pins)
	}
	if pins.CurrentTool != 1 {
		t.Fatalf("expected tool 1 on power-up, got %d", pins.CurrentTool)
	}

	// Request tool 3 and hold the strobe until acknowledged.
	unit.SetInputs(true, false, false, true, 3)
	for i := 0; i < 2000; i++ {
		unit.runCycle(1000)
		if unit.Pins().ToolChanged {
			break
		}
	}
	pins = unit.Pins()
	if !pins.ToolChanged {
		t.Fatalf("tool change never acknowledged: %+v", pins)
	}
	if pins.CurrentTool != 3 {
		t.Fatalf("expected tool 3, got %d", pins.CurrentTool)
	}
	if pins.Status != uint32(turret.StateReady) {
		t.Fatalf("expected READY after change, got status %d", pins.Status)
	}

	// Dropping the strobe clears the acknowledge.
	unit.SetInputs(true, false, false, false, 0)
	unit.runCycle(1)
	if unit.Pins().ToolChanged {
		t.Fatal("tool_changed should clear when the request drops")
	}
}

func TestTurretUnitForcedOff(t *testing.T) {
	sec := loadTestSection(t, smallTurretCfg, "turret tc0")
	unit, err := newTurretUnit(sec, testServoSettings(), nil)
	if err != nil {
		t.Fatalf("newTurretUnit: %v", err)
	}
	unit.SetInputs(true, false, false, false, 0)
	unit.runCycle(10)

	if unit.TurretName() != "tc0" {
		t.Errorf("name = %q", unit.TurretName())
	}
	if err := unit.DisableTurret(); err != nil {
		t.Fatalf("DisableTurret: %v", err)
	}

	// The enable override keeps tool change requests from moving.
	unit.SetInputs(true, false, false, true, 3)
	for i := 0; i < 100; i++ {
		unit.runCycle(1000)
	}
	if got := unit.Pins().CurrentTool; got != 1 {
		t.Errorf("disabled turret moved to tool %d", got)
	}
}

func TestDaemonStatusSource(t *testing.T) {
	cfgText := smallTurretCfg + `
[turret tc1]
tool_count: 8
pulses_per_rev: 800
`
	cfg, err := config.LoadString(cfgText)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	d := newDaemon()
	for _, name := range []string{"turret tc1", "turret tc0"} {
		sec, err := cfg.GetSection(name)
		if err != nil {
			t.Fatal(err)
		}
		unit, err := newTurretUnit(sec, testServoSettings(), nil)
		if err != nil {
			t.Fatalf("newTurretUnit(%s): %v", name, err)
		}
		d.addUnit(unit)
	}

	names := d.AxisNames()
	if len(names) != 2 || names[0] != "tc0" || names[1] != "tc1" {
		t.Fatalf("unexpected axis names %v", names)
	}

	d.tick(5)
	st := d.AxisStatus("tc0")
	if st == nil {
		t.Fatal("missing status for tc0")
	}
	if st["name"] != "tc0" {
		t.Errorf("status name = %v", st["name"])
	}
	pins, ok := st["pins"].(map[string]interface{})
	if !ok {
		t.Fatalf("status has no pins map: %v", st)
	}
	if pins["current_tool"] != 1 {
		t.Errorf("pins current_tool = %v", pins["current_tool"])
	}
	if d.AxisStatus("nope") != nil {
		t.Error("expected nil status for unknown axis")
	}
}

func TestTurretUnitReload(t *testing.T) {
	homingCfg := `
[turret tc0]
tool_count: 4
pulses_per_rev: 800
home_pin: PA4
`
	sec := loadTestSection(t, homingCfg, "turret tc0")
	unit, err := newTurretUnit(sec, testServoSettings(), nil)
	if err != nil {
		t.Fatalf("newTurretUnit: %v", err)
	}
	if !unit.CanReload() {
		t.Fatal("idle unit should accept reload")
	}

	// Start homing; a reload now would lose the reference mid-motion.
	unit.SetInputs(true, false, true, false, 0)
	unit.runCycle(100)
	if !unit.Pins().Homing {
		t.Fatalf("expected homing to start, pins %+v", unit.Pins())
	}
	if unit.CanReload() {
		t.Fatal("reload must be refused while homing")
	}

	// Reset back to idle, then rebuild with a larger tool count.
	unit.SetInputs(false, true, false, false, 0)
	unit.runCycle(1)
	unit.SetInputs(false, false, false, false, 0)
	if !unit.CanReload() {
		t.Fatal("reset unit should accept reload")
	}

	bigger := loadTestSection(t, `
[turret tc0]
tool_count: 8
pulses_per_rev: 800
`, "turret tc0")
	if err := unit.Reload(bigger); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	// The rebuilt axis has no home sensor, so it is homed on enable;
	// the old one was left unhomed by the reset.
	unit.SetInputs(true, false, false, false, 0)
	unit.runCycle(5)
	if pins := unit.Pins(); !pins.Homed {
		t.Errorf("rebuilt axis should be homed on enable, pins %+v", pins)
	}

	bad := loadTestSection(t, `
[turret tc0]
tool_count: 0
`, "turret tc0")
	if err := unit.Reload(bad); err == nil {
		t.Error("expected error reloading invalid section")
	}
}
