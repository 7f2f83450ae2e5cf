// Tests for the turret axis wrapper
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package turret

import (
	"testing"

	"toolerator-go/pkg/endstop"
	"toolerator-go/pkg/metrics"
)

func mustNewAxis(t *testing.T, cfg Config, esCfg endstop.Config, m *metrics.TooleratorMetrics) *Axis {
	t.Helper()
	a, err := NewAxis(cfg, esCfg, m)
	if err != nil {
		t.Fatalf("NewAxis() failed: %v", err)
	}
	return a
}

func TestAxisDebounceFiltersGlitch(t *testing.T) {
	a := mustNewAxis(t, testConfig(), endstop.Config{DebounceTicks: 5}, nil)
	cmd := Command{Enable: true, HomeRequest: true, CommandedTool: 1}

	// Enter the search pass.
	for i := 0; i < 10 && a.Sequencer().State() != StateHomeSearching; i++ {
		a.Tick(cmd, false)
	}
	if a.Sequencer().State() != StateHomeSearching {
		t.Fatalf("state = %s, want HOME_SEARCHING", a.Sequencer().State())
	}

	// A three tick glitch must not latch a home position.
	for i := 0; i < 3; i++ {
		a.Tick(cmd, true)
	}
	for i := 0; i < 100; i++ {
		a.Tick(cmd, false)
	}
	if a.Sequencer().State() != StateHomeSearching {
		t.Errorf("glitch advanced the sequencer to %s", a.Sequencer().State())
	}

	// A held switch passes the filter.
	for i := 0; i < 20 && a.Sequencer().State() == StateHomeSearching; i++ {
		a.Tick(cmd, true)
	}
	if a.Sequencer().State() != StateHomeBackOff {
		t.Errorf("state = %s with switch held, want HOME_BACK_OFF", a.Sequencer().State())
	}
}

func TestAxisStepCountTracksTravel(t *testing.T) {
	cfg := testConfig()
	cfg.HasHomeSensor = false
	a := mustNewAxis(t, cfg, endstop.Config{}, nil)

	cmd := Command{Enable: true, CommandedTool: 2}
	for i := 0; i < 2000000 && !(a.Sequencer().State() == StateReady && a.Sequencer().CurrentTool() == 2); i++ {
		a.Tick(cmd, false)
	}
	if a.Sequencer().CurrentTool() != 2 {
		t.Fatalf("tool change did not finish, state %s", a.Sequencer().State())
	}

	// One station of 300 pulses approached with 100 pulses over-travel:
	// 400 forward plus 100 reverse edges, with a small allowance for
	// settle dither on the pulse boundary.
	if steps := a.StepCount(); steps < 499 || steps > 510 {
		t.Errorf("StepCount() = %d, want about 500", steps)
	}
}

func TestAxisPublishMetrics(t *testing.T) {
	m := metrics.NewTooleratorMetrics()
	a := mustNewAxis(t, testConfig(), endstop.Config{}, m)

	cmd := Command{Enable: true, HomeRequest: true, CommandedTool: 1}
	sw := newSimSwitch(a.Sequencer(), 200, 25)
	for i := 0; i < 5000000 && a.Sequencer().State() != StateReady; i++ {
		a.Tick(cmd, sw.level(a.Sequencer().Generator().Position()))
	}
	if a.Sequencer().State() != StateReady {
		t.Fatalf("homing did not finish, state %s", a.Sequencer().State())
	}
	a.PublishMetrics()

	labels := metrics.Labels{"turret": "tc0"}
	if v := m.HomingAttempts.Get(labels); v != 1 {
		t.Errorf("homing attempts = %d, want 1", v)
	}
	if v := m.CurrentTool.Get(labels); v != 1 {
		t.Errorf("current tool gauge = %g, want 1", v)
	}
	if v := m.TurretHomed.Get(labels); v != 1 {
		t.Errorf("homed gauge = %g, want 1", v)
	}
	if v := m.StepsTotal.Get(labels); v == 0 {
		t.Error("steps counter still zero after homing")
	}
	if v := m.TurretState.Get(labels); v != float64(StateReady) {
		t.Errorf("state gauge = %g, want %d", v, StateReady)
	}
}

func TestAxisGetStatus(t *testing.T) {
	a := mustNewAxis(t, testConfig(), endstop.Config{}, nil)
	a.Tick(Command{}, false)

	status := a.GetStatus()
	if status["name"] != "tc0" {
		t.Errorf("status name = %v, want tc0", status["name"])
	}
	for _, key := range []string{"state", "homed", "current_tool", "steps", "endstop", "generator"} {
		if _, ok := status[key]; !ok {
			t.Errorf("GetStatus() missing key %q", key)
		}
	}
}
