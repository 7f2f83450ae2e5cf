// Tests for the fixed-point step pulse generator
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepgen

import (
	"math"
	"math/rand"
	"testing"

	"toolerator-go/pkg/errors"
)

func testConfig() Config {
	return Config{
		Name:            "tc0",
		ClockFrequency:  1e6,
		MaxVelocity:     2000,
		MaxAcceleration: 2e6,
		StepPulseNS:     5000,
		DirHoldNS:       10000,
		DirSetupNS:      10000,
		SoftStop:        true,
	}
}

func mustNew(t *testing.T, cfg Config) *Generator {
	t.Helper()
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return g
}

// run ticks the generator until the predicate holds or the cap is hit.
func run(t *testing.T, g *Generator, maxTicks int, done func() bool) int {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		g.Tick(false)
		if done() {
			return i + 1
		}
	}
	t.Fatalf("condition not reached within %d ticks", maxTicks)
	return 0
}

// roundPulses converts a raw position delta to whole pulses, absorbing
// the sub-pulse settle residue.
func roundPulses(g *Generator, raw int64) int64 {
	return int64(math.Round(math.Ldexp(float64(raw), -int(g.PickOff().Pos))))
}

func TestDerivePickOff(t *testing.T) {
	tests := []struct {
		name  string
		clock float64
		vel   uint
		acc   uint
	}{
		{"at step rate limit", 400e3, 32, 32},
		{"1MHz", 1e6, 34, 36},
		{"10MHz", 10e6, 37, 42},
		{"40MHz", 40e6, 39, 46},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DerivePickOff(tt.clock)
			if err != nil {
				t.Fatalf("DerivePickOff(%g) failed: %v", tt.clock, err)
			}
			if p.Pos != 32 || p.Vel != tt.vel || p.Acc != tt.acc {
				t.Errorf("DerivePickOff(%g) = (%d,%d,%d), want (32,%d,%d)",
					tt.clock, p.Pos, p.Vel, p.Acc, tt.vel, tt.acc)
			}
			// One velocity LSB per tick must not exceed the step rate
			// limit.
			if rate := tt.clock / math.Ldexp(1, int(p.Vel-p.Pos)); rate > MaxStepRate {
				t.Errorf("LSB step rate %g exceeds %g", rate, MaxStepRate)
			}
		})
	}

	if _, err := DerivePickOff(0); !errors.Is(err, errors.ErrConfigScale) {
		t.Errorf("DerivePickOff(0) error = %v, want CONFIG_SCALE", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   errors.ErrorCode
	}{
		{"zero velocity", func(c *Config) { c.MaxVelocity = 0 }, errors.ErrConfigValidation},
		{"negative acceleration", func(c *Config) { c.MaxAcceleration = -1 }, errors.ErrConfigValidation},
		{"velocity below scale", func(c *Config) { c.MaxVelocity = 1e-9 }, errors.ErrConfigScale},
		{"acceleration below scale", func(c *Config) { c.MaxAcceleration = 1e-9 }, errors.ErrConfigScale},
		{"step pulse below tick", func(c *Config) { c.StepPulseNS = 100 }, errors.ErrConfigValidation},
		{"step pulse too long", func(c *Config) { c.StepPulseNS = 2e6 }, errors.ErrConfigValidation},
		{"dir hold too long", func(c *Config) { c.DirHoldNS = 2e6 }, errors.ErrConfigValidation},
		{"dir setup too long", func(c *Config) { c.DirSetupNS = 5e6 }, errors.ErrConfigValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if !errors.Is(err, tt.code) {
				t.Errorf("New() error = %v, want code %s", err, tt.code)
			}
		})
	}

	if g := mustNew(t, testConfig()); !g.DirOutput() {
		t.Error("direction output should power up asserted")
	}
}

func TestVelocityRampBound(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())

	prevSpeed := int64(0)
	reached := 0
	for i := 0; i < 5000; i++ {
		g.Tick(false)
		delta := g.Speed() - prevSpeed
		if delta < 0 {
			delta = -delta
		}
		if delta > g.MaxAccelFixed() {
			t.Fatalf("tick %d: speed changed by %d, limit %d", i, delta, g.MaxAccelFixed())
		}
		if g.Speed() > g.MaxSpeed() || g.Speed() < -g.MaxSpeed() {
			t.Fatalf("tick %d: speed %d exceeds limit %d", i, g.Speed(), g.MaxSpeed())
		}
		if g.Speed() == g.MaxSpeed() && reached == 0 {
			reached = i + 1
		}
		prevSpeed = g.Speed()
	}
	if reached == 0 {
		t.Fatal("never reached commanded speed")
	}
	// The ramp needs maxSpeed/maxAccel ticks, plus the snap tick.
	want := int(g.MaxSpeed()/g.MaxAccelFixed()) + 1
	if reached > want+1 {
		t.Errorf("reached commanded speed after %d ticks, expected about %d", reached, want)
	}
}

func TestAccDistanceReturnsToZero(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		if i%250 == 0 {
			// Random target in [-maxSpeed, maxSpeed].
			g.SetSpeedTarget(rng.Int63n(2*g.MaxSpeed()+1) - g.MaxSpeed())
		}
		g.Tick(false)
	}

	g.SetSpeedTarget(0)
	run(t, g, 5000, func() bool { return g.Speed() == 0 })
	if g.accDistance != 0 {
		t.Errorf("accDistance = %d after stopping, want 0", g.accDistance)
	}
}

func TestStepPulseTiming(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())

	stepLen := int(g.stepLenTime)
	var edges []int
	highRuns := make(map[int]int)
	prevStep := false
	runLen := 0
	startPos := g.Position()
	const ticks = 100000
	for i := 0; i < ticks; i++ {
		g.Tick(false)
		s := g.StepOutput()
		if s && !prevStep {
			edges = append(edges, i)
			runLen = 0
		}
		if s {
			runLen++
		}
		if !s && prevStep {
			highRuns[runLen]++
		}
		prevStep = s
	}

	if len(edges) < 10 {
		t.Fatalf("only %d step edges in %d ticks", len(edges), ticks)
	}
	for width := range highRuns {
		if width != stepLen {
			t.Errorf("step pulse width %d ticks, want %d", width, stepLen)
		}
	}
	for i := 1; i < len(edges); i++ {
		if gap := edges[i] - edges[i-1]; gap <= stepLen {
			t.Errorf("edges %d ticks apart, step pulse is %d", gap, stepLen)
		}
	}
	// Edge count tracks the position register.
	moved := g.PickOff().RawToPulses(g.Position() - startPos)
	if diff := int64(len(edges)) - moved; diff < -1 || diff > 1 {
		t.Errorf("%d step edges but position moved %d pulses", len(edges), moved)
	}
}

func TestDirectionChangeTiming(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())
	run(t, g, 10000, func() bool { return g.Speed() == g.MaxSpeed() })

	g.SetSpeedTarget(-g.MaxSpeed())

	dirHold := int(g.dirHoldTime)
	dirSetup := int(g.dirSetupTime)
	stepLen := int(g.stepLenTime)

	lastEdgeBefore := -1
	flipTick := -1
	firstEdgeAfter := -1
	prevStep := g.StepOutput()
	prevDir := g.DirOutput()
	for i := 0; i < 50000; i++ {
		g.Tick(false)
		if g.StepOutput() && !prevStep {
			if flipTick < 0 {
				lastEdgeBefore = i
			} else if firstEdgeAfter < 0 {
				firstEdgeAfter = i
			}
		}
		if g.DirOutput() != prevDir {
			flipTick = i
		}
		prevStep = g.StepOutput()
		prevDir = g.DirOutput()
		if firstEdgeAfter >= 0 {
			break
		}
	}
	if flipTick < 0 {
		t.Fatal("direction never flipped")
	}
	if firstEdgeAfter < 0 {
		t.Fatal("no step edge after direction flip")
	}
	if lastEdgeBefore >= 0 && flipTick-lastEdgeBefore < stepLen+dirHold {
		t.Errorf("direction flipped %d ticks after last step edge, want >= %d",
			flipTick-lastEdgeBefore, stepLen+dirHold)
	}
	if firstEdgeAfter-flipTick < dirSetup {
		t.Errorf("first step edge %d ticks after direction flip, want >= %d",
			firstEdgeAfter-flipTick, dirSetup)
	}
}

func TestDeferredStepNotLost(t *testing.T) {
	// Drive at a rate where a step edge lands inside the direction
	// change window; the edge must be deferred, not dropped.
	cfg := testConfig()
	cfg.MaxVelocity = 1900
	cfg.MaxAcceleration = 4e6
	g := mustNew(t, cfg)
	g.SetEnabled(true)

	netEdges := int64(0)
	prevStep := false
	startPos := g.Position()
	tick := func() {
		g.Tick(false)
		if g.StepOutput() && !prevStep {
			if g.DirOutput() {
				netEdges--
			} else {
				netEdges++
			}
		}
		prevStep = g.StepOutput()
	}

	g.SetSpeedTarget(g.MaxSpeed())
	for i := 0; i < 20000; i++ {
		tick()
	}
	g.SetSpeedTarget(-g.MaxSpeed())
	for i := 0; i < 20000; i++ {
		tick()
	}
	g.SetSpeedTarget(0)
	for i := 0; i < 20000; i++ {
		tick()
	}

	moved := g.PickOff().RawToPulses(g.Position() - startPos)
	if diff := netEdges - moved; diff < -1 || diff > 1 {
		t.Errorf("net step edges %d but position moved %d pulses", netEdges, moved)
	}
}

func TestPositionMoveConverges(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetPositionMode(true)

	target := g.PickOff().PulsesToRaw(1000)
	g.SetPositionTarget(target)
	ticks := run(t, g, 2000000, g.Stopped)

	if moved := roundPulses(g, g.Position()); moved != 1000 {
		t.Errorf("landed at %d pulses, want 1000", moved)
	}
	if dtg := g.DistanceToGo(); dtg >= g.stoppedMargin() || dtg <= -g.stoppedMargin() {
		t.Errorf("distance to go %d outside settle window %d", dtg, g.stoppedMargin())
	}
	t.Logf("1000 pulse move settled after %d ticks", ticks)

	// Reverse move lands back at zero.
	g.SetPositionTarget(0)
	g.Tick(false) // leave the settle window before polling Stopped
	run(t, g, 2000000, g.Stopped)
	if moved := roundPulses(g, g.Position()); moved != 0 {
		t.Errorf("landed at %d pulses, want 0", moved)
	}
}

func TestDisableRampsDownWithSoftStop(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())
	run(t, g, 10000, func() bool { return g.Speed() == g.MaxSpeed() })

	g.SetEnabled(false)
	posAtDisable := g.Position()
	prevSpeed := g.Speed()
	for i := 0; i < 10000 && g.Speed() != 0; i++ {
		g.Tick(false)
		if delta := prevSpeed - g.Speed(); delta > g.MaxAccelFixed() || delta < 0 {
			t.Fatalf("disable decel step %d, limit %d", delta, g.MaxAccelFixed())
		}
		prevSpeed = g.Speed()
	}
	if g.Speed() != 0 {
		t.Fatal("speed did not reach zero after disable")
	}
	if g.Position() == posAtDisable {
		t.Error("soft stop should keep integrating during the ramp down")
	}
}

func TestDisableFreezesWithoutSoftStop(t *testing.T) {
	cfg := testConfig()
	cfg.SoftStop = false
	g := mustNew(t, cfg)
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())
	run(t, g, 10000, func() bool { return g.Speed() == g.MaxSpeed() })

	g.SetEnabled(false)
	g.Tick(false)
	posAtDisable := g.Position()
	for i := 0; i < 3000; i++ {
		g.Tick(false)
	}
	if g.Position() != posAtDisable {
		t.Errorf("position moved %d raw units while disabled without soft stop",
			g.Position()-posAtDisable)
	}
	if g.Speed() != 0 {
		t.Errorf("speed = %d after disable, want 0", g.Speed())
	}
}

func TestResetClearsProfile(t *testing.T) {
	g := mustNew(t, testConfig())
	g.SetEnabled(true)
	g.SetSpeedTarget(g.MaxSpeed())
	run(t, g, 10000, func() bool { return g.Speed() == g.MaxSpeed() })

	g.Tick(true)
	if g.Position() != 0 || g.Speed() != 0 || g.speedTarget != 0 {
		t.Errorf("after reset: position=%d speed=%d speedTarget=%d, want all 0",
			g.Position(), g.Speed(), g.speedTarget)
	}
}

func TestGetStatus(t *testing.T) {
	g := mustNew(t, testConfig())
	status := g.GetStatus()
	for _, key := range []string{"position", "speed", "enabled", "stopped", "step", "dir"} {
		if _, ok := status[key]; !ok {
			t.Errorf("GetStatus() missing key %q", key)
		}
	}
}
