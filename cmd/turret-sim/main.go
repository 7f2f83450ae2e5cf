// turret-sim runs a turret axis against a simulated home switch and
// writes a CSV trace of the motion. It exists to exercise homing and
// tool change sequences tick by tick without hardware.
//
// Usage:
//
//	turret-sim -scenario scenario.yaml [-out trace.csv]
//
// The scenario file describes the turret geometry, the mechanical
// position of the home switch and a list of scripted pin changes:
//
//	clock_frequency: 1000000
//	duration_ticks: 2000000
//	sample_every: 1000
//	turret:
//	  tool_count: 6
//	  pulses_per_rev: 4800
//	  max_velocity: 8000
//	  max_acceleration: 160000
//	home_switch:
//	  position_deg: 33.0
//	  width_deg: 6.0
//	events:
//	  - at_tick: 10
//	    enable: true
//	    home: true
//	  - at_tick: 800000
//	    tool: 3
//
// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"toolerator-go/pkg/endstop"
	"toolerator-go/pkg/log"
	"toolerator-go/pkg/turret"
)

// TurretScenario is the turret geometry section of a scenario file.
// Zero values fall back to the defaults of the turret package.
type TurretScenario struct {
	Name            string  `yaml:"name"`
	ToolCount       int     `yaml:"tool_count"`
	PulsesPerRev    int     `yaml:"pulses_per_rev"`
	OverTravelDeg   float64 `yaml:"over_travel_deg"`
	MaxVelocity     float64 `yaml:"max_velocity"`
	MaxAcceleration float64 `yaml:"max_acceleration"`
	BackOffDeg      float64 `yaml:"back_off_deg"`
	LatchVelocity   float64 `yaml:"latch_velocity"`
	HomeOffsetDeg   float64 `yaml:"home_offset_deg"`
	SoftStop        bool    `yaml:"soft_stop"`
}

// HomeSwitch places the simulated switch window on the turret
// circumference. The switch reads triggered while the mechanical angle
// is inside [position_deg, position_deg+width_deg).
type HomeSwitch struct {
	PositionDeg   float64 `yaml:"position_deg"`
	WidthDeg      float64 `yaml:"width_deg"`
	Invert        bool    `yaml:"invert"`
	DebounceTicks int     `yaml:"debounce_ticks"`
}

// Event is a scripted pin change applied at a tick offset. Pointer
// fields distinguish "not mentioned" from an explicit false.
type Event struct {
	AtTick int64 `yaml:"at_tick"`
	Enable *bool `yaml:"enable"`
	Reset  *bool `yaml:"reset"`
	Home   *bool `yaml:"home"`
	Tool   *int  `yaml:"tool"`
}

// Scenario is the root of a simulation description.
type Scenario struct {
	ClockFrequency float64        `yaml:"clock_frequency"`
	DurationTicks  int64          `yaml:"duration_ticks"`
	SampleEvery    int64          `yaml:"sample_every"`
	StartAngleDeg  float64        `yaml:"start_angle_deg"`
	Turret         TurretScenario `yaml:"turret"`
	HomeSwitch     *HomeSwitch    `yaml:"home_switch"`
	Events         []Event        `yaml:"events"`
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if sc.ClockFrequency == 0 {
		sc.ClockFrequency = 1e6
	}
	if sc.DurationTicks <= 0 {
		return nil, fmt.Errorf("%s: duration_ticks must be positive", path)
	}
	if sc.SampleEvery <= 0 {
		sc.SampleEvery = 1000
	}
	sort.SliceStable(sc.Events, func(i, j int) bool {
		return sc.Events[i].AtTick < sc.Events[j].AtTick
	})
	return &sc, nil
}

func (sc *Scenario) turretConfig() turret.Config {
	cfg := turret.DefaultConfig()
	cfg.ClockFrequency = sc.ClockFrequency
	cfg.HasHomeSensor = sc.HomeSwitch != nil
	if sc.Turret.Name != "" {
		cfg.Name = sc.Turret.Name
	}
	if sc.Turret.ToolCount != 0 {
		cfg.ToolCount = sc.Turret.ToolCount
	}
	if sc.Turret.PulsesPerRev != 0 {
		cfg.PulsesPerRev = sc.Turret.PulsesPerRev
	}
	if sc.Turret.OverTravelDeg != 0 {
		cfg.OverTravelDeg = sc.Turret.OverTravelDeg
	}
	if sc.Turret.MaxVelocity != 0 {
		cfg.MaxVelocity = sc.Turret.MaxVelocity
	}
	if sc.Turret.MaxAcceleration != 0 {
		cfg.MaxAcceleration = sc.Turret.MaxAcceleration
	}
	cfg.HomeBackOffDeg = sc.Turret.BackOffDeg
	cfg.HomeLatchVelocity = sc.Turret.LatchVelocity
	cfg.HomeOffsetDeg = sc.Turret.HomeOffsetDeg
	cfg.SoftStop = sc.Turret.SoftStop
	return cfg
}

// sim drives one axis tick by tick and samples it into CSV rows.
type sim struct {
	sc   *Scenario
	axis *turret.Axis
	cfg  turret.Config

	cmd       turret.Command
	nextEvent int

	// startAngle offsets the generator's zero position so the turret
	// can power up anywhere on its circumference.
	startAngleDeg float64
}

func newSim(sc *Scenario) (*sim, error) {
	cfg := sc.turretConfig()
	esCfg := endstop.Config{Name: cfg.Name}
	if sc.HomeSwitch != nil {
		esCfg.Invert = sc.HomeSwitch.Invert
		esCfg.DebounceTicks = sc.HomeSwitch.DebounceTicks
	}
	axis, err := turret.NewAxis(cfg, esCfg, nil)
	if err != nil {
		return nil, err
	}
	return &sim{
		sc:            sc,
		axis:          axis,
		cfg:           cfg,
		startAngleDeg: sc.StartAngleDeg,
	}, nil
}

// angle returns the mechanical angle of the turret in [0, 360).
func (s *sim) angle() float64 {
	gen := s.axis.Sequencer().Generator()
	pulses := math.Ldexp(float64(gen.Position()), -int(gen.PickOff().Pos))
	deg := s.startAngleDeg + pulses/float64(s.cfg.PulsesPerRev)*360
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// switchLevel samples the simulated home switch at the current angle.
func (s *sim) switchLevel() bool {
	hs := s.sc.HomeSwitch
	if hs == nil {
		return false
	}
	rel := math.Mod(s.angle()-hs.PositionDeg+360, 360)
	level := rel < hs.WidthDeg
	if hs.Invert {
		level = !level
	}
	return level
}

// applyEvents folds all events due at this tick into the held command.
func (s *sim) applyEvents(tick int64) {
	for s.nextEvent < len(s.sc.Events) && s.sc.Events[s.nextEvent].AtTick <= tick {
		ev := s.sc.Events[s.nextEvent]
		s.nextEvent++
		if ev.Enable != nil {
			s.cmd.Enable = *ev.Enable
		}
		if ev.Reset != nil {
			s.cmd.Reset = *ev.Reset
		}
		if ev.Home != nil {
			s.cmd.HomeRequest = *ev.Home
		}
		if ev.Tool != nil {
			s.cmd.CommandedTool = *ev.Tool
		}
	}
}

var traceHeader = []string{
	"tick", "state", "tool", "homed", "angle_deg",
	"speed_pps", "dtg_pulses", "step", "dir", "home_switch",
}

func (s *sim) row(tick int64, level bool) []string {
	seq := s.axis.Sequencer()
	gen := seq.Generator()
	speedPPS := math.Ldexp(float64(gen.Speed()), -int(gen.PickOff().Vel)) * s.sc.ClockFrequency
	return []string{
		strconv.FormatInt(tick, 10),
		seq.State().String(),
		strconv.Itoa(seq.CurrentTool()),
		strconv.FormatBool(seq.Homed()),
		strconv.FormatFloat(s.angle(), 'f', 3, 64),
		strconv.FormatFloat(speedPPS, 'f', 1, 64),
		strconv.FormatInt(gen.PickOff().RawToPulses(gen.DistanceToGo()), 10),
		boolBit(gen.StepOutput()),
		boolBit(gen.DirOutput()),
		boolBit(level),
	}
}

func boolBit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *sim) run(w *csv.Writer) error {
	if err := w.Write(traceHeader); err != nil {
		return err
	}
	for tick := int64(0); tick < s.sc.DurationTicks; tick++ {
		s.applyEvents(tick)
		level := s.switchLevel()
		s.axis.Tick(s.cmd, level)
		if tick%s.sc.SampleEvery == 0 {
			if err := w.Write(s.row(tick, level)); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func main() {
	scenarioFile := flag.String("scenario", "", "Scenario YAML file (required)")
	outFile := flag.String("out", "", "CSV trace output path (default: stdout)")
	flag.Parse()

	if *scenarioFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -scenario is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetLogger("sim")
	sc, err := loadScenario(*scenarioFile)
	if err != nil {
		logger.WithError(err).Error("loading scenario")
		os.Exit(1)
	}
	s, err := newSim(sc)
	if err != nil {
		logger.WithError(err).Error("building simulation")
		os.Exit(1)
	}

	out := os.Stdout
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			logger.WithError(err).Error("creating trace file")
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if err := s.run(csv.NewWriter(out)); err != nil {
		logger.WithError(err).Error("simulation failed")
		os.Exit(1)
	}

	seq := s.axis.Sequencer()
	logger.WithFields(log.Fields{
		"ticks":  sc.DurationTicks,
		"state":  seq.State().String(),
		"tool":   seq.CurrentTool(),
		"homed":  seq.Homed(),
		"errors": seq.Err() != nil,
	}).Info("simulation complete")
}
