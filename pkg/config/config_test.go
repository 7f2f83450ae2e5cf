// Copyright (C) 2026  Toolerator Go Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"testing"
)

func TestLoadString(t *testing.T) {
	data := `
[servo]
clock_frequency: 1000000
tick_budget_us: 500

[turret tc0]
tool_count: 8
pulses_per_rev: 2400
max_velocity: 1200
max_acceleration: 8000
home_pin: !PA4
over_travel: 15.0
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Test HasSection
	if !cfg.HasSection("servo") {
		t.Error("expected [servo] section to exist")
	}
	if !cfg.HasSection("turret tc0") {
		t.Error("expected [turret tc0] section to exist")
	}
	if cfg.HasSection("nonexistent") {
		t.Error("expected [nonexistent] section to not exist")
	}

	// Test GetSection
	servo, err := cfg.GetSection("servo")
	if err != nil {
		t.Fatalf("GetSection(servo) failed: %v", err)
	}
	if servo.GetName() != "servo" {
		t.Errorf("expected name 'servo', got '%s'", servo.GetName())
	}

	// Test GetInt
	clk, err := servo.GetInt("clock_frequency")
	if err != nil {
		t.Fatalf("GetInt(clock_frequency) failed: %v", err)
	}
	if clk != 1000000 {
		t.Errorf("expected 1000000, got %d", clk)
	}

	// Test GetFloat
	turret, _ := cfg.GetSection("turret tc0")
	overTravel, err := turret.GetFloat("over_travel")
	if err != nil {
		t.Fatalf("GetFloat(over_travel) failed: %v", err)
	}
	if overTravel != 15.0 {
		t.Errorf("expected 15.0, got %f", overTravel)
	}
}

func TestSectionGet(t *testing.T) {
	data := `
[test]
string_val: hello
int_val: 42
float_val: 3.14
bool_true: true
bool_false: no
bool_one: 1
list_val: a, b, c
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Test Get with fallback
	val, _ := sec.Get("missing", "default")
	if val != "default" {
		t.Errorf("expected 'default', got '%s'", val)
	}

	// Test GetInt
	i, _ := sec.GetInt("int_val")
	if i != 42 {
		t.Errorf("expected 42, got %d", i)
	}

	// Test GetInt with fallback
	i, _ = sec.GetInt("missing", 99)
	if i != 99 {
		t.Errorf("expected 99, got %d", i)
	}

	// Test GetFloat
	f, _ := sec.GetFloat("float_val")
	if f != 3.14 {
		t.Errorf("expected 3.14, got %f", f)
	}

	// Test GetBool
	b, _ := sec.GetBool("bool_true")
	if !b {
		t.Error("expected true")
	}

	b, _ = sec.GetBool("bool_false")
	if b {
		t.Error("expected false")
	}

	b, _ = sec.GetBool("bool_one")
	if !b {
		t.Error("expected true for '1'")
	}

	// Test GetList
	list, _ := sec.GetList("list_val", ",")
	if len(list) != 3 {
		t.Errorf("expected 3 items, got %d", len(list))
	}
	if list[0] != "a" || list[1] != "b" || list[2] != "c" {
		t.Errorf("unexpected list values: %v", list)
	}
}

func TestAccessTracking(t *testing.T) {
	data := `
[test]
used1: value1
used2: value2
unused1: value3
unused2: value4
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Access some options
	sec.Get("used1")
	sec.Get("used2")

	// Check accessed options
	accessed := sec.GetAccessedOptions()
	if len(accessed) != 2 {
		t.Errorf("expected 2 accessed options, got %d", len(accessed))
	}

	// Check unused options
	unused := sec.GetUnusedOptions()
	if len(unused) != 2 {
		t.Errorf("expected 2 unused options, got %d", len(unused))
	}
}

func TestSectionTracking(t *testing.T) {
	data := `
[used_section]
key: value

[unused_section]
key: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	// Access one section
	cfg.GetSection("used_section")

	// Check accessed sections
	accessed := cfg.GetAccessedSections()
	if len(accessed) != 1 {
		t.Errorf("expected 1 accessed section, got %d", len(accessed))
	}

	// Check unused sections
	unused := cfg.GetUnusedSections()
	if len(unused) != 1 {
		t.Errorf("expected 1 unused section, got %d", len(unused))
	}
	if unused[0] != "unused_section" {
		t.Errorf("expected 'unused_section', got '%s'", unused[0])
	}
}

func TestGetPrefixSections(t *testing.T) {
	data := `
[turret tc0]
tool_count: 8

[turret tc1]
tool_count: 12

[turret rear]
tool_count: 6

[servo]
clock_frequency: 1000000
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	turrets := cfg.GetPrefixSections("turret ")
	if len(turrets) != 3 {
		t.Errorf("expected 3 turret sections, got %d", len(turrets))
	}
}

func TestParsePin(t *testing.T) {
	tests := []struct {
		desc     string
		opts     PinOptions
		wantName string
		wantChip string
		wantInv  bool
		wantPull int
		wantErr  bool
	}{
		{
			desc:     "PA5",
			opts:     PinOptions{},
			wantName: "PA5",
			wantChip: "hal",
		},
		{
			desc:     "!PA5",
			opts:     PinOptions{CanInvert: true},
			wantName: "PA5",
			wantChip: "hal",
			wantInv:  true,
		},
		{
			desc:     "^PA5",
			opts:     PinOptions{CanPullup: true},
			wantName: "PA5",
			wantChip: "hal",
			wantPull: 1,
		},
		{
			desc:     "~PA5",
			opts:     PinOptions{CanPullup: true},
			wantName: "PA5",
			wantChip: "hal",
			wantPull: -1,
		},
		{
			desc:     "^!PA5",
			opts:     PinOptions{CanInvert: true, CanPullup: true},
			wantName: "PA5",
			wantChip: "hal",
			wantInv:  true,
			wantPull: 1,
		},
		{
			desc:     "hal:PA5",
			opts:     PinOptions{},
			wantName: "PA5",
			wantChip: "hal",
		},
		{
			desc:     "expander:home_sense",
			opts:     PinOptions{},
			wantName: "home_sense",
			wantChip: "expander",
		},
		{
			desc:    "",
			opts:    PinOptions{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			pin, err := ParsePin(tt.desc, tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pin.Name != tt.wantName {
				t.Errorf("name: got %q, want %q", pin.Name, tt.wantName)
			}
			if pin.Chip != tt.wantChip {
				t.Errorf("chip: got %q, want %q", pin.Chip, tt.wantChip)
			}
			if pin.Invert != tt.wantInv {
				t.Errorf("invert: got %v, want %v", pin.Invert, tt.wantInv)
			}
			if pin.Pullup != tt.wantPull {
				t.Errorf("pullup: got %v, want %v", pin.Pullup, tt.wantPull)
			}
		})
	}
}

func TestGetChoice(t *testing.T) {
	data := `
[test]
mode: fast
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Valid choice
	mode, err := sec.GetChoice("mode", []string{"slow", "fast", "turbo"})
	if err != nil {
		t.Fatalf("GetChoice failed: %v", err)
	}
	if mode != "fast" {
		t.Errorf("expected 'fast', got '%s'", mode)
	}

	// Invalid choice
	_, err = sec.GetChoice("mode", []string{"slow", "turbo"})
	if err == nil {
		t.Error("expected error for invalid choice")
	}
}

func TestBoundsChecking(t *testing.T) {
	data := `
[test]
value: 50
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Within bounds
	min := 0.0
	max := 100.0
	v, err := sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min, MaxVal: &max})
	if err != nil {
		t.Fatalf("GetFloatWithBounds failed: %v", err)
	}
	if v != 50.0 {
		t.Errorf("expected 50.0, got %f", v)
	}

	// Below minimum
	min = 60.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MinVal: &min})
	if err == nil {
		t.Error("expected error for value below minimum")
	}

	// Above maximum
	max = 40.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{MaxVal: &max})
	if err == nil {
		t.Error("expected error for value above maximum")
	}

	// Must be above
	above := 50.0
	_, err = sec.GetFloatWithBounds("value", FloatBounds{Above: &above})
	if err == nil {
		t.Error("expected error for value not above threshold")
	}
}

func TestMissingOptionError(t *testing.T) {
	data := `
[test]
exists: value
`

	cfg, err := LoadString(data)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	sec, _ := cfg.GetSection("test")

	// Missing required option
	_, err = sec.Get("missing")
	if err == nil {
		t.Error("expected error for missing option")
	}

	configErr, ok := err.(*ConfigError)
	if !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
	if configErr.Section != "test" {
		t.Errorf("expected section 'test', got '%s'", configErr.Section)
	}
	if configErr.Option != "missing" {
		t.Errorf("expected option 'missing', got '%s'", configErr.Option)
	}
}

func TestConfigMerge(t *testing.T) {
	base := `
[servo]
clock_frequency: 1000000
tick_budget_us: 500

[turret tc0]
tool_count: 8
`

	override := `
[servo]
tick_budget_us: 250

[turret tc1]
tool_count: 12
`

	baseCfg, _ := LoadString(base)
	overrideCfg, _ := LoadString(override)

	baseCfg.Merge(overrideCfg)

	// Check merged value
	servo, _ := baseCfg.GetSection("servo")
	v, _ := servo.GetInt("tick_budget_us")
	if v != 250 {
		t.Errorf("expected 250 after merge, got %d", v)
	}

	// Check original value preserved
	clk, _ := servo.GetInt("clock_frequency")
	if clk != 1000000 {
		t.Errorf("expected 1000000, got %d", clk)
	}

	// Check new section added
	if !baseCfg.HasSection("turret tc1") {
		t.Error("expected [turret tc1] section after merge")
	}
}
