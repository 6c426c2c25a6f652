package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.TriggerRadiusM != DefaultTriggerRadiusM {
		t.Fatalf("expected default trigger radius, got %f", cfg.TriggerRadiusM)
	}
	if cfg.CooldownMinutes != DefaultCooldownMinutes {
		t.Fatalf("expected default cooldown, got %d", cfg.CooldownMinutes)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waytour.json")
	body := `{"trigger_radius_m": 40, "language": "vi", "cooldown_minutes": 10}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.TriggerRadiusM != 40 {
		t.Fatalf("override ignored: %f", cfg.TriggerRadiusM)
	}
	if cfg.Language != "vi" {
		t.Fatalf("override ignored: %s", cfg.Language)
	}
	// Untouched fields keep defaults.
	if cfg.SmootherWindow != DefaultSmootherWindow {
		t.Fatalf("default lost: %d", cfg.SmootherWindow)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero trigger radius", func(c *Config) { c.TriggerRadiusM = 0 }},
		{"multiplier below 1", func(c *Config) { c.NearbyRadiusMultiplier = 0.5 }},
		{"negative cooldown", func(c *Config) { c.CooldownMinutes = -1 }},
		{"zero smoother window", func(c *Config) { c.SmootherWindow = 0 }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
