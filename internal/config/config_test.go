package config

import (
	"strings"
	"testing"
	"time"
)

const validRules = `
settings:
  max_workers: 2
  default_timeout_secs: 60

layers:
  - id: 1
    kind: astronomical
    scoring:
      factors:
        - id: solar
          type: direct
          key: solar_factor
          weight: 1.0
  - id: 3
    depends_on: [1]
    timeout_secs: 30
    accuracy: 0.8
    scoring:
      formula: "clamp(cycle_factor, 0, 1)"
  - id: 10
    enabled: false
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Settings.MaxWorkers != 2 {
		t.Errorf("MaxWorkers = %d, want 2", cfg.Settings.MaxWorkers)
	}
	if got := cfg.Settings.DefaultTimeoutDuration(); got != 60*time.Second {
		t.Errorf("DefaultTimeoutDuration = %v, want 60s", got)
	}

	l3, ok := cfg.LayerByID(3)
	if !ok {
		t.Fatal("LayerByID(3): not found")
	}
	if got := l3.Timeout(cfg.Settings); got != 30*time.Second {
		t.Errorf("layer 3 Timeout = %v, want 30s", got)
	}
	if l3.Accuracy == nil || *l3.Accuracy != 0.8 {
		t.Errorf("layer 3 Accuracy = %v, want 0.8", l3.Accuracy)
	}
	if deps := l3.Deps(); len(deps) != 1 || deps[0] != 1 {
		t.Errorf("layer 3 Deps = %v, want [1]", deps)
	}

	l10, _ := cfg.LayerByID(10)
	if l10.IsEnabled() {
		t.Error("layer 10 should be disabled")
	}
}

func TestParse_DefaultsApplied(t *testing.T) {
	cfg, err := Parse([]byte("layers: []"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Settings.MaxWorkers != DefaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want default %d", cfg.Settings.MaxWorkers, DefaultMaxWorkers)
	}
	if got := cfg.Settings.DefaultTimeoutDuration(); got != DefaultTimeout {
		t.Errorf("DefaultTimeoutDuration = %v, want %v", got, DefaultTimeout)
	}
}

func TestParse_LayerTimeoutFallsBackToDefault(t *testing.T) {
	cfg, err := Parse([]byte(validRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l1, _ := cfg.LayerByID(1)
	if got := l1.Timeout(cfg.Settings); got != 60*time.Second {
		t.Errorf("layer 1 Timeout = %v, want settings default 60s", got)
	}
}

// A layer that is present and enabled must carry scoring rules; the
// engine never silently substitutes its heuristic for a configured layer.
func TestParse_EnabledLayerWithoutScoringFails(t *testing.T) {
	doc := `
layers:
  - id: 2
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("want error for enabled layer without scoring")
	}
	if !strings.Contains(err.Error(), "missing scoring") {
		t.Errorf("error = %q, want mention of missing scoring", err)
	}
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"id out of range", "layers:\n  - id: 11\n"},
		{"duplicate id", "layers:\n  - id: 10\n    enabled: false\n  - id: 10\n    enabled: false\n"},
		{"unknown kind", "layers:\n  - id: 2\n    kind: quantum\n    enabled: false\n"},
		{"remote without endpoint", "layers:\n  - id: 2\n    kind: remote\n    enabled: false\n"},
		{"self dependency", "layers:\n  - id: 2\n    depends_on: [2]\n    enabled: false\n"},
		{"accuracy out of range", "layers:\n  - id: 2\n    accuracy: 1.5\n    enabled: false\n"},
		{"bad auth mode", "layers:\n  - id: 2\n    enabled: false\n    auth:\n      mode: magic\n"},
		{"zero workers", "settings:\n  max_workers: -1\nlayers: []\n"},
		{"map factor without map", "layers:\n  - id: 2\n    scoring:\n      factors:\n        - id: m\n          type: map\n"},
		{"not yaml", "settings: [what"},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.doc)); err == nil {
			t.Errorf("%s: want error, got nil", c.name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/rules.yaml"); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestAuthConfig_EnvResolution(t *testing.T) {
	t.Setenv("DAYCAST_TEST_KEY", "k1")
	t.Setenv("DAYCAST_TEST_TOKEN", "t1")
	t.Setenv("DAYCAST_TEST_PASS", "p1")

	a := AuthConfig{
		KeyEnv:      "DAYCAST_TEST_KEY",
		TokenEnv:    "DAYCAST_TEST_TOKEN",
		PasswordEnv: "DAYCAST_TEST_PASS",
	}
	if a.Key() != "k1" || a.Token() != "t1" || a.Password() != "p1" {
		t.Errorf("env resolution = %q/%q/%q", a.Key(), a.Token(), a.Password())
	}

	var empty AuthConfig
	if empty.Key() != "" || empty.Token() != "" || empty.Password() != "" {
		t.Error("unset env vars must resolve to empty strings")
	}
}

func TestEnabledSet(t *testing.T) {
	cfg, err := Parse([]byte(validRules))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	set := cfg.EnabledSet()
	if !set[1] || !set[3] {
		t.Errorf("EnabledSet = %v, want 1 and 3 enabled", set)
	}
	if set[10] {
		t.Error("EnabledSet includes disabled layer 10")
	}
}
