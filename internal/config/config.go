package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the rules file.
const (
	DefaultMaxWorkers = 4
	DefaultTimeout    = 300 * time.Second
)

// MinLayerID and MaxLayerID bound the closed set of layer identifiers.
const (
	MinLayerID = 1
	MaxLayerID = 10
)

// Compute kinds a layer may be bound to.
const (
	KindAstronomical = "astronomical"
	KindCyclic       = "cyclic"
	KindHarmonic     = "harmonic"
	KindRemote       = "remote"
)

// Config is the top-level rules document driving the layer engine.
// Fields map 1:1 to rules.example.yaml.
type Config struct {
	Settings Settings `yaml:"settings"`
	Layers   []Layer  `yaml:"layers"`
}

// Settings holds run-wide engine settings.
type Settings struct {
	// MaxWorkers bounds the parallel worker pool.
	MaxWorkers int `yaml:"max_workers"`

	// DefaultTimeoutSecs is the per-layer timeout used when a layer does
	// not declare its own timeout_secs.
	DefaultTimeoutSecs int `yaml:"default_timeout_secs"`
}

// DefaultTimeoutDuration returns the run-wide layer timeout.
func (s Settings) DefaultTimeoutDuration() time.Duration {
	if s.DefaultTimeoutSecs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(s.DefaultTimeoutSecs) * time.Second
}

// Layer overrides one calculation layer. A layer listed here and enabled
// must carry a scoring block — rule-governed runs never fall back silently
// to a layer's built-in heuristic. Layers absent from the document keep
// their built-in behaviour entirely.
type Layer struct {
	// ID is the layer identifier, 1–10.
	ID int `yaml:"id"`

	// Enabled defaults to true for configured layers. When the document
	// enables any layer, the active set shrinks to exactly the enabled
	// layers.
	Enabled *bool `yaml:"enabled"`

	// Kind optionally swaps the layer's compute unit within the closed
	// set: astronomical | cyclic | harmonic | remote. Empty keeps the
	// built-in kind for the ID.
	Kind string `yaml:"kind"`

	// Endpoint is the metrics URL for kind "remote".
	Endpoint string `yaml:"endpoint"`

	// Auth configures header injection for kind "remote".
	Auth AuthConfig `yaml:"auth"`

	// Accuracy overrides the layer's accuracy rating (0–1).
	Accuracy *float64 `yaml:"accuracy"`

	// TimeoutSecs overrides the run-wide default timeout for this layer.
	TimeoutSecs int `yaml:"timeout_secs"`

	// DependsOn lists layer IDs that must complete before this one starts.
	// "dependencies" is accepted as an alias.
	DependsOn    []int `yaml:"depends_on"`
	Dependencies []int `yaml:"dependencies"`

	// Scoring is the rule-driven scoring spec. Mandatory when the layer
	// is enabled.
	Scoring *ScoringSpec `yaml:"scoring"`
}

// IsEnabled reports whether the layer is enabled (default true).
func (l Layer) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// Deps returns the dependency list, honouring both YAML spellings.
func (l Layer) Deps() []int {
	if len(l.DependsOn) > 0 {
		return l.DependsOn
	}
	return l.Dependencies
}

// Timeout returns the effective timeout for this layer given the run-wide
// settings.
func (l Layer) Timeout(s Settings) time.Duration {
	if l.TimeoutSecs > 0 {
		return time.Duration(l.TimeoutSecs) * time.Second
	}
	return s.DefaultTimeoutDuration()
}

// AuthConfig specifies how the remote unit authenticates to its endpoint.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name for mode "apikey".
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the basic-auth username (safe to store in config).
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// ScoringSpec reduces a layer's feature vector to one score in [0,1].
type ScoringSpec struct {
	// Aggregation names the combining strategy. Only "weighted_sum" is
	// defined; anything else is treated as weighted_sum.
	Aggregation string `yaml:"aggregation"`

	// Formula optionally replaces the weighted sum with an expression
	// over factor results, features, and the evaluation environment.
	Formula string `yaml:"formula"`

	Factors []FactorSpec `yaml:"factors"`
}

// FactorSpec describes one scored factor.
type FactorSpec struct {
	ID string `yaml:"id"`

	// Type is direct | map | average_maps. Empty means direct.
	Type string `yaml:"type"`

	Weight float64 `yaml:"weight"`

	// Key is the feature read for type "direct" (defaults to ID).
	Key string `yaml:"key"`

	// Map is the lookup table for type "map".
	Map *MapSpec `yaml:"map"`

	// Maps are averaged for type "average_maps".
	Maps []MapSpec `yaml:"maps"`

	Modifiers []Modifier `yaml:"modifiers"`

	// Formula, when present, computes the factor's base value and takes
	// precedence over Type.
	Formula string `yaml:"formula"`
}

// MapSpec looks a discrete feature value up in a score table.
type MapSpec struct {
	// Feature is the dotted path of the feature to look up.
	Feature string `yaml:"feature"`

	// Table maps feature values (stringified) to scores.
	Table map[string]float64 `yaml:"table"`

	// Default is used when the feature is absent or unmapped.
	// Nil means 0.5.
	Default *float64 `yaml:"default"`
}

// Modifier adjusts a factor's base value when its condition matches.
type Modifier struct {
	// Op is multiply | add | blend. Empty means multiply.
	Op string `yaml:"op"`

	// Value is the constant for multiply and add.
	Value *float64 `yaml:"value"`

	// Alpha and With drive blend: new = (1-alpha)*base + alpha*features[With].
	Alpha *float64 `yaml:"alpha"`
	With  string   `yaml:"with"`

	Condition Condition `yaml:"condition"`
}

// Condition is a simple predicate over the feature map.
type Condition struct {
	// Feature is the dotted path tested. Required.
	Feature string `yaml:"feature"`

	// Op is exists | equals | in. Empty is inferred from which of the
	// value fields is set, defaulting to exists.
	Op string `yaml:"op"`

	Equals  any   `yaml:"equals"`
	In      []any `yaml:"in"`
	IsTrue  *bool `yaml:"is_true"`
	IsFalse *bool `yaml:"is_false"`
}

// Load reads and parses the YAML rules file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rules document from raw YAML.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no rules file is supplied:
// built-in layer behaviour, default worker pool and timeout.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Settings: Settings{
			MaxWorkers:         DefaultMaxWorkers,
			DefaultTimeoutSecs: int(DefaultTimeout / time.Second),
		},
	}
}

// validate checks required fields and structural constraints. Scheduling
// problems that depend on the requested layer set (cycles, unmet
// dependencies) are the engine's to detect at run time.
func validate(cfg *Config) error {
	if cfg.Settings.MaxWorkers <= 0 {
		return fmt.Errorf("settings.max_workers must be positive")
	}
	if cfg.Settings.DefaultTimeoutSecs < 0 {
		return fmt.Errorf("settings.default_timeout_secs must not be negative")
	}

	seen := make(map[int]bool)
	for i, layer := range cfg.Layers {
		if layer.ID < MinLayerID || layer.ID > MaxLayerID {
			return fmt.Errorf("layers[%d]: id %d out of range %d-%d", i, layer.ID, MinLayerID, MaxLayerID)
		}
		if seen[layer.ID] {
			return fmt.Errorf("layers[%d]: duplicate id %d", i, layer.ID)
		}
		seen[layer.ID] = true

		switch layer.Kind {
		case "", KindAstronomical, KindCyclic, KindHarmonic, KindRemote:
		default:
			return fmt.Errorf("layers[%d] id %d: unknown kind %q", i, layer.ID, layer.Kind)
		}
		if layer.Kind == KindRemote && layer.Endpoint == "" {
			return fmt.Errorf("layers[%d] id %d: kind remote requires endpoint", i, layer.ID)
		}
		switch layer.Auth.Mode {
		case "", "none", "apikey", "bearer", "basic":
		default:
			return fmt.Errorf("layers[%d] id %d: unknown auth mode %q", i, layer.ID, layer.Auth.Mode)
		}
		if layer.Auth.Mode == "apikey" && layer.Auth.Header == "" {
			return fmt.Errorf("layers[%d] id %d: auth mode apikey requires header", i, layer.ID)
		}

		if layer.Accuracy != nil && (*layer.Accuracy < 0 || *layer.Accuracy > 1) {
			return fmt.Errorf("layers[%d] id %d: accuracy must be in [0,1]", i, layer.ID)
		}
		if layer.TimeoutSecs < 0 {
			return fmt.Errorf("layers[%d] id %d: timeout_secs must not be negative", i, layer.ID)
		}
		for _, dep := range layer.Deps() {
			if dep < MinLayerID || dep > MaxLayerID {
				return fmt.Errorf("layers[%d] id %d: dependency %d out of range", i, layer.ID, dep)
			}
			if dep == layer.ID {
				return fmt.Errorf("layers[%d] id %d: layer depends on itself", i, layer.ID)
			}
		}

		// A configured, enabled layer without scoring rules is a hard
		// error: rule-governed runs must not silently fall back to the
		// unit's built-in heuristic.
		if layer.IsEnabled() {
			if layer.Scoring == nil {
				return fmt.Errorf("layer %d: enabled but missing scoring rules", layer.ID)
			}
			if err := validateScoring(layer.ID, layer.Scoring); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateScoring(layerID int, s *ScoringSpec) error {
	if len(s.Factors) == 0 && s.Formula == "" {
		return fmt.Errorf("layer %d: scoring needs factors or a formula", layerID)
	}
	for i, f := range s.Factors {
		switch f.Type {
		case "", "direct", "map", "average_maps":
		default:
			return fmt.Errorf("layer %d: factors[%d]: unknown type %q", layerID, i, f.Type)
		}
		if f.Type == "map" && f.Formula == "" && f.Map == nil {
			return fmt.Errorf("layer %d: factors[%d]: type map requires a map block", layerID, i)
		}
		if f.Type == "average_maps" && f.Formula == "" && len(f.Maps) == 0 {
			return fmt.Errorf("layer %d: factors[%d]: type average_maps requires maps", layerID, i)
		}
	}
	return nil
}

// EnabledSet returns the IDs explicitly enabled by the document, or nil
// when the document does not shrink the active layer set.
func (c *Config) EnabledSet() map[int]bool {
	var enabled map[int]bool
	for _, l := range c.Layers {
		if l.IsEnabled() {
			if enabled == nil {
				enabled = make(map[int]bool)
			}
			enabled[l.ID] = true
		}
	}
	return enabled
}

// LayerByID returns the configured layer entry for id, if present.
func (c *Config) LayerByID(id int) (Layer, bool) {
	for _, l := range c.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}
