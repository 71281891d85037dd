package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/daycast/daycast/internal/config"
	"github.com/daycast/daycast/internal/layers"
	"github.com/daycast/daycast/internal/scoring"
)

// builtinAccuracy maps layer ids to the accuracy rating used when the
// configuration does not override it. Lower layers rest on firmer
// astronomical ground; higher layers are progressively speculative.
var builtinAccuracy = map[int]float64{
	1:  1.0,
	2:  0.92,
	3:  0.8,
	4:  0.75,
	5:  0.65,
	6:  0.55,
	7:  0.50,
	8:  0.3,
	9:  0.2,
	10: 0.1,
}

// builtinKind assigns a computation family to each layer id. Layer 1
// is astronomical; 3, 7 and 9 follow repeating calendar cycles; the
// rest are modeled as blended harmonics.
func builtinKind(id int) string {
	switch id {
	case 1:
		return config.KindAstronomical
	case 3, 7, 9:
		return config.KindCyclic
	default:
		return config.KindHarmonic
	}
}

// LayerSpec is the resolved plan for one layer: where its numbers come
// from, how long it may run, and what it waits on.
type LayerSpec struct {
	ID        int
	Kind      string
	Accuracy  float64
	Timeout   time.Duration
	DependsOn []int

	// Scorer is non-nil when the configuration supplies a scoring
	// block; the layer's features are then scored by rule instead of
	// the unit's built-in heuristic.
	Scorer *scoring.Scorer

	// New constructs a fresh unit for a run.
	New func() (layers.Unit, error)
}

// Registry holds the resolved specs for every available layer.
type Registry struct {
	specs map[int]*LayerSpec
}

// BuildRegistry resolves configuration into layer specs. Layers listed
// in the configuration use its overrides; ids absent from it fall back
// to the built-in kind and accuracy tables. When the configuration
// explicitly enables any layer, the registry shrinks to exactly those
// layers; otherwise only explicitly disabled layers are left out.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	enabled := cfg.EnabledSet()
	specs := make(map[int]*LayerSpec, config.MaxLayerID)
	for id := config.MinLayerID; id <= config.MaxLayerID; id++ {
		layer, configured := cfg.LayerByID(id)
		if enabled != nil {
			if !enabled[id] {
				continue
			}
		} else if configured && !layer.IsEnabled() {
			continue
		}

		spec := &LayerSpec{
			ID:       id,
			Kind:     builtinKind(id),
			Accuracy: builtinAccuracy[id],
			Timeout:  cfg.Settings.DefaultTimeoutDuration(),
		}
		if configured {
			if layer.Kind != "" {
				spec.Kind = layer.Kind
			}
			if layer.Accuracy != nil {
				spec.Accuracy = *layer.Accuracy
			}
			spec.Timeout = layer.Timeout(cfg.Settings)
			spec.DependsOn = layer.Deps()
			if layer.Scoring != nil {
				spec.Scorer = scoring.New(*layer.Scoring)
			}
		}

		if err := bindConstructor(spec, layer); err != nil {
			return nil, err
		}
		specs[id] = spec
	}
	return &Registry{specs: specs}, nil
}

func bindConstructor(spec *LayerSpec, layer config.Layer) error {
	id, acc := spec.ID, spec.Accuracy
	switch spec.Kind {
	case config.KindAstronomical:
		spec.New = func() (layers.Unit, error) { return layers.NewAstronomical(id, acc), nil }
	case config.KindCyclic:
		spec.New = func() (layers.Unit, error) { return layers.NewCyclic(id, acc), nil }
	case config.KindHarmonic:
		spec.New = func() (layers.Unit, error) { return layers.NewHarmonic(id, acc), nil }
	case config.KindRemote:
		endpoint, auth := layer.Endpoint, layer.Auth
		if endpoint == "" {
			return fmt.Errorf("engine: layer %d: remote kind requires an endpoint", id)
		}
		spec.New = func() (layers.Unit, error) { return layers.NewRemote(id, acc, endpoint, auth), nil }
	default:
		return fmt.Errorf("engine: layer %d: unknown kind %q", id, spec.Kind)
	}
	return nil
}

// Spec returns the resolved spec for a layer id.
func (r *Registry) Spec(id int) (*LayerSpec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// IDs returns all available layer ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// DepsMap returns the dependency edges for order resolution.
func (r *Registry) DepsMap() map[int][]int {
	out := make(map[int][]int, len(r.specs))
	for id, s := range r.specs {
		if len(s.DependsOn) > 0 {
			out[id] = s.DependsOn
		}
	}
	return out
}
