// Package registry holds the static parameter catalog: identity, bounds,
// classification and telemetry tags per parameter, plus the per-mill model
// feature sets. The catalog is read-only after load.
package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Parameters []parameterEntry `yaml:"parameters"`
	Models     []modelEntry     `yaml:"models"`
}

type parameterEntry struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Unit     string  `yaml:"unit"`
	Class    string  `yaml:"class"`
	IsLab    bool    `yaml:"is_lab"`
	HasTrend bool    `yaml:"has_trend"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	TagID    string  `yaml:"tag_id"`
}

type modelEntry struct {
	Mill      int      `yaml:"mill"`
	MVs       []string `yaml:"mvs"`
	CVs       []string `yaml:"cvs"`
	DVs       []string `yaml:"dvs"`
	TargetID  string   `yaml:"target_id"`
	TargetTag string   `yaml:"target_tag"`
}

// Registry is an immutable id → parameter lookup plus mill → model lookup.
type Registry struct {
	params map[string]model.Parameter
	order  []string
	models map[int]model.ModelSpec
}

// Load reads the catalog from path, or the embedded default when path is
// empty.
func Load(path string) (*Registry, error) {
	raw := defaultCatalog
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		raw = data
	}
	return Parse(raw)
}

// Parse builds a registry from raw YAML catalog bytes.
func Parse(raw []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Parameters) == 0 {
		return nil, fmt.Errorf("parse catalog: no parameters defined")
	}

	r := &Registry{
		params: make(map[string]model.Parameter, len(file.Parameters)),
		order:  make([]string, 0, len(file.Parameters)),
		models: make(map[int]model.ModelSpec, len(file.Models)),
	}

	for _, entry := range file.Parameters {
		if entry.ID == "" {
			return nil, fmt.Errorf("parse catalog: parameter with empty id")
		}
		if _, dup := r.params[entry.ID]; dup {
			return nil, fmt.Errorf("parse catalog: duplicate parameter %q", entry.ID)
		}
		class := model.ParameterClass(entry.Class)
		switch class {
		case model.ClassMV, model.ClassCV, model.ClassDV, model.ClassTarget:
		default:
			return nil, fmt.Errorf("parse catalog: parameter %q has unknown class %q", entry.ID, entry.Class)
		}
		if entry.Min > entry.Max {
			return nil, fmt.Errorf("parse catalog: parameter %q has inverted bounds [%g, %g]", entry.ID, entry.Min, entry.Max)
		}
		r.params[entry.ID] = model.Parameter{
			ID:       entry.ID,
			Name:     entry.Name,
			Unit:     entry.Unit,
			Class:    class,
			IsLab:    entry.IsLab,
			HasTrend: entry.HasTrend,
			Min:      entry.Min,
			Max:      entry.Max,
			TagID:    entry.TagID,
		}
		r.order = append(r.order, entry.ID)
	}

	for _, entry := range file.Models {
		if entry.Mill <= 0 {
			return nil, fmt.Errorf("parse catalog: model with invalid mill %d", entry.Mill)
		}
		spec := model.ModelSpec{
			Mill:      entry.Mill,
			MVs:       entry.MVs,
			CVs:       entry.CVs,
			DVs:       entry.DVs,
			TargetID:  entry.TargetID,
			TargetTag: entry.TargetTag,
		}
		for _, id := range spec.Features() {
			if _, ok := r.params[id]; !ok {
				return nil, fmt.Errorf("parse catalog: model for mill %d references unknown parameter %q", entry.Mill, id)
			}
		}
		for _, id := range spec.CVs {
			if _, ok := r.params[id]; !ok {
				return nil, fmt.Errorf("parse catalog: model for mill %d references unknown parameter %q", entry.Mill, id)
			}
		}
		r.models[entry.Mill] = spec
	}

	return r, nil
}

// Get returns the parameter metadata for id. The second return is false for
// unknown ids; lookups never fail otherwise.
func (r *Registry) Get(id string) (model.Parameter, bool) {
	p, ok := r.params[id]
	return p, ok
}

// Classify returns the parameter's class, or false for unknown ids.
func (r *Registry) Classify(id string) (model.ParameterClass, bool) {
	p, ok := r.params[id]
	return p.Class, ok
}

// Bounds returns the parameter's [min, max], or false for unknown ids.
func (r *Registry) Bounds(id string) (min, max float64, ok bool) {
	p, found := r.params[id]
	return p.Min, p.Max, found
}

// All returns every parameter in catalog order.
func (r *Registry) All() []model.Parameter {
	out := make([]model.Parameter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.params[id])
	}
	return out
}

// Model returns the model spec for a mill, or false when no model is
// registered for it.
func (r *Registry) Model(mill int) (model.ModelSpec, bool) {
	spec, ok := r.models[mill]
	return spec, ok
}

// Mills returns the mill numbers with registered models.
func (r *Registry) Mills() []int {
	out := make([]int, 0, len(r.models))
	for mill := range r.models {
		out = append(out, mill)
	}
	return out
}
