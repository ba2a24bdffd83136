// Package params holds the parameter registry: the catalog of scorecard
// parameters (prompt template, value kind, expected range, rollup weight)
// and the default extraction callbacks derived from each entry.
package params

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Parameter is one scorecard parameter definition.
type Parameter struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	Subcategory string  `yaml:"subcategory"`
	Weight      float64 `yaml:"weight"`

	// Kind is the expected value shape: "number", "percent", or "text".
	Kind string `yaml:"kind"`

	// Min/Max bound numeric values; nil leaves the side unbounded.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// Prompt is the template sent to the model; {country} and {documents}
	// placeholders are substituted at build time.
	Prompt string `yaml:"prompt"`
}

// Registry is an immutable parameter catalog.
type Registry struct {
	params []Parameter
	byID   map[string]Parameter
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "params: read registry %s", path)
	}
	r, err := parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "params: parse registry %s", path)
	}
	return r, nil
}

// LoadDefault returns the embedded climate-policy parameter set.
func LoadDefault() *Registry {
	r, err := parse(defaultsYAML)
	if err != nil {
		// The embedded set is validated by tests; a parse failure here is a
		// build defect.
		panic(err)
	}
	return r
}

func parse(data []byte) (*Registry, error) {
	var wrapper struct {
		Parameters []Parameter `yaml:"parameters"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "params: decode yaml")
	}
	if len(wrapper.Parameters) == 0 {
		return nil, eris.New("params: registry defines no parameters")
	}

	byID := make(map[string]Parameter, len(wrapper.Parameters))
	for _, p := range wrapper.Parameters {
		if p.ID == "" {
			return nil, eris.New("params: parameter without id")
		}
		if _, dup := byID[p.ID]; dup {
			return nil, eris.Errorf("params: duplicate parameter %q", p.ID)
		}
		byID[p.ID] = p
	}
	return &Registry{params: wrapper.Parameters, byID: byID}, nil
}

// Get returns the parameter with the given ID.
func (r *Registry) Get(id string) (Parameter, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// All returns the parameters in registry order.
func (r *Registry) All() []Parameter {
	out := make([]Parameter, len(r.params))
	copy(out, r.params)
	return out
}

// Subcategories returns the distinct subcategories in first-seen order.
func (r *Registry) Subcategories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.params {
		if !seen[p.Subcategory] {
			seen[p.Subcategory] = true
			out = append(out, p.Subcategory)
		}
	}
	return out
}
