// Package taxonomy holds the closed set of anatomical regions that body-impact
// mentions are folded onto, together with the synonym clusters and organ
// fallbacks used to match free text against them.
//
// The table is data, not code: a default YAML document is embedded in the
// binary and an operator may replace it with a file of the same shape.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegionCount is the fixed size of the taxonomy.
const RegionCount = 21

//go:embed default_taxonomy.yaml
var defaultDocument []byte

// Region is one anatomical zone.
type Region struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// SynonymCluster maps a group of medical terms onto a region.
// Terms ending in "*" match any word with that prefix.
type SynonymCluster struct {
	Region string   `yaml:"region" json:"region"`
	Terms  []string `yaml:"terms" json:"terms"`
}

// OrganFallback maps a common organ or system noun onto a region.
type OrganFallback struct {
	Term   string `yaml:"term" json:"term"`
	Region string `yaml:"region" json:"region"`
}

// Taxonomy is the immutable region table.
type Taxonomy struct {
	Regions  []Region         `yaml:"regions" json:"regions"`
	Synonyms []SynonymCluster `yaml:"synonyms" json:"synonyms"`
	Organs   []OrganFallback  `yaml:"organs" json:"organs"`

	index map[string]int
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultDocument)
}

// Load reads a taxonomy file, falling back to the embedded default when path is empty.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Taxonomy) validate() error {
	if len(t.Regions) != RegionCount {
		return fmt.Errorf("taxonomy must define exactly %d regions, got %d", RegionCount, len(t.Regions))
	}

	t.index = make(map[string]int, len(t.Regions))
	for i := range t.Regions {
		r := &t.Regions[i]
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" || r.Name == "" {
			return fmt.Errorf("region %d: id and name are required", i)
		}
		if _, dup := t.index[r.ID]; dup {
			return fmt.Errorf("duplicate region id %q", r.ID)
		}
		t.index[r.ID] = i
		for k, kw := range r.Keywords {
			r.Keywords[k] = strings.ToLower(strings.TrimSpace(kw))
		}
	}

	for _, s := range t.Synonyms {
		if _, ok := t.index[s.Region]; !ok {
			return fmt.Errorf("synonym cluster references unknown region %q", s.Region)
		}
	}
	for _, o := range t.Organs {
		if _, ok := t.index[o.Region]; !ok {
			return fmt.Errorf("organ fallback %q references unknown region %q", o.Term, o.Region)
		}
	}
	return nil
}

// Region looks a region up by id.
func (t *Taxonomy) Region(id string) (Region, bool) {
	i, ok := t.index[id]
	if !ok {
		return Region{}, false
	}
	return t.Regions[i], true
}

// Order returns the position of a region in the table, or -1.
func (t *Taxonomy) Order(id string) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	return -1
}
