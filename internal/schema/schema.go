// Package schema loads the lease field catalog.
package schema

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/leasebee/leasebee-cli/internal/model"
)

//go:embed lease_fields.yaml
var defaultCatalog []byte

// Schema is an ordered field catalog with path lookups.
type Schema struct {
	Version int
	Fields  []model.FieldDefinition
	byPath  map[string]int
}

type catalogFile struct {
	Version int                     `yaml:"version"`
	Fields  []model.FieldDefinition `yaml:"fields"`
}

// Default returns the embedded lease field catalog.
func Default() *Schema {
	s, err := Parse(defaultCatalog)
	if err != nil {
		panic(eris.Wrap(err, "schema: embedded catalog"))
	}
	return s
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Paths must be non-empty and unique.
func Parse(data []byte) (*Schema, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "schema: decode yaml")
	}
	return New(f.Version, f.Fields)
}

// New indexes a list of field definitions.
func New(version int, fields []model.FieldDefinition) (*Schema, error) {
	s := &Schema{
		Version: version,
		Fields:  fields,
		byPath:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Path == "" {
			return nil, eris.Errorf("schema: field %d has no path", i)
		}
		if _, dup := s.byPath[f.Path]; dup {
			return nil, eris.Errorf("schema: duplicate path %q", f.Path)
		}
		s.byPath[f.Path] = i
	}
	return s, nil
}

// ByPath returns the definition for path, or nil if unknown.
func (s *Schema) ByPath(path string) *model.FieldDefinition {
	i, ok := s.byPath[path]
	if !ok {
		return nil
	}
	return &s.Fields[i]
}

// Categories returns the distinct categories in sorted order.
func (s *Schema) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range s.Fields {
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	sort.Strings(out)
	return out
}

// Required returns the required field definitions in catalog order.
func (s *Schema) Required() []model.FieldDefinition {
	var out []model.FieldDefinition
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Wire converts the schema to its API representation.
func (s *Schema) Wire() model.FieldSchema {
	return model.FieldSchema{
		Fields:     s.Fields,
		Categories: s.Categories(),
	}
}
