package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
)

type fileSchema struct {
	Start string `yaml:"start"`
	Nodes []Node `yaml:"nodes"`
}

// Load parses a YAML graph document and validates it.
func Load(data []byte) (*Graph, error) {
	var doc fileSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("parse graph: %w", err), errorsx.ReasonGraphInvalid)
	}
	g := New(doc.Start, doc.Nodes)
	if err := g.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonGraphInvalid)
	}
	return g, nil
}

// LoadFile reads and parses a YAML graph file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return Load(data)
}
