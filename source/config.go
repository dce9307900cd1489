package source

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a sources YAML file.
type File struct {
	Sources []*Source `yaml:"sources"`
}

// Parse decodes a sources YAML document. Sources are not validated here;
// the registry does that on Register or Replace.
func Parse(data []byte) ([]*Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("source: parse: %w", err)
	}
	return f.Sources, nil
}

// LoadFile reads and decodes a sources YAML file.
func LoadFile(path string) ([]*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return Parse(data)
}
