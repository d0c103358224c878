package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoutesFile is the YAML routing file
type RoutesFile struct {
	DefaultVendor  string                  `yaml:"default_vendor"`
	MinConfidence  *float64                `yaml:"min_confidence"`
	EnableFallback *bool                   `yaml:"enable_fallback"`
	VendorAliases  map[string]string       `yaml:"vendor_aliases"`
	Aliases        map[string]AliasTargets `yaml:"aliases"`
	Patterns       map[string]string       `yaml:"patterns"`
}

// AliasTargets is an alias value: a single target string or a list of
// fallback targets.
type AliasTargets struct {
	Targets  []string
	Multiple bool
}

// UnmarshalYAML accepts a scalar or a sequence of scalars
func (a *AliasTargets) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var target string
		if err := value.Decode(&target); err != nil {
			return err
		}
		if target == "" {
			return fmt.Errorf("line %d: alias target is empty", value.Line)
		}
		a.Targets = []string{target}
		a.Multiple = false
	case yaml.SequenceNode:
		var targets []string
		if err := value.Decode(&targets); err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("line %d: alias has no targets", value.Line)
		}
		a.Targets = targets
		a.Multiple = true
	default:
		return fmt.Errorf("line %d: alias must be a string or a list of strings", value.Line)
	}
	return nil
}

// LoadRoutesFile reads and parses a routes file
func LoadRoutesFile(path string) (*RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	return ParseRoutes(data)
}

// ParseRoutes parses routes YAML
func ParseRoutes(data []byte) (*RoutesFile, error) {
	var routes RoutesFile
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("invalid routes file: %w", err)
	}
	return &routes, nil
}

// applyTo overrides environment routing settings with values set in the file
func (r *RoutesFile) applyTo(cfg *RoutingConfig) {
	if r.DefaultVendor != "" {
		cfg.DefaultVendor = r.DefaultVendor
	}
	if r.MinConfidence != nil {
		cfg.MinConfidence = *r.MinConfidence
	}
	if r.EnableFallback != nil {
		cfg.EnableFallback = *r.EnableFallback
	}
}
