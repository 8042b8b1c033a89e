package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetsFile mirrors the on-disk targets configuration. The
// region_definition section is hand-maintained; the generated section is
// rewritten by discovery runs and must never clobber the rest of the file.
type TargetsFile struct {
	RegionDefinition RegionDefinition `yaml:"region_definition"`
	Generated        Generated        `yaml:"generated"`
}

// RegionDefinition names the target region and lists its member countries.
type RegionDefinition struct {
	Name              string          `yaml:"name"`
	IncludeMauritania bool            `yaml:"include_mauritania"`
	Countries         []TargetCountry `yaml:"countries"`
}

// TargetCountry is one row of region_definition.countries. Enabled is a
// pointer so an omitted key defaults to true.
type TargetCountry struct {
	ISO2     string `yaml:"iso2"`
	Name     string `yaml:"name"`
	Enabled  *bool  `yaml:"enabled"`
	Optional bool   `yaml:"optional"`
}

// ResolvedTarget is a configured country after the enable rules are applied.
type ResolvedTarget struct {
	ISO2     string
	Name     string
	Enabled  bool
	Optional bool
}

// Generated is the machine-written section of the targets file.
type Generated struct {
	LastDiscoveredAtUTC string                `yaml:"last_discovered_at_utc"`
	Datasources         []GeneratedDatasource `yaml:"datasources"`
	Resolved            GeneratedResolved     `yaml:"resolved"`
	Coverage            []GeneratedCoverage   `yaml:"coverage"`
}

// GeneratedDatasource records one discovered metric.
type GeneratedDatasource struct {
	Datasource string `yaml:"datasource"`
	Name       string `yaml:"name"`
	Units      string `yaml:"units"`
}

// GeneratedResolved records the entities discovery resolved for the targets.
type GeneratedResolved struct {
	Countries []GeneratedEntity `yaml:"countries"`
	Regions   []GeneratedEntity `yaml:"regions"`
}

// GeneratedEntity is one resolved entity in the generated section.
type GeneratedEntity struct {
	EntityID          string `yaml:"entity_id"`
	EntityName        string `yaml:"entity_name"`
	ISO2              string `yaml:"iso2,omitempty"`
	ParentCountryID   string `yaml:"parent_country_id,omitempty"`
	ParentCountryName string `yaml:"parent_country_name,omitempty"`
}

// GeneratedCoverage is one coverage record in the generated section.
type GeneratedCoverage struct {
	EntityType   string `yaml:"entity_type"`
	EntityID     string `yaml:"entity_id"`
	Metric       string `yaml:"metric"`
	MinTS        *int64 `yaml:"coverage_min_ts"`
	MaxTS        *int64 `yaml:"coverage_max_ts"`
	Status       string `yaml:"coverage_status"`
	Method       string `yaml:"coverage_method"`
	CheckedAtUTC string `yaml:"coverage_checked_at_utc"`
	Source       string `yaml:"coverage_source"`
}

// LoadTargets reads and decodes the targets file.
func LoadTargets(path string) (*TargetsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var t TargetsFile
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}
	if len(t.RegionDefinition.Countries) == 0 {
		return nil, errors.New("targets file has no region_definition.countries")
	}
	return &t, nil
}

// ResolveCountries applies the enable rules to the configured country list.
// An omitted enabled key means true. Mauritania, when marked optional,
// follows the include_mauritania switch instead.
func (t *TargetsFile) ResolveCountries() []ResolvedTarget {
	var out []ResolvedTarget
	for _, c := range t.RegionDefinition.Countries {
		iso := strings.ToUpper(strings.TrimSpace(c.ISO2))
		if iso == "" {
			continue
		}
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		if iso == "MR" && c.Optional {
			enabled = t.RegionDefinition.IncludeMauritania
		}
		name := c.Name
		if name == "" {
			name = iso
		}
		out = append(out, ResolvedTarget{ISO2: iso, Name: name, Enabled: enabled, Optional: c.Optional})
	}
	return out
}

// EnabledISO2 returns the enabled country codes in file order.
func (t *TargetsFile) EnabledISO2() []string {
	var out []string
	for _, r := range t.ResolveCountries() {
		if r.Enabled {
			out = append(out, r.ISO2)
		}
	}
	return out
}

// SaveGenerated replaces only the generated section of the targets file,
// leaving the hand-maintained sections and their comments untouched. The
// file is rewritten atomically.
func SaveGenerated(path string, gen Generated) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read targets file: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse targets file %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return fmt.Errorf("targets file %s is not a YAML mapping", path)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("targets file %s is not a YAML mapping", path)
	}

	var genNode yaml.Node
	if err := genNode.Encode(gen); err != nil {
		return fmt.Errorf("encode generated section: %w", err)
	}

	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "generated" {
			root.Content[i+1] = &genNode
			replaced = true
			break
		}
	}
	if !replaced {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: "generated"}
		root.Content = append(root.Content, key, &genNode)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode targets file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode targets file: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write targets file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace targets file: %w", err)
	}
	return nil
}
