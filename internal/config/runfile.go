package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/grabbit/grabbit/internal/models"
)

// RunFile declares one download run: what to fetch and how to filter it.
type RunFile struct {
	Target      TargetSpec   `yaml:"target"`
	Limit       int          `yaml:"limit"`
	Composition string       `yaml:"composition"`
	Filters     []FilterSpec `yaml:"filters"`
	OutputDir   string       `yaml:"output_dir"`
}

// TargetSpec names the discovery target.
type TargetSpec struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

// FilterSpec declares one filter by registry name plus options.
type FilterSpec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// LoadRunFile parses and validates a run file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse run file: %w", err)
	}
	if err := rf.validate(); err != nil {
		return nil, fmt.Errorf("invalid run file: %w", err)
	}
	return &rf, nil
}

func (rf *RunFile) validate() error {
	switch models.TargetKind(rf.Target.Kind) {
	case models.TargetUser, models.TargetForum, models.TargetSaved, models.TargetSearch:
	default:
		return fmt.Errorf("unknown target kind %q", rf.Target.Kind)
	}
	if rf.Target.Name == "" && rf.Target.Kind != string(models.TargetSaved) {
		return fmt.Errorf("target name is required")
	}
	if rf.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	switch rf.Composition {
	case "", "and", "or":
	default:
		return fmt.Errorf("composition must be 'and' or 'or', got %q", rf.Composition)
	}
	for i, f := range rf.Filters {
		if f.Name == "" {
			return fmt.Errorf("filter %d has no name", i)
		}
	}
	return nil
}

// TargetValue returns the declared discovery target.
func (rf *RunFile) TargetValue() models.Target {
	return models.Target{Kind: models.TargetKind(rf.Target.Kind), Name: rf.Target.Name}
}
