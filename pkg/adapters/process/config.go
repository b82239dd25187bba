package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/stratum/pkg/schema"
	"gopkg.in/yaml.v3"
)

// StrategyConfig registers the local command serving a strategy.
type StrategyConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	WorkerType  string            `yaml:"worker_type" json:"worker_type"`
	Timeout     Duration          `yaml:"timeout" json:"timeout"`
	// Input is checked against the session context during PLANNING.
	Input schema.Schema `yaml:"input,omitempty" json:"input,omitempty"`
	// Output is checked against the payload during VALIDATING.
	Output schema.Schema `yaml:"output,omitempty" json:"output,omitempty"`
}

// Duration is a time.Duration written as "30s" in configuration files.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ConfigFile represents the structure of strategies.yaml
type ConfigFile struct {
	Strategies []StrategyConfig `yaml:"strategies" json:"strategies"`
}

// LoadStrategies reads a configuration file (YAML or JSON) and returns a map of strategy IDs to configs.
// A missing file yields an empty registry.
func LoadStrategies(path string) (map[string]StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]StrategyConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read strategies config: %w", err)
	}

	var cfg ConfigFile
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	strategies := make(map[string]StrategyConfig)
	for _, s := range cfg.Strategies {
		if s.Name == "" || s.Command == "" {
			continue
		}
		strategies[s.Name] = s
	}

	return strategies, nil
}
