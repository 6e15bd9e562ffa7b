package hierarchy

import (
    "fmt"
    "os"

    "gopkg.in/yaml.v3"
)

// Config is the on-disk study-area configuration. It tunes loading and lets
// deployments override subject display names without touching the source
// data.
type Config struct {
    SimplifyTolerance float64           `yaml:"simplifyTolerance"`
    ContainTolerance  float64           `yaml:"containTolerance"`
    DisplayOverrides  map[string]string `yaml:"displayOverrides"`
}

// LoadConfig reads a YAML config file. A missing path yields the zero
// Config.
func LoadConfig(path string) (Config, error) {
    var cfg Config
    if path == "" {
        return cfg, nil
    }
    b, err := os.ReadFile(path)
    if err != nil {
        return cfg, fmt.Errorf("read config: %w", err)
    }
    if err := yaml.Unmarshal(b, &cfg); err != nil {
        return cfg, fmt.Errorf("parse config: %w", err)
    }
    return cfg, nil
}

// Options converts the config into loader options.
func (c Config) Options() Options {
    return Options{SimplifyTolerance: c.SimplifyTolerance, ContainTolerance: c.ContainTolerance}
}

// ApplyDisplayOverrides rewrites subject display names in place.
func (h *Hierarchy) ApplyDisplayOverrides(overrides map[string]string) {
    for i, s := range h.subjects {
        if d, ok := overrides[s.Name]; ok && d != "" {
            h.subjects[i].Display = d
        }
    }
}
