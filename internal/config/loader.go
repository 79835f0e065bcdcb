package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses an orchestrator configuration from the given YAML
// file path, then applies defaults for anything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./steward.yaml, ~/.steward/config.yaml.
// If no file exists, the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"steward.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".steward", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}

// applyDefaults fills in zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.BaseDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.BaseDir = filepath.Join(home, ".steward")
		} else {
			cfg.BaseDir = ".steward"
		}
	}
	if cfg.RepoDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.RepoDir = wd
		} else {
			cfg.RepoDir = "."
		}
	}
	if cfg.SkipExisting == nil {
		cfg.SkipExisting = map[string]bool{
			StageTriage: true,
			StageLLD:    true,
			StageSpec:   true,
		}
	}
	if cfg.Gates == nil {
		cfg.Gates = map[string]bool{}
	}
	if cfg.MaxStageRetries == 0 {
		cfg.MaxStageRetries = 3
	}
	if cfg.RetryDelaySeconds == 0 {
		cfg.RetryDelaySeconds = 10
	}
	if cfg.CredentialTimeoutSeconds == 0 {
		cfg.CredentialTimeoutSeconds = 30
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.Model == "" {
		cfg.Model = "sonnet"
	}
	if cfg.PRBase == "" {
		cfg.PRBase = "main"
	}
}
