// Package config loads and validates fathom configuration.
// Configuration lives at .fathom/config.yaml in the workspace; every field
// has a usable default so a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all fathom configuration.
type Config struct {
	// Core settings
	Name      string `yaml:"name" json:"name"`
	Workspace string `yaml:"workspace" json:"workspace"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Per-run resource limits
	Limits LimitsConfig `yaml:"limits" json:"limits"`

	// Research orchestration
	Research ResearchConfig `yaml:"research" json:"research"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Store
	Store StoreConfig `yaml:"store" json:"store"`
}

// StoreConfig configures session/note persistence.
type StoreConfig struct {
	// DatabasePath is the SQLite file, relative to the workspace when not absolute.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Name:     "fathom",
		LLM:      DefaultLLMConfig(),
		Limits:   DefaultLimitsConfig(),
		Research: DefaultResearchConfig(),
		Logging:  DefaultLoggingConfig(),
		Store: StoreConfig{
			DatabasePath: filepath.Join(".fathom", "fathom.db"),
		},
	}
}

// Load reads configuration from .fathom/config.yaml under workspace.
// A missing file yields defaults; a malformed file is an error.
// Environment overrides are applied after the file.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".fathom", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Workspace = workspace
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv applies environment variable overrides.
// Secrets never belong in the config file; FATHOM_API_KEY (or GEMINI_API_KEY)
// wins over anything on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("FATHOM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FATHOM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("FATHOM_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.ValidateLimits(); err != nil {
		return err
	}
	if err := c.ValidateResearch(); err != nil {
		return err
	}
	return nil
}

// DatabasePath resolves the store path against the workspace.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Store.DatabasePath) {
		return c.Store.DatabasePath
	}
	return filepath.Join(c.Workspace, c.Store.DatabasePath)
}
