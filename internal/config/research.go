package config

import (
	"fmt"
	"time"
)

// ResearchConfig configures the research orchestrator.
type ResearchConfig struct {
	// TotalBudgetSeconds is the wall-clock budget for a whole session.
	TotalBudgetSeconds int `yaml:"total_budget_seconds" json:"total_budget_seconds"`

	// MaxSteps caps how many sub-queries decomposition may produce.
	MaxSteps int `yaml:"max_steps" json:"max_steps"`

	// MaxStepRetries caps retries per step before it is failed permanently.
	MaxStepRetries int `yaml:"max_step_retries" json:"max_step_retries"`

	// MaxConcurrentSteps bounds the step worker pool.
	MaxConcurrentSteps int `yaml:"max_concurrent_steps" json:"max_concurrent_steps"`

	// MinStepSeconds is the smallest slice a step is ever given.
	MinStepSeconds int `yaml:"min_step_seconds" json:"min_step_seconds"`
}

// DefaultResearchConfig returns sensible research defaults.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		TotalBudgetSeconds: 300,
		MaxSteps:           6,
		MaxStepRetries:     2,
		MaxConcurrentSteps: 2,
		MinStepSeconds:     10,
	}
}

// ValidateResearch checks research settings.
func (c *Config) ValidateResearch() error {
	r := c.Research
	if r.TotalBudgetSeconds < 10 {
		return fmt.Errorf("total_budget_seconds must be >= 10")
	}
	if r.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be >= 1")
	}
	if r.MaxStepRetries < 0 {
		return fmt.Errorf("max_step_retries must be >= 0")
	}
	if r.MaxConcurrentSteps < 1 {
		return fmt.Errorf("max_concurrent_steps must be >= 1")
	}
	return nil
}

// TotalBudget returns the session budget as a duration.
func (r ResearchConfig) TotalBudget() time.Duration {
	return time.Duration(r.TotalBudgetSeconds) * time.Second
}

// MinStepSlice returns the minimum step slice as a duration.
func (r ResearchConfig) MinStepSlice() time.Duration {
	return time.Duration(r.MinStepSeconds) * time.Second
}
