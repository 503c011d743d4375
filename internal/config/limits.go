package config

import (
	"fmt"
	"time"
)

// LimitsConfig enforces per-run resource constraints.
// These feed the budget tracker and executor; they are hard caps, not hints.
type LimitsConfig struct {
	MaxToolCalls        int            `yaml:"max_tool_calls" json:"max_tool_calls"`                 // Total tool calls per run
	MaxCallsPerTool     int            `yaml:"max_calls_per_tool" json:"max_calls_per_tool"`         // Default per-tool cap
	PerToolOverrides    map[string]int `yaml:"per_tool_overrides" json:"per_tool_overrides"`         // tool name -> cap
	MaxOutputBytes      int64          `yaml:"max_output_bytes" json:"max_output_bytes"`             // Cumulative tool output per run
	MaxRunSeconds       int            `yaml:"max_run_seconds" json:"max_run_seconds"`               // Wall clock per run
	ToolTimeoutSeconds  int            `yaml:"tool_timeout_seconds" json:"tool_timeout_seconds"`     // Per tool invocation
	MaxResultBytes      int64          `yaml:"max_result_bytes" json:"max_result_bytes"`             // Truncation threshold per result
	MaxCycles           int            `yaml:"max_cycles" json:"max_cycles"`                         // Tool-calling loop cycles
	MaxParallelCalls    int            `yaml:"max_parallel_calls" json:"max_parallel_calls"`         // Worker cap within one cycle
	RateLimitCalls      int            `yaml:"rate_limit_calls" json:"rate_limit_calls"`             // Default sliding-window size
	RateLimitSeconds    int            `yaml:"rate_limit_seconds" json:"rate_limit_seconds"`         // Default window period
	ProviderRateLimits  map[string]int `yaml:"provider_rate_limits" json:"provider_rate_limits"`     // provider -> calls per window
}

// DefaultLimitsConfig returns conservative defaults.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxToolCalls:       40,
		MaxCallsPerTool:    15,
		MaxOutputBytes:     4 << 20, // 4 MiB cumulative
		MaxRunSeconds:      600,
		ToolTimeoutSeconds: 60,
		MaxResultBytes:     64 << 10, // 64 KiB per result
		MaxCycles:          12,
		MaxParallelCalls:   4,
		RateLimitCalls:     30,
		RateLimitSeconds:   60,
	}
}

// ValidateLimits checks that limits are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	l := c.Limits
	if l.MaxToolCalls < 1 {
		return fmt.Errorf("max_tool_calls must be >= 1")
	}
	if l.MaxCallsPerTool < 1 {
		return fmt.Errorf("max_calls_per_tool must be >= 1")
	}
	if l.MaxOutputBytes < 1024 {
		return fmt.Errorf("max_output_bytes must be >= 1024")
	}
	if l.MaxCycles < 1 {
		return fmt.Errorf("max_cycles must be >= 1")
	}
	if l.MaxParallelCalls < 1 {
		return fmt.Errorf("max_parallel_calls must be >= 1")
	}
	if l.RateLimitCalls < 1 || l.RateLimitSeconds < 1 {
		return fmt.Errorf("rate limit window must be >= 1 call / 1 second")
	}
	return nil
}

// ToolTimeout returns the per-invocation timeout as a duration.
func (l LimitsConfig) ToolTimeout() time.Duration {
	return time.Duration(l.ToolTimeoutSeconds) * time.Second
}

// RunTimeout returns the per-run wall clock cap as a duration.
func (l LimitsConfig) RunTimeout() time.Duration {
	return time.Duration(l.MaxRunSeconds) * time.Second
}

// RateWindow returns the sliding-window period as a duration.
func (l LimitsConfig) RateWindow() time.Duration {
	return time.Duration(l.RateLimitSeconds) * time.Second
}
