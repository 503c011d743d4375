package config

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider string `yaml:"provider" json:"provider"` // gemini
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	Timeout  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// DefaultLLMConfig returns defaults for the Gemini backend.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "gemini",
		Model:    "gemini-2.0-flash",
		Timeout:  120,
	}
}
