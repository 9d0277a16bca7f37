package model

import "fmt"

// NewClient creates a Client for the provider named in the configuration.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
