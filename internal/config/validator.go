package config

import (
	"fmt"
)

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	for i, m := range c.Models {
		switch m.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("models[%d]: unsupported provider %q", i, m.Provider)
		}
		if m.Model == "" {
			return fmt.Errorf("models[%d]: model name cannot be empty", i)
		}
		if m.Temperature < 0 || m.Temperature > 1 {
			return fmt.Errorf("models[%d]: temperature must be between 0 and 1", i)
		}
		if m.TokenLimit < 0 {
			return fmt.Errorf("models[%d]: token limit cannot be negative", i)
		}
	}

	switch c.Tools.ApprovalMode {
	case "default", "yolo":
	default:
		return fmt.Errorf("tools.approval_mode must be \"default\" or \"yolo\", got %q", c.Tools.ApprovalMode)
	}

	if c.Agent.TurnBudget < 0 {
		return fmt.Errorf("agent.turn_budget cannot be negative")
	}
	if c.Agent.MaxSessionTurns < 0 {
		return fmt.Errorf("agent.max_session_turns cannot be negative")
	}
	if c.Agent.CompressionThreshold < 0 || c.Agent.CompressionThreshold > 1 {
		return fmt.Errorf("agent.compression_threshold must be between 0 and 1")
	}

	for event, groups := range c.Hooks.Settings.Groups {
		for gi, group := range groups {
			if len(group.Hooks) == 0 {
				return fmt.Errorf("hooks.%s[%d]: group has no hooks", event, gi)
			}
			for hi, def := range group.Hooks {
				if def.Command == "" {
					return fmt.Errorf("hooks.%s[%d].hooks[%d]: command cannot be empty", event, gi, hi)
				}
				if def.Timeout < 0 {
					return fmt.Errorf("hooks.%s[%d].hooks[%d]: timeout cannot be negative", event, gi, hi)
				}
			}
		}
	}

	if c.Session.Retention < 0 {
		return fmt.Errorf("session.retention cannot be negative")
	}

	return nil
}
