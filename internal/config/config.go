package config

import (
	"time"

	"github.com/harun/enso/pkg/hooks"
)

// Config is the full engine configuration.
type Config struct {
	// Models is the ordered model preference list; the first entry is the
	// primary, later entries are fallbacks.
	Models []ModelConfig `json:"models" mapstructure:"models"`

	// Agent holds conversation-loop settings.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools holds tool execution settings.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Hooks is the lifecycle hook configuration.
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Session holds transcript persistence settings.
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging holds log output settings.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics holds the observability endpoint settings.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// DataDir is the root for state files (sessions, logs).
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig selects one model preference.
type ModelConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	TokenLimit  int     `json:"token_limit" mapstructure:"token_limit"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// AgentConfig holds conversation-loop settings.
type AgentConfig struct {
	SystemPrompt            string  `json:"system_prompt" mapstructure:"system_prompt"`
	TurnBudget              int     `json:"turn_budget" mapstructure:"turn_budget"`
	MaxSessionTurns         int     `json:"max_session_turns" mapstructure:"max_session_turns"`
	CompressionThreshold    float64 `json:"compression_threshold" mapstructure:"compression_threshold"`
	TolerateFailedCalls     bool    `json:"tolerate_failed_calls" mapstructure:"tolerate_failed_calls"`
	ClearHistoryOnAgentStop bool    `json:"clear_history_on_agent_stop" mapstructure:"clear_history_on_agent_stop"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	// ApprovalMode is "default" or "yolo".
	ApprovalMode string `json:"approval_mode" mapstructure:"approval_mode"`
	// WorkDir is the working directory for shell commands.
	WorkDir string `json:"work_dir" mapstructure:"work_dir"`
	// ShellTimeout bounds one shell command.
	ShellTimeout time.Duration `json:"shell_timeout" mapstructure:"shell_timeout"`
	// Checkpoints enables pre-execution restore points for mutating tools.
	Checkpoints bool `json:"checkpoints" mapstructure:"checkpoints"`
}

// HooksConfig holds the lifecycle hook configuration plus watcher settings.
type HooksConfig struct {
	Settings hooks.Settings `json:"settings" mapstructure:"settings"`
	// WatchConfig reloads hook settings when the config file changes.
	WatchConfig bool `json:"watch_config" mapstructure:"watch_config"`
}

// SessionConfig holds transcript persistence settings.
type SessionConfig struct {
	// StorePath is the SQLite database path; empty uses DataDir.
	StorePath string `json:"store_path" mapstructure:"store_path"`
	// Retention bounds how long finished transcripts are kept.
	Retention time.Duration `json:"retention" mapstructure:"retention"`
	// SweepSchedule is a cron expression for the retention sweep.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the observability endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Models: []ModelConfig{
			{Provider: "anthropic", Model: "claude-sonnet-4-20250514", TokenLimit: 200000, MaxRetries: 3},
		},
		Agent: AgentConfig{
			TurnBudget:           24,
			MaxSessionTurns:      200,
			CompressionThreshold: 0.8,
			TolerateFailedCalls:  true,
		},
		Tools: ToolsConfig{
			ApprovalMode: "default",
			ShellTimeout: 2 * time.Minute,
			Checkpoints:  true,
		},
		Hooks: HooksConfig{
			Settings: hooks.Settings{
				DefaultTimeout: 30 * time.Second,
			},
			WatchConfig: true,
		},
		Session: SessionConfig{
			Retention:     7 * 24 * time.Hour,
			SweepSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}
