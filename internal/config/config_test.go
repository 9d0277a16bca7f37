package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/enso/pkg/hooks"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "enso.json"))
	require.NoError(t, err)

	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "anthropic", cfg.Models[0].Provider)
	assert.Equal(t, "default", cfg.Tools.ApprovalMode)
	assert.NotEmpty(t, cfg.Session.StorePath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadReadsFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enso.json")
	content := `{
		"models": [{"provider": "openai", "model": "gpt-4o", "token_limit": 128000}],
		"tools": {"approval_mode": "yolo"},
		"agent": {"max_session_turns": 50}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "openai", cfg.Models[0].Provider)
	assert.Equal(t, 128000, cfg.Models[0].TokenLimit)
	assert.Equal(t, "yolo", cfg.Tools.ApprovalMode)
	assert.Equal(t, 50, cfg.Agent.MaxSessionTurns)
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enso.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Agent.TurnBudget = 7
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Agent.TurnBudget)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no models", func(c *Config) { c.Models = nil }},
		{"bad provider", func(c *Config) { c.Models[0].Provider = "bedrock" }},
		{"empty model", func(c *Config) { c.Models[0].Model = "" }},
		{"temperature range", func(c *Config) { c.Models[0].Temperature = 1.5 }},
		{"approval mode", func(c *Config) { c.Tools.ApprovalMode = "sometimes" }},
		{"negative budget", func(c *Config) { c.Agent.TurnBudget = -1 }},
		{"compression range", func(c *Config) { c.Agent.CompressionThreshold = 2 }},
		{"empty hook command", func(c *Config) {
			c.Hooks.Settings.Groups = map[hooks.Event][]hooks.Group{
				hooks.BeforeTool: {{Hooks: []hooks.Definition{{Command: ""}}}},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enso.json")
	loader := NewLoader(path)
	require.NoError(t, loader.Save(DefaultConfig()))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	cfg := DefaultConfig()
	cfg.Agent.TurnBudget = 99
	require.NoError(t, loader.Save(cfg))

	select {
	case got := <-reloaded:
		assert.Equal(t, 99, got.Agent.TurnBudget)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enso.json")
	loader := NewLoader(path)
	require.NoError(t, loader.Save(DefaultConfig()))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(loader, func(cfg *Config) { reloaded <- cfg }, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"models": []}`), 0o644))

	select {
	case <-reloaded:
		t.Fatal("invalid config must not reach the callback")
	case <-time.After(time.Second):
	}
}
