package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/enso/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("writes config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "enso.json")
		cfgFile = path
		configureProvider = "openai"
		configureModel = "gpt-4o"
		configureAPIKey = "test-key"
		defer func() {
			cfgFile = ""
			configureProvider, configureModel, configureAPIKey = "", "", ""
		}()

		output := &bytes.Buffer{}
		configureCmd.SetOut(output)

		err := runConfigure(configureCmd, nil)
		require.NoError(t, err)

		_, err = os.Stat(path)
		require.NoError(t, err)
		assert.Contains(t, output.String(), path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.Models[0].Provider)
		assert.Equal(t, "gpt-4o", cfg.Models[0].Model)
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfgFile = filepath.Join(t.TempDir(), "enso.json")
		configureProvider = "bedrock"
		defer func() {
			cfgFile = ""
			configureProvider = ""
		}()

		err := runConfigure(configureCmd, nil)
		assert.Error(t, err)
	})
}
