package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	settings := validSettings()
	settings.Main.Name = "garden-node"
	settings.Realtime.Species.Exclude = []string{"Corvus corone"}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveSettings(settings, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Settings
	require.NoError(t, yaml.Unmarshal(data, &loaded))

	assert.Equal(t, "garden-node", loaded.Main.Name)
	assert.Equal(t, settings.BirdNET.Threshold, loaded.BirdNET.Threshold)
	assert.Equal(t, settings.Realtime.Cooldown.Reset, loaded.Realtime.Cooldown.Reset)
	assert.Equal(t, []string{"Corvus corone"}, loaded.Realtime.Species.Exclude)
	assert.True(t, loaded.Output.SQLite.Enabled)
}

func TestSaveSettingsRejectsBadPath(t *testing.T) {
	t.Parallel()

	err := SaveSettings(validSettings(), filepath.Join(t.TempDir(), "missing", "config.yaml"))
	assert.Error(t, err)
}
