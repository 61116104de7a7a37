package internal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRepository, cfg.Repository)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval.Duration)
	assert.Equal(t, DefaultGracePeriod, cfg.GracePeriod.Duration)
	assert.Equal(t, DefaultForceInstallCountdown, cfg.ForceInstallCountdown.Duration)
	require.NotNil(t, cfg.AutoDownload)
	assert.True(t, *cfg.AutoDownload)
	assert.False(t, cfg.MetricsEnabled)
	assert.FileExists(t, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "72h0m0s", stored["GracePeriod"])
}

func TestUpdateOrCreateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := ReadConfig(path)
	require.NoError(t, err)

	grace := time.Second
	autoDownload := false
	checksums := "checksums.txt"
	cfg, err := UpdateOrCreateConfig(ConfigInput{
		ConfigPath:   path,
		Repository:   "acme/app",
		GracePeriod:  &grace,
		AutoDownload: &autoDownload,
		ChecksumFile: &checksums,
	})
	require.NoError(t, err)
	assert.Equal(t, "acme/app", cfg.Repository)
	assert.Equal(t, time.Second, cfg.GracePeriod.Duration)
	assert.False(t, *cfg.AutoDownload)
	assert.Equal(t, "checksums.txt", cfg.ChecksumFile)

	reread, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reread)
}

func TestConfig_Validation(t *testing.T) {
	t.Run("repository needs owner and name", func(t *testing.T) {
		_, err := UpdateOrCreateConfig(ConfigInput{
			ConfigPath: filepath.Join(t.TempDir(), "config.json"),
			Repository: "no-slash",
		})
		assert.Error(t, err)
	})

	t.Run("check interval has a floor", func(t *testing.T) {
		interval := time.Second
		cfg, err := UpdateOrCreateConfig(ConfigInput{
			ConfigPath:    filepath.Join(t.TempDir(), "config.json"),
			CheckInterval: &interval,
		})
		require.NoError(t, err)
		assert.Equal(t, minCheckInterval, cfg.CheckInterval.Duration)
	})
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Duration)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}
