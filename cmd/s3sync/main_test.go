package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/s3sync/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.PersistentFlags().StringP("config", "c", "", "path to config file")
	return cmd
}

func TestResolveConfigPathFlagBeatsEnv(t *testing.T) {
	cmd := newTestCmd()
	flagPath := "/tmp/flag/config.json"

	t.Setenv("S3SYNC_CONFIG_PATH", "/tmp/env/config.json")
	assert.NoError(t, cmd.PersistentFlags().Set("config", flagPath))

	assert.Equal(t, flagPath, resolveConfigPath(cmd))
}

func TestResolveConfigPathUsesEnvWhenNoFlag(t *testing.T) {
	cmd := newTestCmd()
	envPath := "/tmp/env/config.json"
	t.Setenv("S3SYNC_CONFIG_PATH", envPath)

	assert.Equal(t, envPath, resolveConfigPath(cmd))
}

func TestResolveConfigPathFindsXDGFile(t *testing.T) {
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		t.Skip("a real config exists at the default path")
	}
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("S3SYNC_CONFIG_PATH", "")

	existing := filepath.Join(tempHome, ".config", "s3sync", "config.json")
	assert.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	assert.NoError(t, os.WriteFile(existing, []byte("{}"), 0o644))

	assert.Equal(t, existing, resolveConfigPath(newTestCmd()))
}

func TestResolveConfigPathEmptyWhenNothingExists(t *testing.T) {
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		t.Skip("a real config exists at the default path")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("S3SYNC_CONFIG_PATH", "")

	assert.Empty(t, resolveConfigPath(newTestCmd()))
}

func TestSyncWithoutFolders_HintsAddFolder(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	assert.NoError(t, os.WriteFile(cfgPath, []byte(`{"folders": []}`), 0o644))

	out, code := runCLI(t, "--config", cfgPath, "sync")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, config.ErrNoFolders.Error())
	assert.Contains(t, out, "s3sync config add-folder")
}
