package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	cases := map[string]string{
		"~/Documents/../Sync": filepath.Join(home, "Sync"),
		"photos/./2024/":      filepath.Join(cwd, "photos", "2024"),
		"/srv//media/":        "/srv/media",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := ResolvePath(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err = ResolvePath("")
	assert.ErrorIs(t, err, errEmptyPath)
}

func TestEnsureParent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state", "logs", "s3sync.log")
	require.NoError(t, EnsureParent(target))
	assert.True(t, DirExists(filepath.Dir(target)))
	assert.False(t, FileExists(target))

	// idempotent
	require.NoError(t, EnsureParent(target))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, EnsureDir(file))
}

func TestExistsHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}

func TestIsWritable(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, IsWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file is removed")

	assert.False(t, IsWritable(filepath.Join(dir, "missing")))
}
