package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

var errEmptyPath = errors.New("empty path")

// ResolvePath expands a leading ~ and returns the cleaned absolute path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errEmptyPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	// Abs cleans the result
	return filepath.Abs(expanded)
}

// EnsureDir creates dir and its parents. An existing directory is fine.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// EnsureParent creates the directory that will hold file.
func EnsureParent(file string) error {
	return EnsureDir(filepath.Dir(file))
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// IsWritable reports whether files can be created in dir by creating and
// removing a temporary file.
func IsWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".s3sync-writable-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
