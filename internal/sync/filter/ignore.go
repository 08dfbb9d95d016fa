package filter

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const IgnoreFileName = ".s3syncignore"

// TempSuffix marks partial downloads. They are never synced.
const TempSuffix = ".s3sync-tmp"

var defaultIgnoreLines = []string{
	// s3sync
	IgnoreFileName,
	"*" + TempSuffix,
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// WithDefaultIgnores adds the built-in ignore rules.
func WithDefaultIgnores() Option {
	return func(f *Filter) error {
		f.ignore = gitignore.CompileIgnoreLines(defaultIgnoreLines...)
		return nil
	}
}

// WithIgnoreFile compiles the default rules plus the gitignore style rules in
// path. A missing file only yields the defaults.
func WithIgnoreFile(fsys afero.Fs, path string) Option {
	return func(f *Filter) error {
		lines := append([]string(nil), defaultIgnoreLines...)

		file, err := fsys.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			f.ignore = gitignore.CompileIgnoreLines(lines...)
			return nil
		} else if err != nil {
			slog.Warn("failed to open ignore file", "path", path, "error", err)
			f.ignore = gitignore.CompileIgnoreLines(lines...)
			return nil
		}
		defer file.Close()

		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				lines = append(lines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading ignore file", "path", path, "error", err)
		} else {
			slog.Debug("loaded ignore file", "path", path, "rules", rules)
		}

		f.ignore = gitignore.CompileIgnoreLines(lines...)
		return nil
	}
}
