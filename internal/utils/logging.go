// Package utils holds small helpers shared by the s3sync packages.
package utils

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// LogOptions configures NewLogger.
type LogOptions struct {
	// Console receives colored, human oriented lines at Level.
	Console io.Writer
	NoColor bool
	Level   slog.Leveler

	// File, when set, receives every record at debug level as logfmt.
	File io.Writer
}

// NewLogger builds the process logger. Console output uses tint, the file copy
// uses the standard text handler so it stays grep friendly.
func NewLogger(o LogOptions) *slog.Logger {
	var handlers fanout
	if o.Console != nil {
		handlers = append(handlers, tint.NewHandler(o.Console, &tint.Options{
			Level:      o.Level,
			TimeFormat: "15:04:05.000",
			NoColor:    o.NoColor,
		}))
	}
	if o.File != nil {
		handlers = append(handlers, slog.NewTextHandler(o.File, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(handlers)
}

// OpenLogFile opens path for appending. A file that already holds more than
// maxBytes is moved to path.1 first, replacing any older one.
func OpenLogFile(path string, maxBytes int64) (*os.File, error) {
	if err := EnsureParent(path); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(path); err == nil && maxBytes > 0 && fi.Size() > maxBytes {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// handlers may retain the record
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
