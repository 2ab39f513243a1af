// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the optional log file.
const (
	MaxSizeMB  = 50
	MaxBackups = 5
	MaxAgeDays = 28
)

// New returns a JSON logger writing to out at the given level ("debug",
// "info", "warn", "error"; anything else means info). When file is set, the
// same lines also go to a size-rotated file; close the returned io.Closer on
// shutdown to release it.
func New(level, file string, out io.Writer) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	var closer io.Closer = nopCloser{}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    MaxSizeMB,
			MaxBackups: MaxBackups,
			MaxAge:     MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotating)
		closer = rotating
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
