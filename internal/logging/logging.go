// Package logging builds the process-wide [slog.Logger].
//
// Records are written as text to stderr and, when a file is configured, to a
// size-rotated log file managed by lumberjack. The same file backs the /logs
// status endpoint through [Tail].
package logging

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures [New].
type Options struct {
	// Level is the minimum record level. It is shared so the level can be
	// changed at runtime (e.g. on config reload).
	Level *slog.LevelVar

	// File is the log file path. Empty disables file output.
	File string

	// MaxSizeMB is the size at which the file is rotated. Default 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default 3.
	MaxBackups int

	// MaxAgeDays is the maximum age of rotated files. Zero keeps them forever.
	MaxAgeDays int

	// Stderr overrides the console writer. Defaults to os.Stderr.
	Stderr io.Writer
}

// New returns a text logger writing to stderr and the optional rotating file.
// The returned closer releases the file and must be called on shutdown.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	var console io.Writer = os.Stderr
	if opts.Stderr != nil {
		console = opts.Stderr
	}

	if opts.File == "" {
		return slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, err
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: backups,
		MaxAge:     opts.MaxAgeDays,
	}
	w := io.MultiWriter(console, file)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), file, nil
}

// ParseLevel maps a config level name to an [slog.Level]. Unknown names map
// to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Tail returns the last n lines of the file at path, oldest first. A missing
// file yields an empty result.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return ring[:count], nil
	}
	out := make([]string, 0, n)
	start := count % n
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}

// Tailer returns a function bound to path, suitable for the status handler.
func Tailer(path string) func(n int) ([]string, error) {
	return func(n int) ([]string, error) { return Tail(path, n) }
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
