package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one revision of the config file. The size and
// mtime are checked first; the hash decides when they differ.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls a config file and hands every new valid revision to a
// callback. Editors that rewrite in place and those that rename over the
// file are both picked up. A revision that fails to parse or validate is
// logged once and skipped; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// checkMu serialises checks so callbacks never run concurrently.
	checkMu  sync.Mutex
	mu       sync.Mutex
	current  *Config
	applied  fingerprint
	rejected fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in the background. It fails
// when the initial revision cannot be loaded.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	fp, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.applied = fp

	go w.run()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.Check()
		}
	}
}

// Check looks at the file now instead of waiting for the next tick and
// reports whether a new revision was applied. Useful as a SIGHUP handler.
func (w *Watcher) Check() bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	applied, rejected := w.applied, w.rejected
	w.mu.Unlock()
	if sameStat(info, applied) || sameStat(info, rejected) {
		return false
	}

	fp, data, err := w.read()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return false
	}
	if fp.sum == applied.sum {
		// Touched without a content change.
		w.mu.Lock()
		w.applied = fp
		w.mu.Unlock()
		return false
	}
	if fp.sum == rejected.sum {
		return false
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		w.mu.Lock()
		w.rejected = fp
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.applied = fp
	w.rejected = fingerprint{}
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

func (w *Watcher) read() (fingerprint, []byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fingerprint{}, nil, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return fingerprint{}, nil, err
	}
	return fingerprint{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, data, nil
}

func sameStat(info os.FileInfo, fp fingerprint) bool {
	return !fp.mtime.IsZero() && info.ModTime().Equal(fp.mtime) && info.Size() == fp.size
}
