package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] looks at the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher follows a config file while the app runs. When the file's content
// changes to a valid config that differs in something the app reads (see
// [Diff]), onChange gets the previous and the new config. Edits that only
// touch comments or formatting are absorbed silently.
//
// A file that fails to parse or validate is rejected: the previous config
// stays current and the rejection is logged once per distinct content.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	rejected error

	// Owned by Run. lastHash is the content last looked at, appliedHash the
	// content current came from.
	lastMtime   time.Time
	lastHash    [sha256.Size]byte
	appliedHash [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once, failing if it is not a valid config, and
// returns a watcher that follows it from [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.lastHash = sha256.Sum256(data)
	w.appliedHash = w.lastHash
	w.lastMtime = mtime
	return w, nil
}

// Current returns the config in effect: the last valid one read.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Rejected returns why the file's latest content was not applied, or nil when
// the file on disk is the config in effect.
func (w *Watcher) Rejected() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rejected
}

// Run polls the file until ctx is done. It always returns nil; an unreadable
// or invalid file never stops the app.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

// check applies the file if its content changed since the last check.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.unreadable(err)
		return
	}
	if info.ModTime().Equal(w.lastMtime) {
		return
	}

	data, mtime, err := w.read()
	if err != nil {
		w.unreadable(err)
		return
	}
	w.lastMtime = mtime
	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash
	if hash == w.appliedHash {
		w.setRejected(nil)
		return
	}

	cfg, err := parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		w.reject(err, "config watcher: file rejected; keeping the previous config")
		return
	}

	w.appliedHash = hash
	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.rejected = nil
	w.mu.Unlock()

	if d := Diff(old, cfg); d.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// unreadable forgets the last content so the file is looked at afresh once
// it can be read again.
func (w *Watcher) unreadable(err error) {
	w.lastMtime = time.Time{}
	w.lastHash = [sha256.Size]byte{}
	w.reject(err, "config watcher: cannot read file")
}

func (w *Watcher) setRejected(err error) {
	w.mu.Lock()
	w.rejected = err
	w.mu.Unlock()
}

// reject records err, logging it only when it differs from the last one.
func (w *Watcher) reject(err error, msg string) {
	w.mu.Lock()
	repeat := w.rejected != nil && w.rejected.Error() == err.Error()
	w.rejected = err
	w.mu.Unlock()
	if !repeat {
		slog.Warn(msg, "path", w.path, "err", err)
	}
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, time.Time{}, err
	}
	return buf.Bytes(), info.ModTime(), nil
}
