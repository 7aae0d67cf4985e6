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

// ChangeFunc is called with the previous config, the new one and what changed
// between them.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// snapshot is one successfully parsed version of the config file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// readSnapshot parses and validates path.
func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}

// Watcher polls a config file and calls a [ChangeFunc] when a valid, changed
// version appears. Invalid versions are logged and ignored; the last valid
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// reloadMu serialises polls and forced reloads. It guards last.
	reloadMu sync.Mutex
	last     snapshot

	curMu sync.RWMutex
	cur   *Config

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in a background goroutine.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		last:     snap,
		cur:      snap.cfg,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.curMu.RLock()
	defer w.curMu.RUnlock()
	return w.cur
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload re-reads the file now, even if its modification time is unchanged.
// An invalid file is reported and the current config is kept.
func (w *Watcher) Reload() error {
	return w.reload(true)
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if err := w.reload(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		if info.ModTime().Equal(w.last.mtime) {
			return nil
		}
	}

	snap, err := readSnapshot(w.path)
	if err != nil {
		return err
	}
	unchanged := snap.sum == w.last.sum
	old := w.last.cfg
	w.last.mtime = snap.mtime
	if unchanged {
		return nil
	}
	w.last = snap

	w.curMu.Lock()
	w.cur = snap.cfg
	w.curMu.Unlock()

	d := Diff(old, snap.cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path, "restart_required", d.RestartRequired)
	if w.onChange != nil && d.Changed() {
		w.onChange(old, snap.cfg, d)
	}
	return nil
}
