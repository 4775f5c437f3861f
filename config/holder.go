package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Editors often emit several write events for one save.
const reloadDebounce = 100 * time.Millisecond

// Holder provides thread-safe access to configuration with hot reload support.
// File events and SIGHUP are served by a single watch loop.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	config   *Config
	digest   [sha256.Size]byte
	onChange []func(*Config)
	onReload []func(error)

	loopOnce sync.Once
	stopOnce sync.Once
	stopCh   chan struct{}
	watcher  *fsnotify.Watcher
	sigCh    chan os.Signal
}

// NewHolder loads path and returns a holder for it. Nothing is watched until
// WatchFile or WatchSignals is called.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	cfg, digest, err := loadWithDigest(absPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:   absPath,
		logger: logger.With().Str("config", absPath).Logger(),
		config: cfg,
		digest: digest,
		stopCh: make(chan struct{}),
	}, nil
}

func loadWithDigest(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// OnChange registers fn to run with the new configuration after a successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// OnReload registers fn to run after every reload attempt with its error,
// nil on success.
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	h.onReload = append(h.onReload, fn)
	h.mu.Unlock()
}

// Reload reads the file again. An invalid file keeps the current configuration.
func (h *Holder) Reload() error {
	return h.reload(true)
}

func (h *Holder) reload(force bool) error {
	cfg, digest, err := loadWithDigest(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		err = fmt.Errorf("reload config: %w", err)
		h.finish(nil, err)
		return err
	}

	h.mu.Lock()
	if !force && digest == h.digest {
		h.mu.Unlock()
		return nil
	}
	old := h.config
	h.config = cfg
	h.digest = digest
	h.mu.Unlock()

	h.logChanges(old, cfg)
	h.finish(cfg, nil)
	return nil
}

func (h *Holder) finish(cfg *Config, err error) {
	h.mu.RLock()
	onChange := append([]func(*Config){}, h.onChange...)
	onReload := append([]func(error){}, h.onReload...)
	h.mu.RUnlock()

	if err == nil {
		for _, fn := range onChange {
			fn(cfg)
		}
	}
	for _, fn := range onReload {
		fn(err)
	}
}

// WatchFile reloads the configuration when the file is written. The parent
// directory is watched so atomic saves (rename over the file) are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	h.mu.Lock()
	h.watcher = watcher
	h.mu.Unlock()

	h.startLoop()
	h.logger.Info().Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads the configuration on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	h.mu.Lock()
	h.sigCh = sigCh
	h.mu.Unlock()

	h.startLoop()
	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop ends the watch loop. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.sigCh != nil {
			signal.Stop(h.sigCh)
		}
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) startLoop() {
	h.loopOnce.Do(func() { go h.loop() })
}

func (h *Holder) loop() {
	filename := filepath.Base(h.path)
	var debounce <-chan time.Time

	for {
		// The watcher and signal channel may be attached after the loop starts.
		h.mu.RLock()
		var events <-chan fsnotify.Event
		var errs <-chan error
		if h.watcher != nil {
			events, errs = h.watcher.Events, h.watcher.Errors
		}
		sigCh := h.sigCh
		h.mu.RUnlock()

		select {
		case event, ok := <-events:
			if !ok {
				h.clearWatcher()
				continue
			}
			if filepath.Base(event.Name) != filename || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Msg("config file changed")
			debounce = time.After(reloadDebounce)

		case <-debounce:
			debounce = nil
			if err := h.reload(false); err != nil {
				h.logger.Error().Err(err).Msg("file watch reload failed")
			}

		case err, ok := <-errs:
			if !ok {
				h.clearWatcher()
				continue
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-sigCh:
			h.logger.Info().Msg("received SIGHUP, reloading config")
			if err := h.Reload(); err != nil {
				h.logger.Error().Err(err).Msg("SIGHUP reload failed")
			}

		case <-h.stopCh:
			return

		case <-time.After(time.Second):
			// Picks up a watcher or signal channel attached after the loop started.
		}
	}
}

func (h *Holder) clearWatcher() {
	h.mu.Lock()
	h.watcher = nil
	h.mu.Unlock()
}

type fieldDiff struct {
	name       string
	reloadable bool
	equal      func(a, b *Config) bool
}

var fieldDiffs = []fieldDiff{
	{"logging.level", true, func(a, b *Config) bool { return a.Logging.Level == b.Logging.Level }},
	{"logging.format", true, func(a, b *Config) bool { return a.Logging.Format == b.Logging.Format }},
	{"server.host", false, func(a, b *Config) bool { return a.Server.Host == b.Server.Host }},
	{"server.port", false, func(a, b *Config) bool { return a.Server.Port == b.Server.Port }},
	{"socket", false, func(a, b *Config) bool { return a.Socket == b.Socket }},
	{"storage", false, func(a, b *Config) bool { return a.Storage == b.Storage }},
	{"metrics", false, func(a, b *Config) bool { return a.Metrics == b.Metrics }},
	{"events", false, func(a, b *Config) bool { return a.Events == b.Events }},
	{"stores", false, func(a, b *Config) bool { return reflect.DeepEqual(a.Stores, b.Stores) }},
	{"lists", false, func(a, b *Config) bool { return reflect.DeepEqual(a.Lists, b.Lists) }},
}

// changedFields splits the fields that differ between old and new by
// whether they apply without a restart.
func changedFields(old, new *Config) (applied, pending []string) {
	for _, f := range fieldDiffs {
		if f.equal(old, new) {
			continue
		}
		if f.reloadable {
			applied = append(applied, f.name)
		} else {
			pending = append(pending, f.name)
		}
	}
	return applied, pending
}

func (h *Holder) logChanges(old, new *Config) {
	applied, pending := changedFields(old, new)
	if len(applied) > 0 {
		h.logger.Info().Strs("fields", applied).Msg("configuration reloaded")
	} else {
		h.logger.Info().Msg("configuration reloaded, nothing to apply")
	}
	if len(pending) > 0 {
		h.logger.Warn().Strs("fields", pending).Msg("changed settings need a restart to apply")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return fieldNames(true)
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return fieldNames(false)
}

func fieldNames(reloadable bool) []string {
	var names []string
	for _, f := range fieldDiffs {
		if f.reloadable == reloadable {
			names = append(names, f.name)
		}
	}
	return names
}
