// Package config provides a configuration manager that loads and watches the dynamic event configuration.
//
// The dynamic configuration holds the dirty field set of the repair stage and the payload keys read by
// the coercion stage. It can be written as JSON, YAML or TOML, selected by the file extension.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/cartwatch/cartwatch/internal/event"
	"github.com/cartwatch/cartwatch/internal/event/coerce"
	"github.com/cartwatch/cartwatch/internal/repair"
	"github.com/fsnotify/fsnotify"
	"github.com/ubuntu/decorate"
	"gopkg.in/yaml.v3"
)

// Provider is an interface that defines methods to access configuration values.
type Provider interface {
	Pipeline() event.Pipeline
}

// Conf represents the configuration structure.
type Conf struct {
	// DirtyFields replaces the default dirty field set when set. An empty list disables repair.
	DirtyFields []string `json:"dirtyFields,omitempty" yaml:"dirtyFields,omitempty" toml:"dirtyFields,omitempty"`
	// Sources overrides the payload key of single destination fields.
	Sources map[string]string `json:"sources,omitempty" yaml:"sources,omitempty" toml:"sources,omitempty"`
}

// Manager is a struct that manages the configuration.
type Manager struct {
	config     Conf
	pipeline   event.Pipeline
	lock       sync.RWMutex
	configPath string

	log *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a new configuration manager with the specified path.
// An empty path uses the default configuration.
func New(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		configPath: path,
		pipeline:   event.NewPipeline(),
		log:        opts.Logger,
	}
}

// Load reads the configuration from the specified file and updates the internal state.
// On error, the previous state is kept.
func (cm *Manager) Load() (err error) {
	defer decorate.OnError(&err, "could not load configuration")

	var newConfig Conf
	if cm.configPath != "" {
		d, err := os.ReadFile(cm.configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		if newConfig, err = decode(cm.configPath, d); err != nil {
			return err
		}
	}

	p, err := newConfig.pipeline()
	if err != nil {
		return err
	}

	cm.lock.Lock()
	cm.config = newConfig
	cm.pipeline = p
	cm.lock.Unlock()

	cm.log.Info("Configuration loaded", "config", newConfig)
	return nil
}

// Watch starts watching the configuration file for changes.
//
// It returns two channels: one for configuration changes which result in a successful load and another for unrecoverable watcher errors.
// Without a configuration file, nothing is watched and both channels are nil.
func (cm *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	if cm.configPath == "" {
		cm.log.Info("No configuration file to watch")
		return nil, nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	configDir, _ := filepath.Split(cm.configPath)
	if configDir == "" {
		configDir = "."
	}
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", configDir, err)
	}

	cm.log.Info("Watching configuration directory", "dir", configDir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	// Initial load of the configuration
	if err := cm.Load(); err != nil {
		cm.log.Warn("Error loading initial config", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				cm.log.Info("Configuration watcher stopped")
				return
			case e, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				if filepath.Clean(e.Name) != filepath.Clean(cm.configPath) {
					continue
				}

				cm.log.Debug("Configuration file changed. Reloading...")
				if err := cm.Load(); err != nil {
					cm.log.Warn("Error reloading config", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				cm.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Pipeline returns the event pipeline built from the current configuration.
func (cm *Manager) Pipeline() event.Pipeline {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.pipeline
}

// Conf returns a copy of the current configuration.
func (cm *Manager) Conf() Conf {
	cm.lock.RLock()
	defer cm.lock.RUnlock()
	return cm.config
}

// pipeline builds the event pipeline described by the configuration.
func (c Conf) pipeline() (event.Pipeline, error) {
	fields := repair.DefaultDirtyFields
	if c.DirtyFields != nil {
		fields = c.DirtyFields
	}

	sources, err := coerce.DefaultSources.With(c.Sources)
	if err != nil {
		return event.Pipeline{}, err
	}

	return event.Pipeline{
		Repairer: repair.New(fields),
		Sources:  sources,
	}, nil
}

// decode parses the configuration according to the file extension. Unknown extensions are read as JSON.
func decode(path string, d []byte) (c Conf, err error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(d))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Conf{}, fmt.Errorf("decoding config YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(d), &c)
		if err != nil {
			return Conf{}, fmt.Errorf("decoding config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Conf{}, fmt.Errorf("decoding config TOML: unknown keys %v", undecoded)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(d))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Conf{}, fmt.Errorf("decoding config JSON: %w", err)
		}
	}
	return c, nil
}
