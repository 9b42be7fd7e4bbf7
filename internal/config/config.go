// Package config implements the §6 root configuration document: YAML on
// disk, clamp-on-load validation that substitutes defaults rather than
// aborting startup, and an fsnotify-driven hot reload, grounded on the
// teacher's packages/engine/config.RuntimeConfigManager /
// HotReloadSystem pair (gopkg.in/yaml.v3 + github.com/fsnotify/fsnotify).
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SensorConfig is one entry of the sensors map (§6).
type SensorConfig struct {
	Enabled      bool           `yaml:"enabled"`
	IntervalSec  float64        `yaml:"intervalSeconds"`
	Priority     string         `yaml:"priority"` // high|medium|low
	CustomParams map[string]any `yaml:"customParams,omitempty"`
}

// StorageConfig is the §6 storage block, backing C9.
type StorageConfig struct {
	BasePath      string `yaml:"basePath"`
	Compression   bool   `yaml:"compression"`
	MaxFileSizeMb int64  `yaml:"maxFileSizeMb"`
	BufferSize    int    `yaml:"bufferSize"`
	// SQLExportDSN, when set, mirrors every record C9 writes into the
	// relational table internal/store/sqlexport maintains for offline
	// analysis (§4.9). Empty disables the mirror.
	SQLExportDSN string `yaml:"sqlExportDsn,omitempty"`
}

// AnalysisConfig is the §6 analysis block, backing C4/C6/C7.
type AnalysisConfig struct {
	WindowSize            int     `yaml:"windowSize"`
	ZScoreThreshold        float64 `yaml:"zScoreThreshold"`
	LagRangeSeconds       float64 `yaml:"lagRangeSeconds"`
	ClusterWindowSeconds  float64 `yaml:"clusterWindowSeconds"`
	CorrelationThreshold  float64 `yaml:"correlationThreshold"`
	PrecursorThreshold    float64 `yaml:"precursorThreshold"`
}

// TelegramConfig is the §6 alerting.telegram sub-block. Notification
// dispatch itself is out of the core's scope (spec §1), but the
// configuration surface is still owned here so the external collaborator
// has a stable contract to read from.
type TelegramConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Token         string `yaml:"token,omitempty"`
	ChatID        string `yaml:"chatId,omitempty"`
	CooldownSec   float64 `yaml:"cooldownSeconds"`
}

// AlertingConfig is the §6 alerting block.
type AlertingConfig struct {
	Enabled           bool           `yaml:"enabled"`
	WebhookURL        string         `yaml:"webhookUrl,omitempty"`
	CooldownSeconds   float64        `yaml:"cooldownSeconds"`
	MinClusterSensors int            `yaml:"minClusterSensors"`
	Telegram          TelegramConfig `yaml:"telegram"`
}

// Config is the §6 root configuration document.
type Config struct {
	Sensors  map[string]SensorConfig `yaml:"sensors"`
	Storage  StorageConfig           `yaml:"storage"`
	Analysis AnalysisConfig          `yaml:"analysis"`
	Alerting AlertingConfig          `yaml:"alerting"`
	APIKeys  map[string]string       `yaml:"apiKeys,omitempty"`
}

// clamp ranges matching each component's own contract.
const (
	minIntervalSec = 0.1
	maxIntervalSec = 3600

	defaultWindowSize           = 1000
	defaultZScoreThreshold      = 3.0
	defaultLagRangeSeconds      = 300
	defaultClusterWindowSeconds = 30
	defaultCorrelationThreshold = 0.5
	defaultPrecursorThreshold   = 0.8

	defaultMaxFileSizeMb = 100
	defaultBufferSize    = 1000

	defaultAlertCooldownSeconds = 300
	defaultMinClusterSensors    = 3
)

// Default returns a Config with every field at its spec-mandated default.
func Default() Config {
	return Config{
		Sensors: map[string]SensorConfig{},
		Storage: StorageConfig{
			BasePath:      "./data",
			MaxFileSizeMb: defaultMaxFileSizeMb,
			BufferSize:    defaultBufferSize,
		},
		Analysis: AnalysisConfig{
			WindowSize:           defaultWindowSize,
			ZScoreThreshold:      defaultZScoreThreshold,
			LagRangeSeconds:      defaultLagRangeSeconds,
			ClusterWindowSeconds: defaultClusterWindowSeconds,
			CorrelationThreshold: defaultCorrelationThreshold,
			PrecursorThreshold:   defaultPrecursorThreshold,
		},
		Alerting: AlertingConfig{
			CooldownSeconds:   defaultAlertCooldownSeconds,
			MinClusterSensors: defaultMinClusterSensors,
		},
	}
}

// Load reads and parses path, returning Default() (with a load error) if the
// file is absent or unparsable — RuntimeConfigManager-style, falling back to
// the defaults rather than failing startup; §6 states "validation errors
// are collected and reported but do not abort startup".
func Load(path string) (Config, []error) {
	cfg := Default()
	var errs []error

	data, err := os.ReadFile(path)
	if err != nil {
		errs = append(errs, fmt.Errorf("config: read %s: %w", path, err))
		return cfg, errs
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		errs = append(errs, fmt.Errorf("config: parse %s: %w", path, err))
		return Default(), errs
	}

	errs = append(errs, cfg.applyDefaultsAndClamp()...)
	return cfg, errs
}

// applyDefaultsAndClamp substitutes a default for every zero-value or
// out-of-range field, returning one error per substitution made (§6:
// "clamped ... validation errors are collected and reported but do not
// abort startup").
func (c *Config) applyDefaultsAndClamp() []error {
	var errs []error
	note := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for name, sc := range c.Sensors {
		clamped := sc
		if clamped.IntervalSec < minIntervalSec || clamped.IntervalSec > maxIntervalSec {
			if clamped.IntervalSec == 0 {
				clamped.IntervalSec = 30
			} else if clamped.IntervalSec < minIntervalSec {
				clamped.IntervalSec = minIntervalSec
			} else {
				clamped.IntervalSec = maxIntervalSec
			}
			note("config: sensors.%s.intervalSeconds clamped to %.2f", name, clamped.IntervalSec)
		}
		switch clamped.Priority {
		case "high", "medium", "low":
		default:
			clamped.Priority = "medium"
			note("config: sensors.%s.priority defaulted to medium", name)
		}
		c.Sensors[name] = clamped
	}

	if c.Storage.MaxFileSizeMb <= 0 {
		c.Storage.MaxFileSizeMb = defaultMaxFileSizeMb
		note("config: storage.maxFileSizeMb defaulted to %d", defaultMaxFileSizeMb)
	}
	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = defaultBufferSize
		note("config: storage.bufferSize defaulted to %d", defaultBufferSize)
	}
	if c.Storage.BasePath == "" {
		c.Storage.BasePath = "./data"
		note("config: storage.basePath defaulted to ./data")
	}

	if c.Analysis.ClusterWindowSeconds <= 0 {
		c.Analysis.ClusterWindowSeconds = defaultClusterWindowSeconds
		note("config: analysis.clusterWindowSeconds defaulted to %.0f", defaultClusterWindowSeconds)
	}
	if c.Analysis.ZScoreThreshold <= 0 {
		c.Analysis.ZScoreThreshold = defaultZScoreThreshold
		note("config: analysis.zScoreThreshold defaulted to %.1f", defaultZScoreThreshold)
	}
	if c.Analysis.WindowSize <= 0 {
		c.Analysis.WindowSize = defaultWindowSize
		note("config: analysis.windowSize defaulted to %d", defaultWindowSize)
	}

	if c.Alerting.CooldownSeconds <= 0 {
		c.Alerting.CooldownSeconds = defaultAlertCooldownSeconds
		note("config: alerting.cooldownSeconds defaulted to %.0f", defaultAlertCooldownSeconds)
	}
	if c.Alerting.MinClusterSensors <= 0 {
		c.Alerting.MinClusterSensors = defaultMinClusterSensors
		note("config: alerting.minClusterSensors defaulted to %d", defaultMinClusterSensors)
	}
	if c.Alerting.Telegram.CooldownSec <= 0 {
		c.Alerting.Telegram.CooldownSec = defaultAlertCooldownSeconds
	}

	return errs
}

// Manager holds the live config behind a mutex and notifies subscribers on
// reload, mirroring RuntimeConfigManager + HotReloadSystem's split between
// "current value" and "watch for changes" responsibilities.
type Manager struct {
	path string

	mu      sync.RWMutex
	current Config

	watcher   *fsnotify.Watcher
	listeners []func(Config)
}

// NewManager loads path once and returns a Manager wrapping the result; load
// errors are non-fatal per Load's own contract and are returned alongside.
func NewManager(path string) (*Manager, []error) {
	cfg, errs := Load(path)
	return &Manager{path: path, current: cfg}, errs
}

// Current returns a copy of the live configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnReload registers a callback invoked (with the freshly loaded config)
// whenever Watch observes a file change.
func (m *Manager) OnReload(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Watch starts an fsnotify watcher on the config file's directory, reloading
// and notifying listeners on every write event. It runs until stop fires.
func (m *Manager) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	m.watcher = watcher

	if err := watcher.Add(dirOf(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", m.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, _ := Load(m.path)
				m.mu.Lock()
				m.current = cfg
				listeners := append([]func(Config){}, m.listeners...)
				m.mu.Unlock()
				for _, fn := range listeners {
					fn(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
