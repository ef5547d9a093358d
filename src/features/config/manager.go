package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager holds the application configuration and provides thread-safe
// access to it.
type Manager struct {
	mu sync.RWMutex
	v  *viper.Viper
}

// NewManager creates a new Manager from a viper instance.
func NewManager(v *viper.Viper) *Manager {
	return &Manager{v: v}
}

func (m *Manager) getConfigUnsafe() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, err := m.getConfigUnsafe()
	if err != nil {
		slog.Error("failed to unmarshal config", "error", err)
		return &Config{}
	}
	return cfg
}

func configToMap(cfg *Config) (map[string]any, error) {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := yaml.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Update replaces the in-memory configuration.
func (m *Manager) Update(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldCfg, _ := m.getConfigUnsafe()

	configMap, err := configToMap(cfg)
	if err != nil {
		slog.Error("failed to convert config to map", "error", err)
		return
	}
	for key, value := range configMap {
		m.v.Set(key, value)
	}

	if oldCfg != nil {
		slog.Debug("Configuration updated",
			"artifacts_path_changed", oldCfg.ArtifactsPath != cfg.ArtifactsPath,
			"telegram_enabled_changed", oldCfg.Telegram.Enabled != cfg.Telegram.Enabled,
			"logger_enabled_changed", oldCfg.Logger.Enabled != cfg.Logger.Enabled,
			"webhooks_enabled_changed", oldCfg.Webhooks.Enabled != cfg.Webhooks.Enabled,
		)
	}
}

// Save writes the current configuration to the specified file path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.v.SetConfigFile(path)
	if err := m.v.WriteConfigAs(path); err != nil {
		slog.Error("failed to write config file", "path", path, "error", err)
		return err
	}

	slog.Info("Configuration saved successfully", "path", path)
	return nil
}

// EnsureDirectories creates the artifact and pipeline-log directories.
func (m *Manager) EnsureDirectories() error {
	m.mu.RLock()
	cfg, err := m.getConfigUnsafe()
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsPath, 0755); err != nil {
		return fmt.Errorf("failed to create artifacts directory %s: %w", cfg.ArtifactsPath, err)
	}
	if cfg.Pipeline.LogDir != "" {
		if err := os.MkdirAll(cfg.Pipeline.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create pipeline log directory %s: %w", cfg.Pipeline.LogDir, err)
		}
	}

	slog.Info("Required directories created/verified", "artifacts", cfg.ArtifactsPath)
	return nil
}

func redactConfig(cfg *Config) Config {
	cfgCpy := *cfg
	cfgCpy.Telegram.Token = "<redacted>"
	cfgCpy.Clients.AudioSource.Token = "<redacted>"
	cfgCpy.Clients.ModelHost.Token = "<redacted>"
	cfgCpy.Clients.Generative.Token = "<redacted>"
	return cfgCpy
}

// GetJSON returns the current configuration as a redacted JSON string.
func (m *Manager) GetJSON() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, err := m.getConfigUnsafe()
	if err != nil {
		slog.Error("failed to unmarshal config for JSON", "error", err)
		return err.Error()
	}
	redacted := redactConfig(cfg)
	jsonBytes, err := json.Marshal(redacted)
	if err != nil {
		slog.Error("failed to marshal config to JSON", "error", err)
		return err.Error()
	}
	return string(jsonBytes)
}

// GetYAML returns the current configuration as a redacted YAML string.
func (m *Manager) GetYAML() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, err := m.getConfigUnsafe()
	if err != nil {
		slog.Error("failed to unmarshal config for YAML", "error", err)
		return err.Error()
	}
	redacted := redactConfig(cfg)
	yamlBytes, err := yaml.Marshal(redacted)
	if err != nil {
		slog.Error("failed to marshal config to YAML", "error", err)
		return err.Error()
	}
	return string(yamlBytes)
}
