package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Load reads a YAML file from the given path and returns a new Manager.
// If the file doesn't exist, creates a default configuration.
func Load(path string) (*Manager, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", ":", "_"))
	v.AutomaticEnv() // Automatically bind environment variables with SK_ prefix

	setViperDefaults(v)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("Config file not found, creating default configuration", "path", path)

		if err := v.SafeWriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		slog.Info("Default configuration created successfully", "path", path)
		manager := NewManager(v)
		if err := manager.EnsureDirectories(); err != nil {
			return nil, err
		}
		return manager, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	mergeIndexedSlicesIntoViper(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	manager := NewManager(v)
	if err := manager.EnsureDirectories(); err != nil {
		return nil, err
	}

	return manager, nil
}

// setViperDefaults sets default configuration values using viper.SetDefault.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("artifactsPath", defaultConfig.ArtifactsPath)
	v.SetDefault("telegram.enabled", defaultConfig.Telegram.Enabled)
	v.SetDefault("telegram.token", defaultConfig.Telegram.Token)
	v.SetDefault("telegram.allowedUsers", defaultConfig.Telegram.AllowedUsers)
	v.SetDefault("telegram.bot_handle", defaultConfig.Telegram.BotHandle)
	v.SetDefault("logger.enabled", defaultConfig.Logger.Enabled)
	v.SetDefault("logger.level", defaultConfig.Logger.Level)
	v.SetDefault("logger.format", defaultConfig.Logger.Format)
	v.SetDefault("server.show_routes", defaultConfig.Server.PrintRoutes)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("database.path", defaultConfig.Database.Path)
	v.SetDefault("clients.audioSource.baseUrl", defaultConfig.Clients.AudioSource.BaseURL)
	v.SetDefault("clients.audioSource.timeout", defaultConfig.Clients.AudioSource.Timeout)
	v.SetDefault("clients.modelHost.baseUrl", defaultConfig.Clients.ModelHost.BaseURL)
	v.SetDefault("clients.modelHost.timeout", defaultConfig.Clients.ModelHost.Timeout)
	v.SetDefault("clients.referenceLyrics.baseUrl", defaultConfig.Clients.ReferenceLyrics.BaseURL)
	v.SetDefault("clients.referenceLyrics.timeout", defaultConfig.Clients.ReferenceLyrics.Timeout)
	v.SetDefault("clients.generative.baseUrl", defaultConfig.Clients.Generative.BaseURL)
	v.SetDefault("clients.generative.timeout", defaultConfig.Clients.Generative.Timeout)
	v.SetDefault("pipeline.maxConcurrentWorkers", defaultConfig.Pipeline.MaxConcurrentWorkers)
	v.SetDefault("pipeline.compressTargetKbps", defaultConfig.Pipeline.CompressTargetKbps)
	v.SetDefault("pipeline.logDir", defaultConfig.Pipeline.LogDir)
	v.SetDefault("reconcile.startupDelay", defaultConfig.Reconcile.StartupDelay)
	v.SetDefault("reconcile.spawnStagger", defaultConfig.Reconcile.SpawnStagger)
	v.SetDefault("webhooks.enabled", defaultConfig.Webhooks.Enabled)
	v.SetDefault("webhooks.command", defaultConfig.Webhooks.Command)
}

// mergeIndexedSlicesIntoViper merges indexed or comma-separated
// environment variables into the one slice field the config carries.
func mergeIndexedSlicesIntoViper(v *viper.Viper) {
	var users []string
	userIndex := 0
	hasIndexedUsers := false
	for {
		userKey := fmt.Sprintf("telegram.allowedUsers.%d", userIndex)
		if !v.IsSet(userKey) {
			break
		}
		hasIndexedUsers = true
		users = append(users, v.GetString(userKey))
		userIndex++
	}
	if !hasIndexedUsers {
		if raw := v.GetString("telegram.allowedUsers"); raw != "" && strings.Contains(raw, ",") {
			users = strings.Split(raw, ",")
			for i, u := range users {
				users[i] = strings.TrimSpace(u)
			}
		}
	}
	if len(users) > 0 {
		v.Set("telegram.allowedUsers", users)
	}
}
